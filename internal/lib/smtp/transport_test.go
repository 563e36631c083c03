package smtp

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Connect() (Client, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(Client), args.Error(1)
}

func (m *MockTransport) GetSMTPUser() string {
	args := m.Called()
	return args.String(0)
}

type MockClient struct {
	mock.Mock
}

func (m *MockClient) Mail(from string) error {
	return m.Called(from).Error(0)
}

func (m *MockClient) Rcpt(to string) error {
	return m.Called(to).Error(0)
}

func (m *MockClient) Data() (io.WriteCloser, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.WriteCloser), args.Error(1)
}

func (m *MockClient) Quit() error {
	return m.Called().Error(0)
}

func (m *MockClient) Close() error {
	return m.Called().Error(0)
}

type bufferCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufferCloser) Close() error {
	b.closed = true
	return nil
}

func TestSend(t *testing.T) {
	transport := new(MockTransport)
	client := new(MockClient)
	buf := &bufferCloser{}

	transport.On("GetSMTPUser").Return("noreply@example.com")
	transport.On("Connect").Return(client, nil)
	client.On("Mail", "noreply@example.com").Return(nil)
	client.On("Rcpt", "owner@example.com").Return(nil)
	client.On("Data").Return(buf, nil)
	client.On("Quit").Return(nil)
	client.On("Close").Return(nil)

	err := Send(transport, Message{To: []string{"owner@example.com"}, Subject: "Subject", Body: "Body"})
	require.NoError(t, err)

	assert.True(t, buf.closed)
	assert.Contains(t, buf.String(), "To: owner@example.com\r\n")
	assert.Contains(t, buf.String(), "Subject: Subject\r\n")
	assert.Contains(t, buf.String(), "\r\n\r\nBody")
	client.AssertExpectations(t)
}

func TestSendErrors(t *testing.T) {
	t.Run("нет получателей", func(t *testing.T) {
		transport := new(MockTransport)
		err := Send(transport, Message{})
		assert.ErrorIs(t, err, ErrNoRecipients)
		transport.AssertNotCalled(t, "Connect")
	})

	t.Run("ошибка подключения", func(t *testing.T) {
		transport := new(MockTransport)
		transport.On("GetSMTPUser").Return("noreply@example.com")
		transport.On("Connect").Return(nil, errors.New("dial failed"))

		err := Send(transport, Message{To: []string{"a@example.com"}})
		assert.Error(t, err)
	})

	t.Run("получатель отклонен", func(t *testing.T) {
		transport := new(MockTransport)
		client := new(MockClient)
		transport.On("GetSMTPUser").Return("noreply@example.com")
		transport.On("Connect").Return(client, nil)
		client.On("Mail", "noreply@example.com").Return(nil)
		client.On("Rcpt", "a@example.com").Return(errors.New("550"))
		client.On("Close").Return(nil)

		err := Send(transport, Message{To: []string{"a@example.com"}})
		assert.Error(t, err)
		client.AssertNotCalled(t, "Data")
		client.AssertCalled(t, "Close")
	})
}
