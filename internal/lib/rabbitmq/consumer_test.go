package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/verification-gate/internal/lib/logger"
)

type ackCall struct {
	kind    string
	requeue bool
}

type fakeAcknowledger struct {
	mu    sync.Mutex
	calls []ackCall
}

func (f *fakeAcknowledger) Ack(_ uint64, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ackCall{kind: "ack"})
	return nil
}

func (f *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ackCall{kind: "nack", requeue: requeue})
	return nil
}

func (f *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ackCall{kind: "reject", requeue: requeue})
	return nil
}

func TestHandleDelivery(t *testing.T) {
	tests := []struct {
		name    string
		handler Handler
		want    ackCall
	}{
		{
			name:    "успешная обработка подтверждается",
			handler: func(context.Context, []byte) error { return nil },
			want:    ackCall{kind: "ack"},
		},
		{
			name:    "временная ошибка возвращает в очередь",
			handler: func(context.Context, []byte) error { return errors.New("db down") },
			want:    ackCall{kind: "nack", requeue: true},
		},
		{
			name:    "постоянная ошибка отклоняется",
			handler: func(context.Context, []byte) error { return Permanent(errors.New("bad json")) },
			want:    ackCall{kind: "nack", requeue: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := &fakeAcknowledger{}
			d := amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte(`{}`)}

			HandleDelivery(context.Background(), d, tt.handler, 0, logger.Discard())

			require.Len(t, ack.calls, 1)
			assert.Equal(t, tt.want, ack.calls[0])
		})
	}
}

func TestHandleDelivery_RequeueDelayStopsOnCancel(t *testing.T) {
	ack := &fakeAcknowledger{}
	d := amqp.Delivery{Acknowledger: ack, DeliveryTag: 7}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	HandleDelivery(ctx, d, func(context.Context, []byte) error { return errors.New("fail") }, time.Minute, logger.Discard())

	assert.Less(t, time.Since(start), time.Second)
	require.Len(t, ack.calls, 1)
	assert.Equal(t, ackCall{kind: "nack", requeue: true}, ack.calls[0])
}

func TestPermanent(t *testing.T) {
	cause := errors.New("cause")
	err := Permanent(cause)

	assert.ErrorIs(t, err, ErrPermanent)
	assert.ErrorIs(t, err, cause)
}

func TestConsumerMessage_DeadLettersPermanentFailures(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	amqpURI := brokerURI(ctx, t)
	topology := NewTopology("consumer-test")

	conn, err := Connect(amqpURI, 3, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	ch, err := SetupChannel(conn, 10, topology)
	require.NoError(t, err)
	defer ch.Close()

	var mu sync.Mutex
	received := make([]string, 0)
	handler := func(_ context.Context, body []byte) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, string(body))
		if string(body) == `"poison"` {
			return Permanent(errors.New("cannot decode"))
		}
		return nil
	}

	consumeCtx, stopConsumer := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- ConsumerMessage(consumeCtx, ch, ConsumerConfig{Queue: topology.Queue, Workers: 2}, handler, logger.Discard())
	}()

	require.NoError(t, PublishMessage(ch, topology.Exchange, topology.RoutingKey, "hello"))
	require.NoError(t, PublishMessage(ch, topology.Exchange, topology.RoutingKey, "poison"))

	dlqCh, err := conn.Channel()
	require.NoError(t, err)
	defer dlqCh.Close()
	dead, err := dlqCh.Consume(topology.DeadLetterQueue(), "dlq-reader", true, false, false, false, nil)
	require.NoError(t, err)

	select {
	case d := <-dead:
		assert.Equal(t, `"poison"`, string(d.Body))
	case <-time.After(10 * time.Second):
		t.Fatal("poison message did not reach dead letter queue")
	}

	stopConsumer()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{`"hello"`, `"poison"`}, received)
}
