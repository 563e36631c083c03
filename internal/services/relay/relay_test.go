package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/verification-gate/internal/lib/logger"
	"github.com/magabrotheeeer/verification-gate/internal/lib/vault"
	"github.com/magabrotheeeer/verification-gate/internal/models"
	"github.com/magabrotheeeer/verification-gate/internal/paymentprovider"
	"github.com/magabrotheeeer/verification-gate/internal/storage/storagetest"
)

type fakePublisher struct {
	mu     sync.Mutex
	err    error
	bodies [][]byte
}

func (p *fakePublisher) Publish(_ context.Context, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.bodies = append(p.bodies, body)
	return nil
}

func (p *fakePublisher) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

var testNow = time.Date(2026, 7, 7, 7, 0, 0, 0, time.UTC)

func newRelay(t *testing.T) (*Relay, *fakePublisher, *storagetest.Store, *vault.Vault) {
	t.Helper()
	key, err := vault.GenerateKey()
	require.NoError(t, err)
	v, err := vault.New(key)
	require.NoError(t, err)

	pub := &fakePublisher{}
	store := storagetest.New()
	r := New(pub, store, v, logger.Discard())
	r.now = func() time.Time { return testNow }
	return r, pub, store, v
}

func verifiedEvent() *paymentprovider.IdentityEvent {
	return &paymentprovider.IdentityEvent{
		EventID:   "evt_1",
		Outcome:   models.OutcomeVerified,
		SessionID: "vs_1",
		Metadata:  models.SessionMetadata{CommunityID: "g1", MemberID: "m1", RoleID: "r1", ChannelID: "c1"},
		DOB:       &models.DateOfBirth{Year: 1999, Month: time.February, Day: 28},
	}
}

func TestRelayPublishes(t *testing.T) {
	r, pub, store, v := newRelay(t)

	require.NoError(t, r.Relay(context.Background(), verifiedEvent()))

	require.Len(t, pub.bodies, 1)
	assert.Empty(t, store.Outbox())
	assert.NotContains(t, string(pub.bodies[0]), "1999-02-28", "plaintext DOB must not reach the queue")

	var msg models.VerificationMessage
	require.NoError(t, json.Unmarshal(pub.bodies[0], &msg))
	assert.Equal(t, "evt_1", msg.MessageID)
	assert.Equal(t, models.OutcomeVerified, msg.Type)
	assert.Equal(t, "r1", msg.RoleID)
	assert.Equal(t, "vs_1", msg.SessionID)
	assert.Equal(t, testNow, msg.OccurredAt)

	dob, err := v.DecryptDOB(msg.EncryptedDOB)
	require.NoError(t, err)
	assert.Equal(t, *verifiedEvent().DOB, dob)
}

func TestRelayAssignsMessageID(t *testing.T) {
	r, _, _, _ := newRelay(t)
	ev := verifiedEvent()
	ev.EventID = ""
	ev.DOB = nil

	msg, err := r.Message(ev)
	require.NoError(t, err)
	assert.NotEmpty(t, msg.MessageID)
	assert.Empty(t, msg.EncryptedDOB)
}

func TestRelayFallsBackToOutbox(t *testing.T) {
	r, pub, store, _ := newRelay(t)
	pub.setErr(errors.New("broker down"))

	require.NoError(t, r.Relay(context.Background(), verifiedEvent()))
	// повторная доставка вебхука не дублирует запись
	require.NoError(t, r.Relay(context.Background(), verifiedEvent()))

	outbox := store.Outbox()
	require.Len(t, outbox, 1)
	assert.Equal(t, "evt_1", outbox[0].MessageID)

	pub.setErr(nil)
	n, err := r.Redrive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, store.Outbox())
	require.Len(t, pub.bodies, 1)
	assert.Equal(t, outbox[0].Body, pub.bodies[0])
}

func TestRelayOutboxFailure(t *testing.T) {
	r, pub, store, _ := newRelay(t)
	pub.setErr(errors.New("broker down"))
	store.FailOn("EnqueueOutbox", errors.New("db down"))

	require.Error(t, r.Relay(context.Background(), verifiedEvent()))
}

func TestRelayRejectsInvalidEvent(t *testing.T) {
	r, pub, store, _ := newRelay(t)
	ev := verifiedEvent()
	ev.Metadata.MemberID = ""

	err := r.Relay(context.Background(), ev)
	require.ErrorIs(t, err, models.ErrInvalidMessage)
	assert.Empty(t, pub.bodies)
	assert.Empty(t, store.Outbox())
}

func TestRedriveKeepsFailedMessages(t *testing.T) {
	r, pub, store, _ := newRelay(t)
	require.NoError(t, store.EnqueueOutbox(context.Background(), "evt_1", []byte(`{}`), "", testNow))
	pub.setErr(errors.New("broker down"))

	n, err := r.Redrive(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	outbox := store.Outbox()
	require.Len(t, outbox, 1)
	assert.Equal(t, 1, outbox[0].Attempts)
}

func TestRunRedriveStopsOnCancel(t *testing.T) {
	r, _, _, _ := newRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, r.RunRedrive(ctx, 5*time.Millisecond))
}
