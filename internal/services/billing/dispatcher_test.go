package billing

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/verification-gate/internal/lib/logger"
	"github.com/magabrotheeeer/verification-gate/internal/models"
)

type processorFunc func(ctx context.Context, ev models.BillingEvent) error

func (f processorFunc) Process(ctx context.Context, ev models.BillingEvent) error { return f(ctx, ev) }

func fastConfig() DispatcherConfig {
	return DispatcherConfig{Workers: 2, QueueSize: 4, Attempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestDispatcherSubmitQueueFull(t *testing.T) {
	cfg := fastConfig()
	cfg.QueueSize = 1
	d := NewDispatcher(processorFunc(func(context.Context, models.BillingEvent) error { return nil }), cfg, logger.Discard())

	require.NoError(t, d.Submit(models.BillingEvent{EventID: "evt_1"}))
	require.ErrorIs(t, d.Submit(models.BillingEvent{EventID: "evt_2"}), ErrQueueFull)
}

func TestDispatcherRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	done := make(chan struct{})
	proc := processorFunc(func(context.Context, models.BillingEvent) error {
		if calls.Add(1) < 3 {
			return errors.New("db down")
		}
		close(done)
		return nil
	})
	d := NewDispatcher(proc, fastConfig(), logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	require.NoError(t, d.Submit(models.BillingEvent{EventID: "evt_1"}))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event was not processed")
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestDispatcherDoesNotRetryPermanentErrors(t *testing.T) {
	var calls atomic.Int32
	proc := processorFunc(func(context.Context, models.BillingEvent) error {
		calls.Add(1)
		return ErrUnknownPlan
	})
	d := NewDispatcher(proc, fastConfig(), logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Submit(models.BillingEvent{EventID: "evt_1"}))
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDispatcherDrainsOnShutdown(t *testing.T) {
	var processed atomic.Int32
	proc := processorFunc(func(ctx context.Context, _ models.BillingEvent) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		processed.Add(1)
		return nil
	})
	d := NewDispatcher(proc, fastConfig(), logger.Discard())
	for i := 0; i < 4; i++ {
		require.NoError(t, d.Submit(models.BillingEvent{EventID: "evt"}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))
	assert.Equal(t, int32(4), processed.Load())
}
