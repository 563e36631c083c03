package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sourcegraph/conc/pool"

	"github.com/magabrotheeeer/verification-gate/internal/lib/sl"
	"github.com/magabrotheeeer/verification-gate/internal/models"
)

// ErrQueueFull — фоновая очередь событий биллинга заполнена.
var ErrQueueFull = errors.New("billing queue is full")

// EventProcessor применяет одно событие биллинга.
type EventProcessor interface {
	Process(ctx context.Context, ev models.BillingEvent) error
}

// DispatcherConfig параметры фоновой обработки.
type DispatcherConfig struct {
	Workers        int
	QueueSize      int
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Dispatcher принимает события от приемника вебхуков и обрабатывает их в фоне,
// чтобы ответ провайдеру не ждал записи в хранилище.
type Dispatcher struct {
	proc  EventProcessor
	cfg   DispatcherConfig
	queue chan models.BillingEvent
	log   *slog.Logger
}

// NewDispatcher создаёт диспетчер с очередью размера cfg.QueueSize.
func NewDispatcher(proc EventProcessor, cfg DispatcherConfig, log *slog.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	return &Dispatcher{
		proc:  proc,
		cfg:   cfg,
		queue: make(chan models.BillingEvent, cfg.QueueSize),
		log:   log,
	}
}

// Submit ставит событие в очередь без блокировки.
func (d *Dispatcher) Submit(ev models.BillingEvent) error {
	select {
	case d.queue <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run обрабатывает очередь до отмены ctx. После отмены дообрабатывает уже принятые события.
func (d *Dispatcher) Run(ctx context.Context) error {
	p := pool.New().WithMaxGoroutines(max(d.cfg.Workers, 1))
	defer p.Wait()

	// принятые события доводятся до хранилища и после остановки
	work := context.WithoutCancel(ctx)
	for {
		select {
		case ev := <-d.queue:
			p.Go(func() { d.handle(work, ev) })
		case <-ctx.Done():
			d.drain(work, p)
			return nil
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context, p *pool.Pool) {
	for {
		select {
		case ev := <-d.queue:
			p.Go(func() { d.handle(ctx, ev) })
		default:
			return
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev models.BillingEvent) {
	const op = "billing.Dispatcher.handle"
	log := d.log.With(slog.String("op", op), sl.Event(ev.EventID, string(ev.Type)))

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(d.cfg.InitialBackoff),
		backoff.WithMaxInterval(d.cfg.MaxBackoff),
		backoff.WithMaxElapsedTime(0),
	)
	policy := backoff.WithMaxRetries(b, uint64(d.cfg.Attempts-1))

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := d.proc.Process(ctx, ev)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrUnknownPlan), errors.Is(err, ErrMissingCommunity):
			return backoff.Permanent(err)
		default:
			log.Warn("billing event failed, retrying", slog.Int("attempt", attempt), sl.Err(err))
			return err
		}
	}, policy)
	if err != nil {
		log.Error("billing event dropped", slog.Int("attempts", attempt), sl.Err(err))
	}
}
