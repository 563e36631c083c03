package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/verification-gate/internal/lib/sl"
)

var (
	// ErrNotConfirmed — брокер не подтвердил публикацию.
	ErrNotConfirmed = errors.New("rabbitmq: publish not confirmed by broker")
	// ErrConfirmTimeout — подтверждение не пришло за отведенное время.
	ErrConfirmTimeout = errors.New("rabbitmq: publish confirm timeout")
)

// PublishMessage публикует сообщение в RabbitMQ в виде JSON с постоянной доставкой.
func PublishMessage(ch *amqp.Channel, exchange string, routingkey string, message any) error {
	const op = "rabbitmq.PublishMessage"
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := publishBody(ch, exchange, routingkey, body); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func publishBody(ch *amqp.Channel, exchange, routingKey string, body []byte) error {
	return ch.Publish(
		exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
		},
	)
}

// PublisherConfig параметры Publisher.
type PublisherConfig struct {
	URL            string
	Topology       Topology
	Attempts       int
	ConfirmTimeout time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Publisher публикует сообщения в рабочую очередь с подтверждением брокера.
// При разрыве соединения переподключается при следующей попытке.
// Безопасен для конкурентного использования.
type Publisher struct {
	cfg PublisherConfig
	log *slog.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	confirms chan amqp.Confirmation
}

// NewPublisher создает Publisher. Соединение открывается лениво при первой публикации.
func NewPublisher(cfg PublisherConfig, log *slog.Logger) *Publisher {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 5 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 2 * time.Second
	}
	return &Publisher{cfg: cfg, log: log}
}

// PublishJSON публикует сообщение, делая не более cfg.Attempts попыток
// с экспоненциальной паузой между ними.
func (p *Publisher) PublishJSON(ctx context.Context, message any) error {
	const op = "rabbitmq.Publisher.PublishJSON"
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return p.Publish(ctx, body)
}

// Publish публикует готовое JSON тело сообщения с повторными попытками.
func (p *Publisher) Publish(ctx context.Context, body []byte) error {
	const op = "rabbitmq.Publisher.Publish"

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.cfg.InitialBackoff),
		backoff.WithMaxInterval(p.cfg.MaxBackoff),
		backoff.WithMaxElapsedTime(0),
	)
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.cfg.Attempts-1)), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := p.publishOnce(ctx, body)
		if err != nil {
			p.log.Warn("publish attempt failed",
				slog.String("op", op),
				slog.Int("attempt", attempt),
				sl.Err(err),
			)
		}
		return err
	}, policy)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (p *Publisher) publishOnce(ctx context.Context, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureChannelLocked(); err != nil {
		return err
	}
	if err := publishBody(p.ch, p.cfg.Topology.Exchange, p.cfg.Topology.RoutingKey, body); err != nil {
		p.resetLocked()
		return err
	}

	timer := time.NewTimer(p.cfg.ConfirmTimeout)
	defer timer.Stop()

	select {
	case conf, ok := <-p.confirms:
		if !ok {
			p.resetLocked()
			return ErrNotConfirmed
		}
		if !conf.Ack {
			return ErrNotConfirmed
		}
		return nil
	case <-timer.C:
		// Подтверждение могло прийти позже и сбить нумерацию, начинаем с нового канала.
		p.resetLocked()
		return ErrConfirmTimeout
	case <-ctx.Done():
		p.resetLocked()
		return backoff.Permanent(ctx.Err())
	}
}

func (p *Publisher) ensureChannelLocked() error {
	if p.ch != nil {
		return nil
	}
	conn, err := amqp.Dial(p.cfg.URL)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := DeclareTopology(ch, p.cfg.Topology); err != nil {
		_ = conn.Close()
		return err
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return err
	}
	p.conn = conn
	p.ch = ch
	p.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	return nil
}

func (p *Publisher) resetLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch = nil
	p.conn = nil
	p.confirms = nil
}

// Close закрывает соединение с брокером.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
	return nil
}
