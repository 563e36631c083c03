package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/verification-gate/internal/lib/sl"
)

var (
	// ErrPermanent помечает сообщения, которые нельзя обработать повторно.
	// Такие сообщения отклоняются без повторной постановки и уходят в очередь недоставленных.
	ErrPermanent = errors.New("rabbitmq: permanent message failure")
	// ErrDeliveriesClosed — брокер закрыл канал доставки.
	ErrDeliveriesClosed = errors.New("rabbitmq: deliveries channel closed")
)

// Permanent оборачивает err признаком ErrPermanent.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Handler обрабатывает тело сообщения.
// nil — подтвердить, ошибка с ErrPermanent — отклонить, иначе вернуть в очередь.
type Handler func(ctx context.Context, body []byte) error

// ConsumerConfig параметры потребителя.
type ConsumerConfig struct {
	Queue        string
	Workers      int
	RequeueDelay time.Duration
}

// ConsumerMessage читает сообщения из очереди с ручным подтверждением и обрабатывает
// их не более чем cfg.Workers горутинами. Блокирует до отмены ctx или закрытия канала,
// перед возвратом дожидается обработки уже полученных сообщений.
func ConsumerMessage(ctx context.Context, ch *amqp.Channel, cfg ConsumerConfig, handler Handler, log *slog.Logger) error {
	const op = "rabbitmq.ConsumerMessage"
	deliveries, err := ch.Consume(
		cfg.Queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	p := pool.New().WithMaxGoroutines(max(cfg.Workers, 1))
	defer p.Wait()

	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("%s: %w", op, ErrDeliveriesClosed)
			}
			p.Go(func() {
				HandleDelivery(ctx, d, handler, cfg.RequeueDelay, log)
			})
		case <-ctx.Done():
			return nil
		}
	}
}

// HandleDelivery обрабатывает одно сообщение и подтверждает, отклоняет или
// возвращает его в очередь по результату handler.
func HandleDelivery(ctx context.Context, d amqp.Delivery, handler Handler, requeueDelay time.Duration, log *slog.Logger) {
	log = log.With(slog.String("op", "rabbitmq.HandleDelivery"), slog.Uint64("delivery_tag", d.DeliveryTag))

	err := handler(ctx, d.Body)
	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			log.Error("failed to ack message", sl.Err(ackErr))
		}
	case errors.Is(err, ErrPermanent):
		log.Warn("rejecting message to dead letter queue", sl.Err(err))
		if nackErr := d.Nack(false, false); nackErr != nil {
			log.Error("failed to reject message", sl.Err(nackErr))
		}
	default:
		log.Warn("message processing failed, requeueing", sl.Err(err), slog.Bool("redelivered", d.Redelivered))
		if requeueDelay > 0 {
			timer := time.NewTimer(requeueDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
			}
		}
		if nackErr := d.Nack(false, true); nackErr != nil {
			log.Error("failed to nack message", sl.Err(nackErr))
		}
	}
}
