// Package relay переносит результаты проверки личности из вебхука в очередь.
// Если брокер недоступен, сообщение сохраняется в outbox и публикуется позже.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/verification-gate/internal/lib/sl"
	"github.com/magabrotheeeer/verification-gate/internal/metrics"
	"github.com/magabrotheeeer/verification-gate/internal/models"
	"github.com/magabrotheeeer/verification-gate/internal/paymentprovider"
	"github.com/magabrotheeeer/verification-gate/internal/storage/repository"
)

const (
	redriveBatch      = 50
	redriveRetryAfter = time.Minute
)

// Publisher публикует тело сообщения в очередь результатов.
type Publisher interface {
	Publish(ctx context.Context, body []byte) error
}

// Outbox — журнал неопубликованных сообщений.
type Outbox interface {
	EnqueueOutbox(ctx context.Context, messageID string, body []byte, lastErr string, now time.Time) error
	RedriveOutbox(ctx context.Context, limit int, now time.Time, retryAfter time.Duration,
		publish func(ctx context.Context, msg repository.OutboxMessage) error) (int, error)
}

// Encrypter шифрует дату рождения перед публикацией.
type Encrypter interface {
	EncryptDOB(dob models.DateOfBirth) (string, error)
}

type Relay struct {
	publisher Publisher
	outbox    Outbox
	vault     Encrypter
	log       *slog.Logger
	now       func() time.Time
}

// New создаёт Relay.
func New(publisher Publisher, outbox Outbox, vault Encrypter, log *slog.Logger) *Relay {
	return &Relay{
		publisher: publisher,
		outbox:    outbox,
		vault:     vault,
		log:       log,
		now:       time.Now,
	}
}

// Message собирает сообщение очереди из события провайдера.
func (r *Relay) Message(ev *paymentprovider.IdentityEvent) (models.VerificationMessage, error) {
	msg := models.VerificationMessage{
		MessageID:   ev.EventID,
		Type:        ev.Outcome,
		CommunityID: ev.Metadata.CommunityID,
		MemberID:    ev.Metadata.MemberID,
		RoleID:      ev.Metadata.RoleID,
		ChannelID:   ev.Metadata.ChannelID,
		SessionID:   ev.SessionID,
		OccurredAt:  r.now().UTC(),
	}
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	if ev.DOB != nil {
		sealed, err := r.vault.EncryptDOB(*ev.DOB)
		if err != nil {
			return models.VerificationMessage{}, err
		}
		msg.EncryptedDOB = sealed
	}
	return msg, msg.Validate()
}

// Relay публикует событие. Ошибка возвращается, только если сообщение не удалось
// ни опубликовать, ни сохранить в outbox.
func (r *Relay) Relay(ctx context.Context, ev *paymentprovider.IdentityEvent) error {
	const op = "relay.Relay"
	log := r.log.With(slog.String("op", op), sl.Event(ev.EventID, string(ev.Outcome)),
		sl.Community(ev.Metadata.CommunityID), sl.Member(ev.Metadata.MemberID))

	msg, err := r.Message(ev)
	if err != nil {
		metrics.RelayPublishTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("%s: %w", op, err)
	}
	body, err := json.Marshal(msg)
	if err != nil {
		metrics.RelayPublishTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("%s: %w", op, err)
	}

	pubErr := r.publisher.Publish(ctx, body)
	if pubErr == nil {
		metrics.RelayPublishTotal.WithLabelValues("published").Inc()
		log.Info("verification result queued")
		return nil
	}
	log.Warn("publish failed, writing to outbox", sl.Err(pubErr))

	if err := r.outbox.EnqueueOutbox(context.WithoutCancel(ctx), msg.MessageID, body, pubErr.Error(), r.now()); err != nil {
		metrics.RelayPublishTotal.WithLabelValues("failed").Inc()
		log.Error("verification result lost: outbox write failed", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	metrics.RelayPublishTotal.WithLabelValues("outbox").Inc()
	return nil
}

// Redrive публикует накопленные в outbox сообщения. Возвращает число опубликованных.
func (r *Relay) Redrive(ctx context.Context) (int, error) {
	const op = "relay.Redrive"
	n, err := r.outbox.RedriveOutbox(ctx, redriveBatch, r.now(), redriveRetryAfter,
		func(ctx context.Context, m repository.OutboxMessage) error {
			return r.publisher.Publish(ctx, m.Body)
		})
	if err != nil {
		return n, fmt.Errorf("%s: %w", op, err)
	}
	if n > 0 {
		metrics.RelayPublishTotal.WithLabelValues("redriven").Add(float64(n))
		r.log.Info("outbox messages published", slog.String("op", op), slog.Int("count", n))
	}
	return n, nil
}

// RunRedrive повторяет Redrive каждые interval до отмены ctx.
func (r *Relay) RunRedrive(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.Redrive(ctx); err != nil {
				r.log.Error("outbox redrive failed", sl.Err(err))
			}
		case <-ctx.Done():
			return nil
		}
	}
}
