// Package sender отправляет владельцам сообществ письма о состоянии подписки.
package sender

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/verification-gate/internal/lib/sl"
	"github.com/magabrotheeeer/verification-gate/internal/lib/smtp"
	"github.com/magabrotheeeer/verification-gate/internal/models"
)

// ErrNoContact — у сообщества нет контактного адреса.
var ErrNoContact = errors.New("community has no contact email")

type SenderService struct {
	transport smtp.TransportInterface
	log       *slog.Logger
}

// NewSenderService создает новый экземпляр SenderService.
func NewSenderService(transport smtp.TransportInterface, log *slog.Logger) *SenderService {
	return &SenderService{
		transport: transport,
		log:       log,
	}
}

// SendLapseNotice сообщает владельцу, что подписка сообщества отключена из-за отсутствия продления.
func (s *SenderService) SendLapseNotice(c models.Community) error {
	const op = "sender.SendLapseNotice"
	log := s.log.With(slog.String("op", op), sl.Community(c.ID))

	if c.ContactEmail == "" {
		return fmt.Errorf("%s: %w", op, ErrNoContact)
	}

	last := "never"
	if c.LastRenewalAt != nil {
		last = c.LastRenewalAt.Format("2006-01-02")
	}
	msg := smtp.Message{
		To:      []string{c.ContactEmail},
		Subject: "Verification subscription deactivated",
		Body: fmt.Sprintf("Hello!\n\nThe verification subscription for server %s (%s) has been deactivated "+
			"because no renewal was received since %s.\n\nNew verifications are paused until the subscription is renewed. "+
			"Members who are already verified keep their status.", c.ID, c.Tier, last),
	}
	if err := smtp.Send(s.transport, msg); err != nil {
		log.Error("failed to send lapse notice", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("lapse notice sent")
	return nil
}
