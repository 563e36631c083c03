package paymentprovider

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/magabrotheeeer/verification-gate/internal/models"
)

// SignatureHeader — заголовок с подписью тела вебхука.
const SignatureHeader = "Stripe-Signature"

var (
	// ErrSignatureInvalid — подпись отсутствует или не совпадает с секретом.
	ErrSignatureInvalid = errors.New("invalid webhook signature")
	// ErrPayloadInvalid — тело вебхука не удалось разобрать.
	ErrPayloadInvalid = errors.New("invalid webhook payload")
	// ErrUnhandledEvent — тип события не обрабатывается сервисом.
	ErrUnhandledEvent = errors.New("unhandled webhook event")
)

// WebhookParser проверяет подписи вебхуков и нормализует события.
type WebhookParser struct {
	identitySecret string
	billingSecret  string
}

// NewWebhookParser создаёт парсер с секретами вебхуков проверки личности и биллинга.
func NewWebhookParser(identitySecret, billingSecret string) *WebhookParser {
	return &WebhookParser{
		identitySecret: identitySecret,
		billingSecret:  billingSecret,
	}
}

func construct(payload []byte, sigHeader, secret string) (stripe.Event, error) {
	if strings.TrimSpace(sigHeader) == "" || strings.TrimSpace(secret) == "" {
		return stripe.Event{}, ErrSignatureInvalid
	}
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if errors.Is(err, webhook.ErrNotSigned) || errors.Is(err, webhook.ErrInvalidHeader) ||
			errors.Is(err, webhook.ErrNoValidSignature) || errors.Is(err, webhook.ErrTooOld) {
			return stripe.Event{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
		}
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrPayloadInvalid, err)
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return stripe.Event{}, fmt.Errorf("%w: empty event data", ErrPayloadInvalid)
	}
	return event, nil
}

// ParseIdentityEvent проверяет подпись и извлекает результат проверки личности.
// Для остальных типов событий возвращает ErrUnhandledEvent.
func (p *WebhookParser) ParseIdentityEvent(payload []byte, sigHeader string) (*IdentityEvent, error) {
	const op = "paymentprovider.ParseIdentityEvent"

	event, err := construct(payload, sigHeader, p.identitySecret)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var outcome models.VerificationOutcome
	switch string(event.Type) {
	case eventIdentityVerified:
		outcome = models.OutcomeVerified
	case eventIdentityCanceled:
		outcome = models.OutcomeCanceled
	default:
		return nil, fmt.Errorf("%s: %w: %s", op, ErrUnhandledEvent, event.Type)
	}

	var vs verificationSessionObject
	if err := json.Unmarshal(event.Data.Raw, &vs); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrPayloadInvalid, err)
	}
	meta := sessionMetadata(vs.Metadata)
	if meta.CommunityID == "" || meta.MemberID == "" {
		return nil, fmt.Errorf("%s: %w: missing community or member metadata", op, ErrPayloadInvalid)
	}

	ev := &IdentityEvent{
		EventID:   event.ID,
		Outcome:   outcome,
		SessionID: vs.ID,
		Metadata:  meta,
	}
	if vs.VerifiedOutputs != nil && vs.VerifiedOutputs.DOB != nil {
		dob := models.DateOfBirth{
			Year:  vs.VerifiedOutputs.DOB.Year,
			Month: time.Month(vs.VerifiedOutputs.DOB.Month),
			Day:   vs.VerifiedOutputs.DOB.Day,
		}
		if !dob.IsZero() {
			ev.DOB = &dob
		}
	}
	return ev, nil
}

// ParseBillingEvent проверяет подпись и нормализует событие жизненного цикла подписки.
// Для остальных типов событий возвращает ErrUnhandledEvent.
func (p *WebhookParser) ParseBillingEvent(payload []byte, sigHeader string) (*models.BillingEvent, error) {
	const op = "paymentprovider.ParseBillingEvent"

	event, err := construct(payload, sigHeader, p.billingSecret)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ev := &models.BillingEvent{EventID: event.ID}
	switch string(event.Type) {
	case eventCheckoutCompleted:
		var session checkoutSessionObject
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("%s: %w: %v", op, ErrPayloadInvalid, err)
		}
		meta := sessionMetadata(session.Metadata)
		ev.Type = models.BillingCheckoutCompleted
		ev.CommunityID = meta.CommunityID
		ev.OwnerID = meta.MemberID
		ev.SubscriptionID = string(session.Subscription)
		ev.CheckoutSessionID = session.ID
		ev.ContactEmail = session.CustomerEmail
		if session.CustomerDetails != nil && strings.TrimSpace(session.CustomerDetails.Email) != "" {
			ev.ContactEmail = strings.TrimSpace(session.CustomerDetails.Email)
		}
		ev.PriceIDs, ev.ProductIDs = session.LineItems.prices()
		if ev.CommunityID == "" || ev.SubscriptionID == "" {
			return nil, fmt.Errorf("%s: %w: checkout without community or subscription", op, ErrPayloadInvalid)
		}

	case eventSubscriptionCreated, eventSubscriptionUpdated, eventSubscriptionDeleted:
		var sub subscriptionObject
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%s: %w: %v", op, ErrPayloadInvalid, err)
		}
		switch string(event.Type) {
		case eventSubscriptionCreated:
			ev.Type = models.BillingSubscriptionCreated
		case eventSubscriptionUpdated:
			ev.Type = models.BillingSubscriptionUpdated
		default:
			ev.Type = models.BillingSubscriptionDeleted
		}
		meta := sessionMetadata(sub.Metadata)
		ev.CommunityID = meta.CommunityID
		ev.OwnerID = meta.MemberID
		ev.SubscriptionID = sub.ID
		ev.Status = sub.Status
		ev.PriceIDs, ev.ProductIDs = sub.Items.prices()
		if start := sub.periodStart(); start != nil {
			ev.PeriodStart = start
		}
		if ev.SubscriptionID == "" {
			return nil, fmt.Errorf("%s: %w: subscription without id", op, ErrPayloadInvalid)
		}

	default:
		return nil, fmt.Errorf("%s: %w: %s", op, ErrUnhandledEvent, event.Type)
	}
	return ev, nil
}

// periodStart берет начало текущего периода подписки. Новые версии API
// переносят его в позиции подписки.
func (s *subscriptionObject) periodStart() *time.Time {
	ts := s.CurrentPeriodStart
	if ts == 0 {
		for _, item := range s.Items.Data {
			if item.CurrentPeriodStart > ts {
				ts = item.CurrentPeriodStart
			}
		}
	}
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
