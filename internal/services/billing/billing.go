// Package billing применяет события жизненного цикла подписки к уровню,
// квоте и статусу сообщества.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/magabrotheeeer/verification-gate/internal/cache"
	"github.com/magabrotheeeer/verification-gate/internal/lib/sl"
	"github.com/magabrotheeeer/verification-gate/internal/metrics"
	"github.com/magabrotheeeer/verification-gate/internal/models"
)

var (
	// ErrUnknownPlan — цена или продукт не сопоставлены ни одному уровню.
	ErrUnknownPlan = errors.New("billing plan is not mapped to a tier")
	// ErrInvalidTier — неизвестный уровень в ручной выдаче.
	ErrInvalidTier = errors.New("unknown tier")
	// ErrMissingCommunity — в событии нет идентификатора сообщества.
	ErrMissingCommunity = errors.New("community id is required")
)

// renewalGrace — минимальный сдвиг начала периода относительно сохраненного,
// после которого событие подписки считается новым циклом оплаты.
const renewalGrace = 24 * time.Hour

// Repository — операции хранилища, нужные обработчику событий.
type Repository interface {
	ApplyBillingEvent(ctx context.Context, eventID, eventType string, lookup models.CommunityLookup,
		now time.Time, mutate models.CommunityMutation) (bool, error)
	AppendUsageEvent(ctx context.Context, ev models.UsageEvent) error
}

// LineItemsFetcher получает позиции оформленной сессии, если событие пришло без них.
type LineItemsFetcher interface {
	CheckoutLineItems(ctx context.Context, checkoutSessionID string) (priceIDs, productIDs []string, err error)
}

// Invalidator сбрасывает закэшированный статус сообщества.
type Invalidator interface {
	Invalidate(ctx context.Context, keys ...string) error
}

// Processor — обработчик событий биллинга.
type Processor struct {
	repo  Repository
	items LineItemsFetcher
	plans map[string]models.Tier
	cache Invalidator
	log   *slog.Logger
	now   func() time.Time
}

// NewProcessor создаёт обработчик. plans сопоставляет идентификаторы цен и продуктов уровням.
func NewProcessor(repo Repository, items LineItemsFetcher, plans map[string]string, cache Invalidator, log *slog.Logger) (*Processor, error) {
	mapped := make(map[string]models.Tier, len(plans))
	for id, tier := range plans {
		t := models.Tier(strings.TrimSpace(tier))
		if !t.Valid() {
			return nil, fmt.Errorf("billing.NewProcessor: plan %q: %w: %s", id, ErrInvalidTier, tier)
		}
		mapped[strings.TrimSpace(id)] = t
	}
	return &Processor{
		repo:  repo,
		items: items,
		plans: mapped,
		cache: cache,
		log:   log,
		now:   time.Now,
	}, nil
}

// ResolveTier возвращает уровень по первой сопоставленной цене, затем продукту.
func (p *Processor) ResolveTier(priceIDs, productIDs []string) (models.Tier, bool) {
	for _, ids := range [][]string{priceIDs, productIDs} {
		for _, id := range ids {
			if t, ok := p.plans[id]; ok {
				return t, true
			}
		}
	}
	return "", false
}

// Process применяет событие. Повторная обработка того же события ничего не меняет.
func (p *Processor) Process(ctx context.Context, ev models.BillingEvent) error {
	const op = "billing.Process"
	log := p.log.With(slog.String("op", op), sl.Event(ev.EventID, string(ev.Type)),
		sl.Community(ev.CommunityID), slog.String("subscription_id", ev.SubscriptionID))

	var (
		applied bool
		err     error
	)
	switch ev.Type {
	case models.BillingCheckoutCompleted:
		applied, err = p.checkoutCompleted(ctx, log, ev)
	case models.BillingSubscriptionCreated, models.BillingSubscriptionUpdated:
		applied, err = p.subscriptionChanged(ctx, log, ev)
	case models.BillingSubscriptionDeleted:
		applied, err = p.subscriptionDeleted(ctx, log, ev)
	default:
		log.Info("billing event ignored")
		return nil
	}
	if err != nil {
		metrics.BillingEventsTotal.WithLabelValues(string(ev.Type), "error").Inc()
		return fmt.Errorf("%s: %w", op, err)
	}
	if !applied {
		log.Info("billing event already processed")
		metrics.BillingEventsTotal.WithLabelValues(string(ev.Type), "duplicate").Inc()
		return nil
	}
	metrics.BillingEventsTotal.WithLabelValues(string(ev.Type), "applied").Inc()
	return nil
}

func (p *Processor) checkoutCompleted(ctx context.Context, log *slog.Logger, ev models.BillingEvent) (bool, error) {
	if ev.CommunityID == "" {
		return false, ErrMissingCommunity
	}
	prices, products := ev.PriceIDs, ev.ProductIDs
	if len(prices) == 0 && len(products) == 0 && ev.CheckoutSessionID != "" {
		var err error
		prices, products, err = p.items.CheckoutLineItems(ctx, ev.CheckoutSessionID)
		if err != nil {
			return false, err
		}
	}
	tier, ok := p.ResolveTier(prices, products)
	if !ok {
		return false, fmt.Errorf("%w: prices=%v products=%v", ErrUnknownPlan, prices, products)
	}

	var changed string
	applied, err := p.repo.ApplyBillingEvent(ctx, ev.EventID, string(ev.Type), models.CommunityLookup{CommunityID: ev.CommunityID}, p.now(),
		func(c *models.Community, exists bool) (bool, error) {
			if exists && c.BillingSubscriptionID == ev.SubscriptionID && c.Tier == tier && c.SubscriptionActive {
				return false, nil
			}
			prev := models.Tier0
			if exists {
				prev = c.Tier
			}
			now := p.now()
			c.QuotaRemaining = models.PurchaseQuota(c.QuotaRemaining, prev, tier)
			c.Tier = tier
			c.SubscriptionActive = true
			c.BillingSubscriptionID = ev.SubscriptionID
			if ev.OwnerID != "" {
				c.OwnerID = ev.OwnerID
			}
			if ev.ContactEmail != "" {
				c.ContactEmail = ev.ContactEmail
			}
			c.LastRenewalAt = &now
			c.CycleStartedAt = &now
			changed = c.ID
			return true, nil
		})
	if err != nil {
		return false, err
	}
	if changed != "" {
		log.Info("subscription purchased", slog.String("tier", string(tier)))
		p.invalidate(ctx, log, changed)
	}
	return applied, nil
}

func (p *Processor) subscriptionChanged(ctx context.Context, log *slog.Logger, ev models.BillingEvent) (bool, error) {
	tier, tierKnown := p.ResolveTier(ev.PriceIDs, ev.ProductIDs)
	if !tierKnown && (len(ev.PriceIDs) > 0 || len(ev.ProductIDs) > 0) {
		log.Warn("subscription plan is not mapped, tier left unchanged",
			slog.Any("price_ids", ev.PriceIDs), slog.Any("product_ids", ev.ProductIDs))
	}

	var changed string
	applied, err := p.repo.ApplyBillingEvent(ctx, ev.EventID, string(ev.Type), lookup(ev), p.now(),
		func(c *models.Community, exists bool) (bool, error) {
			if c == nil || !exists {
				log.Warn("subscription event for unknown community ignored")
				return false, nil
			}
			if c.BillingSubscriptionID != "" && c.BillingSubscriptionID != ev.SubscriptionID {
				log.Info("event for a previous subscription ignored", slog.String("current", c.BillingSubscriptionID))
				return false, nil
			}
			c.BillingSubscriptionID = ev.SubscriptionID
			c.SubscriptionActive = models.SubscriptionStatusActive(ev.Status)
			if tierKnown && tier != c.Tier {
				c.QuotaRemaining = models.PlanChangeQuota(c.QuotaRemaining, c.Tier, tier)
				c.Tier = tier
			}
			if start := ev.PeriodStart; start != nil {
				if c.SubscriptionActive && (c.CycleStartedAt == nil || start.After(c.CycleStartedAt.Add(renewalGrace))) {
					c.QuotaRemaining = models.RenewalQuota(c.Tier)
					s := *start
					c.CycleStartedAt = &s
					log.Info("billing cycle renewed", slog.Time("period_start", s))
				}
				if c.LastRenewalAt == nil || start.After(*c.LastRenewalAt) {
					s := *start
					c.LastRenewalAt = &s
				}
			}
			changed = c.ID
			return true, nil
		})
	if err != nil {
		return false, err
	}
	if changed != "" {
		p.invalidate(ctx, log, changed)
	}
	return applied, nil
}

func (p *Processor) subscriptionDeleted(ctx context.Context, log *slog.Logger, ev models.BillingEvent) (bool, error) {
	var changed string
	applied, err := p.repo.ApplyBillingEvent(ctx, ev.EventID, string(ev.Type), lookup(ev), p.now(),
		func(c *models.Community, exists bool) (bool, error) {
			if c == nil || !exists {
				log.Warn("subscription deletion for unknown community ignored")
				return false, nil
			}
			if c.BillingSubscriptionID != ev.SubscriptionID {
				log.Info("deletion of a previous subscription ignored", slog.String("current", c.BillingSubscriptionID))
				return false, nil
			}
			c.SubscriptionActive = false
			changed = c.ID
			return true, nil
		})
	if err != nil {
		return false, err
	}
	if changed != "" {
		log.Info("subscription deactivated")
		p.invalidate(ctx, log, changed)
	}
	return applied, nil
}

// GrantRequest — ручная выдача или смена уровня подписки.
type GrantRequest struct {
	CommunityID string
	OwnerID     string
	Tier        models.Tier
	ActorID     string
}

// ManualGrant выдает уровень без события провайдера по правилам оплаты:
// квота пополняется на потолок уровня, при понижении ограничивается им.
func (p *Processor) ManualGrant(ctx context.Context, req GrantRequest) (*models.Community, error) {
	const op = "billing.ManualGrant"
	log := p.log.With(slog.String("op", op), sl.Community(req.CommunityID))

	if req.CommunityID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingCommunity)
	}
	if !req.Tier.Valid() {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrInvalidTier, req.Tier)
	}
	now := p.now()

	var result models.Community
	_, err := p.repo.ApplyBillingEvent(ctx, "", "manual_grant", models.CommunityLookup{CommunityID: req.CommunityID}, now,
		func(c *models.Community, exists bool) (bool, error) {
			prev := models.Tier0
			if exists {
				prev = c.Tier
			}
			c.QuotaRemaining = models.PurchaseQuota(c.QuotaRemaining, prev, req.Tier)
			c.Tier = req.Tier
			c.SubscriptionActive = true
			if req.OwnerID != "" {
				c.OwnerID = req.OwnerID
			}
			c.LastRenewalAt = &now
			c.CycleStartedAt = &now
			result = *c
			return true, nil
		})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	err = p.repo.AppendUsageEvent(ctx, models.UsageEvent{
		CommunityID: req.CommunityID,
		MemberID:    req.ActorID,
		Action:      models.ActionSetTier,
		CreatedAt:   now,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	p.invalidate(ctx, log, req.CommunityID)
	log.Info("tier granted manually", slog.String("tier", string(req.Tier)), slog.Int("quota", result.QuotaRemaining))
	return &result, nil
}

func lookup(ev models.BillingEvent) models.CommunityLookup {
	if ev.CommunityID != "" {
		return models.CommunityLookup{CommunityID: ev.CommunityID}
	}
	return models.CommunityLookup{SubscriptionID: ev.SubscriptionID}
}

func (p *Processor) invalidate(ctx context.Context, log *slog.Logger, communityID string) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Invalidate(ctx, cache.StatusKey(communityID)); err != nil {
		log.Warn("failed to invalidate status cache", sl.Err(err))
	}
}
