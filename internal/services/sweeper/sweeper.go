// Package sweeper периодически отключает подписки сообществ, не получавшие продления.
// Это запасной путь на случай пропущенных событий биллинга.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/verification-gate/internal/cache"
	"github.com/magabrotheeeer/verification-gate/internal/lib/sl"
	"github.com/magabrotheeeer/verification-gate/internal/metrics"
	"github.com/magabrotheeeer/verification-gate/internal/models"
	"github.com/magabrotheeeer/verification-gate/internal/services/sender"
)

// Repository атомарно отключает устаревшие подписки.
type Repository interface {
	LapseStaleCommunities(ctx context.Context, threshold, now time.Time) ([]models.Community, error)
}

// Notifier уведомляет владельца об отключении.
type Notifier interface {
	SendLapseNotice(c models.Community) error
}

// Invalidator сбрасывает закэшированный статус.
type Invalidator interface {
	Invalidate(ctx context.Context, keys ...string) error
}

type Sweeper struct {
	repo      Repository
	notifier  Notifier
	cache     Invalidator
	interval  time.Duration
	staleness time.Duration
	log       *slog.Logger
	now       func() time.Time
}

// New создает Sweeper. notifier и cache могут быть nil.
func New(repo Repository, notifier Notifier, cache Invalidator, interval, staleness time.Duration, log *slog.Logger) *Sweeper {
	return &Sweeper{
		repo:      repo,
		notifier:  notifier,
		cache:     cache,
		interval:  interval,
		staleness: staleness,
		log:       log,
		now:       time.Now,
	}
}

// Run выполняет проверку сразу и затем каждые interval до отмены ctx.
func (s *Sweeper) Run(ctx context.Context) error {
	if _, err := s.RunOnce(ctx); err != nil {
		s.log.Error("sweep failed", sl.Err(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.log.Error("sweep failed", sl.Err(err))
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// RunOnce отключает сообщества, последнее продление которых старше staleness,
// и возвращает их.
func (s *Sweeper) RunOnce(ctx context.Context) ([]models.Community, error) {
	const op = "sweeper.RunOnce"
	log := s.log.With(slog.String("op", op))

	now := s.now()
	threshold := now.Add(-s.staleness)
	log.Info("starting sweep of stale subscriptions", slog.Time("threshold", threshold))

	lapsed, err := s.repo.LapseStaleCommunities(ctx, threshold, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(lapsed) == 0 {
		log.Info("no stale subscriptions found")
		return nil, nil
	}
	log.Info("stale subscriptions lapsed", slog.Int("count", len(lapsed)))
	metrics.LapsedCommunitiesTotal.Add(float64(len(lapsed)))

	if s.cache != nil {
		keys := make([]string, 0, len(lapsed))
		for _, c := range lapsed {
			keys = append(keys, cache.StatusKey(c.ID))
		}
		if err := s.cache.Invalidate(ctx, keys...); err != nil {
			log.Warn("failed to invalidate status cache", sl.Err(err))
		}
	}

	if s.notifier != nil {
		for _, c := range lapsed {
			err := s.notifier.SendLapseNotice(c)
			switch {
			case err == nil:
			case errors.Is(err, sender.ErrNoContact):
				log.Info("lapsed community has no contact email", sl.Community(c.ID))
			default:
				log.Error("failed to notify owner", sl.Community(c.ID), sl.Err(err))
			}
		}
	}
	return lapsed, nil
}
