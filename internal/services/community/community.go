// Package community реализует команды владельца сообщества: настройку политики,
// просмотр статуса, смену уровня и журнал использования.
package community

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/verification-gate/internal/cache"
	"github.com/magabrotheeeer/verification-gate/internal/lib/sl"
	"github.com/magabrotheeeer/verification-gate/internal/models"
	"github.com/magabrotheeeer/verification-gate/internal/services/billing"
	"github.com/magabrotheeeer/verification-gate/internal/storage/repository"
)

const (
	// DefaultUsageLimit — размер журнала по умолчанию.
	DefaultUsageLimit = 10
	// MaxUsageLimit — верхняя граница размера журнала в одном ответе.
	MaxUsageLimit = 100
	// MaxMinAge — наибольший допустимый минимальный возраст.
	MaxMinAge = 125
)

var (
	// ErrNotFound — сообщество не найдено.
	ErrNotFound = errors.New("community not found")
	// ErrInvalidPolicy — некорректная роль или возраст.
	ErrInvalidPolicy = errors.New("invalid policy")
)

// Repository описывает операции хранилища над сообществами.
type Repository interface {
	// GetCommunity возвращает сообщество по ID.
	GetCommunity(ctx context.Context, id string) (*models.Community, error)
	// ConfigurePolicy сохраняет политику и пишет журнал в одной транзакции.
	ConfigurePolicy(ctx context.Context, upd models.PolicyUpdate, actorID string, now time.Time) (*models.Community, error)
	// ListUsageEvents возвращает последние записи журнала.
	ListUsageEvents(ctx context.Context, communityID string, limit int) ([]models.UsageEvent, error)
}

// Cache описывает кэш статусов.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}

// TierGranter выдает уровень по правилам оплаты.
type TierGranter interface {
	ManualGrant(ctx context.Context, req billing.GrantRequest) (*models.Community, error)
}

// Service — команды сообщества.
type Service struct {
	repo      Repository
	cache     Cache
	granter   TierGranter
	statusTTL time.Duration
	log       *slog.Logger
	now       func() time.Time
}

// New создаёт сервис. cache может быть nil, тогда статус читается из хранилища.
func New(repo Repository, cache Cache, granter TierGranter, statusTTL time.Duration, log *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		cache:     cache,
		granter:   granter,
		statusTTL: statusTTL,
		log:       log,
		now:       time.Now,
	}
}

// PolicyRequest — запрос на настройку роли и минимального возраста.
type PolicyRequest struct {
	CommunityID string
	OwnerID     string
	RoleID      string
	MinAge      int
	ActorID     string
}

// ConfigurePolicy создает сообщество при первом вызове и сохраняет роль и возраст.
func (s *Service) ConfigurePolicy(ctx context.Context, req PolicyRequest) (models.CommunityStatus, error) {
	const op = "community.ConfigurePolicy"
	log := s.log.With(slog.String("op", op), sl.Community(req.CommunityID))

	if req.RoleID == "" {
		return models.CommunityStatus{}, fmt.Errorf("%s: %w: role is required", op, ErrInvalidPolicy)
	}
	if req.MinAge < 0 || req.MinAge > MaxMinAge {
		return models.CommunityStatus{}, fmt.Errorf("%s: %w: min age %d", op, ErrInvalidPolicy, req.MinAge)
	}

	c, err := s.repo.ConfigurePolicy(ctx, models.PolicyUpdate{
		CommunityID: req.CommunityID,
		OwnerID:     req.OwnerID,
		RoleID:      req.RoleID,
		MinAge:      req.MinAge,
	}, req.ActorID, s.now())
	if err != nil {
		return models.CommunityStatus{}, fmt.Errorf("%s: %w", op, err)
	}
	s.invalidate(ctx, log, req.CommunityID)
	log.Info("policy configured", slog.String("role_id", req.RoleID), slog.Int("min_age", req.MinAge))
	return c.Status(), nil
}

// GetStatus возвращает статус сообщества, сначала из кэша.
func (s *Service) GetStatus(ctx context.Context, communityID string) (models.CommunityStatus, error) {
	const op = "community.GetStatus"
	log := s.log.With(slog.String("op", op), sl.Community(communityID))

	key := cache.StatusKey(communityID)
	if s.cache != nil {
		var cached models.CommunityStatus
		found, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			log.Warn("status cache read failed", sl.Err(err))
		}
		if found {
			return cached, nil
		}
	}

	c, err := s.repo.GetCommunity(ctx, communityID)
	if errors.Is(err, repository.ErrCommunityNotFound) {
		return models.CommunityStatus{}, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return models.CommunityStatus{}, fmt.Errorf("%s: %w", op, err)
	}
	status := c.Status()

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, status, s.statusTTL); err != nil {
			log.Warn("status cache write failed", sl.Err(err))
		}
	}
	return status, nil
}

// SetTier выдает уровень сообществу вручную.
func (s *Service) SetTier(ctx context.Context, communityID string, tier models.Tier, actorID string) (models.CommunityStatus, error) {
	const op = "community.SetTier"

	c, err := s.granter.ManualGrant(ctx, billing.GrantRequest{
		CommunityID: communityID,
		Tier:        tier,
		ActorID:     actorID,
	})
	if err != nil {
		return models.CommunityStatus{}, fmt.Errorf("%s: %w", op, err)
	}
	return c.Status(), nil
}

// ListUsage возвращает последние записи журнала, новые первыми.
func (s *Service) ListUsage(ctx context.Context, communityID string, limit int) ([]models.UsageEvent, error) {
	const op = "community.ListUsage"

	switch {
	case limit <= 0:
		limit = DefaultUsageLimit
	case limit > MaxUsageLimit:
		limit = MaxUsageLimit
	}
	events, err := s.repo.ListUsageEvents(ctx, communityID, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return events, nil
}

func (s *Service) invalidate(ctx context.Context, log *slog.Logger, communityID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, cache.StatusKey(communityID)); err != nil {
		log.Warn("failed to invalidate status cache", sl.Err(err))
	}
}
