// Package verification реализует обработчик запросов проверки возраста участника.
package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/verification-gate/internal/discord"
	"github.com/magabrotheeeer/verification-gate/internal/lib/sl"
	"github.com/magabrotheeeer/verification-gate/internal/models"
	"github.com/magabrotheeeer/verification-gate/internal/storage/repository"
)

// Repository — операции хранилища, нужные обработчику.
type Repository interface {
	GetCommunity(ctx context.Context, id string) (*models.Community, error)
	GetMember(ctx context.Context, id string) (*models.Member, error)
	ReserveQuota(ctx context.Context, communityID, memberID string, now time.Time, ttl time.Duration) (bool, error)
	ReleaseReservation(ctx context.Context, communityID, memberID string) error
	RecordAttempt(ctx context.Context, a models.Attempt) error
	AppendUsageEvent(ctx context.Context, ev models.UsageEvent) error
}

// IdentityProvider создаёт сессии проверки личности.
type IdentityProvider interface {
	CreateVerificationSession(ctx context.Context, meta models.SessionMetadata) (*models.VerificationSession, error)
}

// RoleGranter выдает роль участнику сообщества.
type RoleGranter interface {
	GrantRole(ctx context.Context, communityID, memberID, roleID string) error
}

// DOBDecrypter расшифровывает сохраненную дату рождения.
type DOBDecrypter interface {
	DecryptDOB(token string) (models.DateOfBirth, error)
}

// Config — параметры политики проверки.
type Config struct {
	Cooldown       time.Duration
	ReservationTTL time.Duration
	// ResetCooldownOnRestart снимает ограничение для попыток, сделанных до ProcessEpoch.
	ResetCooldownOnRestart bool
	ProcessEpoch           time.Time
}

// Request — запрос участника на проверку.
type Request struct {
	CommunityID string
	MemberID    string
	ChannelID   string
}

// Result — ответ на запрос. При отказе OK == false и заполнен Reason.
type Result struct {
	OK         bool         `json:"ok"`
	Reason     DenialReason `json:"reason,omitempty"`
	Message    string       `json:"message"`
	SessionURL string       `json:"session_url,omitempty"`
	Regranted  bool         `json:"regranted,omitempty"`
}

func deny(reason DenialReason, minAge int) Result {
	return Result{Reason: reason, Message: reason.message(minAge)}
}

// Service — обработчик запросов проверки.
type Service struct {
	repo     Repository
	provider IdentityProvider
	roles    RoleGranter
	vault    DOBDecrypter
	cfg      Config
	log      *slog.Logger
	now      func() time.Time
}

// New создаёт обработчик запросов проверки.
func New(repo Repository, provider IdentityProvider, roles RoleGranter, vault DOBDecrypter, cfg Config, log *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		provider: provider,
		roles:    roles,
		vault:    vault,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// WithClock подменяет источник времени.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// RequestVerification проверяет политику сообщества и либо повторно выдает роль
// уже проверенному участнику, либо создаёт сессию проверки у провайдера.
//
// Отказы по политике возвращаются в Result, ошибка означает сбой хранилища.
func (s *Service) RequestVerification(ctx context.Context, req Request) (Result, error) {
	const op = "verification.RequestVerification"
	log := s.log.With(slog.String("op", op), sl.Community(req.CommunityID), sl.Member(req.MemberID))

	select {
	case <-ctx.Done():
		return Result{}, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	community, err := s.repo.GetCommunity(ctx, req.CommunityID)
	if errors.Is(err, repository.ErrCommunityNotFound) {
		return deny(ReasonCommunityNotConfigured, 0), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}
	if !community.HasRole() {
		return deny(ReasonRoleNotConfigured, 0), nil
	}
	if !community.SubscriptionActive {
		return deny(ReasonSubscriptionInactive, 0), nil
	}
	if !community.Tier.Valid() {
		log.Warn("community has unknown tier", slog.String("tier", string(community.Tier)))
		return deny(ReasonTierMisconfigured, 0), nil
	}

	member, err := s.repo.GetMember(ctx, req.MemberID)
	switch {
	case errors.Is(err, repository.ErrMemberNotFound):
		member = nil
	case err != nil:
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now()
	if member != nil && member.Verified {
		return s.regrant(ctx, log, community, member, now)
	}

	if !community.Tier.AllowsNewVerifications() {
		return deny(ReasonTierNoNewVerifications, 0), nil
	}
	if s.inCooldown(member, now) {
		return deny(ReasonCooldown, 0), nil
	}
	if community.QuotaRemaining <= 0 {
		return deny(ReasonQuotaExhausted, 0), nil
	}

	reserved, err := s.repo.ReserveQuota(ctx, community.ID, req.MemberID, now, s.cfg.ReservationTTL)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}
	if !reserved {
		return deny(ReasonQuotaExhausted, 0), nil
	}

	session, err := s.provider.CreateVerificationSession(ctx, models.SessionMetadata{
		CommunityID: community.ID,
		MemberID:    req.MemberID,
		RoleID:      community.RoleID,
		ChannelID:   req.ChannelID,
	})
	if err != nil {
		log.Warn("identity provider call failed", sl.Err(err))
		s.release(ctx, log, community.ID, req.MemberID)
		return deny(ReasonProviderUnavailable, 0), nil
	}

	err = s.repo.RecordAttempt(ctx, models.Attempt{
		CommunityID: community.ID,
		MemberID:    req.MemberID,
		SessionID:   session.ID,
		At:          now,
	})
	if err != nil {
		s.release(ctx, log, community.ID, req.MemberID)
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("verification session created", slog.String("session_id", session.ID))
	return Result{
		OK:         true,
		Message:    fmt.Sprintf(msgSessionCreated, session.URL),
		SessionURL: session.URL,
	}, nil
}

func (s *Service) regrant(ctx context.Context, log *slog.Logger, c *models.Community, m *models.Member, now time.Time) (Result, error) {
	const op = "verification.regrant"

	if reason, ok := s.checkAge(log, c.MinAge, m, now); !ok {
		return deny(reason, c.MinAge), nil
	}

	if err := s.roles.GrantRole(ctx, c.ID, m.ID, c.RoleID); err != nil {
		if errors.Is(err, discord.ErrNotFound) || errors.Is(err, discord.ErrForbidden) || errors.Is(err, discord.ErrInvalidID) {
			log.Warn("role cannot be granted", sl.Err(err))
			return deny(ReasonRoleUnavailable, 0), nil
		}
		log.Warn("role grant failed", sl.Err(err))
		return deny(ReasonProviderUnavailable, 0), nil
	}

	err := s.repo.AppendUsageEvent(ctx, models.UsageEvent{
		CommunityID: c.ID,
		MemberID:    m.ID,
		Action:      models.ActionRegrant,
		CreatedAt:   now,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}
	log.Info("role re-granted to verified member")
	return Result{OK: true, Message: msgRegranted, Regranted: true}, nil
}

// checkAge сравнивает возраст по сохраненной дате рождения с порогом сообщества.
// Без порога проверка не нужна, отсутствие даты при пороге означает отказ.
func (s *Service) checkAge(log *slog.Logger, minAge int, m *models.Member, now time.Time) (DenialReason, bool) {
	if minAge <= 0 {
		return "", true
	}
	if m.EncryptedDOB == "" {
		return ReasonAgeUnknown, false
	}
	dob, err := s.vault.DecryptDOB(m.EncryptedDOB)
	if err != nil {
		log.Warn("stored date of birth cannot be decrypted", sl.Err(err))
		return ReasonAgeUnknown, false
	}
	if dob.AgeOn(now) < minAge {
		return ReasonAgeBelowMinimum, false
	}
	return "", true
}

func (s *Service) inCooldown(m *models.Member, now time.Time) bool {
	if m == nil || m.LastAttemptAt == nil {
		return false
	}
	last := *m.LastAttemptAt
	if s.cfg.ResetCooldownOnRestart && last.Before(s.cfg.ProcessEpoch) {
		return false
	}
	return now.Sub(last) < s.cfg.Cooldown
}

func (s *Service) release(ctx context.Context, log *slog.Logger, communityID, memberID string) {
	if err := s.repo.ReleaseReservation(context.WithoutCancel(ctx), communityID, memberID); err != nil {
		log.Error("failed to release quota reservation", sl.Err(err))
	}
}
