// Package reconciler применяет результаты проверки личности из очереди к хранилищу
// и выдает роли после фиксации изменений.
package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/verification-gate/internal/cache"
	"github.com/magabrotheeeer/verification-gate/internal/discord"
	"github.com/magabrotheeeer/verification-gate/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/verification-gate/internal/lib/sl"
	"github.com/magabrotheeeer/verification-gate/internal/metrics"
	"github.com/magabrotheeeer/verification-gate/internal/models"
	"github.com/magabrotheeeer/verification-gate/internal/paymentprovider"
)

// Repository — операции хранилища, которые выполняет обработчик результатов.
type Repository interface {
	ApplyVerified(ctx context.Context, res models.VerifiedResult) (models.VerifiedOutcome, error)
	ApplyCanceled(ctx context.Context, communityID, memberID string, at time.Time) (models.CanceledOutcome, error)
}

// DOBFetcher запрашивает дату рождения у провайдера, если ее нет в событии.
type DOBFetcher interface {
	FetchDateOfBirth(ctx context.Context, sessionID string) (models.DateOfBirth, error)
}

// Vault шифрует и расшифровывает дату рождения.
type Vault interface {
	EncryptDOB(dob models.DateOfBirth) (string, error)
	DecryptDOB(token string) (models.DateOfBirth, error)
}

// Platform — действия на платформе сообществ.
type Platform interface {
	GrantRole(ctx context.Context, communityID, memberID, roleID string) error
	Notify(ctx context.Context, channelID, content string) error
}

// Invalidator сбрасывает закэшированный статус сообщества.
type Invalidator interface {
	Invalidate(ctx context.Context, keys ...string) error
}

// Reconciler обрабатывает сообщения очереди результатов.
type Reconciler struct {
	repo     Repository
	fetcher  DOBFetcher
	vault    Vault
	platform Platform
	cache    Invalidator
	log      *slog.Logger
	now      func() time.Time
}

// New создаёт обработчик результатов. cache может быть nil.
func New(repo Repository, fetcher DOBFetcher, vault Vault, platform Platform, cache Invalidator, log *slog.Logger) *Reconciler {
	return &Reconciler{
		repo:     repo,
		fetcher:  fetcher,
		vault:    vault,
		platform: platform,
		cache:    cache,
		log:      log,
		now:      time.Now,
	}
}

// Handle разбирает сообщение и применяет его. Сообщения, которые нельзя
// разобрать, помечаются как постоянная ошибка и уходят в очередь недоставленных.
// Прочие ошибки возвращаются для повторной доставки.
func (r *Reconciler) Handle(ctx context.Context, body []byte) error {
	const op = "reconciler.Handle"

	var msg models.VerificationMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		metrics.ReconciledTotal.WithLabelValues("invalid", "rejected").Inc()
		return rabbitmq.Permanent(fmt.Errorf("%s: decode: %w", op, err))
	}
	if err := msg.Validate(); err != nil {
		metrics.ReconciledTotal.WithLabelValues(string(msg.Type), "rejected").Inc()
		return rabbitmq.Permanent(fmt.Errorf("%s: %w", op, err))
	}

	var (
		result string
		err    error
	)
	switch msg.Type {
	case models.OutcomeVerified:
		result, err = r.applyVerified(ctx, msg)
	case models.OutcomeCanceled:
		result, err = r.applyCanceled(ctx, msg)
	}
	if err != nil {
		metrics.ReconciledTotal.WithLabelValues(string(msg.Type), "retry").Inc()
		return fmt.Errorf("%s: %w", op, err)
	}
	metrics.ReconciledTotal.WithLabelValues(string(msg.Type), result).Inc()
	return nil
}

func (r *Reconciler) applyVerified(ctx context.Context, msg models.VerificationMessage) (string, error) {
	log := r.log.With(slog.String("op", "reconciler.applyVerified"),
		sl.Community(msg.CommunityID), sl.Member(msg.MemberID), slog.String("message_id", msg.MessageID))

	sealed := msg.EncryptedDOB
	if sealed == "" && msg.SessionID != "" {
		dob, err := r.fetcher.FetchDateOfBirth(ctx, msg.SessionID)
		switch {
		case err == nil:
			sealed, err = r.vault.EncryptDOB(dob)
			if err != nil {
				return "", err
			}
		case errors.Is(err, paymentprovider.ErrNoDateOfBirth):
			log.Warn("provider returned no date of birth")
		default:
			return "", err
		}
	}

	out, err := r.repo.ApplyVerified(ctx, models.VerifiedResult{
		CommunityID:  msg.CommunityID,
		MemberID:     msg.MemberID,
		EncryptedDOB: sealed,
		At:           r.now(),
	})
	if err != nil {
		return "", err
	}
	if out.QuotaDecremented {
		r.invalidate(ctx, log, msg.CommunityID)
	}
	if out.Community == nil {
		log.Warn("community no longer exists, dropping role grant")
		return "dropped", nil
	}
	if out.FirstVerification {
		log.Info("member verified", slog.Bool("quota_decremented", out.QuotaDecremented))
	}

	roleID := msg.RoleID
	if roleID == "" {
		roleID = out.Community.RoleID
	}
	if roleID == "" {
		log.Warn("no role configured, dropping role grant")
		return "dropped", nil
	}

	if !r.ageAllowed(log, out.Community.MinAge, out.Member) {
		r.notify(ctx, log, msg.ChannelID, fmt.Sprintf("%s does not meet the minimum age of %d for this role.",
			discord.Mention(msg.MemberID), out.Community.MinAge))
		return "age_denied", nil
	}

	if err := r.platform.GrantRole(ctx, msg.CommunityID, msg.MemberID, roleID); err != nil {
		if errors.Is(err, discord.ErrNotFound) || errors.Is(err, discord.ErrForbidden) || errors.Is(err, discord.ErrInvalidID) {
			log.Warn("role grant precondition gone, dropping", sl.Err(err))
			return "dropped", nil
		}
		return "", err
	}
	log.Info("role granted", slog.String("role_id", roleID))
	return "granted", nil
}

func (r *Reconciler) applyCanceled(ctx context.Context, msg models.VerificationMessage) (string, error) {
	log := r.log.With(slog.String("op", "reconciler.applyCanceled"),
		sl.Community(msg.CommunityID), sl.Member(msg.MemberID), slog.String("message_id", msg.MessageID))

	out, err := r.repo.ApplyCanceled(ctx, msg.CommunityID, msg.MemberID, r.now())
	if err != nil {
		return "", err
	}
	if out.WasVerified {
		log.Warn("cancel revoked verification of verified member")
	}
	r.notify(ctx, log, msg.ChannelID, "Verification canceled for user "+discord.Mention(msg.MemberID))
	return "canceled", nil
}

// ageAllowed проверяет порог по сохраненной дате рождения. Без даты доступ при пороге закрыт.
func (r *Reconciler) ageAllowed(log *slog.Logger, minAge int, m models.Member) bool {
	if minAge <= 0 {
		return true
	}
	if m.EncryptedDOB == "" {
		log.Warn("verified member has no date of birth")
		return false
	}
	dob, err := r.vault.DecryptDOB(m.EncryptedDOB)
	if err != nil {
		log.Warn("stored date of birth cannot be decrypted", sl.Err(err))
		return false
	}
	return dob.AgeOn(r.now()) >= minAge
}

func (r *Reconciler) notify(ctx context.Context, log *slog.Logger, channelID, content string) {
	if channelID == "" {
		return
	}
	if err := r.platform.Notify(ctx, channelID, content); err != nil {
		log.Warn("failed to notify channel", slog.String("channel_id", channelID), sl.Err(err))
	}
}

func (r *Reconciler) invalidate(ctx context.Context, log *slog.Logger, communityID string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Invalidate(ctx, cache.StatusKey(communityID)); err != nil {
		log.Warn("failed to invalidate status cache", sl.Err(err))
	}
}
