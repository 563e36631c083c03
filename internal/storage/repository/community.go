package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/verification-gate/internal/models"
)

const communityColumns = `community_id, owner_id, role_id, min_age, tier, subscription_active,
	quota_remaining, cycle_started_at, last_renewal_at, billing_subscription_id, contact_email,
	created_at, updated_at`

func scanCommunity(row rowScanner) (*models.Community, error) {
	var (
		c                         models.Community
		roleID, subID, email      sql.NullString
		cycleStarted, lastRenewal sql.NullTime
		tier                      string
	)
	err := row.Scan(&c.ID, &c.OwnerID, &roleID, &c.MinAge, &tier, &c.SubscriptionActive,
		&c.QuotaRemaining, &cycleStarted, &lastRenewal, &subID, &email, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Tier = models.Tier(tier)
	c.RoleID = roleID.String
	c.BillingSubscriptionID = subID.String
	c.ContactEmail = email.String
	c.CycleStartedAt = timePtr(cycleStarted)
	c.LastRenewalAt = timePtr(lastRenewal)
	return &c, nil
}

// GetCommunity возвращает сообщество по идентификатору.
func (s *Storage) GetCommunity(ctx context.Context, id string) (*models.Community, error) {
	const op = "storage.GetCommunity"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	row := s.DB.QueryRowContext(ctx, `SELECT `+communityColumns+` FROM communities WHERE community_id = $1`, id)
	c, err := scanCommunity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrCommunityNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

func lockCommunity(ctx context.Context, tx *sql.Tx, id string) (*models.Community, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+communityColumns+` FROM communities WHERE community_id = $1 FOR UPDATE`, id)
	c, err := scanCommunity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCommunityNotFound
	}
	return c, err
}

func lockCommunityBySubscription(ctx context.Context, tx *sql.Tx, subscriptionID string) (*models.Community, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+communityColumns+` FROM communities
		WHERE billing_subscription_id = $1
		ORDER BY updated_at DESC
		LIMIT 1
		FOR UPDATE`, subscriptionID)
	c, err := scanCommunity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCommunityNotFound
	}
	return c, err
}

// saveCommunity записывает все изменяемые поля сообщества (вставка или обновление).
func saveCommunity(ctx context.Context, tx *sql.Tx, c *models.Community, now time.Time) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO communities (community_id, owner_id, role_id, min_age, tier,
			subscription_active, quota_remaining, cycle_started_at, last_renewal_at,
			billing_subscription_id, contact_email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		ON CONFLICT (community_id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			role_id = EXCLUDED.role_id,
			min_age = EXCLUDED.min_age,
			tier = EXCLUDED.tier,
			subscription_active = EXCLUDED.subscription_active,
			quota_remaining = EXCLUDED.quota_remaining,
			cycle_started_at = EXCLUDED.cycle_started_at,
			last_renewal_at = EXCLUDED.last_renewal_at,
			billing_subscription_id = EXCLUDED.billing_subscription_id,
			contact_email = EXCLUDED.contact_email,
			updated_at = EXCLUDED.updated_at`,
		c.ID, c.OwnerID, nullString(c.RoleID), c.MinAge, string(c.Tier),
		c.SubscriptionActive, max(c.QuotaRemaining, 0), nullTime(c.CycleStartedAt), nullTime(c.LastRenewalAt),
		nullString(c.BillingSubscriptionID), nullString(c.ContactEmail), now)
	return err
}

// ConfigurePolicy создает сообщество при необходимости и обновляет владельца, роль
// и минимальный возраст. В той же транзакции добавляет запись в журнал использования.
// Уровень, квота и статус подписки не меняются.
func (s *Storage) ConfigurePolicy(ctx context.Context, upd models.PolicyUpdate, actorID string, now time.Time) (*models.Community, error) {
	const op = "storage.ConfigurePolicy"

	var result *models.Community
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO communities (community_id, owner_id, min_age, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)
			ON CONFLICT (community_id) DO NOTHING`,
			upd.CommunityID, upd.OwnerID, upd.MinAge, now)
		if err != nil {
			return err
		}
		c, err := lockCommunity(ctx, tx, upd.CommunityID)
		if err != nil {
			return err
		}
		if upd.OwnerID != "" {
			c.OwnerID = upd.OwnerID
		}
		c.RoleID = upd.RoleID
		c.MinAge = upd.MinAge
		if err := saveCommunity(ctx, tx, c, now); err != nil {
			return err
		}
		if err := insertUsage(ctx, tx, upd.CommunityID, actorID, models.ActionSetPolicy, now); err != nil {
			return err
		}
		c.UpdatedAt = now
		result = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// LapseStaleCommunities атомарно помечает неактивными сообщества с активной подпиской,
// последнее продление которых раньше threshold, и возвращает их.
func (s *Storage) LapseStaleCommunities(ctx context.Context, threshold, now time.Time) ([]models.Community, error) {
	const op = "storage.LapseStaleCommunities"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	rows, err := s.DB.QueryContext(ctx, `UPDATE communities
		SET subscription_active = FALSE, updated_at = $2
		WHERE subscription_active AND last_renewal_at < $1
		RETURNING `+communityColumns, threshold, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var lapsed []models.Community
	for rows.Next() {
		c, err := scanCommunity(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		lapsed = append(lapsed, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return lapsed, nil
}
