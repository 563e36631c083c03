package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/verification-gate/internal/models"
)

// ApplyBillingEvent выполняет mutate над сообществом в одной транзакции
// и отмечает событие eventID обработанным.
//
// Сообщество блокируется до конца транзакции. Если событие с eventID уже
// обработано, mutate не вызывается и возвращается false. Пустой eventID
// (ручная выдача) не проверяется на повтор.
func (s *Storage) ApplyBillingEvent(ctx context.Context, eventID, eventType string, lookup models.CommunityLookup,
	now time.Time, mutate models.CommunityMutation) (bool, error) {
	const op = "storage.ApplyBillingEvent"

	var applied bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		applied = false
		if eventID != "" {
			res, err := tx.ExecContext(ctx, `INSERT INTO processed_billing_events (event_id, event_type, processed_at)
				VALUES ($1, $2, $3)
				ON CONFLICT (event_id) DO NOTHING`, eventID, eventType, now)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				return nil
			}
		}

		c, exists, err := lookupForUpdate(ctx, tx, lookup)
		if err != nil {
			return err
		}
		save, err := mutate(c, exists)
		if err != nil {
			return err
		}
		if !save && !exists && c != nil {
			// заготовка строки нужна была только для блокировки
			if _, err := tx.ExecContext(ctx, `DELETE FROM communities WHERE community_id = $1`, c.ID); err != nil {
				return err
			}
		}
		if save && c != nil {
			if err := saveCommunity(ctx, tx, c, now); err != nil {
				return err
			}
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return applied, nil
}

// lookupForUpdate блокирует сообщество до конца транзакции. Отсутствующее по
// community_id сообщество сначала вставляется пустой строкой: иначе FOR UPDATE
// ничего не блокирует и параллельные транзакции затирают друг друга.
func lookupForUpdate(ctx context.Context, tx *sql.Tx, lookup models.CommunityLookup) (*models.Community, bool, error) {
	if lookup.CommunityID != "" {
		res, err := tx.ExecContext(ctx, `INSERT INTO communities (community_id, min_age, tier)
			VALUES ($1, $2, $3)
			ON CONFLICT (community_id) DO NOTHING`,
			lookup.CommunityID, models.DefaultMinAge, string(models.Tier0))
		if err != nil {
			return nil, false, err
		}
		created, err := res.RowsAffected()
		if err != nil {
			return nil, false, err
		}
		c, err := lockCommunity(ctx, tx, lookup.CommunityID)
		if err != nil {
			return nil, false, err
		}
		if created == 1 {
			return models.NewCommunity(lookup.CommunityID), false, nil
		}
		return c, true, nil
	}
	if lookup.SubscriptionID != "" {
		c, err := lockCommunityBySubscription(ctx, tx, lookup.SubscriptionID)
		if errors.Is(err, ErrCommunityNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		return c, true, nil
	}
	return nil, false, nil
}
