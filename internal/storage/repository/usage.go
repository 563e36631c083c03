package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/magabrotheeeer/verification-gate/internal/models"
)

const defaultUsageLimit = 10

func insertUsage(ctx context.Context, tx *sql.Tx, communityID, memberID string, action models.UsageAction, at time.Time) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO usage_events (community_id, member_id, action, created_at)
		VALUES ($1, $2, $3, $4)`, communityID, memberID, string(action), at)
	return err
}

// AppendUsageEvent добавляет запись в журнал использования.
func (s *Storage) AppendUsageEvent(ctx context.Context, ev models.UsageEvent) error {
	const op = "storage.AppendUsageEvent"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	_, err := s.DB.ExecContext(ctx, `INSERT INTO usage_events (community_id, member_id, action, created_at)
		VALUES ($1, $2, $3, $4)`, ev.CommunityID, ev.MemberID, string(ev.Action), ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ListUsageEvents возвращает последние записи журнала сообщества, новые первыми.
func (s *Storage) ListUsageEvents(ctx context.Context, communityID string, limit int) ([]models.UsageEvent, error) {
	const op = "storage.ListUsageEvents"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}
	if limit <= 0 {
		limit = defaultUsageLimit
	}

	rows, err := s.DB.QueryContext(ctx, `SELECT id, community_id, member_id, action, created_at
		FROM usage_events
		WHERE community_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, communityID, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	events := make([]models.UsageEvent, 0, limit)
	for rows.Next() {
		var (
			ev     models.UsageEvent
			action string
		)
		if err := rows.Scan(&ev.ID, &ev.CommunityID, &ev.MemberID, &action, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		ev.Action = models.UsageAction(action)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return events, nil
}
