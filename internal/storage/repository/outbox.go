package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// OutboxMessage — сообщение, которое не удалось опубликовать в очередь.
type OutboxMessage struct {
	ID        int64
	MessageID string
	Body      []byte
	Attempts  int
}

// EnqueueOutbox сохраняет сообщение для повторной публикации. Повтор того же messageID игнорируется.
func (s *Storage) EnqueueOutbox(ctx context.Context, messageID string, body []byte, lastErr string, now time.Time) error {
	const op = "storage.EnqueueOutbox"
	_, err := s.DB.ExecContext(ctx, `INSERT INTO relay_outbox (message_id, body, last_error, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (message_id) DO NOTHING`, messageID, body, nullString(lastErr), now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RedriveOutbox выбирает до limit готовых сообщений, блокируя их от других
// экземпляров, и передает каждое в publish. Опубликованные удаляются, для
// остальных увеличивается счетчик попыток и переносится время следующей.
// Возвращает число опубликованных сообщений.
func (s *Storage) RedriveOutbox(ctx context.Context, limit int, now time.Time, retryAfter time.Duration,
	publish func(ctx context.Context, msg OutboxMessage) error) (int, error) {
	const op = "storage.RedriveOutbox"

	delivered := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		delivered = 0
		rows, err := tx.QueryContext(ctx, `SELECT id, message_id, body, attempts FROM relay_outbox
			WHERE next_attempt_at <= $1
			ORDER BY id
			LIMIT $2
			FOR UPDATE SKIP LOCKED`, now, limit)
		if err != nil {
			return err
		}
		var batch []OutboxMessage
		for rows.Next() {
			var m OutboxMessage
			if err := rows.Scan(&m.ID, &m.MessageID, &m.Body, &m.Attempts); err != nil {
				rows.Close()
				return err
			}
			batch = append(batch, m)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, m := range batch {
			if pubErr := publish(ctx, m); pubErr != nil {
				delay := retryAfter * time.Duration(1<<min(m.Attempts, 6))
				if _, err := tx.ExecContext(ctx, `UPDATE relay_outbox
					SET attempts = attempts + 1, last_error = $2, next_attempt_at = $3
					WHERE id = $1`, m.ID, pubErr.Error(), now.Add(delay)); err != nil {
					return err
				}
				continue
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM relay_outbox WHERE id = $1`, m.ID); err != nil {
				return err
			}
			delivered++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return delivered, nil
}

// CountOutbox возвращает число ожидающих сообщений.
func (s *Storage) CountOutbox(ctx context.Context) (int, error) {
	var n int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM relay_outbox`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage.CountOutbox: %w", err)
	}
	return n, nil
}
