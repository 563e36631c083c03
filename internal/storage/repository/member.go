package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/verification-gate/internal/models"
)

const memberColumns = `member_id, verified, last_attempt_at, encrypted_dob, verified_at`

func scanMember(row rowScanner) (*models.Member, error) {
	var (
		m                     models.Member
		lastAttempt, verified sql.NullTime
		dob                   sql.NullString
	)
	if err := row.Scan(&m.ID, &m.Verified, &lastAttempt, &dob, &verified); err != nil {
		return nil, err
	}
	m.LastAttemptAt = timePtr(lastAttempt)
	m.VerifiedAt = timePtr(verified)
	m.EncryptedDOB = dob.String
	return &m, nil
}

// GetMember возвращает участника по идентификатору.
func (s *Storage) GetMember(ctx context.Context, id string) (*models.Member, error) {
	const op = "storage.GetMember"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	row := s.DB.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE member_id = $1`, id)
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrMemberNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return m, nil
}

// lockMember создает запись участника при отсутствии и блокирует ее до конца транзакции.
func lockMember(ctx context.Context, tx *sql.Tx, id string) (*models.Member, error) {
	if _, err := tx.ExecContext(ctx, `INSERT INTO members (member_id) VALUES ($1)
		ON CONFLICT (member_id) DO NOTHING`, id); err != nil {
		return nil, err
	}
	row := tx.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE member_id = $1 FOR UPDATE`, id)
	return scanMember(row)
}
