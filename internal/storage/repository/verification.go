package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/verification-gate/internal/models"
)

// ReserveQuota резервирует один слот квоты сообщества за участником до now+ttl.
//
// Строка сообщества блокируется на время проверки, поэтому при квоте Q
// одновременно проходят не более Q запросов. Слот считается занятым, пока
// резерв не истек, не подтвержден результатом verified или не освобожден.
// Возвращает false, если свободных слотов нет. Повторный резерв того же
// участника продлевает его существующий слот.
func (s *Storage) ReserveQuota(ctx context.Context, communityID, memberID string, now time.Time, ttl time.Duration) (bool, error) {
	const op = "storage.ReserveQuota"

	var reserved bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		reserved = false
		c, err := lockCommunity(ctx, tx, communityID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM quota_reservations
			WHERE community_id = $1 AND expires_at <= $2`, communityID, now); err != nil {
			return err
		}
		var held int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM quota_reservations
			WHERE community_id = $1 AND member_id <> $2`, communityID, memberID).Scan(&held); err != nil {
			return err
		}
		if c.QuotaRemaining-held <= 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO quota_reservations (community_id, member_id, expires_at, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (community_id, member_id) DO UPDATE SET expires_at = EXCLUDED.expires_at, session_id = NULL`,
			communityID, memberID, now.Add(ttl), now)
		if err != nil {
			return err
		}
		reserved = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return reserved, nil
}

// ReleaseReservation освобождает резерв участника.
func (s *Storage) ReleaseReservation(ctx context.Context, communityID, memberID string) error {
	const op = "storage.ReleaseReservation"
	_, err := s.DB.ExecContext(ctx, `DELETE FROM quota_reservations WHERE community_id = $1 AND member_id = $2`,
		communityID, memberID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RecordAttempt фиксирует начатую проверку: время последней попытки участника,
// запись журнала и сессию в резерве. Все изменения в одной транзакции.
func (s *Storage) RecordAttempt(ctx context.Context, a models.Attempt) error {
	const op = "storage.RecordAttempt"

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO members (member_id, last_attempt_at, created_at, updated_at)
			VALUES ($1, $2, $2, $2)
			ON CONFLICT (member_id) DO UPDATE SET last_attempt_at = EXCLUDED.last_attempt_at, updated_at = EXCLUDED.updated_at`,
			a.MemberID, a.At)
		if err != nil {
			return err
		}
		if err := insertUsage(ctx, tx, a.CommunityID, a.MemberID, models.ActionVerify, a.At); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE quota_reservations SET session_id = $3
			WHERE community_id = $1 AND member_id = $2`, a.CommunityID, a.MemberID, nullString(a.SessionID))
		return err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ApplyVerified применяет результат verified в одной транзакции.
//
// Статус участника проверяется под блокировкой строки: квота сообщества
// списывается (условно, только при положительном остатке) лишь при первой
// проверке участника. Повторная доставка того же результата квоту не трогает.
func (s *Storage) ApplyVerified(ctx context.Context, res models.VerifiedResult) (models.VerifiedOutcome, error) {
	const op = "storage.ApplyVerified"

	var out models.VerifiedOutcome
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		out = models.VerifiedOutcome{}
		m, err := lockMember(ctx, tx, res.MemberID)
		if err != nil {
			return err
		}
		out.FirstVerification = !m.Verified

		if out.FirstVerification {
			var remaining int
			err := tx.QueryRowContext(ctx, `UPDATE communities
				SET quota_remaining = quota_remaining - 1, updated_at = $2
				WHERE community_id = $1 AND quota_remaining > 0
				RETURNING quota_remaining`, res.CommunityID, res.At).Scan(&remaining)
			switch {
			case err == nil:
				out.QuotaDecremented = true
			case errors.Is(err, sql.ErrNoRows):
			default:
				return err
			}
		}

		c, err := lockCommunity(ctx, tx, res.CommunityID)
		switch {
		case err == nil:
			out.Community = c
		case errors.Is(err, ErrCommunityNotFound):
		default:
			return err
		}

		dob := m.EncryptedDOB
		if res.EncryptedDOB != "" {
			dob = res.EncryptedDOB
		}
		verifiedAt := m.VerifiedAt
		if verifiedAt == nil {
			at := res.At
			verifiedAt = &at
		}
		_, err = tx.ExecContext(ctx, `UPDATE members
			SET verified = TRUE, encrypted_dob = $2, verified_at = $3, updated_at = $4
			WHERE member_id = $1`, res.MemberID, nullString(dob), nullTime(verifiedAt), res.At)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM quota_reservations WHERE community_id = $1 AND member_id = $2`,
			res.CommunityID, res.MemberID); err != nil {
			return err
		}

		m.Verified = true
		m.EncryptedDOB = dob
		m.VerifiedAt = verifiedAt
		out.Member = *m
		return nil
	})
	if err != nil {
		return models.VerifiedOutcome{}, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// ApplyCanceled применяет результат canceled: снимает статус проверки и освобождает резерв.
// Квота не меняется.
func (s *Storage) ApplyCanceled(ctx context.Context, communityID, memberID string, at time.Time) (models.CanceledOutcome, error) {
	const op = "storage.ApplyCanceled"

	var out models.CanceledOutcome
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		out = models.CanceledOutcome{}
		m, err := lockMember(ctx, tx, memberID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM quota_reservations WHERE community_id = $1 AND member_id = $2`,
			communityID, memberID); err != nil {
			return err
		}
		out.WasVerified = m.Verified
		_, err = tx.ExecContext(ctx, `UPDATE members SET verified = FALSE, updated_at = $2 WHERE member_id = $1`,
			memberID, at)
		return err
	})
	if err != nil {
		return models.CanceledOutcome{}, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}
