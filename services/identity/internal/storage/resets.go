package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ReplaceResetToken invalidates the user's outstanding reset tokens and stores t.
func (s *Store) ReplaceResetToken(ctx context.Context, t ResetToken) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE password_reset_tokens SET invalidated_at = $2
			WHERE user_id = $1 AND used_at IS NULL AND invalidated_at IS NULL
		`, t.UserID, t.CreatedAt); err != nil {
			return fmt.Errorf("invalidate reset tokens: %w", err)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO password_reset_tokens (id, user_id, token_hash, created_at, expires_at, ip_address)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, t.ID, t.UserID, t.TokenHash, t.CreatedAt, t.ExpiresAt, t.IPAddress)
		return err
	})
}

func (s *Store) GetResetTokenByHash(ctx context.Context, hash string) (*ResetToken, error) {
	var t ResetToken
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, token_hash, created_at, expires_at, used_at, invalidated_at, ip_address
		FROM password_reset_tokens
		WHERE token_hash = $1
	`, hash).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.CreatedAt, &t.ExpiresAt, &t.UsedAt, &t.InvalidatedAt, &t.IPAddress)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// ConsumeResetToken marks the token used and writes the new password hash in
// one transaction. The conditional update is the only guard: a token that was
// used, invalidated or expired in the meantime yields ErrConflict.
func (s *Store) ConsumeResetToken(ctx context.Context, hash, passwordHash string, now time.Time) (uuid.UUID, error) {
	var userID uuid.UUID
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE password_reset_tokens SET used_at = $2
			WHERE token_hash = $1 AND used_at IS NULL AND invalidated_at IS NULL AND expires_at > $2
			RETURNING user_id
		`, hash, now).Scan(&userID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrConflict
			}
			return err
		}

		tag, err := tx.Exec(ctx, `
			UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1
		`, userID, passwordHash, now)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}

		_, err = tx.Exec(ctx, `
			UPDATE password_reset_tokens SET invalidated_at = $2
			WHERE user_id = $1 AND used_at IS NULL AND invalidated_at IS NULL
		`, userID, now)
		return err
	})
	return userID, err
}

func (s *Store) DeleteExpiredResetTokens(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM password_reset_tokens
		WHERE expires_at < $1 OR used_at < $1 OR invalidated_at < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
