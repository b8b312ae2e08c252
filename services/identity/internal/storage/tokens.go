package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (s *Store) CreateRefreshToken(ctx context.Context, t RefreshToken) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (id, family_id, user_id, expires_at, created_at, created_ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, t.ID, t.FamilyID, t.UserID, t.ExpiresAt, t.CreatedAt, t.CreatedIP, t.UserAgent)
	return err
}

func (s *Store) GetRefreshToken(ctx context.Context, id uuid.UUID) (*RefreshToken, error) {
	var t RefreshToken
	err := s.pool.QueryRow(ctx, `
		SELECT id, family_id, user_id, expires_at, created_at, created_ip, user_agent, revoked_at, replaced_by
		FROM refresh_tokens
		WHERE id = $1
	`, id).Scan(&t.ID, &t.FamilyID, &t.UserID, &t.ExpiresAt, &t.CreatedAt, &t.CreatedIP, &t.UserAgent, &t.RevokedAt, &t.ReplacedBy)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// RotateRefreshToken revokes oldID and inserts next in one transaction. The
// revoke only matches a live row, so of two concurrent rotations of the same
// token exactly one commits; the other gets ErrConflict.
func (s *Store) RotateRefreshToken(ctx context.Context, oldID uuid.UUID, next RefreshToken) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO refresh_tokens (id, family_id, user_id, expires_at, created_at, created_ip, user_agent)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, next.ID, next.FamilyID, next.UserID, next.ExpiresAt, next.CreatedAt, next.CreatedIP, next.UserAgent); err != nil {
			return fmt.Errorf("insert rotated token: %w", err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE refresh_tokens
			SET revoked_at = $2, replaced_by = $3
			WHERE id = $1 AND revoked_at IS NULL
		`, oldID, next.CreatedAt, next.ID)
		if err != nil {
			return fmt.Errorf("revoke rotated token: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrConflict
		}
		return nil
	})
}

func (s *Store) RevokeFamily(ctx context.Context, familyID uuid.UUID, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = $2
		WHERE family_id = $1 AND revoked_at IS NULL
	`, familyID, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// RevokeAllForUser bumps the user's token version, which invalidates every
// access token already issued, and revokes all live refresh rows.
func (s *Store) RevokeAllForUser(ctx context.Context, userID uuid.UUID, now time.Time) (int, error) {
	var version int
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			UPDATE users SET token_version = token_version + 1, updated_at = $2
			WHERE id = $1
			RETURNING token_version
		`, userID, now).Scan(&version); err != nil {
			return notFound(err)
		}
		_, err := tx.Exec(ctx, `
			UPDATE refresh_tokens SET revoked_at = $2
			WHERE user_id = $1 AND revoked_at IS NULL
		`, userID, now)
		return err
	})
	return version, err
}

func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
