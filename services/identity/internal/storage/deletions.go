package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const deletionColumns = `id, user_id, deletion_type, reason, status, requested_at, scheduled_purge_at, cancelled_at, completed_at`

func scanDeletion(row pgx.Row) (*DeletionRequest, error) {
	var d DeletionRequest
	if err := row.Scan(&d.ID, &d.UserID, &d.Type, &d.Reason, &d.Status, &d.RequestedAt, &d.ScheduledPurgeAt, &d.CancelledAt, &d.CompletedAt); err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

// CreateDeletionRequest records a pending request and marks the user. A user
// has at most one pending request, enforced by a partial unique index.
func (s *Store) CreateDeletionRequest(ctx context.Context, d DeletionRequest) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO deletion_requests (id, user_id, deletion_type, reason, status, requested_at, scheduled_purge_at)
			VALUES ($1, $2, $3, $4, 'pending', $5, $6)
		`, d.ID, d.UserID, d.Type, d.Reason, d.RequestedAt, d.ScheduledPurgeAt)
		if _, dup := uniqueViolation(err); dup {
			return ErrDeletionPending
		}
		if err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			UPDATE users SET pending_deletion_at = $2, updated_at = $3 WHERE id = $1
		`, d.UserID, d.ScheduledPurgeAt, d.RequestedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// LatestDeletion returns the user's most recent request in any state.
func (s *Store) LatestDeletion(ctx context.Context, userID uuid.UUID) (*DeletionRequest, error) {
	return scanDeletion(s.pool.QueryRow(ctx, `
		SELECT `+deletionColumns+` FROM deletion_requests
		WHERE user_id = $1
		ORDER BY requested_at DESC
		LIMIT 1
	`, userID))
}

// CancelDeletion only matches a pending request; one already picked up by the sweep cannot be cancelled.
func (s *Store) CancelDeletion(ctx context.Context, userID uuid.UUID, now time.Time) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE deletion_requests SET status = 'cancelled', cancelled_at = $2
			WHERE user_id = $1 AND status = 'pending'
		`, userID, now)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		_, err = tx.Exec(ctx, `
			UPDATE users SET pending_deletion_at = NULL, updated_at = $2 WHERE id = $1
		`, userID, now)
		return err
	})
}

func (s *Store) ListDueDeletions(ctx context.Context, now time.Time, limit int) ([]DeletionRequest, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+deletionColumns+` FROM deletion_requests
		WHERE status IN ('pending', 'processing') AND scheduled_purge_at <= $1
		ORDER BY scheduled_purge_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeletionRequest
	for rows.Next() {
		d, err := scanDeletion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// ClaimDeletion moves a due pending request to processing. ErrConflict means
// it was cancelled or claimed by someone else first.
func (s *Store) ClaimDeletion(ctx context.Context, id uuid.UUID, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE deletion_requests SET status = 'processing'
		WHERE id = $1 AND status = 'pending' AND scheduled_purge_at <= $2
	`, id, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// PurgeUser completes the user's open deletion request (recording one if
// there is none) and then anonymizes or deletes the account.
func (s *Store) PurgeUser(ctx context.Context, userID uuid.UUID, typ DeletionType, now time.Time) (*PurgeResult, error) {
	result := &PurgeResult{UserID: userID, Type: typ}
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			SELECT profile_picture_key FROM users WHERE id = $1 FOR UPDATE
		`, userID).Scan(&result.ProfilePictureKey); err != nil {
			return notFound(err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE deletion_requests SET status = 'completed', completed_at = $2
			WHERE user_id = $1 AND status IN ('pending', 'processing')
		`, userID, now)
		if err != nil {
			return fmt.Errorf("complete deletion request: %w", err)
		}
		if tag.RowsAffected() == 0 {
			if _, err := tx.Exec(ctx, `
				INSERT INTO deletion_requests (id, user_id, deletion_type, status, requested_at, scheduled_purge_at, completed_at)
				VALUES ($1, $2, $3, 'completed', $4, $4, $4)
			`, uuid.New(), userID, typ, now); err != nil {
				return fmt.Errorf("record immediate deletion: %w", err)
			}
		}

		switch typ {
		case DeletionHard:
			_, err = tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
		default:
			_, err = tx.Exec(ctx, `
				UPDATE users SET
					username = 'deleted_user_' || replace(id::text, '-', ''),
					email = 'deleted_' || replace(id::text, '-', '') || '@deleted.account',
					password_hash = '!',
					display_name = 'Deleted User',
					bio = NULL,
					profile_picture_key = NULL,
					is_active = false,
					pending_deletion_at = NULL,
					updated_at = $2
				WHERE id = $1
			`, userID, now)
		}
		if err != nil {
			return fmt.Errorf("purge user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
