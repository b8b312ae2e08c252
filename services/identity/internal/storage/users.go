package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const userColumns = `id, username, email, password_hash, display_name, bio, profile_picture_key,
	is_active, is_superuser, token_version, pending_deletion_at, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.DisplayName, &u.Bio, &u.ProfilePictureKey,
		&u.IsActive, &u.IsSuperuser, &u.TokenVersion, &u.PendingDeletionAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, username, email, password_hash, display_name, is_active, is_superuser)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING token_version, created_at, updated_at
	`, u.ID, u.Username, u.Email, u.PasswordHash, u.DisplayName, u.IsActive, u.IsSuperuser).
		Scan(&u.TokenVersion, &u.CreatedAt, &u.UpdatedAt)
	if constraint, ok := uniqueViolation(err); ok {
		if constraint == "users_username_key" {
			return ErrDuplicateUsername
		}
		return ErrDuplicateEmail
	}
	return err
}

func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// GetUserByLogin resolves the login form's username field, which may hold either an email or a username.
func (s *Store) GetUserByLogin(ctx context.Context, login string) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE email = lower($1) OR username = $1
		ORDER BY (email = lower($1)) DESC
		LIMIT 1
	`, login))
}

func (s *Store) SetUserActive(ctx context.Context, id uuid.UUID, active bool, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET is_active = $2, updated_at = $3 WHERE id = $1
	`, id, active, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) InsertAudit(ctx context.Context, e AuditEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (id, user_id, action, resource_type, resource_id, ip_address, user_agent, details, success)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, uuid.New(), e.UserID, e.Action, e.ResourceType, e.ResourceID, e.IPAddress, e.UserAgent, e.Details, e.Success)
	return err
}
