// Package reset implements the forgot-password flow: single-use reset tokens
// that expire after a fixed lifetime and never reveal whether an email is
// registered.
package reset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/sonowtf/sono/services/identity/internal/notify"
	"github.com/sonowtf/sono/services/identity/internal/security"
	"github.com/sonowtf/sono/services/identity/internal/storage"
	"github.com/sonowtf/sono/services/identity/internal/telemetry"
)

var (
	ErrInvalidOrExpired = errors.New("invalid or expired reset token")
	ErrAlreadyUsed      = errors.New("reset token already used")
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type Store interface {
	GetUserByEmail(ctx context.Context, email string) (*storage.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*storage.User, error)
	ReplaceResetToken(ctx context.Context, t storage.ResetToken) error
	GetResetTokenByHash(ctx context.Context, hash string) (*storage.ResetToken, error)
	ConsumeResetToken(ctx context.Context, hash, passwordHash string, now time.Time) (uuid.UUID, error)
}

// SessionRevoker ends every session of a user once their password changes.
type SessionRevoker interface {
	RevokeAll(ctx context.Context, userID uuid.UUID, reason string) error
}

type Notifier interface {
	PasswordReset(ctx context.Context, msg notify.PasswordReset) error
	PasswordChanged(ctx context.Context, msg notify.PasswordChanged) error
}

type Hasher interface {
	Hash(plaintext string) (string, error)
}

type Config struct {
	TokenTTL     time.Duration
	FrontendURL  string
	MinimumDelay time.Duration
}

type Manager struct {
	Store    Store
	Sessions SessionRevoker
	Notifier Notifier
	Hasher   Hasher
	TokenGen security.TokenGenerator
	Logger   *slog.Logger
	Metrics  *telemetry.Metrics
	Clock    Clock
	cfg      Config
}

func NewManager(store Store, sessions SessionRevoker, notifier Notifier, hasher Hasher, cfg Config, logger *slog.Logger, metrics *telemetry.Metrics) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	return &Manager{
		Store:    store,
		Sessions: sessions,
		Notifier: notifier,
		Hasher:   hasher,
		TokenGen: security.DefaultTokenGenerator{},
		Logger:   logger,
		Metrics:  metrics,
		Clock:    systemClock{},
		cfg:      cfg,
	}
}

// Request starts a reset for email if it belongs to an active account. It
// reports nothing to the caller: both outcomes do the same token work and are
// padded to the same minimum duration.
func (m *Manager) Request(ctx context.Context, email, ip string) {
	started := time.Now()
	defer m.pad(ctx, started)

	err := m.request(ctx, security.NormalizeEmail(email), ip)
	m.Metrics.Reset("request", err)
	if err != nil {
		m.Logger.Error("password reset request failed", "error", err)
	}
}

func (m *Manager) request(ctx context.Context, email, ip string) error {
	token, hash, err := m.TokenGen.New()
	if err != nil {
		return err
	}

	user, err := m.Store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("lookup user: %w", err)
	}
	if !user.IsActive {
		return nil
	}

	now := m.Clock.Now()
	row := storage.ResetToken{
		ID:        uuid.New(),
		UserID:    user.ID,
		TokenHash: hash,
		CreatedAt: now,
		ExpiresAt: now.Add(m.cfg.TokenTTL),
		IPAddress: ip,
	}
	if err := m.Store.ReplaceResetToken(ctx, row); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	err = m.Notifier.PasswordReset(ctx, notify.PasswordReset{
		UserID:      user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Link:        m.link(token),
		ExpiresAt:   row.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("send reset notification: %w", err)
	}
	m.Logger.Info("password reset requested", "user_id", user.ID.String(), "ip", ip)
	return nil
}

func (m *Manager) link(token string) string {
	return m.cfg.FrontendURL + "/reset-password?token=" + url.QueryEscape(token)
}

func (m *Manager) pad(ctx context.Context, started time.Time) {
	wait := m.cfg.MinimumDelay - time.Since(started)
	if wait <= 0 {
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// Verify reports whether token can still be consumed. It changes nothing.
func (m *Manager) Verify(ctx context.Context, token string) error {
	_, err := m.lookup(ctx, token)
	m.Metrics.Reset("verify", err)
	if errors.Is(err, ErrAlreadyUsed) {
		return ErrInvalidOrExpired
	}
	return err
}

func (m *Manager) lookup(ctx context.Context, token string) (*storage.ResetToken, error) {
	if token == "" {
		return nil, ErrInvalidOrExpired
	}
	row, err := m.Store.GetResetTokenByHash(ctx, security.HashToken(token))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidOrExpired
		}
		return nil, fmt.Errorf("lookup reset token: %w", err)
	}
	if row.UsedAt != nil {
		return nil, ErrAlreadyUsed
	}
	if !row.Usable(m.Clock.Now()) {
		return nil, ErrInvalidOrExpired
	}
	return row, nil
}

// Consume sets a new password using token. At most one caller succeeds per
// token; all of the user's sessions are revoked afterwards.
func (m *Manager) Consume(ctx context.Context, token, newPassword, ip string) error {
	err := m.consume(ctx, token, newPassword, ip)
	m.Metrics.Reset("consume", err)
	return err
}

func (m *Manager) consume(ctx context.Context, token, newPassword, ip string) error {
	if err := security.CheckPassword("new_password", newPassword); err != nil {
		return err
	}
	if _, err := m.lookup(ctx, token); err != nil {
		return err
	}

	passwordHash, err := m.Hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	now := m.Clock.Now()
	hash := security.HashToken(token)
	userID, err := m.Store.ConsumeResetToken(ctx, hash, passwordHash, now)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrConflict):
			if _, lerr := m.lookup(ctx, token); errors.Is(lerr, ErrAlreadyUsed) {
				return ErrAlreadyUsed
			}
			return ErrInvalidOrExpired
		case errors.Is(err, storage.ErrNotFound):
			return ErrInvalidOrExpired
		default:
			return fmt.Errorf("consume reset token: %w", err)
		}
	}

	if err := m.Sessions.RevokeAll(ctx, userID, "password_reset"); err != nil {
		return fmt.Errorf("revoke sessions after reset: %w", err)
	}
	m.Logger.Info("password reset completed", "user_id", userID.String(), "ip", ip)

	user, err := m.Store.GetUserByID(ctx, userID)
	if err != nil {
		m.Logger.Warn("password changed notification skipped", "user_id", userID.String(), "error", err)
		return nil
	}
	if err := m.Notifier.PasswordChanged(ctx, notify.PasswordChanged{
		UserID:    userID,
		Email:     user.Email,
		IP:        ip,
		ChangedAt: now,
	}); err != nil {
		m.Logger.Warn("password changed notification failed", "user_id", userID.String(), "error", err)
	}
	return nil
}
