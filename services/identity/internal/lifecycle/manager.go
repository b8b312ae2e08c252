// Package lifecycle schedules, cancels and carries out account deletion.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sonowtf/sono/libs/trace"
	"github.com/sonowtf/sono/services/identity/internal/notify"
	"github.com/sonowtf/sono/services/identity/internal/objectstore"
	"github.com/sonowtf/sono/services/identity/internal/security"
	"github.com/sonowtf/sono/services/identity/internal/storage"
	"github.com/sonowtf/sono/services/identity/internal/telemetry"
)

var (
	ErrNoPendingDeletion   = errors.New("no pending deletion request")
	ErrDeletionPending     = errors.New("deletion already requested")
	ErrInvalidDeletionType = errors.New("deletion type must be soft or hard")
	ErrUserNotFound        = errors.New("user not found")
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type Store interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*storage.User, error)
	CreateDeletionRequest(ctx context.Context, d storage.DeletionRequest) error
	LatestDeletion(ctx context.Context, userID uuid.UUID) (*storage.DeletionRequest, error)
	CancelDeletion(ctx context.Context, userID uuid.UUID, now time.Time) error
	ListDueDeletions(ctx context.Context, now time.Time, limit int) ([]storage.DeletionRequest, error)
	ClaimDeletion(ctx context.Context, id uuid.UUID, now time.Time) error
	PurgeUser(ctx context.Context, userID uuid.UUID, typ storage.DeletionType, now time.Time) (*storage.PurgeResult, error)
	DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error)
	DeleteExpiredResetTokens(ctx context.Context, before time.Time) (int64, error)
}

type SessionRevoker interface {
	RevokeAll(ctx context.Context, userID uuid.UUID, reason string) error
}

// PasswordChecker re-verifies the account password before an immediate deletion.
type PasswordChecker interface {
	Resolve(value string, encrypted bool) (string, error)
	Verify(plaintext, storedHash string) bool
}

type Notifier interface {
	DeletionScheduled(ctx context.Context, msg notify.DeletionScheduled) error
}

type Config struct {
	SoftGrace      time.Duration
	HardGrace      time.Duration
	SweepBatch     int
	TokenRetention time.Duration
}

type SweepResult struct {
	Due                  int   `json:"due"`
	Purged               int   `json:"purged"`
	Failed               int   `json:"failed"`
	Skipped              int   `json:"skipped"`
	ExpiredRefreshTokens int64 `json:"expired_refresh_tokens"`
	ExpiredResetTokens   int64 `json:"expired_reset_tokens"`
}

type Manager struct {
	Store     Store
	Sessions  SessionRevoker
	Passwords PasswordChecker
	Notifier  Notifier
	Events    notify.EventPublisher
	Objects   objectstore.Remover
	Logger    *slog.Logger
	Metrics   *telemetry.Metrics
	Clock     Clock

	cfg     Config
	sweepMu sync.Mutex
}

func NewManager(store Store, sessions SessionRevoker, passwords PasswordChecker, notifier Notifier, events notify.EventPublisher, objects objectstore.Remover, cfg Config, logger *slog.Logger, metrics *telemetry.Metrics) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if objects == nil {
		objects = objectstore.Noop{}
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 100
	}
	return &Manager{
		Store:     store,
		Sessions:  sessions,
		Passwords: passwords,
		Notifier:  notifier,
		Events:    events,
		Objects:   objects,
		Logger:    logger,
		Metrics:   metrics,
		Clock:     systemClock{},
		cfg:       cfg,
	}
}

func (m *Manager) grace(typ storage.DeletionType) time.Duration {
	if typ == storage.DeletionHard {
		return m.cfg.HardGrace
	}
	return m.cfg.SoftGrace
}

// RequestDeletion schedules the account for purging after the grace period of typ.
func (m *Manager) RequestDeletion(ctx context.Context, userID uuid.UUID, typ storage.DeletionType, reason *string) (*storage.DeletionRequest, error) {
	if !typ.Valid() {
		return nil, ErrInvalidDeletionType
	}
	user, err := m.Store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	now := m.Clock.Now()
	req := storage.DeletionRequest{
		ID:               uuid.New(),
		UserID:           userID,
		Type:             typ,
		Reason:           reason,
		Status:           storage.DeletionPending,
		RequestedAt:      now,
		ScheduledPurgeAt: now.Add(m.grace(typ)),
	}
	if err := m.Store.CreateDeletionRequest(ctx, req); err != nil {
		if errors.Is(err, storage.ErrDeletionPending) {
			return nil, ErrDeletionPending
		}
		return nil, fmt.Errorf("create deletion request: %w", err)
	}
	m.Logger.Info("account deletion requested",
		"user_id", userID.String(), "type", string(typ), "purge_at", req.ScheduledPurgeAt)

	if err := m.Notifier.DeletionScheduled(ctx, notify.DeletionScheduled{
		UserID:           userID,
		Email:            user.Email,
		Type:             typ,
		ScheduledPurgeAt: req.ScheduledPurgeAt,
	}); err != nil {
		m.Logger.Warn("deletion notification failed", "user_id", userID.String(), "error", err)
	}
	return &req, nil
}

func (m *Manager) CancelDeletion(ctx context.Context, userID uuid.UUID) error {
	if err := m.Store.CancelDeletion(ctx, userID, m.Clock.Now()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNoPendingDeletion
		}
		return fmt.Errorf("cancel deletion: %w", err)
	}
	m.Logger.Info("account deletion cancelled", "user_id", userID.String())
	return nil
}

// Status returns the user's latest deletion request, or nil if there never was one.
func (m *Manager) Status(ctx context.Context, userID uuid.UUID) (*storage.DeletionRequest, error) {
	req, err := m.Store.LatestDeletion(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load deletion status: %w", err)
	}
	return req, nil
}

// DeleteImmediately purges the account now, after checking the caller's password.
func (m *Manager) DeleteImmediately(ctx context.Context, userID uuid.UUID, password string, encrypted bool, typ storage.DeletionType) (*storage.PurgeResult, error) {
	if !typ.Valid() {
		return nil, ErrInvalidDeletionType
	}
	user, err := m.Store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	plain, err := m.Passwords.Resolve(password, encrypted)
	if err != nil {
		return nil, err
	}
	if !m.Passwords.Verify(plain, user.PasswordHash) {
		return nil, security.ErrInvalidCredentials
	}

	return m.purge(ctx, userID, typ, m.Clock.Now())
}

func (m *Manager) purge(ctx context.Context, userID uuid.UUID, typ storage.DeletionType, now time.Time) (*storage.PurgeResult, error) {
	result, err := m.doPurge(ctx, userID, typ, now)
	m.Metrics.Purge(string(typ), err)
	return result, err
}

func (m *Manager) doPurge(ctx context.Context, userID uuid.UUID, typ storage.DeletionType, now time.Time) (*storage.PurgeResult, error) {
	if err := m.Sessions.RevokeAll(ctx, userID, "account_deletion"); err != nil {
		return nil, fmt.Errorf("revoke sessions: %w", err)
	}

	result, err := m.Store.PurgeUser(ctx, userID, typ, now)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("purge user: %w", err)
	}

	var pictureKey string
	if result.ProfilePictureKey != nil {
		pictureKey = *result.ProfilePictureKey
		if err := m.Objects.Remove(ctx, pictureKey); err != nil {
			m.Logger.Warn("profile picture removal failed", "user_id", userID.String(), "key", pictureKey, "error", err)
		}
	}

	if err := m.Events.AccountPurged(ctx, notify.AccountPurged{
		UserID:            userID,
		Type:              typ,
		ProfilePictureKey: pictureKey,
		PurgedAt:          now,
	}); err != nil {
		m.Logger.Warn("account purged event failed", "user_id", userID.String(), "error", err)
	}

	m.Logger.Info("account purged", "user_id", userID.String(), "type", string(typ))
	return result, nil
}

// Sweep purges every due request that was not cancelled, then drops expired
// token rows. Concurrent calls are serialized.
func (m *Manager) Sweep(ctx context.Context) (SweepResult, error) {
	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()

	ctx, span := trace.Start(ctx, "identity.lifecycle", "deletion.sweep")
	started := time.Now()
	var res SweepResult
	defer func() {
		m.Metrics.Sweep(time.Since(started))
		span.SetAttributes(
			attribute.Int("sweep.due", res.Due),
			attribute.Int("sweep.purged", res.Purged),
			attribute.Int("sweep.failed", res.Failed),
		)
		span.End()
	}()

	now := m.Clock.Now()

	due, err := m.Store.ListDueDeletions(ctx, now, m.cfg.SweepBatch)
	if err != nil {
		return res, fmt.Errorf("list due deletions: %w", err)
	}
	res.Due = len(due)

	for _, req := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if req.Status == storage.DeletionPending {
			if err := m.Store.ClaimDeletion(ctx, req.ID, now); err != nil {
				if errors.Is(err, storage.ErrConflict) {
					res.Skipped++
					continue
				}
				res.Failed++
				m.Logger.Error("claim deletion failed", "request_id", req.ID.String(), "error", err)
				continue
			}
		}

		if _, err := m.purge(ctx, req.UserID, req.Type, now); err != nil {
			res.Failed++
			m.Logger.Error("scheduled purge failed", "request_id", req.ID.String(), "user_id", req.UserID.String(), "error", err)
			continue
		}
		res.Purged++
	}

	cutoff := now.Add(-m.cfg.TokenRetention)
	if res.ExpiredRefreshTokens, err = m.Store.DeleteExpiredRefreshTokens(ctx, cutoff); err != nil {
		m.Logger.Error("expired refresh token cleanup failed", "error", err)
	}
	if res.ExpiredResetTokens, err = m.Store.DeleteExpiredResetTokens(ctx, cutoff); err != nil {
		m.Logger.Error("expired reset token cleanup failed", "error", err)
	}
	return res, nil
}

// Run sweeps every interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := m.Sweep(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					m.Logger.Error("deletion sweep failed", "error", err)
				}
				continue
			}
			if res.Due > 0 || res.ExpiredRefreshTokens > 0 || res.ExpiredResetTokens > 0 {
				m.Logger.Info("deletion sweep finished",
					"due", res.Due, "purged", res.Purged, "failed", res.Failed, "skipped", res.Skipped,
					"expired_refresh_tokens", res.ExpiredRefreshTokens, "expired_reset_tokens", res.ExpiredResetTokens)
			}
		}
	}
}
