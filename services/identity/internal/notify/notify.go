// Package notify delivers user-facing notifications and account lifecycle
// events. Email rendering and delivery happen downstream of the Kafka topics.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sonowtf/sono/services/identity/internal/storage"
)

const (
	EventPasswordResetRequested = "identity.password_reset_requested"
	EventPasswordChanged        = "identity.password_changed"
	EventAccountDeletion        = "identity.account_deletion_scheduled"
	EventAccountPurged          = "identity.account_purged"
)

type PasswordReset struct {
	UserID      uuid.UUID
	Email       string
	DisplayName string
	Link        string
	ExpiresAt   time.Time
}

type PasswordChanged struct {
	UserID    uuid.UUID
	Email     string
	IP        string
	ChangedAt time.Time
}

type DeletionScheduled struct {
	UserID           uuid.UUID
	Email            string
	Type             storage.DeletionType
	ScheduledPurgeAt time.Time
}

type AccountPurged struct {
	UserID            uuid.UUID
	Type              storage.DeletionType
	ProfilePictureKey string
	PurgedAt          time.Time
}

// Notifier sends messages addressed to a user.
type Notifier interface {
	PasswordReset(ctx context.Context, msg PasswordReset) error
	PasswordChanged(ctx context.Context, msg PasswordChanged) error
	DeletionScheduled(ctx context.Context, msg DeletionScheduled) error
}

// EventPublisher announces account lifecycle changes to other services.
type EventPublisher interface {
	AccountPurged(ctx context.Context, msg AccountPurged) error
}
