package storage

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("state changed concurrently")
	ErrDuplicateEmail    = errors.New("email already registered")
	ErrDuplicateUsername = errors.New("username already taken")
	ErrDeletionPending   = errors.New("deletion already pending")
)

type User struct {
	ID                uuid.UUID
	Username          string
	Email             string
	PasswordHash      string
	DisplayName       string
	Bio               *string
	ProfilePictureKey *string
	IsActive          bool
	IsSuperuser       bool
	TokenVersion      int
	PendingDeletionAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (u *User) Roles() []string {
	if u.IsSuperuser {
		return []string{"user", "admin"}
	}
	return []string{"user"}
}

type RefreshToken struct {
	ID         uuid.UUID
	FamilyID   uuid.UUID
	UserID     uuid.UUID
	ExpiresAt  time.Time
	CreatedAt  time.Time
	CreatedIP  string
	UserAgent  string
	RevokedAt  *time.Time
	ReplacedBy *uuid.UUID
}

type ResetToken struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	TokenHash     string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	UsedAt        *time.Time
	InvalidatedAt *time.Time
	IPAddress     string
}

// Usable reports whether the token can still be verified or consumed at now.
func (t *ResetToken) Usable(now time.Time) bool {
	return t.UsedAt == nil && t.InvalidatedAt == nil && now.Before(t.ExpiresAt)
}

type DeletionType string

const (
	DeletionSoft DeletionType = "soft"
	DeletionHard DeletionType = "hard"
)

func (t DeletionType) Valid() bool {
	return t == DeletionSoft || t == DeletionHard
}

type DeletionStatus string

const (
	DeletionPending    DeletionStatus = "pending"
	DeletionProcessing DeletionStatus = "processing"
	DeletionCancelled  DeletionStatus = "cancelled"
	DeletionCompleted  DeletionStatus = "completed"
)

type DeletionRequest struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	Type             DeletionType
	Reason           *string
	Status           DeletionStatus
	RequestedAt      time.Time
	ScheduledPurgeAt time.Time
	CancelledAt      *time.Time
	CompletedAt      *time.Time
}

// PurgeResult describes what a purge removed so callers can clean up outside the database.
type PurgeResult struct {
	UserID            uuid.UUID
	Type              DeletionType
	ProfilePictureKey *string
}

type AuditEntry struct {
	UserID       *uuid.UUID
	Action       string
	ResourceType string
	ResourceID   string
	IPAddress    string
	UserAgent    string
	Details      map[string]any
	Success      bool
}
