package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sonowtf/sono/libs/auth"
	"github.com/sonowtf/sono/services/identity/internal/lifecycle"
	"github.com/sonowtf/sono/services/identity/internal/maintenance"
	"github.com/sonowtf/sono/services/identity/internal/security"
	"github.com/sonowtf/sono/services/identity/internal/storage"
	"github.com/sonowtf/sono/services/identity/internal/telemetry"
	"github.com/sonowtf/sono/services/identity/internal/tokens"
)

// EncryptedPasswordHeader marks password fields as RSA-encrypted by the client.
const EncryptedPasswordHeader = "X-Password-Encrypted"

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type Store interface {
	CreateUser(ctx context.Context, u *storage.User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*storage.User, error)
	GetUserByLogin(ctx context.Context, login string) (*storage.User, error)
	SetUserActive(ctx context.Context, id uuid.UUID, active bool, now time.Time) error
	InsertAudit(ctx context.Context, e storage.AuditEntry) error
}

type Credentials interface {
	PublicKeyPEM() string
	Resolve(value string, encrypted bool) (string, error)
	Verify(plaintext, storedHash string) bool
	VerifyNothing(plaintext string)
	Hash(plaintext string) (string, error)
}

type Sessions interface {
	Issue(ctx context.Context, userID uuid.UUID, meta tokens.ClientMeta) (tokens.Pair, error)
	Refresh(ctx context.Context, token string, meta tokens.ClientMeta) (tokens.Pair, error)
	Revoke(ctx context.Context, token string) (uuid.UUID, error)
	RevokeAll(ctx context.Context, userID uuid.UUID, reason string) error
}

type PasswordResets interface {
	Request(ctx context.Context, email, ip string)
	Verify(ctx context.Context, token string) error
	Consume(ctx context.Context, token, newPassword, ip string) error
}

type Deletions interface {
	RequestDeletion(ctx context.Context, userID uuid.UUID, typ storage.DeletionType, reason *string) (*storage.DeletionRequest, error)
	CancelDeletion(ctx context.Context, userID uuid.UUID) error
	Status(ctx context.Context, userID uuid.UUID) (*storage.DeletionRequest, error)
	DeleteImmediately(ctx context.Context, userID uuid.UUID, password string, encrypted bool, typ storage.DeletionType) (*storage.PurgeResult, error)
	Sweep(ctx context.Context) (lifecycle.SweepResult, error)
}

type Handler struct {
	Store       Store
	Credentials Credentials
	Sessions    Sessions
	Resets      PasswordResets
	Deletions   Deletions
	Maintenance *maintenance.State
	Logger      *slog.Logger
	Metrics     *telemetry.Metrics
	Clock       Clock
}

func New(store Store, creds Credentials, sessions Sessions, resets PasswordResets, deletions Deletions, state *maintenance.State, logger *slog.Logger, metrics *telemetry.Metrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Store:       store,
		Credentials: creds,
		Sessions:    sessions,
		Resets:      resets,
		Deletions:   deletions,
		Maintenance: state,
		Logger:      logger,
		Metrics:     metrics,
		Clock:       systemClock{},
	}
}

type errorResponse struct {
	Detail any `json:"detail"`
}

type messageResponse struct {
	Message string `json:"message"`
	Success bool   `json:"success"`
}

func abort(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, errorResponse{Detail: detail})
}

func internalError(c *gin.Context) {
	abort(c, http.StatusInternalServerError, "Internal server error")
}

func unauthorized(c *gin.Context, detail string) {
	c.Header("WWW-Authenticate", "Bearer")
	abort(c, http.StatusUnauthorized, detail)
}

// validationFailed writes the structured 422 body for err, or a single-field
// body when err carries no field detail.
func validationFailed(c *gin.Context, err error, field string) {
	var verr *security.ValidationError
	if errors.As(err, &verr) {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, errorResponse{Detail: verr.Fields})
		return
	}
	v := &security.ValidationError{}
	v.Add(field, "field required", "value_error.missing")
	c.AbortWithStatusJSON(http.StatusUnprocessableEntity, errorResponse{Detail: v.Fields})
}

func encryptedFlag(c *gin.Context) bool {
	ok, _ := strconv.ParseBool(c.GetHeader(EncryptedPasswordHeader))
	return ok
}

func clientMeta(c *gin.Context) tokens.ClientMeta {
	return tokens.ClientMeta{IP: c.ClientIP(), UserAgent: c.Request.UserAgent()}
}

func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	p, ok := auth.PrincipalFrom(c)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(p.UserID)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) audit(c *gin.Context, action string, userID *uuid.UUID, success bool, details map[string]any) {
	entry := storage.AuditEntry{
		UserID:       userID,
		Action:       action,
		ResourceType: "user",
		IPAddress:    c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
		Details:      details,
		Success:      success,
	}
	if userID != nil {
		entry.ResourceID = userID.String()
	}
	if err := h.Store.InsertAudit(c.Request.Context(), entry); err != nil {
		h.Logger.Error("audit write failed", "action", action, "error", err)
	}
}

type userResponse struct {
	ID                uuid.UUID  `json:"id"`
	Username          string     `json:"username"`
	Email             string     `json:"email"`
	DisplayName       string     `json:"display_name"`
	Bio               *string    `json:"bio"`
	ProfilePictureKey *string    `json:"profile_picture_key"`
	IsActive          bool       `json:"is_active"`
	IsSuperuser       bool       `json:"is_superuser"`
	PendingDeletionAt *time.Time `json:"pending_deletion_at"`
	CreatedAt         time.Time  `json:"created_at"`
}

func toUserResponse(u *storage.User) userResponse {
	return userResponse{
		ID:                u.ID,
		Username:          u.Username,
		Email:             u.Email,
		DisplayName:       u.DisplayName,
		Bio:               u.Bio,
		ProfilePictureKey: u.ProfilePictureKey,
		IsActive:          u.IsActive,
		IsSuperuser:       u.IsSuperuser,
		PendingDeletionAt: u.PendingDeletionAt,
		CreatedAt:         u.CreatedAt,
	}
}
