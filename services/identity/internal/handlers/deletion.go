package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sonowtf/sono/services/identity/internal/lifecycle"
	"github.com/sonowtf/sono/services/identity/internal/security"
	"github.com/sonowtf/sono/services/identity/internal/storage"
)

type deletionRequest struct {
	DeletionType string  `json:"deletion_type"`
	Reason       *string `json:"reason"`
}

type deletionScheduledResponse struct {
	Message          string    `json:"message"`
	Success          bool      `json:"success"`
	DeletionType     string    `json:"deletion_type"`
	ScheduledPurgeAt time.Time `json:"scheduled_purge_at"`
}

type deletionStatusResponse struct {
	HasPendingDeletion bool       `json:"has_pending_deletion"`
	DeletionType       string     `json:"deletion_type,omitempty"`
	Status             string     `json:"status,omitempty"`
	RequestedAt        *time.Time `json:"requested_at,omitempty"`
	ScheduledPurgeAt   *time.Time `json:"scheduled_purge_at,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
}

func parseDeletionType(raw string) (storage.DeletionType, bool) {
	typ := storage.DeletionType(strings.ToLower(strings.TrimSpace(raw)))
	if typ == "" {
		typ = storage.DeletionSoft
	}
	return typ, typ.Valid()
}

func invalidDeletionType(c *gin.Context) {
	v := &security.ValidationError{}
	v.Add("deletion_type", "deletion_type must be 'soft' or 'hard'", "value_error.deletion_type")
	validationFailed(c, v, "deletion_type")
}

func (h *Handler) RequestDeletion(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		unauthorized(c, detailInvalidToken)
		return
	}

	var req deletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationFailed(c, err, "deletion_type")
		return
	}
	typ, ok := parseDeletionType(req.DeletionType)
	if !ok {
		invalidDeletionType(c)
		return
	}

	dr, err := h.Deletions.RequestDeletion(c.Request.Context(), userID, typ, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, lifecycle.ErrDeletionPending):
			abort(c, http.StatusBadRequest, "Account deletion already requested")
		case errors.Is(err, lifecycle.ErrUserNotFound):
			unauthorized(c, detailInvalidToken)
		default:
			h.Logger.Error("deletion request failed", "error", err)
			internalError(c)
		}
		return
	}

	h.audit(c, "account.deletion_requested", &userID, true, map[string]any{"deletion_type": string(typ)})
	c.JSON(http.StatusOK, deletionScheduledResponse{
		Message:          "Account deletion scheduled",
		Success:          true,
		DeletionType:     string(dr.Type),
		ScheduledPurgeAt: dr.ScheduledPurgeAt,
	})
}

func (h *Handler) CancelDeletion(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		unauthorized(c, detailInvalidToken)
		return
	}

	if err := h.Deletions.CancelDeletion(c.Request.Context(), userID); err != nil {
		if errors.Is(err, lifecycle.ErrNoPendingDeletion) {
			abort(c, http.StatusNotFound, "No pending deletion request")
			return
		}
		h.Logger.Error("deletion cancel failed", "error", err)
		internalError(c)
		return
	}

	h.audit(c, "account.deletion_cancelled", &userID, true, nil)
	c.JSON(http.StatusOK, messageResponse{Message: "Account deletion cancelled", Success: true})
}

func (h *Handler) DeletionStatus(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		unauthorized(c, detailInvalidToken)
		return
	}

	dr, err := h.Deletions.Status(c.Request.Context(), userID)
	if err != nil {
		h.Logger.Error("deletion status failed", "error", err)
		internalError(c)
		return
	}
	if dr == nil {
		c.JSON(http.StatusOK, deletionStatusResponse{})
		return
	}
	c.JSON(http.StatusOK, deletionStatusResponse{
		HasPendingDeletion: dr.Status == storage.DeletionPending || dr.Status == storage.DeletionProcessing,
		DeletionType:       string(dr.Type),
		Status:             string(dr.Status),
		RequestedAt:        &dr.RequestedAt,
		ScheduledPurgeAt:   &dr.ScheduledPurgeAt,
		CancelledAt:        dr.CancelledAt,
	})
}

// DeleteMe purges the caller's account now. The password is re-checked even
// though the request is authenticated.
func (h *Handler) DeleteMe(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		unauthorized(c, detailInvalidToken)
		return
	}

	password := c.Query("password")
	if password == "" {
		validationFailed(c, nil, "password")
		return
	}
	typ, ok := parseDeletionType(c.Query("deletion_type"))
	if !ok {
		invalidDeletionType(c)
		return
	}

	_, err := h.Deletions.DeleteImmediately(c.Request.Context(), userID, password, encryptedFlag(c), typ)
	if err != nil {
		switch {
		case errors.Is(err, security.ErrDecryption):
			abort(c, http.StatusBadRequest, detailDecryption)
		case errors.Is(err, security.ErrInvalidCredentials):
			h.audit(c, "account.deleted", &userID, false, map[string]any{"reason": "bad_password"})
			abort(c, http.StatusBadRequest, "Incorrect password")
		case errors.Is(err, lifecycle.ErrUserNotFound):
			unauthorized(c, detailInvalidToken)
		default:
			h.Logger.Error("immediate deletion failed", "error", err)
			internalError(c)
		}
		return
	}

	// the user row may be gone after a hard delete
	h.audit(c, "account.deleted", nil, true, map[string]any{"user_id": userID.String(), "deletion_type": string(typ)})
	c.JSON(http.StatusOK, messageResponse{Message: "Account deleted", Success: true})
}
