package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sonowtf/sono/libs/auth"
	"github.com/sonowtf/sono/services/identity/internal/maintenance"
	"github.com/sonowtf/sono/services/identity/internal/storage"
)

type maintenanceResponse struct {
	Enabled   bool       `json:"enabled"`
	Message   string     `json:"message"`
	ChangedAt *time.Time `json:"changed_at,omitempty"`
	ChangedBy string     `json:"changed_by,omitempty"`
}

type toggleRequest struct {
	Enabled *bool  `json:"enabled"`
	Message string `json:"message"`
}

func toMaintenanceResponse(s maintenance.Snapshot) maintenanceResponse {
	resp := maintenanceResponse{Enabled: s.Enabled, Message: s.Message, ChangedBy: s.ChangedBy}
	if !s.ChangedAt.IsZero() {
		at := s.ChangedAt
		resp.ChangedAt = &at
	}
	return resp
}

func actor(c *gin.Context) string {
	if p, ok := auth.PrincipalFrom(c); ok {
		return p.UserID
	}
	return ""
}

func (h *Handler) MaintenanceStatus(c *gin.Context) {
	c.JSON(http.StatusOK, toMaintenanceResponse(h.Maintenance.Snapshot()))
}

func (h *Handler) EnableMaintenance(c *gin.Context) {
	snap, err := h.Maintenance.Enable(c.Query("message"), actor(c))
	h.finishMaintenanceChange(c, snap, err)
}

func (h *Handler) DisableMaintenance(c *gin.Context) {
	h.finishMaintenanceChange(c, h.Maintenance.Disable(actor(c)), nil)
}

func (h *Handler) ToggleMaintenance(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		validationFailed(c, err, "enabled")
		return
	}
	snap, err := h.Maintenance.Set(*req.Enabled, req.Message, actor(c))
	h.finishMaintenanceChange(c, snap, err)
}

func (h *Handler) finishMaintenanceChange(c *gin.Context, snap maintenance.Snapshot, err error) {
	if err != nil {
		if errors.Is(err, maintenance.ErrMessageTooLong) {
			abort(c, http.StatusBadRequest, "Maintenance message must be at most 200 characters")
			return
		}
		internalError(c)
		return
	}

	h.Logger.Warn("maintenance mode changed", "enabled", snap.Enabled, "actor", snap.ChangedBy)
	var adminID *uuid.UUID
	if id, ok := currentUserID(c); ok {
		adminID = &id
	}
	h.audit(c, "admin.maintenance", adminID, true, map[string]any{"enabled": snap.Enabled, "message": snap.Message})
	c.JSON(http.StatusOK, toMaintenanceResponse(snap))
}

func (h *Handler) DisableUser(c *gin.Context) {
	h.setUserActive(c, false)
}

func (h *Handler) EnableUser(c *gin.Context) {
	h.setUserActive(c, true)
}

func (h *Handler) setUserActive(c *gin.Context, active bool) {
	target, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abort(c, http.StatusNotFound, "User not found")
		return
	}

	ctx := c.Request.Context()
	if err := h.Store.SetUserActive(ctx, target, active, h.Clock.Now()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			abort(c, http.StatusNotFound, "User not found")
			return
		}
		h.Logger.Error("user status update failed", "error", err)
		internalError(c)
		return
	}
	if !active {
		if err := h.Sessions.RevokeAll(ctx, target, "admin_disabled"); err != nil {
			h.Logger.Error("session revocation failed", "user_id", target.String(), "error", err)
			internalError(c)
			return
		}
	}

	action := "admin.user_enabled"
	if !active {
		action = "admin.user_disabled"
	}
	h.audit(c, action, &target, true, map[string]any{"admin_id": actor(c)})
	c.JSON(http.StatusOK, gin.H{"id": target, "is_active": active})
}

func (h *Handler) ProcessPendingDeletions(c *gin.Context) {
	res, err := h.Deletions.Sweep(c.Request.Context())
	if err != nil {
		h.Logger.Error("deletion sweep failed", "error", err)
		internalError(c)
		return
	}
	h.audit(c, "admin.process_deletions", nil, true, map[string]any{"purged": res.Purged, "failed": res.Failed})
	c.JSON(http.StatusOK, res)
}
