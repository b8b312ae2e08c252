package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sonowtf/sono/services/identity/internal/reset"
	"github.com/sonowtf/sono/services/identity/internal/security"
)

const detailInvalidResetToken = "Invalid or expired reset token"

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type verifyResetRequest struct {
	Token string `json:"token"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// ForgotPassword answers identically whether or not the address is registered.
func (h *Handler) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" {
		validationFailed(c, err, "email")
		return
	}

	h.Resets.Request(c.Request.Context(), req.Email, c.ClientIP())
	h.audit(c, "password.reset_requested", nil, true, nil)
	c.JSON(http.StatusOK, messageResponse{
		Message: "If an account with that email exists, a password reset link has been sent",
		Success: true,
	})
}

func (h *Handler) VerifyResetToken(c *gin.Context) {
	var req verifyResetRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
		validationFailed(c, err, "token")
		return
	}

	if err := h.Resets.Verify(c.Request.Context(), req.Token); err != nil {
		if !isResetError(err) {
			h.Logger.Error("reset token lookup failed", "error", err)
			internalError(c)
			return
		}
		abort(c, http.StatusBadRequest, detailInvalidResetToken)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "Token is valid", Success: true})
}

func (h *Handler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" || req.NewPassword == "" {
		field := "token"
		if req.Token != "" {
			field = "new_password"
		}
		validationFailed(c, err, field)
		return
	}

	err := h.Resets.Consume(c.Request.Context(), req.Token, req.NewPassword, c.ClientIP())
	if err != nil {
		var verr *security.ValidationError
		switch {
		case errors.As(err, &verr):
			validationFailed(c, err, "new_password")
		case isResetError(err):
			h.audit(c, "password.reset", nil, false, map[string]any{"reason": err.Error()})
			abort(c, http.StatusBadRequest, detailInvalidResetToken)
		default:
			h.Logger.Error("password reset failed", "error", err)
			internalError(c)
		}
		return
	}

	h.audit(c, "password.reset", nil, true, nil)
	c.JSON(http.StatusOK, messageResponse{Message: "Password has been reset successfully", Success: true})
}

func isResetError(err error) bool {
	return errors.Is(err, reset.ErrInvalidOrExpired) || errors.Is(err, reset.ErrAlreadyUsed)
}
