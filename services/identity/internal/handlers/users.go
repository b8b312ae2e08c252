package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sonowtf/sono/services/identity/internal/security"
	"github.com/sonowtf/sono/services/identity/internal/storage"
	"github.com/sonowtf/sono/services/identity/internal/tokens"
)

const (
	detailBadCredentials = "Incorrect username or password"
	detailInvalidToken   = "Could not validate credentials"
	detailDecryption     = "Could not decrypt password"
	detailInactiveUser   = "Inactive user"
)

type registerRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) PublicKey(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"public_key": h.Credentials.PublicKeyPEM()})
}

func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationFailed(c, err, "body")
		return
	}

	password, err := h.Credentials.Resolve(req.Password, encryptedFlag(c))
	if err != nil {
		abort(c, http.StatusBadRequest, detailDecryption)
		return
	}

	reg := security.Registration{
		Username:    strings.TrimSpace(req.Username),
		Email:       security.NormalizeEmail(req.Email),
		Password:    password,
		DisplayName: strings.TrimSpace(req.DisplayName),
	}
	if reg.DisplayName == "" {
		reg.DisplayName = reg.Username
	}
	if err := security.CheckRegistration(reg); err != nil {
		validationFailed(c, err, "body")
		return
	}

	hash, err := h.Credentials.Hash(reg.Password)
	if err != nil {
		h.Logger.Error("password hash failed", "error", err)
		internalError(c)
		return
	}

	user := &storage.User{
		Username:     reg.Username,
		Email:        reg.Email,
		PasswordHash: hash,
		DisplayName:  reg.DisplayName,
		IsActive:     true,
	}
	if err := h.Store.CreateUser(c.Request.Context(), user); err != nil {
		switch {
		case errors.Is(err, storage.ErrDuplicateEmail):
			abort(c, http.StatusBadRequest, "Email already registered")
		case errors.Is(err, storage.ErrDuplicateUsername):
			abort(c, http.StatusBadRequest, "Username already taken")
		default:
			h.Logger.Error("user insert failed", "error", err)
			internalError(c)
		}
		return
	}

	h.audit(c, "user.register", &user.ID, true, nil)
	c.JSON(http.StatusCreated, toUserResponse(user))
}

// Login accepts the OAuth2 password form. The username field may carry
// either a username or an email address.
func (h *Handler) Login(c *gin.Context) {
	login := strings.TrimSpace(c.PostForm("username"))
	rawPassword := c.PostForm("password")
	if login == "" || rawPassword == "" {
		v := &security.ValidationError{}
		if login == "" {
			v.Add("username", "field required", "value_error.missing")
		}
		if rawPassword == "" {
			v.Add("password", "field required", "value_error.missing")
		}
		validationFailed(c, v, "body")
		return
	}

	password, err := h.Credentials.Resolve(rawPassword, encryptedFlag(c))
	if err != nil {
		h.Metrics.Auth("login", err)
		abort(c, http.StatusBadRequest, detailDecryption)
		return
	}

	ctx := c.Request.Context()
	user, err := h.Store.GetUserByLogin(ctx, login)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			h.Logger.Error("login lookup failed", "error", err)
			internalError(c)
			return
		}
		h.Credentials.VerifyNothing(password)
		h.Metrics.Auth("login", security.ErrInvalidCredentials)
		h.audit(c, "auth.login", nil, false, map[string]any{"reason": "unknown_user"})
		unauthorized(c, detailBadCredentials)
		return
	}

	if !h.Credentials.Verify(password, user.PasswordHash) {
		h.Metrics.Auth("login", security.ErrInvalidCredentials)
		h.audit(c, "auth.login", &user.ID, false, map[string]any{"reason": "bad_password"})
		unauthorized(c, detailBadCredentials)
		return
	}
	if !user.IsActive {
		h.Metrics.Auth("login", tokens.ErrInactiveUser)
		h.audit(c, "auth.login", &user.ID, false, map[string]any{"reason": "inactive"})
		abort(c, http.StatusForbidden, detailInactiveUser)
		return
	}

	pair, err := h.Sessions.Issue(ctx, user.ID, clientMeta(c))
	if err != nil {
		h.Logger.Error("token issue failed", "error", err)
		internalError(c)
		return
	}

	h.Metrics.Auth("login", nil)
	h.audit(c, "auth.login", &user.ID, true, nil)
	c.JSON(http.StatusOK, pair)
}

func (h *Handler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		validationFailed(c, err, "refresh_token")
		return
	}

	pair, err := h.Sessions.Refresh(c.Request.Context(), req.RefreshToken, clientMeta(c))
	h.Metrics.Auth("refresh", err)
	if err != nil {
		if !isTokenError(err) {
			h.Logger.Error("token refresh failed", "error", err)
			internalError(c)
			return
		}
		h.Logger.Debug("refresh rejected", "error", err)
		unauthorized(c, detailInvalidToken)
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (h *Handler) Logout(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		validationFailed(c, err, "refresh_token")
		return
	}

	userID, err := h.Sessions.Revoke(c.Request.Context(), req.RefreshToken)
	switch {
	case err == nil:
		h.audit(c, "auth.logout", &userID, true, nil)
	case errors.Is(err, tokens.ErrExpiredToken):
		// nothing left to revoke
	case isTokenError(err):
		unauthorized(c, detailInvalidToken)
		return
	default:
		h.Logger.Error("logout failed", "error", err)
		internalError(c)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "Successfully logged out", Success: true})
}

func (h *Handler) Me(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		unauthorized(c, detailInvalidToken)
		return
	}
	user, err := h.Store.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			unauthorized(c, detailInvalidToken)
			return
		}
		h.Logger.Error("user lookup failed", "error", err)
		internalError(c)
		return
	}
	c.JSON(http.StatusOK, toUserResponse(user))
}

func isTokenError(err error) bool {
	return errors.Is(err, tokens.ErrInvalidToken) ||
		errors.Is(err, tokens.ErrExpiredToken) ||
		errors.Is(err, tokens.ErrRevokedToken) ||
		errors.Is(err, tokens.ErrInactiveUser)
}
