package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func staticAuthenticator(tokens map[string]Principal) Authenticator {
	return AuthenticatorFunc(func(_ context.Context, token string) (Principal, error) {
		p, ok := tokens[token]
		if !ok {
			return Principal{}, errors.New("unknown token")
		}
		return p, nil
	})
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	authn := staticAuthenticator(map[string]Principal{
		"user-token":  {UserID: "user-123", Roles: []string{RoleUser}},
		"admin-token": {UserID: "admin-1", Roles: []string{RoleUser, RoleAdmin}},
	})

	r := gin.New()
	r.GET("/me", Middleware(authn), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetString(ContextUserIDKey)})
	})
	r.GET("/admin", Middleware(authn), RequireRole(RoleAdmin), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func get(r *gin.Engine, path, token string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	w := get(newRouter(), "/me", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if w.Header().Get("WWW-Authenticate") != "Bearer" {
		t.Fatalf("expected WWW-Authenticate header")
	}
}

func TestMiddlewareRejectsUnknownToken(t *testing.T) {
	w := get(newRouter(), "/me", "nope")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestMiddlewareAcceptsValidToken(t *testing.T) {
	w := get(newRouter(), "/me", "user-token")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestRequireRole(t *testing.T) {
	r := newRouter()
	if w := get(r, "/admin", "user-token"); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for plain user, got %d", w.Code)
	}
	if w := get(r, "/admin", "admin-token"); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", w.Code)
	}
}

func TestExtractBearer(t *testing.T) {
	if got := ExtractBearer("bearer abc "); got != "abc" {
		t.Fatalf("expected abc, got %q", got)
	}
	if got := ExtractBearer("Basic abc"); got != "" {
		t.Fatalf("expected empty for basic scheme, got %q", got)
	}
}
