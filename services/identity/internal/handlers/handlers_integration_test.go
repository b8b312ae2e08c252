package handlers

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sonowtf/sono/libs/logging"
	"github.com/sonowtf/sono/services/identity/internal/lifecycle"
	"github.com/sonowtf/sono/services/identity/internal/maintenance"
	"github.com/sonowtf/sono/services/identity/internal/rate"
	"github.com/sonowtf/sono/services/identity/internal/reset"
	"github.com/sonowtf/sono/services/identity/internal/revocation"
	"github.com/sonowtf/sono/services/identity/internal/security"
	"github.com/sonowtf/sono/services/identity/internal/storage"
	"github.com/sonowtf/sono/services/identity/internal/tokens"
	"github.com/sonowtf/sono/services/testutil"
)

func TestLoginIntegration(t *testing.T) {
	if !testutil.IntegrationEnabled() {
		t.Skip("set RUN_DB_INTEGRATION=1 to run")
	}
	ctx := context.Background()
	if err := storage.Migrate(ctx, testutil.TestDSN()); err != nil {
		t.Skipf("migrate failed: %v", err)
	}
	pool, err := testutil.SetupTestDB()
	if err != nil {
		t.Skipf("db connection failed: %v", err)
	}
	defer pool.Close()
	defer testutil.CleanupTestData(ctx, pool)

	gin.SetMode(gin.TestMode)
	logger := logging.Discard()
	store := storage.New(pool)
	codec, err := security.NewCodec(rsaKey(t), security.Argon2Params{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	sessions, err := tokens.NewService(store, revocation.NewMemory(), tokens.Config{
		AccessSecret:  []byte("integration-access"),
		RefreshSecret: []byte("integration-refresh"),
		Issuer:        "sono-test",
		AccessTTL:     30 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	}, logger, nil)
	if err != nil {
		t.Fatalf("token service: %v", err)
	}
	notifier := &captureNotifier{}
	resets := reset.NewManager(store, sessions, notifier, codec, reset.Config{TokenTTL: time.Hour, FrontendURL: "https://app.test"}, logger, nil)
	deletions := lifecycle.NewManager(store, sessions, codec, notifier, notifier, nil, lifecycle.Config{SoftGrace: 30 * 24 * time.Hour, SweepBatch: 10, TokenRetention: time.Hour}, logger, nil)
	h := New(store, codec, sessions, resets, deletions, maintenance.NewState(false, ""), logger, nil)
	router := NewRouter(h, RouterConfig{APIPrefix: prefix, Policy: rate.DefaultPolicy(), Limiter: rate.NewMemory(), Authenticator: sessions})

	username := testutil.UniqueName("int")
	email := testutil.UniqueEmail("int")

	t.Run("register", func(t *testing.T) {
		resp := testutil.MakeAPIRequest(router, http.MethodPost, prefix+"/users/", registerRequest{
			Username: username,
			Email:    email,
			Password: testutil.StrongPassword,
		})
		testutil.AssertHTTPStatus(t, resp, http.StatusCreated)
	})

	var pair tokens.Pair
	t.Run("login and me", func(t *testing.T) {
		resp := testutil.MakeFormRequest(router, prefix+"/users/token", url.Values{"username": {email}, "password": {testutil.StrongPassword}})
		testutil.AssertHTTPStatus(t, resp, http.StatusOK)
		decode(t, resp, &pair)

		resp = testutil.MakeAuthRequest(router, http.MethodGet, prefix+"/users/me", nil, pair.AccessToken)
		testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	})

	t.Run("invalid password", func(t *testing.T) {
		resp := testutil.MakeFormRequest(router, prefix+"/users/token", url.Values{"username": {username}, "password": {"WrongPass123!"}})
		testutil.AssertDetail(t, resp, http.StatusUnauthorized, detailBadCredentials)
	})

	t.Run("duplicate email", func(t *testing.T) {
		resp := testutil.MakeAPIRequest(router, http.MethodPost, prefix+"/users/", registerRequest{
			Username: testutil.UniqueName("int"),
			Email:    email,
			Password: testutil.StrongPassword,
		})
		testutil.AssertDetail(t, resp, http.StatusBadRequest, "Email already registered")
	})

	t.Run("refresh rotates", func(t *testing.T) {
		resp := testutil.MakeAPIRequest(router, http.MethodPost, prefix+"/users/token/refresh", refreshRequest{RefreshToken: pair.RefreshToken})
		testutil.AssertHTTPStatus(t, resp, http.StatusOK)
		resp = testutil.MakeAPIRequest(router, http.MethodPost, prefix+"/users/token/refresh", refreshRequest{RefreshToken: pair.RefreshToken})
		testutil.AssertDetail(t, resp, http.StatusUnauthorized, detailInvalidToken)
	})
}
