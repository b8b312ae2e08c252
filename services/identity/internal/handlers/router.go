package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sonowtf/sono/libs/auth"
	"github.com/sonowtf/sono/libs/health"
	"github.com/sonowtf/sono/libs/httpmiddleware"
	"github.com/sonowtf/sono/libs/metrics"
	"github.com/sonowtf/sono/libs/trace"
	"github.com/sonowtf/sono/services/identity/internal/gate"
	"github.com/sonowtf/sono/services/identity/internal/rate"
)

type RouterConfig struct {
	ServiceName    string
	ProjectName    string
	Version        string
	APIPrefix      string
	MetricsPath    string
	TrustedProxies []string
	RetryAfter     time.Duration

	Policy        rate.Policy
	Limiter       rate.Limiter
	Authenticator auth.Authenticator
	Health        *health.Manager
	Registry      *prometheus.Registry
}

// NewRouter mounts the middleware stack, the maintenance gate and every
// route. Per-route chains run throttling before authentication.
func NewRouter(h *Handler, cfg RouterConfig) *gin.Engine {
	r := gin.New()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		h.Logger.Warn("invalid trusted proxies, trusting none", "error", err)
		_ = r.SetTrustedProxies(nil)
	}

	r.Use(httpmiddleware.RequestID())
	r.Use(httpmiddleware.Logger(h.Logger))
	r.Use(httpmiddleware.Recovery(h.Logger))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(trace.Middleware(cfg.ServiceName))

	maint := gate.NewMaintenanceStage(h.Maintenance, cfg.RetryAfter).
		Exempt("/health", "/healthz", "/readyz").
		ExemptPrefix(cfg.APIPrefix + "/admin/maintenance")
	if cfg.MetricsPath != "" {
		maint.Exempt(cfg.MetricsPath)
	}
	r.Use(gate.New(maint).OnReject(h.Metrics.GateRejected).Handler())

	r.GET("/health", health.StatusHandler(cfg.ProjectName, cfg.Version))
	r.GET("/healthz", health.LivenessHandler)
	if cfg.Health != nil {
		r.GET("/readyz", health.ReadinessHandler(cfg.Health))
	}
	if cfg.Registry != nil && cfg.MetricsPath != "" {
		r.GET(cfg.MetricsPath, gin.WrapH(metrics.Handler(cfg.Registry)))
	}

	throttle := func(class string) gin.HandlerFunc {
		rule, ok := cfg.Policy.Rule(class)
		if !ok || cfg.Limiter == nil {
			return func(c *gin.Context) { c.Next() }
		}
		stage := gate.NewRateLimitStage(cfg.Limiter, rule, h.Logger).OnBackendError(h.Metrics.LimiterError)
		return gate.New(stage).OnReject(h.Metrics.GateRejected).Handler()
	}
	authn := auth.Middleware(cfg.Authenticator)
	admin := auth.RequireRole(auth.RoleAdmin)

	api := r.Group(cfg.APIPrefix)

	users := api.Group("/users")
	users.GET("/public-key", h.PublicKey)
	users.POST("/", throttle(rate.ClassRegister), h.Register)
	users.POST("/token", throttle(rate.ClassLogin), h.Login)
	users.POST("/token/refresh", throttle(rate.ClassRefresh), h.Refresh)
	users.POST("/logout", h.Logout)
	users.POST("/forgot-password", throttle(rate.ClassForgotPassword), h.ForgotPassword)
	users.POST("/verify-reset-token", h.VerifyResetToken)
	users.POST("/reset-password", throttle(rate.ClassResetPassword), h.ResetPassword)

	users.GET("/me", authn, h.Me)
	users.DELETE("/me", throttle(rate.ClassAccountDeletion), authn, h.DeleteMe)
	users.POST("/me/request-deletion", throttle(rate.ClassAccountDeletion), authn, h.RequestDeletion)
	users.POST("/me/cancel-deletion", authn, h.CancelDeletion)
	users.GET("/me/deletion-status", authn, h.DeletionStatus)

	adm := api.Group("/admin")
	adm.GET("/maintenance/status", h.MaintenanceStatus)
	adm.POST("/maintenance/enable", authn, admin, h.EnableMaintenance)
	adm.POST("/maintenance/disable", authn, admin, h.DisableMaintenance)
	adm.POST("/maintenance/toggle", authn, admin, h.ToggleMaintenance)
	adm.POST("/users/:id/disable", authn, admin, h.DisableUser)
	adm.POST("/users/:id/enable", authn, admin, h.EnableUser)
	adm.POST("/process-pending-deletions", authn, admin, h.ProcessPendingDeletions)

	return r
}
