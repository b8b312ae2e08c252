package gate

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sonowtf/sono/services/identity/internal/rate"
)

type rateLimitBody struct {
	Detail     string `json:"detail"`
	RetryAfter int    `json:"retry_after"`
}

// RateLimitStage throttles one endpoint class by client IP. Limiter backend
// failures let the request through.
type RateLimitStage struct {
	limiter rate.Limiter
	rule    rate.Rule
	now     func() time.Time
	logger  *slog.Logger
	onError func(rule string)
}

func NewRateLimitStage(limiter rate.Limiter, rule rate.Rule, logger *slog.Logger) *RateLimitStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimitStage{limiter: limiter, rule: rule, now: time.Now, logger: logger}
}

func (s *RateLimitStage) WithClock(now func() time.Time) *RateLimitStage {
	s.now = now
	return s
}

func (s *RateLimitStage) OnBackendError(fn func(rule string)) *RateLimitStage {
	s.onError = fn
	return s
}

func (s *RateLimitStage) Name() string { return "rate_limit:" + s.rule.Name }

func (s *RateLimitStage) Check(c *gin.Context) *Rejection {
	err := rate.Check(c.Request.Context(), s.limiter, s.rule, c.ClientIP(), s.now())
	if err == nil {
		return nil
	}

	var limitErr *rate.LimitError
	if !errors.As(err, &limitErr) {
		s.logger.Warn("rate limiter unavailable, allowing request", "rule", s.rule.Name, "error", err)
		if s.onError != nil {
			s.onError(s.rule.Name)
		}
		return nil
	}

	secs := limitErr.RetryAfterSeconds()
	return &Rejection{
		Status:  http.StatusTooManyRequests,
		Headers: map[string]string{"Retry-After": strconv.Itoa(secs)},
		Body:    rateLimitBody{Detail: "Too many requests", RetryAfter: secs},
	}
}
