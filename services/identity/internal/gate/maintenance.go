package gate

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sonowtf/sono/services/identity/internal/maintenance"
)

type maintenanceBody struct {
	Detail     string `json:"detail"`
	Status     string `json:"status"`
	RetryAfter int    `json:"retry_after"`
}

// MaintenanceStage rejects everything but exempt routes while maintenance is on.
type MaintenanceStage struct {
	state      *maintenance.State
	retryAfter int
	exact      map[string]struct{}
	prefixes   []string
}

func NewMaintenanceStage(state *maintenance.State, retryAfter time.Duration) *MaintenanceStage {
	secs := int(math.Ceil(retryAfter.Seconds()))
	if secs <= 0 {
		secs = 3600
	}
	return &MaintenanceStage{state: state, retryAfter: secs, exact: map[string]struct{}{}}
}

// Exempt lets exact paths through.
func (s *MaintenanceStage) Exempt(paths ...string) *MaintenanceStage {
	for _, p := range paths {
		s.exact[p] = struct{}{}
	}
	return s
}

// ExemptPrefix lets a path and everything below it through.
func (s *MaintenanceStage) ExemptPrefix(prefixes ...string) *MaintenanceStage {
	for _, p := range prefixes {
		s.prefixes = append(s.prefixes, strings.TrimRight(p, "/"))
	}
	return s
}

func (s *MaintenanceStage) Name() string { return "maintenance" }

func (s *MaintenanceStage) Check(c *gin.Context) *Rejection {
	snap := s.state.Snapshot()
	if !snap.Enabled || s.exempt(c.Request.URL.Path) {
		return nil
	}
	return &Rejection{
		Status:  http.StatusServiceUnavailable,
		Headers: map[string]string{"Retry-After": strconv.Itoa(s.retryAfter)},
		Body: maintenanceBody{
			Detail:     snap.Message,
			Status:     "maintenance",
			RetryAfter: s.retryAfter,
		},
	}
}

func (s *MaintenanceStage) exempt(path string) bool {
	if _, ok := s.exact[path]; ok {
		return true
	}
	for _, p := range s.prefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}
