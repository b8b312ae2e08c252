package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sono_identity"

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	AuthEvents    *prometheus.CounterVec
	TokenReuse    prometheus.Counter
	GateRejects   *prometheus.CounterVec
	LimiterErrors *prometheus.CounterVec
	ResetEvents   *prometheus.CounterVec
	Purges        *prometheus.CounterVec
	SweepDuration prometheus.Histogram
	Notifications *prometheus.CounterVec
}

func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		AuthEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_events_total",
			Help:      "Authentication events by kind and outcome.",
		}, []string{"event", "outcome"}),
		TokenReuse: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_token_reuse_total",
			Help:      "Rotated refresh tokens presented again.",
		}),
		GateRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_rejections_total",
			Help:      "Requests refused before reaching a handler.",
		}, []string{"stage"}),
		LimiterErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limiter_errors_total",
			Help:      "Rate limiter backend failures (requests were allowed).",
		}, []string{"rule"}),
		ResetEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "password_reset_events_total",
			Help:      "Password reset requests, verifications and consumptions.",
		}, []string{"event", "outcome"}),
		Purges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_purges_total",
			Help:      "Account purges by deletion type and outcome.",
		}, []string{"type", "outcome"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "deletion_sweep_duration_seconds",
			Help:      "Duration of deletion sweeps.",
			Buckets:   prometheus.DefBuckets,
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Outbound notifications by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}

	registry.MustRegister(m.AuthEvents, m.TokenReuse, m.GateRejects, m.LimiterErrors,
		m.ResetEvents, m.Purges, m.SweepDuration, m.Notifications)
	return m
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (m *Metrics) Auth(event string, err error) {
	if m == nil {
		return
	}
	m.AuthEvents.WithLabelValues(event, outcome(err)).Inc()
}

func (m *Metrics) Reuse() {
	if m == nil {
		return
	}
	m.TokenReuse.Inc()
}

func (m *Metrics) GateRejected(stage string) {
	if m == nil {
		return
	}
	m.GateRejects.WithLabelValues(stage).Inc()
}

func (m *Metrics) LimiterError(rule string) {
	if m == nil {
		return
	}
	m.LimiterErrors.WithLabelValues(rule).Inc()
}

func (m *Metrics) Reset(event string, err error) {
	if m == nil {
		return
	}
	m.ResetEvents.WithLabelValues(event, outcome(err)).Inc()
}

func (m *Metrics) Purge(typ string, err error) {
	if m == nil {
		return
	}
	m.Purges.WithLabelValues(typ, outcome(err)).Inc()
}

func (m *Metrics) Sweep(d time.Duration) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(d.Seconds())
}

func (m *Metrics) Notification(kind string, err error) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(kind, outcome(err)).Inc()
}
