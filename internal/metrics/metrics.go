package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "assetdesk"

// Metrics holds the security layer's collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	SecurityEvents    *prometheus.CounterVec
	RateLimitDecision *prometheus.CounterVec
	LoginOutcomes     *prometheus.CounterVec
	LockoutsApplied   prometheus.Counter
	CleanupPurged     *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		SecurityEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "security_events_total",
				Help:      "Security events logged, by kind and severity",
			},
			[]string{"kind", "severity"},
		),
		RateLimitDecision: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_decisions_total",
				Help:      "Rate limiter decisions by surface and outcome",
			},
			[]string{"surface", "outcome"},
		),
		LoginOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "login_attempts_total",
				Help:      "Login attempts by outcome",
			},
			[]string{"outcome"},
		),
		LockoutsApplied: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "account_lockouts_total",
				Help:      "Lockouts applied after the failure threshold was reached",
			},
		),
		CleanupPurged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cleanup_purged_total",
				Help:      "Rows or windows removed by background maintenance",
			},
			[]string{"target"},
		),
	}

	m.registry.MustRegister(
		m.SecurityEvents,
		m.RateLimitDecision,
		m.LoginOutcomes,
		m.LockoutsApplied,
		m.CleanupPurged,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Nil-safe helpers so components can run without metrics in tests

func (m *Metrics) ObserveSecurityEvent(kind, severity string) {
	if m == nil {
		return
	}
	m.SecurityEvents.WithLabelValues(kind, severity).Inc()
}

func (m *Metrics) ObserveRateLimit(surface string, allowed bool) {
	if m == nil {
		return
	}
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	m.RateLimitDecision.WithLabelValues(surface, outcome).Inc()
}

func (m *Metrics) ObserveLogin(outcome string) {
	if m == nil {
		return
	}
	m.LoginOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveLockout() {
	if m == nil {
		return
	}
	m.LockoutsApplied.Inc()
}

func (m *Metrics) ObservePurged(target string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.CleanupPurged.WithLabelValues(target).Add(float64(n))
}
