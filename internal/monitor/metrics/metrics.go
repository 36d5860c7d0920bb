package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vietddude/depwatch/internal/core/domain"
)

var (
	allStatuses = []domain.Status{
		domain.StatusUnknown, domain.StatusHealthy, domain.StatusDegraded, domain.StatusUnhealthy,
	}
	allCircuitStates = []domain.CircuitState{
		domain.CircuitClosed, domain.CircuitOpen, domain.CircuitHalfOpen,
	}
)

// Metrics holds the monitor's collectors. A nil *Metrics is a no-op.
type Metrics struct {
	// DependencyStatus is 1 for the dependency's current status and 0 for the others
	DependencyStatus *prometheus.GaugeVec

	// CircuitState is 1 for the breaker's current state and 0 for the others
	CircuitState *prometheus.GaugeVec

	// OverallStatus is 1 for the aggregate status
	OverallStatus *prometheus.GaugeVec

	// ProbeLatency tracks endpoint probe latency
	ProbeLatency *prometheus.HistogramVec

	// ProbeResults counts probe outcomes: success, failure, skipped
	ProbeResults *prometheus.CounterVec

	// CycleDuration tracks how long a full check cycle takes
	CycleDuration prometheus.Histogram

	// Alerts counts alert rule outcomes: fired, suppressed, failed
	Alerts *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DependencyStatus: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "depwatch_dependency_status",
				Help: "Current health status of a dependency",
			},
			[]string{"dependency", "status"},
		),
		CircuitState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "depwatch_circuit_breaker_state",
				Help: "Current circuit breaker state of a dependency",
			},
			[]string{"dependency", "state"},
		),
		OverallStatus: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "depwatch_overall_status",
				Help: "Aggregate health status",
			},
			[]string{"status"},
		),
		ProbeLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "depwatch_probe_latency_seconds",
				Help:    "Endpoint probe latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"dependency"},
		),
		ProbeResults: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "depwatch_probe_results_total",
				Help: "Total number of endpoint probe results",
			},
			[]string{"dependency", "result"},
		),
		CycleDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "depwatch_cycle_duration_seconds",
				Help:    "Duration of a full check cycle in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		Alerts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "depwatch_alerts_total",
				Help: "Total number of alert rule outcomes",
			},
			[]string{"type", "outcome"},
		),
	}
}

func (m *Metrics) SetStatus(dependency string, s domain.Status) {
	if m == nil {
		return
	}
	for _, st := range allStatuses {
		m.DependencyStatus.WithLabelValues(dependency, string(st)).Set(boolToFloat(st == s))
	}
}

func (m *Metrics) SetCircuitState(dependency string, s domain.CircuitState) {
	if m == nil {
		return
	}
	for _, st := range allCircuitStates {
		m.CircuitState.WithLabelValues(dependency, string(st)).Set(boolToFloat(st == s))
	}
}

func (m *Metrics) SetOverall(s domain.Status) {
	if m == nil {
		return
	}
	for _, st := range allStatuses {
		m.OverallStatus.WithLabelValues(string(st)).Set(boolToFloat(st == s))
	}
}

func (m *Metrics) ObserveResult(dependency string, r domain.CheckResult) {
	if m == nil {
		return
	}
	switch {
	case r.Skipped:
		m.ProbeResults.WithLabelValues(dependency, "skipped").Inc()
		return
	case r.Success:
		m.ProbeResults.WithLabelValues(dependency, "success").Inc()
	default:
		m.ProbeResults.WithLabelValues(dependency, "failure").Inc()
	}
	m.ProbeLatency.WithLabelValues(dependency).Observe(r.ResponseTimeMs / 1000)
}

func (m *Metrics) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.CycleDuration.Observe(d.Seconds())
}

func (m *Metrics) AlertOutcome(t domain.AlertType, outcome string) {
	if m == nil {
		return
	}
	m.Alerts.WithLabelValues(string(t), outcome).Inc()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
