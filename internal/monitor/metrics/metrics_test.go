package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vietddude/depwatch/internal/core/domain"
)

func TestMetrics_StatusIsOneHot(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SetStatus("eth", domain.StatusHealthy)
	m.SetStatus("eth", domain.StatusDegraded)

	tests := []struct {
		status domain.Status
		want   float64
	}{
		{domain.StatusHealthy, 0},
		{domain.StatusDegraded, 1},
		{domain.StatusUnhealthy, 0},
		{domain.StatusUnknown, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			got := testutil.ToFloat64(m.DependencyStatus.WithLabelValues("eth", string(tt.status)))
			if got != tt.want {
				t.Errorf("gauge = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMetrics_CircuitAndOverall(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SetCircuitState("cex", domain.CircuitOpen)
	m.SetOverall(domain.StatusUnhealthy)

	if got := testutil.ToFloat64(m.CircuitState.WithLabelValues("cex", "open")); got != 1 {
		t.Errorf("open gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CircuitState.WithLabelValues("cex", "closed")); got != 0 {
		t.Errorf("closed gauge = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.OverallStatus.WithLabelValues("unhealthy")); got != 1 {
		t.Errorf("overall gauge = %v, want 1", got)
	}
}

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveResult("eth", domain.CheckResult{Success: true, ResponseTimeMs: 120})
	m.ObserveResult("eth", domain.CheckResult{Success: false, ResponseTimeMs: 5000})
	m.ObserveResult("eth", domain.CheckResult{Skipped: true})
	m.ObserveCycle(2 * time.Second)
	m.AlertOutcome(domain.AlertCriticalDependencyDown, "fired")
	m.AlertOutcome(domain.AlertCriticalDependencyDown, "suppressed")
	m.AlertOutcome(domain.AlertCriticalDependencyDown, "suppressed")

	for _, result := range []string{"success", "failure", "skipped"} {
		if got := testutil.ToFloat64(m.ProbeResults.WithLabelValues("eth", result)); got != 1 {
			t.Errorf("%s count = %v, want 1", result, got)
		}
	}
	if got := testutil.CollectAndCount(m.ProbeLatency); got != 1 {
		t.Errorf("latency series = %d, want 1", got)
	}
	if got := testutil.CollectAndCount(m.CycleDuration); got != 1 {
		t.Errorf("cycle series = %d, want 1", got)
	}
	if got := testutil.ToFloat64(m.Alerts.WithLabelValues("critical_dependency_down", "suppressed")); got != 2 {
		t.Errorf("suppressed = %v, want 2", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.SetStatus("x", domain.StatusHealthy)
	m.SetCircuitState("x", domain.CircuitOpen)
	m.SetOverall(domain.StatusHealthy)
	m.ObserveResult("x", domain.CheckResult{})
	m.ObserveCycle(time.Second)
	m.AlertOutcome(domain.AlertPerformanceDegradation, "fired")
}
