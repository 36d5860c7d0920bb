package status

import (
	"testing"
	"time"

	"github.com/vietddude/depwatch/internal/core/domain"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func ok(ms float64) []domain.CheckResult {
	return []domain.CheckResult{{Endpoint: "a", Success: true, ResponseTimeMs: ms}}
}

func fail(msg string) []domain.CheckResult {
	return []domain.CheckResult{{Endpoint: "a", Success: false, Error: msg, ResponseTimeMs: 10}}
}

func skipped() []domain.CheckResult {
	return []domain.CheckResult{{Endpoint: "a", Skipped: true}}
}

func TestTracker_Transitions(t *testing.T) {
	const S, F = true, false

	tests := []struct {
		name       string
		thresholds Thresholds
		seq        []bool
		want       []domain.Status
	}{
		{
			name:       "healthy after threshold",
			thresholds: Thresholds{Healthy: 2, Unhealthy: 3},
			seq:        []bool{S, S},
			want:       []domain.Status{domain.StatusUnknown, domain.StatusHealthy},
		},
		{
			name:       "unknown stays unknown until unhealthy",
			thresholds: Thresholds{Healthy: 2, Unhealthy: 3},
			seq:        []bool{F, F, F},
			want:       []domain.Status{domain.StatusUnknown, domain.StatusUnknown, domain.StatusUnhealthy},
		},
		{
			name:       "single failure after healthy degrades",
			thresholds: Thresholds{Healthy: 1, Unhealthy: 3},
			seq:        []bool{S, F, F, F},
			want:       []domain.Status{domain.StatusHealthy, domain.StatusDegraded, domain.StatusDegraded, domain.StatusUnhealthy},
		},
		{
			name:       "recovery needs full healthy threshold",
			thresholds: Thresholds{Healthy: 3, Unhealthy: 2},
			seq:        []bool{F, F, S, S, S},
			want: []domain.Status{
				domain.StatusUnknown, domain.StatusUnhealthy,
				domain.StatusUnhealthy, domain.StatusUnhealthy, domain.StatusHealthy,
			},
		},
		{
			name:       "interrupted recovery restarts count",
			thresholds: Thresholds{Healthy: 2, Unhealthy: 1},
			seq:        []bool{F, S, F, S, S},
			want: []domain.Status{
				domain.StatusUnhealthy, domain.StatusUnhealthy,
				domain.StatusUnhealthy, domain.StatusUnhealthy, domain.StatusHealthy,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(tt.thresholds)
			for i, success := range tt.seq {
				res := ok(5)
				if !success {
					res = fail("boom")
				}
				_, st := tr.Apply(res, t0.Add(time.Duration(i)*time.Second))
				if st.Status != tt.want[i] {
					t.Fatalf("cycle %d: status = %s, want %s", i+1, st.Status, tt.want[i])
				}
			}
		})
	}
}

func TestTracker_SkippedCycle(t *testing.T) {
	tr := NewTracker(Thresholds{Healthy: 1, Unhealthy: 2})
	tr.Apply(fail("down"), t0)
	before := tr.State()

	later := t0.Add(time.Minute)
	prev, after := tr.Apply(skipped(), later)

	if prev != before.Status || after.Status != before.Status {
		t.Errorf("status changed on skipped cycle: %s -> %s", before.Status, after.Status)
	}
	if after.ConsecutiveFailures != before.ConsecutiveFailures || after.TotalChecks != before.TotalChecks {
		t.Errorf("counters changed on skipped cycle: before %+v after %+v", before, after)
	}
	if after.AverageResponseTimeMs != before.AverageResponseTimeMs {
		t.Errorf("average changed on skipped cycle")
	}
	if after.LastCheckTime == nil || !after.LastCheckTime.Equal(later) {
		t.Errorf("LastCheckTime = %v, want %v", after.LastCheckTime, later)
	}
}

func TestTracker_CycleAggregation(t *testing.T) {
	tr := NewTracker(Thresholds{Healthy: 1, Unhealthy: 3})

	_, st := tr.Apply([]domain.CheckResult{
		{Endpoint: "a", Success: true, ResponseTimeMs: 100},
		{Endpoint: "b", Success: false, ResponseTimeMs: 300, Error: "first"},
		{Endpoint: "c", Success: false, ResponseTimeMs: 200, Error: "second"},
		{Endpoint: "d", Skipped: true, ResponseTimeMs: 9999},
	}, t0)

	if st.AverageResponseTimeMs != 200 {
		t.Errorf("average = %v, want 200", st.AverageResponseTimeMs)
	}
	if st.LastError != "first" {
		t.Errorf("LastError = %q, want first failing endpoint's error", st.LastError)
	}
	if st.ConsecutiveFailures != 1 || st.ConsecutiveSuccesses != 0 {
		t.Errorf("counters = %d/%d, want 1/0", st.ConsecutiveFailures, st.ConsecutiveSuccesses)
	}
	if st.LastSuccessTime != nil {
		t.Errorf("LastSuccessTime should stay unset after a failed cycle")
	}

	_, st = tr.Apply(ok(50), t0.Add(time.Second))
	if st.Status != domain.StatusHealthy {
		t.Errorf("status = %s, want healthy", st.Status)
	}
	if st.LastSuccessTime == nil || !st.LastSuccessTime.Equal(t0.Add(time.Second)) {
		t.Errorf("LastSuccessTime = %v", st.LastSuccessTime)
	}
	if st.TotalChecks != 2 || st.SuccessfulChecks != 1 || st.Uptime() != 50 {
		t.Errorf("totals = %d/%d uptime %v, want 2/1 50%%", st.TotalChecks, st.SuccessfulChecks, st.Uptime())
	}
}

func TestTracker_Restore(t *testing.T) {
	tr := NewTracker(Thresholds{Healthy: 2, Unhealthy: 2})
	tr.Restore(domain.DependencyState{Status: domain.StatusHealthy, ConsecutiveSuccesses: 5})

	_, st := tr.Apply(fail("x"), t0)
	if st.Status != domain.StatusDegraded {
		t.Errorf("status = %s, want degraded after restore from healthy", st.Status)
	}

	tr.Restore(domain.DependencyState{})
	if got := tr.State().Status; got != domain.StatusUnknown {
		t.Errorf("empty restore status = %s, want unknown", got)
	}
}
