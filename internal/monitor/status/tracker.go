// Package status turns per-cycle check results into a dependency's health status.
package status

import (
	"sync"
	"time"

	"github.com/vietddude/depwatch/internal/core/domain"
)

// Thresholds are the consecutive-cycle counts needed to flip status.
type Thresholds struct {
	Healthy   int
	Unhealthy int
}

// Tracker holds the DependencyState of one dependency.
type Tracker struct {
	thresholds Thresholds

	mu    sync.RWMutex
	state domain.DependencyState
}

// NewTracker creates a tracker in the unknown state.
func NewTracker(th Thresholds) *Tracker {
	if th.Healthy < 1 {
		th.Healthy = 1
	}
	if th.Unhealthy < 1 {
		th.Unhealthy = 1
	}
	return &Tracker{
		thresholds: th,
		state:      domain.DependencyState{Status: domain.StatusUnknown},
	}
}

// Apply folds one cycle's results into the state and returns the status
// before the update along with the new state.
//
// A cycle whose results are all skipped only moves lastCheckTime.
func (t *Tracker) Apply(results []domain.CheckResult, now time.Time) (prev domain.Status, next domain.DependencyState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := &t.state
	prev = s.Status
	checked := now
	s.LastCheckTime = &checked

	var (
		executed  int
		totalMs   float64
		firstErr  string
		allPassed = true
	)
	for _, r := range results {
		if r.Skipped {
			continue
		}
		executed++
		totalMs += r.ResponseTimeMs
		if !r.Success {
			if allPassed {
				firstErr = r.Error
			}
			allPassed = false
		}
	}

	if executed == 0 {
		return prev, t.state
	}

	s.AverageResponseTimeMs = totalMs / float64(executed)
	s.TotalChecks++

	if allPassed {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.SuccessfulChecks++
		s.LastSuccessTime = &checked
		if s.ConsecutiveSuccesses >= t.thresholds.Healthy {
			s.Status = domain.StatusHealthy
		}
		return prev, t.state
	}

	s.ConsecutiveFailures++
	s.ConsecutiveSuccesses = 0
	s.LastError = firstErr
	switch {
	case s.ConsecutiveFailures >= t.thresholds.Unhealthy:
		s.Status = domain.StatusUnhealthy
	case prev == domain.StatusHealthy:
		s.Status = domain.StatusDegraded
	}
	return prev, t.state
}

// State returns a copy of the current state.
func (t *Tracker) State() domain.DependencyState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Restore replaces the state, e.g. from a stored snapshot.
func (t *Tracker) Restore(s domain.DependencyState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.Status == "" {
		s.Status = domain.StatusUnknown
	}
	t.state = s
}
