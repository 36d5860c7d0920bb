package domain

import "time"

// DependencyReport combines definition metadata with both state machines.
type DependencyReport struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Category    Category            `json:"category"`
	Criticality Criticality         `json:"criticality"`
	Uptime      float64             `json:"uptime_percent"`
	State       DependencyState     `json:"state"`
	Circuit     CircuitBreakerState `json:"circuit_breaker"`
	Results     []CheckResult       `json:"results,omitempty"`
}

// CycleMetrics summarises the latest completed cycle.
type CycleMetrics struct {
	Cycles           int64   `json:"cycles"`
	LastDurationMs   float64 `json:"last_duration_ms"`
	Total            int     `json:"total"`
	Healthy          int     `json:"healthy"`
	Degraded         int     `json:"degraded"`
	Unhealthy        int     `json:"unhealthy"`
	Unknown          int     `json:"unknown"`
	OpenCircuits     int     `json:"open_circuits"`
	ChecksExecuted   int     `json:"checks_executed"`
	ChecksSkipped    int     `json:"checks_skipped"`
	AlertsDispatched int     `json:"alerts_dispatched"`
}

// Snapshot is the published, read-only view of all dependencies.
type Snapshot struct {
	OverallStatus Status                      `json:"overall_status"`
	Dependencies  map[string]DependencyReport `json:"dependencies"`
	Metrics       CycleMetrics                `json:"metrics"`
	GeneratedAt   time.Time                   `json:"generated_at"`
	Restored      bool                        `json:"restored,omitempty"`
}
