package domain

import "time"

// AlertType identifies an alert rule. It doubles as the dedup key.
type AlertType string

const (
	AlertCriticalDependencyDown   AlertType = "critical_dependency_down"
	AlertMultipleDependenciesDown AlertType = "multiple_dependencies_down"
	AlertPerformanceDegradation   AlertType = "performance_degradation"
)

// Severity of an alert.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// AffectedDependency is one entry of an alert payload.
type AffectedDependency struct {
	ID                    string  `json:"id"`
	Name                  string  `json:"name"`
	Status                Status  `json:"status"`
	AverageResponseTimeMs float64 `json:"average_response_time_ms,omitempty"`
	LastError             string  `json:"last_error,omitempty"`
}

// AlertRecord is an emitted alert. It is never stored long-term.
type AlertRecord struct {
	ID        string               `json:"id"`
	Type      AlertType            `json:"type"`
	Severity  Severity             `json:"severity"`
	Message   string               `json:"message"`
	Timestamp time.Time            `json:"timestamp"`
	Affected  []AffectedDependency `json:"affected"`
}
