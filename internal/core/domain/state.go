package domain

import "time"

// Status is the coarse health status consumers see for a dependency.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// DependencyState is the mutable health record of one dependency.
type DependencyState struct {
	Status                Status     `json:"status"`
	LastCheckTime         *time.Time `json:"last_check_time,omitempty"`
	LastSuccessTime       *time.Time `json:"last_success_time,omitempty"`
	ConsecutiveSuccesses  int        `json:"consecutive_successes"`
	ConsecutiveFailures   int        `json:"consecutive_failures"`
	AverageResponseTimeMs float64    `json:"average_response_time_ms"`
	TotalChecks           int64      `json:"total_checks"`
	SuccessfulChecks      int64      `json:"successful_checks"`
	LastError             string     `json:"last_error,omitempty"`
}

// Uptime returns the share of successful checks as a percentage.
func (s DependencyState) Uptime() float64 {
	if s.TotalChecks == 0 {
		return 0
	}
	return float64(s.SuccessfulChecks) / float64(s.TotalChecks) * 100
}

// CircuitState is the state of a circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreakerState is a point-in-time view of one dependency's breaker.
type CircuitBreakerState struct {
	State           CircuitState `json:"state"`
	FailureCount    uint32       `json:"failure_count"`
	SuccessCount    uint32       `json:"success_count"`
	RequestCount    uint32       `json:"request_count"`
	LastFailureTime *time.Time   `json:"last_failure_time,omitempty"`
	NextAttemptTime *time.Time   `json:"next_attempt_time,omitempty"`
}

// CheckResult is the outcome of probing one endpoint in one cycle.
type CheckResult struct {
	Endpoint       string  `json:"endpoint"`
	Success        bool    `json:"success"`
	ResponseTimeMs float64 `json:"response_time_ms"`
	Error          string  `json:"error,omitempty"`
	Skipped        bool    `json:"skipped,omitempty"`
	Attempts       int     `json:"attempts,omitempty"`
}
