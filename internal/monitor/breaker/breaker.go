// Package breaker wraps sony/gobreaker with the per-dependency state the
// monitor reports: last failure time and next attempt time.
package breaker

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vietddude/depwatch/internal/core/domain"
)

// ErrOpen is returned by Allow when the breaker refuses execution.
var ErrOpen = errors.New("circuit breaker is open")

// Settings configures one breaker.
type Settings struct {
	FailureThreshold uint32
	SuccessThreshold uint32
	VolumeThreshold  uint32
	RecoveryTimeout  time.Duration
	// VolumeWindow clears closed-state counts periodically. 0 keeps them until a state change.
	VolumeWindow time.Duration
}

// StateChangeFunc observes transitions.
type StateChangeFunc func(name string, from, to domain.CircuitState)

// Breaker gates probe execution for a single dependency.
type Breaker struct {
	name     string
	settings Settings
	logger   *slog.Logger
	onChange StateChangeFunc

	cb  atomic.Pointer[gobreaker.TwoStepCircuitBreaker]
	gen atomic.Uint64

	// mu guards the fields below. It is never held while calling into cb,
	// because cb invokes onStateChange under its own lock.
	mu          sync.Mutex
	state       domain.CircuitState
	lastFailure *time.Time
	nextAttempt *time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Breaker) { b.logger = l }
}

// WithStateChange registers a transition observer.
func WithStateChange(fn StateChangeFunc) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// New creates a closed breaker.
func New(name string, s Settings, opts ...Option) *Breaker {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 5
	}
	if s.SuccessThreshold == 0 {
		s.SuccessThreshold = 1
	}
	if s.RecoveryTimeout <= 0 {
		s.RecoveryTimeout = 60 * time.Second
	}

	b := &Breaker{
		name:     name,
		settings: s,
		logger:   slog.Default(),
		state:    domain.CircuitClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.cb.Store(b.newCircuit())
	return b
}

func (b *Breaker) newCircuit() *gobreaker.TwoStepCircuitBreaker {
	s := b.settings
	gen := b.gen.Add(1)
	return gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        b.name,
		MaxRequests: s.SuccessThreshold,
		Interval:    s.VolumeWindow,
		Timeout:     s.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.FailureThreshold &&
				counts.Requests >= s.VolumeThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			// transitions of a circuit replaced by Reset are stale
			if b.gen.Load() != gen {
				return
			}
			b.handleStateChange(name, from, to)
		},
	})
}

// Name returns the dependency id this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// Allow asks whether a probe may run. On success the caller must invoke done
// exactly once with the outcome.
//
// An open breaker whose recovery timeout has elapsed moves to half_open and
// admits the call.
func (b *Breaker) Allow() (done func(success bool), err error) {
	report, err := b.cb.Load().Allow()
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrOpen
		}
		return nil, err
	}

	return func(success bool) {
		if !success {
			now := time.Now()
			b.mu.Lock()
			b.lastFailure = &now
			b.mu.Unlock()
		}
		report(success)
	}, nil
}

// State returns the state as of the last transition. Reading it never moves
// an open breaker to half_open; only Allow does.
func (b *Breaker) State() domain.CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a point-in-time view for reporting. Like State it has no
// side effects on the breaker.
func (b *Breaker) Snapshot() domain.CircuitBreakerState {
	counts := b.cb.Load().Counts()

	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.state
	snap := domain.CircuitBreakerState{
		State:        state,
		FailureCount: counts.ConsecutiveFailures,
		SuccessCount: counts.ConsecutiveSuccesses,
		RequestCount: counts.Requests,
	}
	if b.lastFailure != nil {
		t := *b.lastFailure
		snap.LastFailureTime = &t
	}
	if state == domain.CircuitOpen && b.nextAttempt != nil {
		t := *b.nextAttempt
		snap.NextAttemptTime = &t
	}
	return snap
}

// Reset forces the breaker back to closed with zeroed counters.
func (b *Breaker) Reset() {
	b.cb.Store(b.newCircuit())

	b.mu.Lock()
	from := b.state
	b.state = domain.CircuitClosed
	b.lastFailure = nil
	b.nextAttempt = nil
	b.mu.Unlock()

	b.logger.Info("Circuit breaker reset", "dependency", b.name, "from", from)
	if b.onChange != nil && from != domain.CircuitClosed {
		b.onChange(b.name, from, domain.CircuitClosed)
	}
}

func (b *Breaker) handleStateChange(name string, from, to gobreaker.State) {
	fromState, toState := convertState(from), convertState(to)

	b.mu.Lock()
	b.state = toState
	switch toState {
	case domain.CircuitOpen:
		now := time.Now()
		next := now.Add(b.settings.RecoveryTimeout)
		b.lastFailure = &now
		b.nextAttempt = &next
	case domain.CircuitClosed:
		b.nextAttempt = nil
	}
	b.mu.Unlock()

	switch toState {
	case domain.CircuitOpen:
		b.logger.Warn("Circuit breaker opened",
			"dependency", name,
			"from", fromState,
			"retry_in", b.settings.RecoveryTimeout,
		)
	case domain.CircuitHalfOpen:
		b.logger.Info("Circuit breaker half-open", "dependency", name)
	case domain.CircuitClosed:
		b.logger.Info("Circuit breaker closed", "dependency", name, "from", fromState)
	}

	if b.onChange != nil {
		b.onChange(name, fromState, toState)
	}
}

func convertState(s gobreaker.State) domain.CircuitState {
	switch s {
	case gobreaker.StateOpen:
		return domain.CircuitOpen
	case gobreaker.StateHalfOpen:
		return domain.CircuitHalfOpen
	default:
		return domain.CircuitClosed
	}
}
