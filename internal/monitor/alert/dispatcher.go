// Package alert evaluates alert rules over dependency reports and hands
// firing alerts to a transport, with a cooldown per alert type.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/depwatch/internal/core/domain"
)

// Outcomes reported to the OutcomeFunc.
const (
	OutcomeFired      = "fired"
	OutcomeSuppressed = "suppressed"
	OutcomeFailed     = "failed"
)

// RuleConfig is a count threshold plus cooldown.
type RuleConfig struct {
	MinCount int
	Cooldown time.Duration
}

// Config holds the three rules.
type Config struct {
	CriticalDown          RuleConfig
	MultipleDown          RuleConfig
	SlowResponseCooldown  time.Duration
	SlowResponseThreshold time.Duration
}

// DefaultConfig returns the stock thresholds and cooldowns.
func DefaultConfig() Config {
	return Config{
		CriticalDown:          RuleConfig{MinCount: 1, Cooldown: 5 * time.Minute},
		MultipleDown:          RuleConfig{MinCount: 3, Cooldown: 10 * time.Minute},
		SlowResponseCooldown:  3 * time.Minute,
		SlowResponseThreshold: 5 * time.Second,
	}
}

// OutcomeFunc observes each rule evaluation that matched.
type OutcomeFunc func(t domain.AlertType, outcome string)

// Dispatcher evaluates rules once per cycle. It is not safe for concurrent
// use; the scheduler calls it from the post-cycle step only.
type Dispatcher struct {
	cfg       Config
	transport Transport
	logger    *slog.Logger
	onOutcome OutcomeFunc

	lastFired map[domain.AlertType]time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithOutcome registers an outcome observer (metrics).
func WithOutcome(fn OutcomeFunc) Option {
	return func(d *Dispatcher) { d.onOutcome = fn }
}

// NewDispatcher creates a dispatcher. A nil transport only logs.
func NewDispatcher(cfg Config, transport Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cfg:       cfg,
		transport: transport,
		logger:    slog.Default(),
		lastFired: make(map[domain.AlertType]time.Time),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.transport == nil {
		d.transport = NewLogTransport(d.logger)
	}
	return d
}

// Evaluate runs every rule against reports and dispatches what fires.
// It returns the records that were handed to the transport.
func (d *Dispatcher) Evaluate(ctx context.Context, now time.Time, reports []domain.DependencyReport) []domain.AlertRecord {
	sorted := make([]domain.DependencyReport, len(reports))
	copy(sorted, reports)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var (
		criticalDown []domain.DependencyReport
		down         []domain.DependencyReport
		slow         []domain.DependencyReport
	)
	thresholdMs := float64(d.cfg.SlowResponseThreshold.Milliseconds())
	for _, r := range sorted {
		if r.State.Status == domain.StatusUnhealthy {
			down = append(down, r)
			if r.Criticality == domain.CriticalityCritical {
				criticalDown = append(criticalDown, r)
			}
		}
		if thresholdMs > 0 && r.State.AverageResponseTimeMs > thresholdMs {
			slow = append(slow, r)
		}
	}

	var sent []domain.AlertRecord

	if minCount(d.cfg.CriticalDown) <= len(criticalDown) {
		rec := d.newRecord(now, domain.AlertCriticalDependencyDown, domain.SeverityCritical,
			fmt.Sprintf("Critical dependencies down: %s", names(criticalDown)), criticalDown)
		if d.dispatch(ctx, rec, d.cfg.CriticalDown.Cooldown) {
			sent = append(sent, rec)
		}
	}

	if minCount(d.cfg.MultipleDown) <= len(down) {
		rec := d.newRecord(now, domain.AlertMultipleDependenciesDown, domain.SeverityCritical,
			fmt.Sprintf("%d dependencies unhealthy: %s", len(down), names(down)), down)
		if d.dispatch(ctx, rec, d.cfg.MultipleDown.Cooldown) {
			sent = append(sent, rec)
		}
	}

	if len(slow) > 0 {
		parts := make([]string, 0, len(slow))
		for _, r := range slow {
			parts = append(parts, fmt.Sprintf("%s (%.0fms)", r.Name, r.State.AverageResponseTimeMs))
		}
		rec := d.newRecord(now, domain.AlertPerformanceDegradation, domain.SeverityWarning,
			fmt.Sprintf("Slow responses over %s: %s", d.cfg.SlowResponseThreshold, strings.Join(parts, ", ")), slow)
		if d.dispatch(ctx, rec, d.cfg.SlowResponseCooldown) {
			sent = append(sent, rec)
		}
	}

	return sent
}

// dispatch applies the cooldown and sends. It reports whether the alert fired.
func (d *Dispatcher) dispatch(ctx context.Context, rec domain.AlertRecord, cooldown time.Duration) bool {
	if last, ok := d.lastFired[rec.Type]; ok && rec.Timestamp.Sub(last) < cooldown {
		d.logger.Debug("Alert suppressed by cooldown",
			"type", rec.Type,
			"last_fired", last,
			"cooldown", cooldown,
		)
		d.observe(rec.Type, OutcomeSuppressed)
		return false
	}

	d.lastFired[rec.Type] = rec.Timestamp
	d.observe(rec.Type, OutcomeFired)

	if err := d.transport.Send(ctx, rec); err != nil {
		d.logger.Error("Alert delivery failed",
			"type", rec.Type,
			"alert_id", rec.ID,
			"error", err,
		)
		d.observe(rec.Type, OutcomeFailed)
	}
	return true
}

func (d *Dispatcher) observe(t domain.AlertType, outcome string) {
	if d.onOutcome != nil {
		d.onOutcome(t, outcome)
	}
}

func (d *Dispatcher) newRecord(now time.Time, t domain.AlertType, sev domain.Severity, msg string, reports []domain.DependencyReport) domain.AlertRecord {
	affected := make([]domain.AffectedDependency, 0, len(reports))
	for _, r := range reports {
		affected = append(affected, domain.AffectedDependency{
			ID:                    r.ID,
			Name:                  r.Name,
			Status:                r.State.Status,
			AverageResponseTimeMs: r.State.AverageResponseTimeMs,
			LastError:             r.State.LastError,
		})
	}
	return domain.AlertRecord{
		ID:        uuid.NewString(),
		Type:      t,
		Severity:  sev,
		Message:   msg,
		Timestamp: now,
		Affected:  affected,
	}
}

// minCount treats a zero threshold as 1 so an empty set never fires.
func minCount(r RuleConfig) int {
	if r.MinCount < 1 {
		return 1
	}
	return r.MinCount
}

func names(reports []domain.DependencyReport) string {
	out := make([]string, 0, len(reports))
	for _, r := range reports {
		name := r.Name
		if name == "" {
			name = r.ID
		}
		out = append(out, name)
	}
	return strings.Join(out, ", ")
}
