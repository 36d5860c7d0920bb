// Package scheduler runs periodic check cycles over all dependencies and
// publishes the resulting snapshot.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/depwatch/internal/core/domain"
	"github.com/vietddude/depwatch/internal/infra/storage"
	"github.com/vietddude/depwatch/internal/monitor/breaker"
	"github.com/vietddude/depwatch/internal/monitor/metrics"
	"github.com/vietddude/depwatch/internal/monitor/status"
)

// ErrNotFound is returned for an unknown dependency id.
var ErrNotFound = errors.New("dependency not found")

// Prober runs one endpoint probe including retries.
type Prober interface {
	Run(ctx context.Context, ep domain.EndpointProbe) domain.CheckResult
}

// AlertEvaluator is called once per cycle with every dependency's report.
type AlertEvaluator interface {
	Evaluate(ctx context.Context, now time.Time, reports []domain.DependencyReport) []domain.AlertRecord
}

// Config controls cycle timing, thresholds and snapshot persistence.
type Config struct {
	// CheckInterval is scheduled with cron's @every, which truncates to whole
	// seconds with a 1s minimum.
	CheckInterval time.Duration
	SnapshotKey   string
	SnapshotTTL   time.Duration
	Status        status.Thresholds
	Breaker       breaker.Settings
}

type entry struct {
	def     domain.DependencyDefinition
	breaker *breaker.Breaker
	tracker *status.Tracker

	// mu serialises cycle checks and on-demand checks of this dependency
	mu sync.Mutex

	lastMu      sync.RWMutex
	lastResults []domain.CheckResult
}

func (e *entry) setLast(results []domain.CheckResult) {
	e.lastMu.Lock()
	e.lastResults = results
	e.lastMu.Unlock()
}

func (e *entry) report() domain.DependencyReport {
	e.lastMu.RLock()
	results := append([]domain.CheckResult(nil), e.lastResults...)
	e.lastMu.RUnlock()

	st := e.tracker.State()
	return domain.DependencyReport{
		ID:          e.def.ID,
		Name:        e.def.Name,
		Category:    e.def.Category,
		Criticality: e.def.Criticality,
		Uptime:      st.Uptime(),
		State:       st,
		Circuit:     e.breaker.Snapshot(),
		Results:     results,
	}
}

// Monitor owns every dependency's breaker and status tracker.
type Monitor struct {
	cfg     Config
	prober  Prober
	alerts  AlertEvaluator
	store   storage.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	entries map[string]*entry
	order   []string

	snapshot atomic.Pointer[domain.Snapshot]
	cycleMu  sync.Mutex
	cycles   int64

	runMu   sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	initial sync.WaitGroup
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithStore persists each snapshot to s.
func WithStore(s storage.Store) Option {
	return func(m *Monitor) { m.store = s }
}

// WithAlerts sets the alert evaluator.
func WithAlerts(a AlertEvaluator) Option {
	return func(m *Monitor) { m.alerts = a }
}

// WithMetrics records Prometheus metrics.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) { m.metrics = mt }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithClock overrides the clock used for state timestamps and alert cooldowns.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New builds a monitor for defs. Dependency ids must be unique.
func New(cfg Config, defs []domain.DependencyDefinition, prober Prober, opts ...Option) (*Monitor, error) {
	if prober == nil {
		return nil, errors.New("prober is required")
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.SnapshotKey == "" {
		cfg.SnapshotKey = "depwatch:snapshot"
	}

	m := &Monitor{
		cfg:     cfg,
		prober:  prober,
		logger:  slog.Default(),
		now:     time.Now,
		entries: make(map[string]*entry, len(defs)),
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, def := range defs {
		if def.ID == "" {
			return nil, errors.New("dependency id is required")
		}
		if _, dup := m.entries[def.ID]; dup {
			return nil, fmt.Errorf("duplicate dependency id %q", def.ID)
		}
		m.entries[def.ID] = &entry{
			def: def,
			breaker: breaker.New(def.ID, cfg.Breaker,
				breaker.WithLogger(m.logger),
				breaker.WithStateChange(func(name string, _, to domain.CircuitState) {
					m.metrics.SetCircuitState(name, to)
				}),
			),
			tracker: status.NewTracker(cfg.Status),
		}
		m.order = append(m.order, def.ID)
		m.metrics.SetCircuitState(def.ID, domain.CircuitClosed)
		m.metrics.SetStatus(def.ID, domain.StatusUnknown)
	}
	sort.Strings(m.order)

	initial := m.buildSnapshot(m.reports(), domain.CycleMetrics{})
	m.snapshot.Store(&initial)

	return m, nil
}

// Start restores the last stored snapshot, runs a first cycle immediately and
// then one cycle per CheckInterval until Stop.
//
// A tick that fires while the previous cycle is still running is dropped, so a
// slow cycle pushes the next one to the following tick.
func (m *Monitor) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.cron != nil {
		return errors.New("monitor already started")
	}

	if err := m.LoadSnapshot(ctx); err != nil && !errors.Is(err, storage.ErrNotFound) {
		m.logger.Warn("Failed to restore snapshot", "error", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	cl := cronLogger{logger: m.logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc("@every "+m.cfg.CheckInterval.String(), func() {
		m.RunCycle(runCtx)
	}); err != nil {
		cancel()
		return fmt.Errorf("schedule cycle: %w", err)
	}

	m.cron = c
	m.cancel = cancel
	c.Start()
	m.initial.Add(1)
	go func() {
		defer m.initial.Done()
		m.RunCycle(runCtx)
	}()

	m.logger.Info("Monitor started",
		"dependencies", len(m.order),
		"interval", m.cfg.CheckInterval,
	)
	return nil
}

// Stop halts scheduling and waits for a running cycle up to ctx's deadline.
func (m *Monitor) Stop(ctx context.Context) error {
	m.runMu.Lock()
	c, cancel := m.cron, m.cancel
	m.cron, m.cancel = nil, nil
	m.runMu.Unlock()

	if c == nil {
		return nil
	}

	stopped := c.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}

	// wait for the initial cycle too
	waited := make(chan struct{})
	go func() {
		m.initial.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
	cancel()

	m.logger.Info("Monitor stopped")
	return nil
}

// RunCycle checks every dependency concurrently, evaluates alerts and publishes
// the snapshot. It returns false without doing anything if a cycle is already running.
func (m *Monitor) RunCycle(ctx context.Context) (domain.Snapshot, bool) {
	if ctx.Err() != nil {
		return m.Snapshot(), false
	}
	if !m.cycleMu.TryLock() {
		m.logger.Warn("Previous cycle still running, skipping tick")
		return m.Snapshot(), false
	}
	defer m.cycleMu.Unlock()

	start := time.Now()
	var (
		g        errgroup.Group
		mu       sync.Mutex
		executed int
		skipped  int
	)
	for _, id := range m.order {
		e := m.entries[id]
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("Check task panicked", "dependency", id, "panic", r)
				}
			}()
			results, _ := m.check(ctx, e)

			mu.Lock()
			defer mu.Unlock()
			for _, r := range results {
				if r.Skipped {
					skipped++
				} else {
					executed++
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	reports := m.reports()

	var sent []domain.AlertRecord
	if m.alerts != nil {
		sent = m.alerts.Evaluate(ctx, m.now(), reports)
	}

	m.cycles++
	elapsed := time.Since(start)
	snap := m.buildSnapshot(reports, domain.CycleMetrics{
		Cycles:           m.cycles,
		LastDurationMs:   float64(elapsed.Microseconds()) / 1000,
		ChecksExecuted:   executed,
		ChecksSkipped:    skipped,
		AlertsDispatched: len(sent),
	})
	m.snapshot.Store(&snap)
	m.persist(ctx, snap)

	m.metrics.ObserveCycle(elapsed)
	m.metrics.SetOverall(snap.OverallStatus)

	m.logger.Debug("Cycle completed",
		"cycle", m.cycles,
		"duration", elapsed,
		"overall", snap.OverallStatus,
		"executed", executed,
		"skipped", skipped,
		"alerts", len(sent),
	)
	return snap, true
}

// Snapshot returns the latest published snapshot without blocking.
func (m *Monitor) Snapshot() domain.Snapshot {
	return *m.snapshot.Load()
}

// Dependency returns the live report of one dependency.
func (m *Monitor) Dependency(id string) (domain.DependencyReport, bool) {
	e, ok := m.entries[id]
	if !ok {
		return domain.DependencyReport{}, false
	}
	return e.report(), true
}

// Definitions returns the monitored dependencies in id order.
func (m *Monitor) Definitions() []domain.DependencyDefinition {
	out := make([]domain.DependencyDefinition, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.entries[id].def)
	}
	return out
}

// CheckNow checks one dependency outside the schedule. Its circuit breaker
// still applies.
func (m *Monitor) CheckNow(ctx context.Context, id string) (domain.DependencyState, error) {
	e, ok := m.entries[id]
	if !ok {
		return domain.DependencyState{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if _, err := m.check(ctx, e); err != nil {
		return domain.DependencyState{}, err
	}
	return e.tracker.State(), nil
}

// ResetCircuitBreaker forces a dependency's breaker closed. It returns false
// for an unknown id.
func (m *Monitor) ResetCircuitBreaker(id string) bool {
	e, ok := m.entries[id]
	if !ok {
		return false
	}
	e.breaker.Reset()
	return true
}

// LoadSnapshot restores the stored snapshot so queries have an answer before
// the first cycle completes.
func (m *Monitor) LoadSnapshot(ctx context.Context) error {
	if m.store == nil {
		return storage.ErrNotFound
	}
	data, err := m.store.Get(ctx, m.cfg.SnapshotKey)
	if err != nil {
		return err
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()
	if m.cycles > 0 {
		return nil
	}

	restored := 0
	for id, rep := range snap.Dependencies {
		e, ok := m.entries[id]
		if !ok {
			continue
		}
		e.tracker.Restore(rep.State)
		e.setLast(rep.Results)
		m.metrics.SetStatus(id, e.tracker.State().Status)
		restored++
	}

	fresh := m.buildSnapshot(m.reports(), snap.Metrics)
	fresh.GeneratedAt = snap.GeneratedAt
	fresh.Restored = true
	m.snapshot.Store(&fresh)

	m.logger.Info("Restored snapshot",
		"generated_at", snap.GeneratedAt,
		"dependencies", restored,
	)
	return nil
}

// check runs one dependency: breaker gate, probes, breaker update, status update.
//
// A caller whose ctx is already done gets no check and nothing is recorded.
// Once started, probes are detached from ctx cancellation and bounded by their
// own timeouts, so a caller going away is never recorded against the
// dependency or its breaker.
func (m *Monitor) check(ctx context.Context, e *entry) ([]domain.CheckResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	probeCtx := context.WithoutCancel(ctx)

	now := m.now()
	var results []domain.CheckResult

	done, err := e.breaker.Allow()
	if err != nil {
		results = make([]domain.CheckResult, 0, len(e.def.Endpoints))
		for _, ep := range e.def.Endpoints {
			results = append(results, domain.CheckResult{
				Endpoint: ep.URL,
				Skipped:  true,
				Error:    err.Error(),
			})
		}
		m.logger.Debug("Check skipped, circuit open", "dependency", e.def.ID)
	} else {
		results = make([]domain.CheckResult, 0, len(e.def.Endpoints))
		success := true
		for _, ep := range e.def.Endpoints {
			r := m.probe(probeCtx, e.def.ID, ep)
			success = success && r.Success
			results = append(results, r)
		}
		done(success)
	}

	prev, st := e.tracker.Apply(results, now)
	e.setLast(results)

	for _, r := range results {
		m.metrics.ObserveResult(e.def.ID, r)
	}
	m.metrics.SetStatus(e.def.ID, st.Status)

	if prev != st.Status {
		level := slog.LevelInfo
		if st.Status == domain.StatusUnhealthy || st.Status == domain.StatusDegraded {
			level = slog.LevelWarn
		}
		m.logger.Log(probeCtx, level, "Dependency status changed",
			"dependency", e.def.ID,
			"from", prev,
			"to", st.Status,
			"consecutive_failures", st.ConsecutiveFailures,
			"last_error", st.LastError,
		)
	}
	return results, nil
}

func (m *Monitor) probe(ctx context.Context, id string, ep domain.EndpointProbe) (res domain.CheckResult) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Probe panicked", "dependency", id, "endpoint", ep.URL, "panic", r)
			res = domain.CheckResult{Endpoint: ep.URL, Error: fmt.Sprintf("probe panic: %v", r)}
		}
	}()
	return m.prober.Run(ctx, ep)
}

func (m *Monitor) reports() []domain.DependencyReport {
	out := make([]domain.DependencyReport, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.entries[id].report())
	}
	return out
}

func (m *Monitor) buildSnapshot(reports []domain.DependencyReport, cm domain.CycleMetrics) domain.Snapshot {
	snap := domain.Snapshot{
		OverallStatus: OverallStatus(reports),
		Dependencies:  make(map[string]domain.DependencyReport, len(reports)),
		GeneratedAt:   m.now(),
	}
	cm.Total = len(reports)
	for _, r := range reports {
		snap.Dependencies[r.ID] = r
		switch r.State.Status {
		case domain.StatusHealthy:
			cm.Healthy++
		case domain.StatusDegraded:
			cm.Degraded++
		case domain.StatusUnhealthy:
			cm.Unhealthy++
		default:
			cm.Unknown++
		}
		if r.Circuit.State == domain.CircuitOpen {
			cm.OpenCircuits++
		}
	}
	snap.Metrics = cm
	return snap
}

func (m *Monitor) persist(ctx context.Context, snap domain.Snapshot) {
	if m.store == nil {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		m.logger.Error("Failed to encode snapshot", "error", err)
		return
	}
	if err := m.store.Put(ctx, m.cfg.SnapshotKey, data, m.cfg.SnapshotTTL); err != nil {
		m.logger.Error("Failed to store snapshot", "key", m.cfg.SnapshotKey, "error", err)
	}
}

// OverallStatus derives the aggregate status: unhealthy if any critical
// dependency is unhealthy, else degraded if any is degraded, else healthy if
// all are healthy, else degraded.
func OverallStatus(reports []domain.DependencyReport) domain.Status {
	allHealthy := true
	anyDegraded := false
	for _, r := range reports {
		if r.Criticality == domain.CriticalityCritical && r.State.Status == domain.StatusUnhealthy {
			return domain.StatusUnhealthy
		}
		if r.State.Status == domain.StatusDegraded {
			anyDegraded = true
		}
		if r.State.Status != domain.StatusHealthy {
			allHealthy = false
		}
	}
	if anyDegraded {
		return domain.StatusDegraded
	}
	if allHealthy {
		return domain.StatusHealthy
	}
	return domain.StatusDegraded
}
