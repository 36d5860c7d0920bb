package control

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/vietddude/depwatch/internal/core/config"
	"github.com/vietddude/depwatch/internal/core/worker"
	"github.com/vietddude/depwatch/internal/health"
	redisclient "github.com/vietddude/depwatch/internal/infra/redis"
	"github.com/vietddude/depwatch/internal/infra/storage"
	"github.com/vietddude/depwatch/internal/infra/storage/memory"
	"github.com/vietddude/depwatch/internal/infra/storage/postgres"
	"github.com/vietddude/depwatch/internal/monitor/alert"
	"github.com/vietddude/depwatch/internal/monitor/breaker"
	"github.com/vietddude/depwatch/internal/monitor/metrics"
	"github.com/vietddude/depwatch/internal/monitor/probe"
	"github.com/vietddude/depwatch/internal/monitor/scheduler"
	"github.com/vietddude/depwatch/internal/monitor/status"
)

// Watcher is the main application struct that manages the monitor lifecycle.
type Watcher struct {
	cfg          *config.AppConfig
	monitor      *scheduler.Monitor
	executor     *probe.Executor
	healthServer *health.Server
	pruner       *worker.Pruner
	closers      []io.Closer
	log          *slog.Logger
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// OpenStore opens the snapshot store selected by cfg.Store.Backend.
func OpenStore(ctx context.Context, cfg *config.AppConfig) (storage.Store, io.Closer, error) {
	switch cfg.Store.Backend {
	case config.BackendRedis:
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to init redis: %w", err)
		}
		slog.Info("Using Redis storage")
		return client, client, nil
	case config.BackendPostgres:
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := postgres.Migrate(db); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		slog.Info("Using PostgreSQL storage")
		return postgres.NewStore(db), db, nil
	default:
		slog.Info("Using Memory storage")
		return memory.NewMemoryStorage(), closerFunc(func() error { return nil }), nil
	}
}

// SchedulerConfig maps the monitor section onto scheduler settings.
func SchedulerConfig(cfg *config.AppConfig) scheduler.Config {
	m := cfg.Monitor
	return scheduler.Config{
		CheckInterval: m.CheckInterval,
		SnapshotKey:   m.SnapshotKey,
		SnapshotTTL:   m.SnapshotTTL,
		Status: status.Thresholds{
			Healthy:   m.HealthyThreshold,
			Unhealthy: m.UnhealthyThreshold,
		},
		Breaker: breaker.Settings{
			FailureThreshold: m.CircuitBreaker.FailureThreshold,
			SuccessThreshold: m.CircuitBreaker.SuccessThreshold,
			VolumeThreshold:  m.CircuitBreaker.VolumeThreshold,
			RecoveryTimeout:  m.CircuitBreaker.RecoveryTimeout,
			VolumeWindow:     m.CircuitBreaker.VolumeWindow,
		},
	}
}

// AlertConfig maps the alerts section onto dispatcher rules.
func AlertConfig(cfg *config.AppConfig) alert.Config {
	a := cfg.Alerts
	return alert.Config{
		CriticalDown:          alert.RuleConfig{MinCount: a.CriticalDown.MinCount, Cooldown: a.CriticalDown.Cooldown},
		MultipleDown:          alert.RuleConfig{MinCount: a.MultipleDown.MinCount, Cooldown: a.MultipleDown.Cooldown},
		SlowResponseCooldown:  a.SlowResponse.Cooldown,
		SlowResponseThreshold: a.SlowResponse.Threshold,
	}
}

// buildTransport always logs alerts and fans out to every configured sink.
func buildTransport(cfg config.AlertsConfig, logger *slog.Logger) (alert.Transport, []io.Closer, error) {
	targets := []alert.Target{{Name: "log", Transport: alert.NewLogTransport(logger)}}
	var closers []io.Closer

	if cfg.Webhook.URL != "" {
		targets = append(targets, alert.Target{
			Name:      "webhook",
			Transport: alert.NewWebhookTransport(cfg.Webhook.URL, cfg.Webhook.Headers, cfg.Webhook.Timeout),
		})
		logger.Info("Webhook alerts enabled")
	}
	if cfg.RabbitMQ.URL != "" {
		t, closer, err := alert.DialAMQP(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			return nil, nil, err
		}
		targets = append(targets, alert.Target{Name: "rabbitmq", Transport: t})
		closers = append(closers, closer)
		logger.Info("RabbitMQ alerts enabled", "exchange", cfg.RabbitMQ.Exchange)
	}
	return alert.NewMultiTransport(logger, targets...), closers, nil
}

// NewWatcher creates a new Watcher instance with all dependencies initialized.
func NewWatcher(ctx context.Context, cfg *config.AppConfig) (*Watcher, error) {
	logger := slog.Default()

	// 1. Initialize Storage
	store, storeCloser, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	closers := []io.Closer{storeCloser}
	closeAll := func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}

	var pruner *worker.Pruner
	if p, ok := store.(worker.Purger); ok && cfg.Monitor.SnapshotTTL > 0 {
		pruner = worker.NewPruner(p, cfg.Monitor.SnapshotTTL, logger)
	}

	// 2. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mt := metrics.New(reg)

	// 3. Alerts
	transport, transportClosers, err := buildTransport(cfg.Alerts, logger)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("failed to init alert transport: %w", err)
	}
	closers = append(closers, transportClosers...)
	dispatcher := alert.NewDispatcher(AlertConfig(cfg), transport,
		alert.WithLogger(logger),
		alert.WithOutcome(mt.AlertOutcome),
	)

	// 4. Probes
	executor := probe.NewExecutor(probe.Config{
		RetryAttempts:  cfg.Monitor.RetryAttempts,
		RetryDelay:     cfg.Monitor.RetryDelay,
		DefaultTimeout: cfg.Monitor.Timeout,
	}, probe.WithLogger(logger))

	defs := cfg.Definitions()
	for _, def := range defs {
		for i, ep := range def.Endpoints {
			if err := executor.Validate(ep); err != nil {
				closeAll()
				return nil, fmt.Errorf("dependency %s endpoint %d: %w", def.ID, i, err)
			}
		}
	}

	// 5. Scheduler
	mon, err := scheduler.New(SchedulerConfig(cfg), defs, executor,
		scheduler.WithStore(store),
		scheduler.WithAlerts(dispatcher),
		scheduler.WithMetrics(mt),
		scheduler.WithLogger(logger),
	)
	if err != nil {
		closeAll()
		return nil, err
	}

	// 6. Health Server
	healthServer := health.NewServer(mon, health.Config{
		Port:       cfg.Server.Port,
		JWTSecret:  cfg.Admin.JWTSecret,
		CheckRate:  cfg.Server.CheckRate,
		CheckBurst: cfg.Server.CheckBurst,
	}, reg, logger)

	return &Watcher{
		cfg:          cfg,
		monitor:      mon,
		executor:     executor,
		healthServer: healthServer,
		pruner:       pruner,
		closers:      closers,
		log:          logger,
	}, nil
}

// Monitor returns the scheduler.
func (w *Watcher) Monitor() *scheduler.Monitor {
	return w.monitor
}

// Start starts the watcher and all its components.
func (w *Watcher) Start(ctx context.Context) error {
	// Start Health Server
	go func() {
		if err := w.healthServer.Start(); err != nil {
			w.log.Error("Health server failed", "error", err)
		}
	}()

	if w.pruner != nil {
		go w.pruner.Start(ctx)
	}

	return w.monitor.Start(ctx)
}

// Stop stops the watcher.
func (w *Watcher) Stop(ctx context.Context) error {
	w.log.Info("Stopping Watcher...")

	var firstErr error
	if err := w.monitor.Stop(ctx); err != nil {
		firstErr = err
	}

	// Stop Health Server
	if err := w.healthServer.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}

	if err := w.executor.Close(); err != nil {
		w.log.Warn("Failed to close probe connections", "error", err)
	}
	for _, c := range w.closers {
		if err := c.Close(); err != nil {
			w.log.Warn("Failed to close resource", "error", err)
		}
	}
	return firstErr
}

// ShutdownTimeout covers one full probe with every retry, and at least 15s.
func ShutdownTimeout(cfg *config.AppConfig) time.Duration {
	m := cfg.Monitor
	d := time.Duration(m.RetryAttempts)*m.Timeout + time.Duration(m.RetryAttempts*(m.RetryAttempts-1)/2)*m.RetryDelay
	return max(d, 15*time.Second)
}
