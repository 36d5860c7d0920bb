package config

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"

	"github.com/vietddude/depwatch/internal/core/domain"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML content, applies defaults and validates the result.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks structural constraints.
func Validate(cfg *AppConfig) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	// cron's @every only schedules whole seconds
	if ci := cfg.Monitor.CheckInterval; ci < time.Second || ci%time.Second != 0 {
		return fmt.Errorf("invalid config: monitor.check_interval %s must be a whole number of seconds, at least 1s", ci)
	}
	switch cfg.Store.Backend {
	case BackendRedis:
		if cfg.Redis.URL == "" {
			return fmt.Errorf("invalid config: store backend %q requires redis.url", cfg.Store.Backend)
		}
	case BackendPostgres:
		if cfg.Database.URL == "" {
			return fmt.Errorf("invalid config: store backend %q requires database.url", cfg.Store.Backend)
		}
	}
	return nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.CheckRate == 0 {
		cfg.Server.CheckRate = 0.2
	}
	if cfg.Server.CheckBurst == 0 {
		cfg.Server.CheckBurst = 1
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	m := &cfg.Monitor
	if m.CheckInterval == 0 {
		m.CheckInterval = 30 * time.Second
	}
	if m.HealthyThreshold == 0 {
		m.HealthyThreshold = 2
	}
	if m.UnhealthyThreshold == 0 {
		m.UnhealthyThreshold = 3
	}
	if m.RetryAttempts == 0 {
		m.RetryAttempts = 3
	}
	if m.RetryDelay == 0 {
		m.RetryDelay = time.Second
	}
	if m.Timeout == 0 {
		m.Timeout = 10 * time.Second
	}
	if m.SnapshotKey == "" {
		m.SnapshotKey = "depwatch:snapshot"
	}
	if m.SnapshotTTL == 0 {
		m.SnapshotTTL = 5 * time.Minute
	}

	cb := &m.CircuitBreaker
	if cb.FailureThreshold == 0 {
		cb.FailureThreshold = 5
	}
	if cb.SuccessThreshold == 0 {
		cb.SuccessThreshold = 3
	}
	if cb.VolumeThreshold == 0 {
		cb.VolumeThreshold = 10
	}
	if cb.RecoveryTimeout == 0 {
		cb.RecoveryTimeout = 60 * time.Second
	}

	a := &cfg.Alerts
	if a.CriticalDown.MinCount == 0 {
		a.CriticalDown.MinCount = 1
	}
	if a.CriticalDown.Cooldown == 0 {
		a.CriticalDown.Cooldown = 5 * time.Minute
	}
	if a.MultipleDown.MinCount == 0 {
		a.MultipleDown.MinCount = 3
	}
	if a.MultipleDown.Cooldown == 0 {
		a.MultipleDown.Cooldown = 10 * time.Minute
	}
	if a.SlowResponse.Threshold == 0 {
		a.SlowResponse.Threshold = 5 * time.Second
	}
	if a.SlowResponse.Cooldown == 0 {
		a.SlowResponse.Cooldown = 3 * time.Minute
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendMemory
	}

	for i := range cfg.Dependencies {
		d := &cfg.Dependencies[i]
		if d.Name == "" {
			d.Name = d.ID
		}
		for j := range d.Endpoints {
			ep := &d.Endpoints[j]
			if ep.Kind == "" {
				ep.Kind = domain.ProbeHTTP
			}
			if ep.ExpectedStatus == 0 {
				ep.ExpectedStatus = http.StatusOK
			}
			if ep.Timeout == 0 {
				ep.Timeout = m.Timeout
			}
		}
	}
}

// Definitions converts the dependency section into immutable definitions.
func (c *AppConfig) Definitions() []domain.DependencyDefinition {
	defs := make([]domain.DependencyDefinition, 0, len(c.Dependencies))
	for _, d := range c.Dependencies {
		def := domain.DependencyDefinition{
			ID:          d.ID,
			Name:        d.Name,
			Category:    d.Category,
			Criticality: d.Criticality,
			Endpoints:   make([]domain.EndpointProbe, 0, len(d.Endpoints)),
		}
		for _, ep := range d.Endpoints {
			probe := domain.EndpointProbe{
				Kind:           ep.Kind,
				Method:         ep.Method,
				URL:            ep.URL,
				Headers:        ep.Headers,
				JSONRPC:        ep.JSONRPC,
				ExpectedStatus: ep.ExpectedStatus,
				Assertions:     ep.Assertions,
				Timeout:        ep.Timeout,
			}
			if ep.Body != "" {
				probe.Body = []byte(ep.Body)
			}
			def.Endpoints = append(def.Endpoints, probe)
		}
		defs = append(defs, def)
	}
	return defs
}

// Dependency returns the definition with the given id.
func (c *AppConfig) Dependency(id string) (domain.DependencyDefinition, bool) {
	for _, def := range c.Definitions() {
		if def.ID == id {
			return def, true
		}
	}
	return domain.DependencyDefinition{}, false
}
