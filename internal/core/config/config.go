package config

import (
	"time"

	"github.com/vietddude/depwatch/internal/core/domain"
	redisclient "github.com/vietddude/depwatch/internal/infra/redis"
	"github.com/vietddude/depwatch/internal/infra/storage/postgres"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
	Monitor      MonitorConfig      `yaml:"monitor"`
	Alerts       AlertsConfig       `yaml:"alerts"`
	Store        StoreConfig        `yaml:"store"`
	Redis        redisclient.Config `yaml:"redis"`
	Database     postgres.Config    `yaml:"database"`
	Admin        AdminConfig        `yaml:"admin"`
	Dependencies []DependencyConfig `yaml:"dependencies" validate:"required,min=1,unique=ID,dive"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port       int     `yaml:"port"        validate:"min=1,max=65535"`
	CheckRate  float64 `yaml:"check_rate"  validate:"gte=0"` // on-demand checks per second per dependency
	CheckBurst int     `yaml:"check_burst" validate:"gte=0"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
}

// MonitorConfig holds scheduling, threshold and retry settings.
type MonitorConfig struct {
	CheckInterval      time.Duration        `yaml:"check_interval"      validate:"gt=0"` // whole seconds, >= 1s
	HealthyThreshold   int                  `yaml:"healthy_threshold"   validate:"min=1"`
	UnhealthyThreshold int                  `yaml:"unhealthy_threshold" validate:"min=1"`
	RetryAttempts      int                  `yaml:"retry_attempts"      validate:"min=1"`
	RetryDelay         time.Duration        `yaml:"retry_delay"         validate:"gte=0"`
	Timeout            time.Duration        `yaml:"timeout"             validate:"gt=0"` // default probe timeout
	SnapshotKey        string               `yaml:"snapshot_key"        validate:"required"`
	SnapshotTTL        time.Duration        `yaml:"snapshot_ttl"        validate:"gte=0"`
	CircuitBreaker     CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds per-dependency breaker settings.
type CircuitBreakerConfig struct {
	FailureThreshold uint32        `yaml:"failure_threshold" validate:"min=1"`
	SuccessThreshold uint32        `yaml:"success_threshold" validate:"min=1"`
	VolumeThreshold  uint32        `yaml:"volume_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"  validate:"gt=0"`
	VolumeWindow     time.Duration `yaml:"volume_window"     validate:"gte=0"` // 0 = counts reset only on state change
}

// AlertsConfig holds alert rules and transports.
type AlertsConfig struct {
	CriticalDown RuleConfig     `yaml:"critical_down"`
	MultipleDown RuleConfig     `yaml:"multiple_down"`
	SlowResponse SlowRuleConfig `yaml:"slow_response"`
	Webhook      WebhookConfig  `yaml:"webhook"`
	RabbitMQ     RabbitMQConfig `yaml:"rabbitmq"`
}

// RuleConfig is a count threshold with a cooldown.
type RuleConfig struct {
	MinCount int           `yaml:"min_count" validate:"min=1"`
	Cooldown time.Duration `yaml:"cooldown"  validate:"gte=0"`
}

// SlowRuleConfig fires when a dependency's average response time exceeds Threshold.
type SlowRuleConfig struct {
	Threshold time.Duration `yaml:"threshold" validate:"gt=0"`
	Cooldown  time.Duration `yaml:"cooldown"  validate:"gte=0"`
}

// WebhookConfig enables the webhook transport when URL is set.
type WebhookConfig struct {
	URL     string            `yaml:"url"     validate:"omitempty,url"`
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout"`
}

// RabbitMQConfig enables the AMQP transport when URL is set.
type RabbitMQConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange" validate:"required_with=URL"`
}

// StoreConfig selects the snapshot store.
type StoreConfig struct {
	Backend string `yaml:"backend" validate:"oneof=memory redis postgres"`
}

// AdminConfig protects administrative routes.
type AdminConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// DependencyConfig describes one monitored dependency.
type DependencyConfig struct {
	ID          string             `yaml:"id"          validate:"required"`
	Name        string             `yaml:"name"`
	Category    domain.Category    `yaml:"category"    validate:"required"`
	Criticality domain.Criticality `yaml:"criticality" validate:"required,oneof=critical high medium low"`
	Endpoints   []EndpointConfig   `yaml:"endpoints"   validate:"required,min=1,dive"`
}

// EndpointConfig describes one probe.
type EndpointConfig struct {
	Kind           domain.ProbeKind    `yaml:"kind"            validate:"omitempty,oneof=http grpc"`
	Method         string              `yaml:"method"`
	URL            string              `yaml:"url"             validate:"required"`
	Headers        map[string]string   `yaml:"headers"`
	Body           string              `yaml:"body"`
	JSONRPC        *domain.JSONRPCCall `yaml:"jsonrpc"`
	ExpectedStatus int                 `yaml:"expected_status" validate:"omitempty,min=100,max=599"`
	Assertions     []domain.Assertion  `yaml:"assertions"`
	Timeout        time.Duration       `yaml:"timeout"         validate:"gte=0"`
}
