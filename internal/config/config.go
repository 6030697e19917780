package config

import (
	"time"
)

// Config represents the complete application configuration
// following the Fulmen Forge Workhorse Standard three-layer pattern:
// Layer 1: Crucible defaults (config/partflow/v0/partflow-defaults.yaml)
// Layer 2: User overrides (~/.config/partflow/partflow/config.yaml)
// Layer 3: Environment variables and runtime overrides
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Store      StoreConfig      `mapstructure:"store"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Health     HealthConfig     `mapstructure:"health"`
	Debug      DebugConfig      `mapstructure:"debug"`
	Workers    int              `mapstructure:"workers"`

	// RateLimits overrides the built-in per-supplier request budgets.
	// Keys are supplier names; casing is normalized at load time.
	RateLimits map[string]RateLimitBudgets `mapstructure:"rate_limits"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// EnrichmentConfig tunes the enrichment queue manager and the usage
// tracker.
type EnrichmentConfig struct {
	// MaxRetries bounds requeues of a failing task.
	MaxRetries int `mapstructure:"max_retries"`

	// RetentionDays is how long usage records are kept before cleanup.
	RetentionDays int `mapstructure:"retention_days"`

	// IdleDelay is the dispatch poll interval for an empty queue.
	IdleDelay time.Duration `mapstructure:"idle_delay"`

	// SimulatorDelay is the per-capability latency of the built-in
	// simulated executor used when no supplier credentials are wired in.
	SimulatorDelay time.Duration `mapstructure:"simulator_delay"`

	// NotifyBuffer is the per-subscriber event channel capacity.
	NotifyBuffer int `mapstructure:"notify_buffer"`

	// Pacing overrides the per-supplier delay between dispatched calls.
	Pacing map[string]time.Duration `mapstructure:"pacing"`

	// SuppliersFile points at a YAML supplier catalog that replaces the
	// built-in one. Empty means use the built-in catalog.
	SuppliersFile string `mapstructure:"suppliers_file"`
}

// RateLimitBudgets carries the three trailing-window request budgets for
// one supplier.
type RateLimitBudgets struct {
	PerMinute int `mapstructure:"per_minute"`
	PerHour   int `mapstructure:"per_hour"`
	PerDay    int `mapstructure:"per_day"`
}

// LoggingConfig contains logging configuration
// Supports progressive logging profiles per Fulmen Forge Workhorse Standard:
// - SIMPLE: Console output only, minimal configuration (CLI tools)
// - STRUCTURED: Structured sinks, correlation IDs (API services)
// - ENTERPRISE: Multiple sinks, middleware, throttling, policy enforcement (production)
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED, ENTERPRISE
	// See: gofulmen/docs/crucible-go/standards/observability/logging.md
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled controls whether metrics are exposed
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	// Metrics are also available at the main HTTP port in JSON format
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	// Enabled controls whether health endpoints are exposed
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig contains debug and profiling configuration
type DebugConfig struct {
	// Enabled controls whether debug mode is active
	Enabled bool `mapstructure:"enabled"`

	// PprofEnabled controls whether pprof endpoints are exposed
	// WARNING: Only enable in development/staging environments
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}
