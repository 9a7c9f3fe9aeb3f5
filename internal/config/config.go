package config

import (
	"time"

	"github.com/kektech/kektech/internal/core"
)

// Config represents the complete application configuration, merged from
// three layers: built-in defaults (SetDefaults), the user config file
// (~/.config/kektech/config.yaml or --config) and KEKTECH_* environment
// variables.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Quota    QuotaConfig    `mapstructure:"quota"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Health   HealthConfig   `mapstructure:"health"`
	Debug    DebugConfig    `mapstructure:"debug"`
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

// QuotaConfig contains rate limiter configuration.
//
// The shared backend is only used when both URL and Token are set. The URL
// scheme selects it: redis:// and rediss:// use Redis, libsql://, https://,
// http://, wss:// and file: use libsql/Turso.
type QuotaConfig struct {
	URL           string        `mapstructure:"url"`
	Token         string        `mapstructure:"token"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
	PurgeInterval time.Duration `mapstructure:"purge_interval"`

	UseCases map[string]core.QuotaConfig `mapstructure:"use_cases"`
}

// Shared reports whether a shared quota backend is configured.
func (c QuotaConfig) Shared() bool {
	return c.URL != "" && c.Token != ""
}

// Quotas returns the per-use-case quotas keyed by use-case. Unknown names are
// ignored.
func (c QuotaConfig) Quotas() map[core.UseCase]core.QuotaConfig {
	quotas := make(map[core.UseCase]core.QuotaConfig, len(c.UseCases))
	for name, quota := range c.UseCases {
		useCase, ok := core.ParseUseCase(name)
		if !ok {
			continue
		}
		quotas[useCase] = quota
	}
	return quotas
}

// UpstreamConfig contains outbound call configuration for the rankings API
// and the chain RPC endpoint.
type UpstreamConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	Collection string `mapstructure:"collection"`
	APIKey     string `mapstructure:"api_key"`
	RPCURL     string `mapstructure:"rpc_url"`

	MaxAttempts       int           `mapstructure:"max_attempts"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	Timeout           time.Duration `mapstructure:"timeout"`
	BatchWidth        int           `mapstructure:"batch_width"`
	BatchPause        time.Duration `mapstructure:"batch_pause"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

// LoggingConfig contains logging configuration
// Supports progressive logging profiles:
// - SIMPLE: Console output only, minimal configuration (CLI tools)
// - STRUCTURED: Structured sinks, correlation IDs (API services)
// - ENTERPRISE: Multiple sinks, middleware, throttling, policy enforcement (production)
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED, ENTERPRISE
	Profile string `mapstructure:"profile"`

	// Environment is stamped on every structured log line.
	Environment string `mapstructure:"environment"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled controls whether metrics are exposed
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig contains debug configuration
type DebugConfig struct {
	Enabled bool `mapstructure:"enabled"`
}
