// Package config provides centralized configuration management for kektech.
// It implements the three-layer config pattern on top of viper:
// Layer 1: Built-in defaults (SetDefaults)
// Layer 2: User config file (discovered via app identity, or --config)
// Layer 3: Environment variables (KEKTECH_*, optionally seeded from .env files)
package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/kektech/kektech/internal/core"
)

// Quota backend names.
const (
	BackendLocal  = "local"
	BackendRedis  = "redis"
	BackendLibsql = "libsql"
)

// DefaultAppName is used for XDG paths when no app identity is available.
const DefaultAppName = "kektech"

var (
	// appConfig holds the current application configuration
	appConfig *Config
	configMu  sync.RWMutex
)

// SetDefaults registers the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")
	v.SetDefault("logging.environment", "production")

	// Quota defaults
	v.SetDefault("quota.url", "")
	v.SetDefault("quota.token", "")
	v.SetDefault("quota.key_prefix", "kektech:rl:")
	v.SetDefault("quota.purge_interval", "60s")
	v.SetDefault("quota.use_cases.mint.limit", 5)
	v.SetDefault("quota.use_cases.mint.window", "60s")
	v.SetDefault("quota.use_cases.rpc.limit", 100)
	v.SetDefault("quota.use_cases.rpc.window", "60s")
	v.SetDefault("quota.use_cases.wallet_connect.limit", 10)
	v.SetDefault("quota.use_cases.wallet_connect.window", "60s")
	v.SetDefault("quota.use_cases.api.limit", 60)
	v.SetDefault("quota.use_cases.api.window", "60s")

	// Upstream defaults
	v.SetDefault("upstream.base_url", "")
	v.SetDefault("upstream.collection", "")
	v.SetDefault("upstream.api_key", "")
	v.SetDefault("upstream.rpc_url", "")
	v.SetDefault("upstream.max_attempts", 3)
	v.SetDefault("upstream.base_delay", "1s")
	v.SetDefault("upstream.max_delay", "0s")
	v.SetDefault("upstream.timeout", "10s")
	v.SetDefault("upstream.batch_width", 10)
	v.SetDefault("upstream.batch_pause", "100ms")
	v.SetDefault("upstream.requests_per_second", 0)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Health check defaults
	v.SetDefault("health.enabled", true)

	// Debug defaults
	v.SetDefault("debug.enabled", false)
}

// BindEnv makes every known key readable from {prefix}{KEY} with dots
// replaced by underscores (e.g. KEKTECH_QUOTA_URL), plus the short aliases
// used in deployment manifests.
func BindEnv(v *viper.Viper, prefix string) {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), "_")
	if prefix == "" {
		prefix = strings.ToUpper(DefaultAppName)
	}

	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	aliases := map[string]string{
		"server.host":         "HOST",
		"server.port":         "PORT",
		"logging.level":       "LOG_LEVEL",
		"logging.environment": "ENV",
		"quota.url":           "QUOTA_STORE_URL",
		"quota.token":         "QUOTA_STORE_TOKEN",
	}
	for key, name := range aliases {
		_ = v.BindEnv(key, prefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), prefix+"_"+name)
	}
}

// LoadDotEnv seeds the process environment from .env files. Variables that
// are already set win, and missing files are ignored.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env.local", ".env"}
	}
	for _, path := range paths {
		_ = godotenv.Load(path)
	}
}

// Load decodes the merged settings of v into a validated Config and makes it
// the current configuration.
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		return nil, errors.New("viper instance is required")
	}

	cfg, err := Decode(v.AllSettings())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg)
	return cfg, nil
}

// Decode converts a settings map into a Config.
func Decode(settings map[string]any) (*Config, error) {
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	var problems []string
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}

	if c.Quota.Shared() && c.Quota.Backend() == "" {
		problems = append(problems, fmt.Sprintf("quota.url has unsupported scheme: %s", redactURL(c.Quota.URL)))
	}
	if c.Quota.PurgeInterval < 0 {
		problems = append(problems, "quota.purge_interval must not be negative")
	}
	for name, quota := range c.Quota.UseCases {
		if _, ok := core.ParseUseCase(name); !ok {
			problems = append(problems, fmt.Sprintf("quota.use_cases.%s is not a known use case", name))
			continue
		}
		if !quota.Valid() {
			problems = append(problems, fmt.Sprintf("quota.use_cases.%s needs a positive limit and a window of at least %s", name, core.MinWindow))
		}
	}

	up := c.Upstream
	if up.MaxAttempts < 1 {
		problems = append(problems, "upstream.max_attempts must be at least 1")
	}
	if up.BaseDelay < 0 || up.MaxDelay < 0 || up.BatchPause < 0 {
		problems = append(problems, "upstream delays must not be negative")
	}
	if up.Timeout <= 0 {
		problems = append(problems, "upstream.timeout must be positive")
	}
	if up.BatchWidth < 1 {
		problems = append(problems, "upstream.batch_width must be at least 1")
	}
	if up.RequestsPerSecond < 0 {
		problems = append(problems, "upstream.requests_per_second must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Backend returns the quota backend selected by the configuration: local when
// the shared store is not fully configured, otherwise redis or libsql by URL
// scheme. It returns "" for a shared URL with an unsupported scheme.
func (c QuotaConfig) Backend() string {
	if !c.Shared() {
		return BackendLocal
	}

	raw := strings.TrimSpace(c.URL)
	if strings.HasPrefix(raw, "file:") {
		return BackendLibsql
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	switch strings.ToLower(parsed.Scheme) {
	case "redis", "rediss":
		return BackendRedis
	case "libsql", "https", "http", "wss":
		return BackendLibsql
	default:
		return ""
	}
}

func redactURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "<invalid>"
	}
	return parsed.Redacted()
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath(configName string) string {
	if strings.TrimSpace(configName) == "" {
		configName = DefaultAppName
	}
	configDir := gfconfig.GetAppConfigDir(configName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir(configName string) string {
	if strings.TrimSpace(configName) == "" {
		configName = DefaultAppName
	}
	return gfconfig.GetAppDataDir(configName)
}
