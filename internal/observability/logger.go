package observability

import (
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/logging"

	"github.com/kektech/kektech/internal/config"
)

var (
	// CLILogger is used for CLI commands (SIMPLE profile)
	CLILogger *logging.Logger

	// ServerLogger is used for HTTP server (STRUCTURED profile)
	ServerLogger *logging.Logger
)

// InitCLILogger sets CLILogger to a SIMPLE console logger. Verbose lowers
// the level to DEBUG.
func InitCLILogger(serviceName string, verbose bool) error {
	logger, err := logging.NewCLI(serviceName)
	if err != nil {
		return fmt.Errorf("init cli logger: %w", err)
	}
	if verbose {
		logger.SetLevel(logging.DEBUG)
	}
	CLILogger = logger
	return nil
}

// InitServerLogger sets ServerLogger from the logging config. The STRUCTURED
// profile (default) writes JSON with correlation middleware; SIMPLE writes
// plain console lines. The optional namespace becomes a static field.
func InitServerLogger(serviceName string, cfg config.LoggingConfig, namespace ...string) error {
	logger, err := logging.New(serverLoggerConfig(serviceName, cfg, namespace...))
	if err != nil {
		return fmt.Errorf("init server logger: %w", err)
	}
	ServerLogger = logger
	return nil
}

func serverLoggerConfig(serviceName string, cfg config.LoggingConfig, namespace ...string) *logging.LoggerConfig {
	staticFields := make(map[string]any)
	if len(namespace) > 0 && namespace[0] != "" {
		staticFields["namespace"] = namespace[0]
	}

	lc := &logging.LoggerConfig{
		Profile:      logging.ProfileStructured,
		DefaultLevel: parseLogLevel(cfg.Level),
		Service:      serviceName,
		Environment:  environment(cfg.Environment),
		StaticFields: staticFields,
		Middleware: []logging.MiddlewareConfig{
			{
				Name:    "correlation",
				Enabled: true,
				Order:   100,
				Config:  make(map[string]any),
			},
		},
		Sinks: []logging.SinkConfig{
			{
				Type:   "console",
				Format: "json",
				Console: &logging.ConsoleSinkConfig{
					Stream:   "stderr",
					Colorize: false,
				},
			},
		},
		EnableCaller:     true,
		EnableStacktrace: true,
	}

	if strings.EqualFold(cfg.Profile, "SIMPLE") {
		lc.Profile = logging.ProfileSimple
		lc.Middleware = nil
		lc.Sinks[0].Format = "console"
		lc.EnableStacktrace = false
	}

	return lc
}

func environment(value string) string {
	if v := strings.ToLower(strings.TrimSpace(value)); v != "" {
		return v
	}
	return "production"
}

// parseLogLevel converts string log level to logging severity string
func parseLogLevel(levelStr string) string {
	switch strings.ToLower(levelStr) {
	case "trace":
		return "TRACE"
	case "debug":
		return "DEBUG"
	case "info":
		return "INFO"
	case "warn", "warning":
		return "WARN"
	case "error":
		return "ERROR"
	default:
		return "INFO"
	}
}
