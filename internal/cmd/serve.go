package cmd

import (
	"context"
	"net/http"
	"reflect"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/kektech/kektech/internal/config"
	"github.com/kektech/kektech/internal/core/engine"
	"github.com/kektech/kektech/internal/core/quota"
	errwrap "github.com/kektech/kektech/internal/errors"
	"github.com/kektech/kektech/internal/metrics"
	"github.com/kektech/kektech/internal/observability"
	"github.com/kektech/kektech/internal/server"
	"github.com/kektech/kektech/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
)

// signalHealthChecker implements HealthChecker for signal system
type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(ctx context.Context) error {
	return nil
}

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// identityHealthChecker validates app identity metadata
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (i identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case i.binaryName == "":
		return errwrap.NewConfigInvalidError("app identity missing binary name")
	case i.envPrefix == "":
		return errwrap.NewConfigInvalidError("app identity missing env prefix")
	case i.configName == "":
		return errwrap.NewConfigInvalidError("app identity missing config name")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the API gateway with per-client quotas and graceful shutdown.

Quotas are kept in the shared store named by quota.url and quota.token
(redis:// or libsql://). Without both, each instance keeps its own in-memory
windows.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Re-read and validate the config file (restart to apply)`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	identity := GetAppIdentity()
	namespace := identity.TelemetryNamespace()

	if err := observability.InitServerLogger(identity.BinaryName, cfg.Logging, namespace); err != nil {
		return errwrap.WrapConfigInvalid(ctx, err, "logger initialization failed")
	}
	logger := observability.ServerLogger

	if err := observability.InitMetrics(identity.BinaryName, cfg.Metrics, namespace); err != nil {
		logger.Error("Failed to initialize metrics", zap.Error(err))
		return errwrap.WrapInternal(ctx, err, "metrics initialization failed")
	}

	backend, err := quota.Open(ctx, cfg.Quota, quota.Options{
		Logger:     logger,
		OnFailover: func(error) { metrics.RecordQuotaFailover() },
	})
	if err != nil {
		logger.Error("Failed to open quota store", zap.Error(err))
		return errwrap.WrapConfigInvalid(ctx, err, "quota store initialization failed")
	}
	handlers.SetQuotaInfo(backend.Kind, cfg.Quota.Quotas())

	logger.Info("Initializing server",
		zap.String("service", identity.BinaryName),
		zap.String("namespace", namespace),
		zap.String("version", versionInfo.Version),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("quota_backend", backend.Kind),
		zap.Bool("metrics_enabled", cfg.Metrics.Enabled))

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	janitor := &engine.Janitor{
		Purger:   backend.Purger,
		Interval: cfg.Quota.PurgeInterval,
		Logger:   logger,
		OnPurge: func(removed int64, err error) {
			if err == nil {
				metrics.RecordQuotaPurge(removed)
			}
		},
	}
	go janitor.Run(janitorCtx)

	api := &handlers.API{
		Source:     newRankingsClient(cfg.Upstream, logger),
		Collection: cfg.Upstream.Collection,
		Limiters:   engine.NewLimiters(backend.Store, cfg.Quota.Quotas(), cfg.Quota.KeyPrefix),
	}
	if cfg.Upstream.RPCURL != "" {
		api.RPCProxy = &handlers.RPCProxy{
			URL:     cfg.Upstream.RPCURL,
			Client:  &http.Client{},
			Timeout: cfg.Upstream.Timeout,
		}
	}

	hm := handlers.NewHealthManager(versionInfo.Version)
	hm.RegisterChecker("signal_handlers", signalHealthChecker{})
	if cfg.Metrics.Enabled {
		hm.RegisterChecker("telemetry", telemetryHealthChecker{})
	}
	hm.RegisterChecker("app_identity", identityHealthChecker{
		binaryName: identity.BinaryName,
		envPrefix:  identity.EnvPrefix,
		configName: identity.ConfigName,
	})
	hm.RegisterChecker("quota_store", handlers.QuotaStoreChecker{Store: backend.Shared})

	handlers.SetAppIdentity(identity)

	srv := server.New(server.Options{
		Server:        cfg.Server,
		API:           api,
		Health:        hm,
		DisableHealth: !cfg.Health.Enabled,
		Debug:         cfg.Debug.Enabled,
	})
	if cfg.Debug.Enabled {
		logger.Warn("Debug profiler mounted at /debug - do not expose this server publicly")
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 10 * time.Second
	}

	// Shutdown handlers run LIFO: HTTP server, then quota store and metrics, then logger.
	signals.OnShutdown(func(ctx context.Context) error {
		logger.Info("Flushing logger...")
		if err := logger.Sync(); err != nil {
			// Sync errors are often benign (stdout/stderr already closed)
			logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
		}
		return nil
	})

	signals.OnShutdown(func(ctx context.Context) error {
		stopJanitor()
		if err := backend.Close(); err != nil {
			logger.Warn("Quota store close returned error", zap.Error(err))
		}
		if err := observability.ShutdownMetrics(); err != nil {
			logger.Warn("Metrics exporter stop returned error", zap.Error(err))
		}
		return nil
	})

	signals.OnShutdown(func(ctx context.Context) error {
		logger.Info("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errwrap.WrapInternal(ctx, err, "server shutdown failed")
		}

		logger.Info("HTTP server stopped gracefully")
		return nil
	})

	signals.OnReload(func(ctx context.Context) error {
		logger.Info("Received SIGHUP: attempting config reload")

		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				logger.Info("No config file found - using defaults and environment variables")
				return nil
			}
			logger.Error("Failed to reload config file",
				zap.String("file", viper.ConfigFileUsed()),
				zap.Error(err))
			return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
		}

		previous := config.GetConfig()
		next, err := config.Load(viper.GetViper())
		if err != nil {
			logger.Error("Reloaded config is invalid", zap.Error(err))
			return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
		}

		// Quotas and upstream settings are bound at startup.
		if changed := restartRequired(previous, next); len(changed) > 0 {
			logger.Warn("Configuration reloaded; restart to apply changes",
				zap.Strings("sections", changed),
				zap.String("file", viper.ConfigFileUsed()))
			return nil
		}
		logger.Info("Configuration reloaded", zap.String("file", viper.ConfigFileUsed()))
		return nil
	})

	if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
		Window:  2 * time.Second,
		Message: "Press Ctrl+C again within 2 seconds to force quit",
	}); err != nil {
		logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server...",
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port))
		metrics.SetServerStartTime(time.Now().Unix())
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	go func() {
		if err := signals.Listen(ctx); err != nil {
			logger.Error("Signal handler error", zap.Error(err))
			errChan <- err
		}
	}()

	if err := <-errChan; err != nil {
		stopJanitor()
		_ = backend.Close()
		return errwrap.WrapInternal(ctx, err, "server error")
	}

	return nil
}

// restartRequired lists the config sections that differ between previous and
// next and are only read at startup.
func restartRequired(previous, next *config.Config) []string {
	if previous == nil || next == nil {
		return nil
	}
	var changed []string
	if !reflect.DeepEqual(previous.Quota, next.Quota) {
		changed = append(changed, "quota")
	}
	if !reflect.DeepEqual(previous.Upstream, next.Upstream) {
		changed = append(changed, "upstream")
	}
	if previous.Server != next.Server {
		changed = append(changed, "server")
	}
	return changed
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}
