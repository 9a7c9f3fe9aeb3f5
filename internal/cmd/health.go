package cmd

import (
	"context"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kektech/kektech/internal/config"
	"github.com/kektech/kektech/internal/core/quota"
	errwrap "github.com/kektech/kektech/internal/errors"
	"github.com/kektech/kektech/internal/observability"
)

const healthPingTimeout = 5 * time.Second

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long: `Run a self-health check: version info, logger, configuration and the
configured quota store.`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := observability.CLILogger
		if logger == nil {
			ExitWithCodeStderr(foundry.ExitConfigInvalid, "Logger not initialized", errwrap.NewConfigInvalidError("Logger not initialized"))
			return
		}
		logger.Info("Running health check...")

		if versionInfo.Version == "" {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Version information missing", errwrap.NewConfigInvalidError("Version information missing"))
			return
		}
		logger.Debug("Version check passed", zap.String("version", versionInfo.Version))
		logger.Info("✅ Version information available")
		logger.Info("✅ Logger initialized")

		cfg, err := loadConfig()
		if err != nil {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Configuration invalid", errwrap.WrapConfigInvalid(cmd.Context(), err, "configuration invalid"))
			return
		}
		logger.Info("✅ Configuration valid")

		backend := cfg.Quota.Backend()
		if backend == config.BackendLocal {
			logger.Info("✅ Quota store: local (per-process windows)")
		} else {
			ctx, cancel := context.WithTimeout(cmd.Context(), healthPingTimeout)
			defer cancel()
			if err := pingQuotaStore(ctx, cfg.Quota); err != nil {
				// The server still starts and serves from the local fallback.
				logger.Warn("⚠️  Quota store degraded", zap.String("backend", backend), zap.Error(err))
			} else {
				logger.Info("✅ Quota store reachable", zap.String("backend", backend))
			}
		}

		logger.Info("")
		logger.Info("✅ All health checks passed")
	},
}

func pingQuotaStore(ctx context.Context, cfg config.QuotaConfig) error {
	backend, err := quota.Open(ctx, cfg, quota.Options{})
	if err != nil {
		return err
	}
	defer backend.Close() // nolint:errcheck // best-effort cleanup

	if backend.Shared == nil {
		return errwrap.NewServiceUnavailableError("shared quota store could not be opened")
	}
	return backend.Shared.Ping(ctx)
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
