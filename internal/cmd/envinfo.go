package cmd

import (
	"fmt"
	"net/url"
	"runtime"
	"sort"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kektech/kektech/internal/config"
	"github.com/kektech/kektech/internal/observability"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display environment, effective configuration and version information.",
	Run: func(cmd *cobra.Command, args []string) {
		log := observability.CLILogger
		version := crucible.GetVersion()
		identity := GetAppIdentity()

		log.Info("=== KEKTECH Environment Information ===")
		log.Info("")

		log.Info("Application:")
		log.Info("  Name:       " + identity.BinaryName)
		log.Info("  Version:    " + versionInfo.Version)
		log.Info("  Commit:     " + versionInfo.Commit)
		log.Info("  Built:      " + versionInfo.BuildDate)
		log.Info("")

		log.Info("SSOT:")
		log.Info("  Gofulmen:   "+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		log.Info("  Crucible:   "+version.Crucible, zap.String("crucible_version", version.Crucible))
		log.Info("")

		log.Info("Runtime:")
		log.Info("  Go Version: "+runtime.Version(), zap.String("go_version", runtime.Version()))
		log.Info("  GOOS:       "+runtime.GOOS, zap.String("goos", runtime.GOOS))
		log.Info("  GOARCH:     "+runtime.GOARCH, zap.String("goarch", runtime.GOARCH))
		log.Info("")

		cfg, err := loadConfig()
		if err != nil {
			log.Warn("Config load failed", zap.Error(err))
			return
		}

		log.Info("Configuration:")
		log.Info("  Config File:    " + config.DefaultConfigPath(identity.ConfigName))
		log.Info(fmt.Sprintf("  Server:         %s:%d", cfg.Server.Host, cfg.Server.Port))
		log.Info("  Log Level:      " + cfg.Logging.Level)
		log.Info("  Log Profile:    " + cfg.Logging.Profile)
		log.Info("  Environment:    " + cfg.Logging.Environment)
		log.Info(fmt.Sprintf("  Metrics:        enabled=%t port=%d", cfg.Metrics.Enabled, cfg.Metrics.Port))
		log.Info("")

		log.Info("Quota:")
		log.Info("  Backend:        " + cfg.Quota.Backend())
		if cfg.Quota.Shared() {
			log.Info("  Store URL:      " + redacted(cfg.Quota.URL))
		}
		log.Info("  Key Prefix:     " + cfg.Quota.KeyPrefix)
		log.Info("  Purge Interval: " + cfg.Quota.PurgeInterval.String())
		names := make([]string, 0, len(cfg.Quota.UseCases))
		for name := range cfg.Quota.UseCases {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			q := cfg.Quota.UseCases[name]
			log.Info(fmt.Sprintf("  %-15s %d per %s", name+":", q.Limit, q.Window))
		}
		log.Info("")

		up := cfg.Upstream
		log.Info("Upstream:")
		log.Info("  Base URL:       " + up.BaseURL)
		log.Info("  Collection:     " + up.Collection)
		log.Info("  RPC URL:        " + redacted(up.RPCURL))
		log.Info(fmt.Sprintf("  API Key:        %s", setOrNot(up.APIKey)))
		log.Info(fmt.Sprintf("  Retry:          %d attempts, base %s, max %s, timeout %s",
			up.MaxAttempts, up.BaseDelay, up.MaxDelay, up.Timeout))
		log.Info(fmt.Sprintf("  Batches:        width %d, pause %s", up.BatchWidth, up.BatchPause))
		log.Info("")

		log.Info("=== End Environment Information ===")
	},
}

func redacted(raw string) string {
	if raw == "" {
		return "(not set)"
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "<invalid>"
	}
	return parsed.Redacted()
}

func setOrNot(value string) string {
	if value == "" {
		return "(not set)"
	}
	return "(set)"
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}
