package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kektech/kektech/internal/config"
	"github.com/kektech/kektech/internal/core"
	"github.com/kektech/kektech/internal/core/quota"
	"github.com/kektech/kektech/internal/observability"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Inspect and reset shared quota windows",
	Long: `Inspect and reset the quota windows kept in the shared store.

The local backend lives inside each server process, so these commands require
quota.url and quota.token to name a redis or libsql store.`,
}

func init() {
	quotaCmd.AddCommand(quotaListCmd)
	quotaCmd.AddCommand(quotaResetCmd)
	rootCmd.AddCommand(quotaCmd)
}

// openQuotaAdmin opens the configured shared quota store for administration.
func openQuotaAdmin(ctx context.Context) (*quota.Backend, config.QuotaConfig, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, config.QuotaConfig{}, err
	}
	if cfg.Quota.Backend() == config.BackendLocal {
		return nil, cfg.Quota, fmt.Errorf("no shared quota store configured: set quota.url and quota.token")
	}

	backend, err := quota.Open(ctx, cfg.Quota, quota.Options{Logger: observability.CLILogger})
	if err != nil {
		return nil, cfg.Quota, err
	}
	if backend.Shared == nil {
		_ = backend.Close()
		return nil, cfg.Quota, fmt.Errorf("shared quota store %s is unavailable", cfg.Quota.Backend())
	}
	if err := backend.Shared.Ping(ctx); err != nil {
		_ = backend.Close()
		return nil, cfg.Quota, fmt.Errorf("shared quota store %s is unreachable: %w", backend.Kind, err)
	}
	return backend, cfg.Quota, nil
}

// useCasePrefix returns the stored key prefix for every window of useCase.
func useCasePrefix(cfg config.QuotaConfig, raw string) (string, error) {
	useCase, ok := core.ParseUseCase(raw)
	if !ok {
		return "", fmt.Errorf("unknown use case: %s", raw)
	}
	return cfg.KeyPrefix + string(useCase) + ":", nil
}

// quotaSelection holds the window selection flags shared by list and reset.
type quotaSelection struct {
	all     bool
	key     string
	prefix  string
	useCase string
}

func (s quotaSelection) query(cfg config.QuotaConfig) (core.QuotaQuery, error) {
	q := core.QuotaQuery{
		All:    s.all,
		Key:    strings.TrimSpace(s.key),
		Prefix: strings.TrimSpace(s.prefix),
	}
	if uc := strings.TrimSpace(s.useCase); uc != "" {
		if q.Prefix != "" {
			return core.QuotaQuery{}, errors.New("--use-case and --prefix are mutually exclusive")
		}
		prefix, err := useCasePrefix(cfg, uc)
		if err != nil {
			return core.QuotaQuery{}, err
		}
		q.Prefix = prefix
	}
	return q, nil
}
