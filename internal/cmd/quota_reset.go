package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/kektech/kektech/internal/output"
)

var (
	quotaResetSelection quotaSelection
	quotaResetYes       bool
	quotaResetDryRun    bool
)

var quotaResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete stored quota windows",
	Long: `Delete quota windows from the shared store so the affected clients start
a fresh window on their next request.`,
	Example: `  kektech quota reset --key kektech:rl:mint:203.0.113.7
  kektech quota reset --use-case rpc --dry-run
  kektech quota reset --all --yes`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := resolveCommandOutput(cmd, "quota.reset")
		if err != nil {
			return err
		}

		backend, cfg, err := openQuotaAdmin(cmd.Context())
		if err != nil {
			return err
		}
		defer backend.Close() // nolint:errcheck // best-effort cleanup

		query, err := quotaResetSelection.query(cfg)
		if err != nil {
			return err
		}
		if err := query.Validate(); err != nil {
			return err
		}
		if query.All && !quotaResetYes && !quotaResetDryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
		}

		matched, err := backend.Admin.CountQuotas(cmd.Context(), query)
		if err != nil {
			return err
		}

		result := output.ResetResult{
			Backend: backend.Kind,
			Matched: int64(matched),
			DryRun:  quotaResetDryRun,
		}
		if !quotaResetDryRun {
			result.Deleted, err = backend.Admin.ResetQuotas(cmd.Context(), query)
			if err != nil {
				return err
			}
		}

		rendered, err := output.FormatResetResult(out.format, result)
		if err != nil {
			return err
		}

		return out.write(rendered)
	},
}

func init() {
	addOutputFlags(quotaResetCmd)
	quotaResetCmd.Flags().BoolVar(&quotaResetSelection.all, "all", false, "Reset all windows")
	quotaResetCmd.Flags().StringVar(&quotaResetSelection.key, "key", "", "Reset a single window (exact store key)")
	quotaResetCmd.Flags().StringVar(&quotaResetSelection.prefix, "prefix", "", "Reset windows whose key starts with prefix")
	quotaResetCmd.Flags().StringVar(&quotaResetSelection.useCase, "use-case", "", "Reset every window of one use case")
	quotaResetCmd.Flags().BoolVar(&quotaResetYes, "yes", false, "Confirm destructive reset")
	quotaResetCmd.Flags().BoolVar(&quotaResetDryRun, "dry-run", false, "Show what would be deleted")
}
