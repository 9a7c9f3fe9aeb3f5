package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/kektech/kektech/internal/output"
)

var quotaListSelection quotaSelection

var quotaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored quota windows",
	Long: `List the quota windows held by the shared store.

Keys are full store keys (<key_prefix><use_case>:<client>). Without a
selection every window under quota.key_prefix is listed.`,
	Example: `  kektech quota list
  kektech quota list --use-case mint
  kektech quota list --prefix kektech:rl:rpc: --output-format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := resolveCommandOutput(cmd, "quota.list")
		if err != nil {
			return err
		}

		backend, cfg, err := openQuotaAdmin(cmd.Context())
		if err != nil {
			return err
		}
		defer backend.Close() // nolint:errcheck // best-effort cleanup

		query, err := quotaListSelection.query(cfg)
		if err != nil {
			return err
		}
		if query.Validate() != nil {
			query.All = true
		}

		windows, err := backend.Admin.ListQuotas(cmd.Context(), query)
		if err != nil {
			return err
		}

		rendered, err := output.FormatQuotaWindows(out.format, backend.Kind, windows, time.Now().UTC())
		if err != nil {
			return err
		}

		return out.write(rendered)
	},
}

func init() {
	addOutputFlags(quotaListCmd)
	quotaListCmd.Flags().BoolVar(&quotaListSelection.all, "all", false, "List all windows")
	quotaListCmd.Flags().StringVar(&quotaListSelection.prefix, "prefix", "", "List windows whose key starts with prefix")
	quotaListCmd.Flags().StringVar(&quotaListSelection.useCase, "use-case", "", "List windows of one use case (mint, rpc, wallet_connect, api)")
}
