package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kektech/kektech/internal/config"
)

var extended bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information. Use --extended for build, SSOT and path details.",
	RunE: func(cmd *cobra.Command, args []string) error {
		identity := GetAppIdentity()

		if !extended {
			fmt.Printf("%s %s\n", identity.BinaryName, versionInfo.Version)
			return nil
		}

		version := crucible.GetVersion()
		configFile := viper.ConfigFileUsed()
		if configFile == "" {
			configFile = config.DefaultConfigPath(identity.ConfigName) + " (not found)"
		}

		lines := []string{
			fmt.Sprintf("%s %s", identity.BinaryName, versionInfo.Version),
			"",
			"Commit:   " + versionInfo.Commit,
			"Built:    " + versionInfo.BuildDate,
			"Go:       " + runtime.Version(),
			"Gofulmen: " + version.Gofulmen,
			"Crucible: " + version.Crucible,
			"",
			"Config:   " + configFile,
			"Data:     " + config.DefaultDataDir(identity.ConfigName),
		}
		fmt.Print(ascii.DrawBox(strings.Join(lines, "\n"), 0))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&extended, "extended", "e", false, "show extended version information")
}
