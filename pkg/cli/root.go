package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/litetx/ltxkit/pkg/config"
	"github.com/litetx/ltxkit/pkg/global"
	"github.com/litetx/ltxkit/pkg/util/console"
)

func NewRootCommand() (*cobra.Command, error) {
	rootCmd := cobra.Command{
		Use:     "ltxkit",
		Short:   "Tools for LTX transaction files and the pipelines that exercise them",
		Version: fmt.Sprintf("%s (built %s)", global.Version, global.BuildTime),
		// This stops errors being printed because we print them in cmd/ltxkit/main.go
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if global.Verbose {
				console.SetLevel(console.DebugLevel)
			}
			cmd.SilenceUsage = true
		},
		SilenceErrors: true,
	}
	setPersistentFlags(&rootCmd)

	rootCmd.AddCommand(
		newEncodeDBCommand(),
		newApplyCommand(),
		newVerifyCommand(),
		newChecksumCommand(),
		newRunCommand(),
		newFetchCommand(),
	)

	return &rootCmd, nil
}

func setPersistentFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().BoolVarP(&global.Verbose, "verbose", "v", false, "Verbose output")
}

func getConfig() (*config.Config, string, error) {
	return config.GetConfig(global.ConfigFilename)
}
