package cmd

import (
	"github.com/spf13/cobra"

	"github.com/armadaproject/eventloader/internal/common/config"
)

const CustomConfigLocation = "config"

// RootCmd is the root Cobra command that gets called from the main func.
// Running it without a sub-command starts the loader.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "eventloader",
		Short:        "eventloader loads micro-batches of e-commerce event files into postgres",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.BindCommandlineArguments(cmd.Flags())
		},
		RunE: runCmdE,
	}
	cmd.PersistentFlags().StringSlice(
		CustomConfigLocation,
		[]string{},
		"Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)",
	)

	cmd.AddCommand(
		runCmd(),
		checkConfigCmd(),
	)
	return cmd
}
