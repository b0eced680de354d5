package cmd

import (
	"github.com/spf13/cobra"
	"iris/config"
)

func Root(config *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "iris",
		Short:         "meeting capture service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(server(config))
	rootCmd.AddCommand(migrate(config))
	rootCmd.AddCommand(meetings(config))
	rootCmd.AddCommand(tasks(config))
	return rootCmd
}
