package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"iris/config"
	server2 "iris/server"
)

func server(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "start http server",
		Run: func(cmd *cobra.Command, args []string) {
			server2.RunHttp(config)
		},
	}
}

func migrate(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "provision the record store",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := server2.OpenStore(cmd.Context(), config)
			if err != nil {
				return err
			}
			defer store.Close()
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "store ready (%s)\n", config.Store.Driver)
			return err
		},
	}
}
