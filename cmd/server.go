package cmd

import (
	"github.com/spf13/cobra"

	"recnode/config"
	server2 "recnode/server"
)

func server(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "start recording node",
		Run: func(cmd *cobra.Command, args []string) {
			server2.RunHttp(config)
		},
	}
}
