package cli

import (
	"github.com/rudransh-shrivastava/netspeed/internal/db"
	"github.com/rudransh-shrivastava/netspeed/internal/report"
	"github.com/rudransh-shrivastava/netspeed/internal/store"
	"github.com/spf13/cobra"
)

var serversHistory string

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "list servers recorded by client --history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		gdb, err := db.Open(serversHistory)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close(gdb) }()

		servers, err := store.NewServerStore(gdb).ListServers(cmd.Context())
		if err != nil {
			return err
		}
		return report.NewWriter(cmd.OutOrStdout(), writerColor(cmd.OutOrStdout())).Servers(servers)
	},
}

func init() {
	serversCmd.Flags().StringVar(&serversHistory, "history", "netspeed.sqlite3", "sqlite file written by client --history")
}
