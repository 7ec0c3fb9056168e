package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/abcdlsj/tele/internal/client"
	"github.com/abcdlsj/tele/internal/server"
	"github.com/abcdlsj/tele/internal/share"
)

func main() {
	var RootCmd = &cobra.Command{
		Use:  "tele",
		Long: "tele bridges local tcp and udp traffic to remote services through a tunnel.",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	RootCmd.AddCommand(server.Command())
	RootCmd.AddCommand(client.Command())

	RootCmd.Version = fmt.Sprintf("%s; buildstamp %s", share.GetVersion(), share.BuildStamp)

	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
