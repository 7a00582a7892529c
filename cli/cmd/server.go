package cmd

import (
	"github.com/eehut/uart2wifi/cli/common"
	"github.com/eehut/uart2wifi/cli/out"
	"github.com/spf13/cobra"
)

// InitServerCmd creates the server command and its subcommands
func InitServerCmd(comm *common.Common) *cobra.Command {
	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Control the bridge tcp server",
		Long: `
This command is used to show the bridge server state. The daemon
normally starts and stops the server with the wifi link, the start
and stop subcommands override that manually.

Example:

	$ uart2wifi server -j -p

	{
		"server_running": true,
		"port_opened": true,
		"baudrate": 115200,
		"tcp_port": 5678,
		"client_count": 1
	}
		`,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := comm.Client.BridgeStatus()
			if err != nil {
				return err
			}
			return out.Print(cmd, st, out.ParseFormat(cmd))
		},
	}
	serverCmd.AddCommand(initServerStartCmd(comm), initServerStopCmd(comm))
	return serverCmd
}

func initServerStartCmd(comm *common.Common) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the bridge tcp server",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := comm.Client.StartServer()
			if err != nil {
				return err
			}
			return out.Print(cmd, st, out.ParseFormat(cmd))
		},
	}
}

func initServerStopCmd(comm *common.Common) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the bridge tcp server",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := comm.Client.StopServer()
			if err != nil {
				return err
			}
			return out.Print(cmd, st, out.ParseFormat(cmd))
		},
	}
}
