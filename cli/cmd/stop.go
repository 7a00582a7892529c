package cmd

import (
	"github.com/eehut/uart2wifi/cli/common"
	"github.com/spf13/cobra"
)

func InitStopCmd(comm *common.Common) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop uart2wifi daemon",
		Long: `
The command is used to stop the uart2wifi daemon
		`,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := comm.Client.Shutdown()
			if err != nil {
				return err
			}
			cmd.Printf("Daemon Stopped")
			return nil
		},
	}
}
