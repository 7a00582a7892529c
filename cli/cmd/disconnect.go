package cmd

import (
	"github.com/eehut/uart2wifi/cli/common"
	"github.com/eehut/uart2wifi/cli/out"
	"github.com/spf13/cobra"
)

// InitDisconnectCmd creates the disconnect command
func InitDisconnectCmd(comm *common.Common) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Disconnect from the current wifi network",
		Long: `
This command is used to disconnect from the current wifi network.
The network is marked as left on purpose, so auto connect will not
pick it again until it is reset or connected explicitly.
		`,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := comm.Client.Disconnect()
			if err != nil {
				return err
			}
			return out.Print(cmd, "Disconnected", out.ParseFormat(cmd))
		},
	}
}
