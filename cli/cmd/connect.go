package cmd

import (
	"github.com/eehut/uart2wifi/cli/common"
	"github.com/eehut/uart2wifi/cli/out"
	"github.com/spf13/cobra"
)

// InitConnectCmd creates the connect command
func InitConnectCmd(comm *common.Common) *cobra.Command {
	return &cobra.Command{
		Use:   "connect SSID [SECRET]",
		Short: "Connect to a wifi network",
		Long: `
This command is used to connect to a wifi network. The credential is
remembered, so the daemon reconnects to the network on its own later.
Omit the secret for open networks.

Example:

	$ uart2wifi connect office secret123
	$ uart2wifi connect cafe
		`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := ""
			if len(args) == 2 {
				secret = args[1]
			}
			st, err := comm.Client.Connect(args[0], secret)
			if err != nil {
				return err
			}
			return out.Print(cmd, st, out.ParseFormat(cmd))
		},
	}
}
