package cmd

import (
	"github.com/eehut/uart2wifi/cli/common"
	"github.com/eehut/uart2wifi/cli/out"
	"github.com/spf13/cobra"
)

// InitNetworksCmd creates the networks command and its subcommands
func InitNetworksCmd(comm *common.Common) *cobra.Command {
	networksCmd := &cobra.Command{
		Use:   "networks",
		Short: "Manage remembered wifi networks",
		Long: `
This command is used to list the remembered wifi networks. Secrets
are never included in the listing.

Example:

	$ uart2wifi networks -j -p

	[
		{
			"SSID": "office",
			"EverSuccess": true,
			"UserDisconnected": false,
			"Sequence": 7
		}
	]
		`,
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := comm.Client.Networks()
			if err != nil {
				return err
			}
			return out.Print(cmd, records, out.ParseFormat(cmd))
		},
	}
	networksCmd.AddCommand(
		initNetworksAddCmd(comm),
		initNetworksRemoveCmd(comm),
		initNetworksResetCmd(comm),
	)
	return networksCmd
}

func initNetworksAddCmd(comm *common.Common) *cobra.Command {
	return &cobra.Command{
		Use:   "add SSID [SECRET]",
		Short: "Remember a wifi network without connecting",
		Long: `
This command is used to remember a wifi network credential without
connecting to it. Adding an already remembered ssid replaces its
secret.
		`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := ""
			if len(args) == 2 {
				secret = args[1]
			}
			err := comm.Client.AddNetwork(args[0], secret)
			if err != nil {
				return err
			}
			return out.Print(cmd, "Network added", out.ParseFormat(cmd))
		},
	}
}

func initNetworksRemoveCmd(comm *common.Common) *cobra.Command {
	return &cobra.Command{
		Use:   "remove SSID",
		Short: "Forget a remembered wifi network",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := comm.Client.RemoveNetwork(args[0])
			if err != nil {
				return err
			}
			return out.Print(cmd, "Network removed", out.ParseFormat(cmd))
		},
	}
}

func initNetworksResetCmd(comm *common.Common) *cobra.Command {
	return &cobra.Command{
		Use:   "reset SSID",
		Short: "Clear the failure marks of a remembered network",
		Long: `
This command is used to clear the demotion and on-purpose disconnect
marks of a remembered network, so auto connect considers it again.
		`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := comm.Client.ResetNetwork(args[0])
			if err != nil {
				return err
			}
			return out.Print(cmd, "Network reset", out.ParseFormat(cmd))
		},
	}
}
