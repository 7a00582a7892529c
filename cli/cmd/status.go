package cmd

import (
	"github.com/eehut/uart2wifi/cli/common"
	"github.com/eehut/uart2wifi/cli/out"
	"github.com/spf13/cobra"
)

// InitStatusCmd creates the status command
func InitStatusCmd(comm *common.Common) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Get wifi connection status",
		Long: `
This command is used to get the current wifi connection status

Example:

	$ uart2wifi status -j -p

	{
		"State": "connected",
		"SSID": "office",
		"BSSID": "aa:bb:cc:dd:ee:ff",
		"RSSI": -52,
		"IP": "192.168.1.50",
		"Netmask": "255.255.255.0",
		"Gateway": "192.168.1.1",
		"DNS": [
			"192.168.1.1"
		],
		"ConnectedFor": 128
	}
		`,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := comm.Client.Status()
			if err != nil {
				return err
			}
			return out.Print(cmd, st, out.ParseFormat(cmd))
		},
	}
}
