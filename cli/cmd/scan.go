package cmd

import (
	"time"

	"github.com/eehut/uart2wifi/cli/common"
	"github.com/eehut/uart2wifi/cli/out"
	"github.com/spf13/cobra"
)

// InitScanCmd creates the scan command
func InitScanCmd(comm *common.Common) *cobra.Command {
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for nearby wifi networks",
		Long: `
This command is used to scan for nearby wifi networks. The command
blocks until the scan finishes or the timeout expires.

Example:

	$ uart2wifi scan -j -p

	[
		{
			"SSID": "office",
			"BSSID": "aa:bb:cc:dd:ee:ff",
			"RSSI": -52,
			"Auth": "WPA2"
		},
		{
			"SSID": "cafe",
			"BSSID": "11:22:33:44:55:66",
			"RSSI": -70,
			"Auth": "OPEN"
		}
	]
		`,
		RunE: func(cmd *cobra.Command, args []string) error {
			secs, _ := cmd.Flags().GetInt("timeout")
			networks, err := comm.Client.Scan(time.Duration(secs) * time.Second)
			if err != nil {
				return err
			}
			return out.Print(cmd, networks, out.ParseFormat(cmd))
		},
	}
	scanCmd.Flags().Int("timeout", 10, "seconds to wait for the scan")
	return scanCmd
}
