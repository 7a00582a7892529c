package cmd

import (
	"github.com/eehut/uart2wifi/cli/common"
	"github.com/eehut/uart2wifi/cli/out"
	"github.com/spf13/cobra"
)

// InitStatsCmd creates the stats command
func InitStatsCmd(comm *common.Common) *cobra.Command {
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Get bridge traffic statistics",
		Long: `
This command is used to get the bridge traffic counters. With the
reset flag the counters are zeroed after being read, so the printed
values are the final totals of the period.

Example:

	$ uart2wifi stats -j -p

	{
		"UARTTxBytes": 53100,
		"UARTRxBytes": 60244,
		"UARTTxDropBytes": 0,
		"UARTTxErrorBytes": 0,
		"UARTRxErrors": 0,
		"TCPTxBytes": 60244,
		"TCPRxBytes": 53100,
		"TCPTxErrorBytes": 0,
		"TCPConnectCount": 3,
		"TCPDisconnectCount": 2,
		"BufferOverflowCount": 0,
		"TotalUptime": 7205
	}
		`,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := comm.Client.Stats()
			if err != nil {
				return err
			}
			reset, _ := cmd.Flags().GetBool("reset")
			if reset {
				err = comm.Client.ResetStats()
				if err != nil {
					return err
				}
			}
			return out.Print(cmd, st, out.ParseFormat(cmd))
		},
	}
	statsCmd.Flags().Bool("reset", false, "zero the counters after reading them")
	return statsCmd
}
