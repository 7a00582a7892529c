package cmd

import (
	"fmt"
	"strconv"

	"github.com/eehut/uart2wifi/cli/common"
	"github.com/eehut/uart2wifi/cli/out"
	"github.com/spf13/cobra"
)

// InitBaudCmd creates the baud command
func InitBaudCmd(comm *common.Common) *cobra.Command {
	return &cobra.Command{
		Use:   "baud RATE",
		Short: "Set the serial baud rate",
		Long: `
This command is used to change the serial baud rate. The rate is
applied to the open serial port immediately and remembered across
daemon restarts.

Example:

	$ uart2wifi baud 921600
		`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rate, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid baud rate %q", args[0])
			}
			err = comm.Client.SetBaudRate(rate)
			if err != nil {
				return err
			}
			st, err := comm.Client.BridgeStatus()
			if err != nil {
				return err
			}
			return out.Print(cmd, st, out.ParseFormat(cmd))
		},
	}
}
