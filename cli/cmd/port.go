package cmd

import (
	"fmt"
	"strconv"

	"github.com/eehut/uart2wifi/cli/common"
	"github.com/eehut/uart2wifi/cli/out"
	"github.com/spf13/cobra"
)

// InitPortCmd creates the port command
func InitPortCmd(comm *common.Common) *cobra.Command {
	return &cobra.Command{
		Use:   "port PORT",
		Short: "Set the bridge tcp port",
		Long: `
This command is used to change the tcp port the bridge listens on.
The port is remembered across daemon restarts. A running server keeps
its current port, the new one takes effect on the next server start.

Example:

	$ uart2wifi port 5678
		`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid tcp port %q", args[0])
			}
			err = comm.Client.SetTCPPort(port)
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
