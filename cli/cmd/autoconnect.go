package cmd

import (
	"fmt"

	"github.com/eehut/uart2wifi/cli/common"
	"github.com/eehut/uart2wifi/cli/out"
	"github.com/spf13/cobra"
)

type autoConnectState struct {
	Enabled bool
}

// InitAutoConnectCmd creates the autoconnect command
func InitAutoConnectCmd(comm *common.Common) *cobra.Command {
	autoConnectCmd := &cobra.Command{
		Use:   "autoconnect [on|off]",
		Short: "Show or change wifi auto connect",
		Long: `
This command is used to show or change the auto connect setting.
While auto connect is on the daemon keeps trying to bring the wifi
link up using the remembered networks.

Example:

	$ uart2wifi autoconnect
	$ uart2wifi autoconnect off
		`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				var enable bool
				switch args[0] {
				case "on":
					enable = true
				case "off":
					enable = false
				default:
					return fmt.Errorf("expected on or off, got %q", args[0])
				}
				err := comm.Client.SetAutoConnect(enable)
				if err != nil {
					return err
				}
			}
			enabled, err := comm.Client.AutoConnect()
			if err != nil {
				return err
			}
			return out.Print(cmd, autoConnectState{Enabled: enabled}, out.ParseFormat(cmd))
		},
	}
	autoConnectCmd.AddCommand(initAutoConnectOnceCmd(comm))
	return autoConnectCmd
}

func initAutoConnectOnceCmd(comm *common.Common) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Trigger a single auto connect pass",
		Long: `
This command is used to trigger a single auto connect pass without
changing the auto connect setting. Useful after resetting a network
while auto connect is off.
		`,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := comm.Client.AutoConnectOnce()
			if err != nil {
				return err
			}
			return out.Print(cmd, "Auto connect pass started", out.ParseFormat(cmd))
		},
	}
}
