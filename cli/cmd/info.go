package cmd

import (
	"github.com/eehut/uart2wifi/cli/common"
	"github.com/eehut/uart2wifi/cli/out"
	"github.com/eehut/uart2wifi/internal/api"
	"github.com/eehut/uart2wifi/internal/repo"
	"github.com/eehut/uart2wifi/version"
	"github.com/spf13/cobra"
)

type info struct {
	IsDaemonRunning bool
	api.Info
}

// InitInfoCmd creates the info command
func InitInfoCmd(comm *common.Common) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Get uart2wifi node information",
		Long: `
This command is used to get the local node information

Example:

	To pretty print the node info in json format

	$ uart2wifi info -j -p

	{
		"IsDaemonRunning": true,
		"version": "0.2.0",
		"config": {
			"DeviceName": "uart2wifi-9f3c",
			"APIPort": "5679",
			"UART": {
				"Device": "/dev/ttyUSB0"
			},
			"Radio": {
				"Driver": "nmcli",
				"Interface": "wlan0"
			}
		},
		"state_counter": 4,
		"wifi": {
			"State": "connected",
			"SSID": "office",
			"RSSI": -52,
			"IP": "192.168.1.50"
		},
		"bridge": {
			"server_running": true,
			"port_opened": true,
			"baudrate": 115200,
			"tcp_port": 5678,
			"client_count": 1
		}
	}
		`,
		RunE: func(cmd *cobra.Command, args []string) error {
			inf := &info{}
			v, err := comm.Client.Info()
			if err == nil {
				inf.IsDaemonRunning = true
				inf.Info = *v
				return out.Print(cmd, inf, out.ParseFormat(cmd))
			}
			log.Debug("daemon not reachable ", err)

			// Fall back to the repo on disk. This only works while no
			// daemon holds the repo lock.
			r, err := repo.Open(comm.Root)
			if err != nil {
				log.Error("Unable to open repo ", err)
				return err
			}
			defer r.Close()
			cfg, err := r.Config()
			if err != nil {
				log.Error("Unable to get config ", err)
				return err
			}
			inf.Version = version.CliVersion
			inf.Config = *cfg
			inf.StateCounter = r.State()
			return out.Print(cmd, inf, out.ParseFormat(cmd))
		},
	}
}
