package cmd

import (
	"fmt"
	"os"
	"os/signal"

	uart2wifi "github.com/eehut/uart2wifi"
	"github.com/eehut/uart2wifi/cli/common"
	"github.com/eehut/uart2wifi/internal/repo"
	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"
)

var log = logging.Logger("cmd")

// InitDaemonCmd creates the daemon command
func InitDaemonCmd(comm *common.Common) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Start uart2wifi daemon",
		Long: `
This command is used to start the uart2wifi daemon.

The daemon keeps the wifi connection alive, bridges the serial port
to tcp clients while the link is up and serves the control api used
by the other cli commands.
		`,
		Run: func(cmd *cobra.Command, args []string) {
			err := repo.Init(comm.Root, comm.Port)
			if err != nil {
				log.Error(err)
				os.Exit(1)
			}
			r, err := repo.Open(comm.Root)
			if err != nil {
				log.Error(err)
				os.Exit(1)
			}
			comm.Repo = r
			verbose, _ := cmd.Flags().GetBool("verbose")
			service, err := uart2wifi.New(comm.Context, comm.Cancel, r, uart2wifi.WithVerbose(verbose))
			if err != nil {
				log.Error(err)
				r.Close()
				os.Exit(1)
			}
			comm.Service = service
			cfg, err := r.Config()
			if err != nil {
				log.Error(err)
				os.Exit(1)
			}
			uart2wifiCli := `
 _   _     _     ____   _____  ____  __        __ ___  _____  ___
| | | |   / \   |  _ \ |_   _||___ \ \ \      / /|_ _||  ___||_ _|
| | | |  / _ \  | |_) |  | |    __) | \ \ /\ / /  | | | |_    | |
| |_| | / ___ \ |  _ <   | |   / __/   \ V  V /   | | |  _|   | |
 \___/ /_/   \_\|_| \_\  |_|  |_____|   \_/\_/   |___||_|    |___|
`
			fmt.Println(uart2wifiCli)
			fmt.Println("uart2wifi daemon running on port", cfg.APIPort)
			var sigChan chan os.Signal
			sigChan = make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt)
			select {
			case <-sigChan:
				fmt.Println()
				comm.Cancel()
			case <-comm.Context.Done():
			}
			<-service.Stopped
			err = r.Close()
			if err != nil {
				log.Error(err)
			}
		},
	}
	daemonCmd.Flags().BoolP("verbose", "v", false, "log bridged traffic")
	return daemonCmd
}
