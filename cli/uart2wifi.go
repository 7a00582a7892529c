package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/eehut/uart2wifi/cli/cmd"
	"github.com/eehut/uart2wifi/cli/common"
	"github.com/eehut/uart2wifi/internal/api"
	"github.com/eehut/uart2wifi/internal/config"
	"github.com/eehut/uart2wifi/internal/repo"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
)

var comm *common.Common

var rootCmd = &cobra.Command{
	Use:   "uart2wifi",
	Short: "This is uart2wifi cli client",
	Long: `
The uart2wifi cli manages a serial to wifi bridge daemon. Run the
daemon first, then use the other commands to manage wifi credentials,
the connection and the tcp bridge.
	`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		comm.Root, _ = cmd.Flags().GetString("root")
		comm.Port, _ = cmd.Flags().GetString("port")
		comm.Client = api.NewClient(comm.Port)
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("uart2wifi")
	},
}

func init() {
	home, err := homedir.Dir()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	comm = common.New(context.Background(), filepath.Join(home, repo.Root), config.APIPort)
	rootCmd.PersistentFlags().String("root", comm.Root, "uart2wifi repository root")
	rootCmd.PersistentFlags().StringP("port", "P", config.APIPort, "daemon api port")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json formatted output")
	rootCmd.PersistentFlags().BoolP("pretty", "p", false, "pretty json output")
	rootCmd.AddCommand(
		cmd.InitDaemonCmd(comm),
		cmd.InitStopCmd(comm),
		cmd.InitInfoCmd(comm),
		cmd.InitStatusCmd(comm),
		cmd.InitConnectCmd(comm),
		cmd.InitDisconnectCmd(comm),
		cmd.InitScanCmd(comm),
		cmd.InitNetworksCmd(comm),
		cmd.InitAutoConnectCmd(comm),
		cmd.InitStatsCmd(comm),
		cmd.InitBaudCmd(comm),
		cmd.InitPortCmd(comm),
		cmd.InitServerCmd(comm),
		cmd.InitVersionCmd(comm),
		cmd.InitCompletionCmd(comm),
		cmd.InitDocCmd(comm),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
