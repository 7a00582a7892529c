package cmd

import (
	"os"

	"github.com/eehut/uart2wifi/cli/common"
	"github.com/spf13/cobra"
)

// InitCompletionCmd creates the completion command
func InitCompletionCmd(comm *common.Common) *cobra.Command {
	return &cobra.Command{
		Use:                   "completion [bash|zsh]",
		Short:                 "Generate completion script",
		Long:                  "To load completions",
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh"},
		Args:                  cobra.ExactValidArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(os.Stdout)
			case "zsh":
				return cmd.Root().GenZshCompletion(os.Stdout)
			}
			return nil
		},
	}
}
