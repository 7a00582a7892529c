package cmd

import (
	"fmt"

	"github.com/eehut/uart2wifi/cli/common"
	"github.com/eehut/uart2wifi/cli/out"
	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"
)

// InitDocCmd creates the doc command
func InitDocCmd(comm *common.Common) *cobra.Command {
	return &cobra.Command{
		Use:   "doc DIR",
		Short: "Generate cli documentation",
		Long: `
This command is used to generate markdown documentation for the
whole command tree.
		`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			err := doc.GenMarkdownTree(cmd.Root(), dir)
			if err != nil {
				return err
			}
			return out.Print(cmd, fmt.Sprintf("Documentation generated at %s", dir), out.ParseFormat(cmd))
		},
	}
}
