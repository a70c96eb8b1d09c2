package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

const (
	version    = "0.1.0"
	modulePath = "github.com/yln-platform/sheetstore"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the sheetstore version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "sheetstore v%s\nmodule: %s\n", version, modulePath)
			return nil
		},
	}
}
