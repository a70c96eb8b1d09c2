package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync [entity-type...]",
		Short: "Push local records to the remote spreadsheet",
		Long: "Push every local record of the given entity types (default: all) to\n" +
			"the remote spreadsheet as identifier-keyed overwrites.",
		RunE: runSync,
	}
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	eng, err := openEngine(ctx)
	if err != nil {
		return exitError(exitUserError, err.Error())
	}
	defer eng.Close()

	results, err := eng.SyncAll(ctx, args...)
	if err != nil {
		return exitError(exitSysError, fmt.Sprintf("sync: %s", err))
	}

	failed := 0
	for entityType, res := range results {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d synced, %d errors\n",
			entityType, res.Synced, res.Errors)
		failed += res.Errors
	}
	if failed > 0 {
		return exitError(exitSysError, fmt.Sprintf("%d record(s) failed to sync", failed))
	}
	return nil
}
