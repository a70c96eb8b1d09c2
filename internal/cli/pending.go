package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yln-platform/sheetstore/pkg/types"
)

func newPendingCmd() *cobra.Command {
	var entityType string

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Show the retry queue",
		Long: "Show queue depth by status, and with --entity-type the individual\n" +
			"pending writes for that entity type.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := openEngine(ctx)
			if err != nil {
				return exitError(exitUserError, err.Error())
			}
			defer eng.Close()

			out := cmd.OutOrStdout()
			for _, status := range []types.PendingStatus{
				types.StatusQueued, types.StatusInFlight, types.StatusAbandoned,
			} {
				n, err := eng.PendingCount(ctx, status)
				if err != nil {
					return exitError(exitSysError, fmt.Sprintf("pending: %s", err))
				}
				fmt.Fprintf(out, "%-10s %d\n", status, n)
			}

			if entityType == "" {
				return nil
			}
			entries, err := eng.Local().ListPending(ctx, entityType)
			if err != nil {
				return exitError(exitSysError, fmt.Sprintf("pending: %s", err))
			}
			for _, pw := range entries {
				fmt.Fprintf(out, "%s %s %s attempts=%d next=%s last_error=%q\n",
					pw.Op, pw.RecordID, pw.Status, pw.Attempts,
					pw.NextAttemptAt.Format(types.TimeFormat), pw.LastError)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&entityType, "entity-type", "", "list individual entries for this entity type")
	return cmd
}
