// Entity CRUD subcommands: thin wrappers over the persistence engine for
// scripting and inspection.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yln-platform/sheetstore/internal/codec"
	"github.com/yln-platform/sheetstore/pkg/types"
)

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <entity-type> <id>",
		Short: "Fetch one record by identifier",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := openEngine(ctx)
			if err != nil {
				return exitError(exitUserError, err.Error())
			}
			defer eng.Close()

			rec, err := eng.Read(ctx, args[0], args[1])
			if err != nil {
				return exitError(exitUserError, fmt.Sprintf("get: %s", err))
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
}

func newListCmd() *cobra.Command {
	var filters []string

	cmd := &cobra.Command{
		Use:   "list <entity-type>",
		Short: "List records, optionally filtered by field values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := openEngine(ctx)
			if err != nil {
				return exitError(exitUserError, err.Error())
			}
			defer eng.Close()

			filter := make(map[string]any, len(filters))
			for _, f := range filters {
				k, v, ok := strings.Cut(f, "=")
				if !ok {
					return exitError(exitUserError, fmt.Sprintf("malformed filter %q, want field=value", f))
				}
				filter[k] = v
			}

			recs, err := eng.List(ctx, args[0], filter)
			if err != nil {
				return exitError(exitUserError, fmt.Sprintf("list: %s", err))
			}
			return printJSON(cmd.OutOrStdout(), recs)
		},
	}

	cmd.Flags().StringArrayVar(&filters, "filter", nil, "field=value filter, repeatable")
	return cmd
}

func newCreateCmd() *cobra.Command {
	var fields []string

	cmd := &cobra.Command{
		Use:   "create <entity-type>",
		Short: "Create a record from field=value pairs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := openEngine(ctx)
			if err != nil {
				return exitError(exitUserError, err.Error())
			}
			defer eng.Close()

			schema, err := eng.Local().Schema(args[0])
			if err != nil {
				return exitError(exitUserError, err.Error())
			}
			rec, err := parseFields(schema, fields)
			if err != nil {
				return exitError(exitUserError, err.Error())
			}

			id, err := eng.Create(ctx, args[0], rec)
			if err != nil {
				return exitError(exitSysError, fmt.Sprintf("create: %s", err))
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&fields, "field", nil, "field=value pair, repeatable")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <entity-type> <id>",
		Short: "Delete one record by identifier",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := openEngine(ctx)
			if err != nil {
				return exitError(exitUserError, err.Error())
			}
			defer eng.Close()

			if err := eng.Delete(ctx, args[0], args[1]); err != nil {
				return exitError(exitUserError, fmt.Sprintf("delete: %s", err))
			}
			return nil
		},
	}
}

// parseFields converts field=value pairs into a record, coercing each
// value to the column's type by running it through the row codec.
func parseFields(schema types.Schema, fields []string) (types.Record, error) {
	row := make([]string, len(schema.Columns))
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			return nil, fmt.Errorf("malformed field %q, want field=value", f)
		}
		idx := -1
		for i, col := range schema.Columns {
			if col.Name == k {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("field %q: %w", k, types.ErrSchemaMismatch)
		}
		row[idx] = v
		seen[k] = true
	}

	rec := codec.Decode(row, schema)
	// Decode drops empty cells; keep only the fields that were passed.
	for k := range rec {
		if !seen[k] {
			delete(rec, k)
		}
	}
	return rec, nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
