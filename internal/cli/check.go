package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/yln-platform/sheetstore/internal/sheets"
	"github.com/yln-platform/sheetstore/pkg/types"
)

// checkResult is one line of the diagnostic report.
type checkResult struct {
	name string
	err  error
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Diagnose the remote backend configuration",
		Long: "Run independent checks against the configuration: config validity,\n" +
			"credential presence, spreadsheet reachability, and worksheet setup.\n" +
			"Each check reports pass or fail; the command exits nonzero when any fails.",
		RunE: runCheck,
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(flags.configFile)
	results := []checkResult{{name: "config valid", err: err}}
	if err != nil {
		report(out, results)
		return exitError(exitUserError, "configuration check failed")
	}
	if cfg.Backend != types.BackendRemote {
		fmt.Fprintln(out, "backend is local; remote checks skipped")
		report(out, results)
		return nil
	}

	credErr := error(nil)
	if cfg.CredentialsJSON == "" && cfg.CredentialsFile == "" {
		credErr = types.ErrCredentialsMissing
	}
	results = append(results, checkResult{name: "credentials configured", err: credErr})

	schemas := make(map[string]types.Schema)
	for _, sc := range types.BuiltinSchemas() {
		schemas[sc.EntityType] = sc
	}
	client, err := sheets.New(ctx, cfg, schemas)
	results = append(results, checkResult{name: "client constructed", err: err})

	if err == nil {
		results = append(results, checkResult{name: "spreadsheet reachable", err: client.Ping(ctx)})
		for _, sc := range types.BuiltinSchemas() {
			results = append(results, checkResult{
				name: fmt.Sprintf("worksheet %s", sc.EntityType),
				err:  client.EnsureWorksheet(ctx, sc.EntityType, sc),
			})
		}
	}

	failed := report(out, results)
	if failed > 0 {
		return exitError(exitSysError, fmt.Sprintf("%d check(s) failed", failed))
	}
	fmt.Fprintln(out, "all checks passed")
	return nil
}

func report(out io.Writer, results []checkResult) int {
	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s: %v\n", r.name, r.err)
			continue
		}
		fmt.Fprintf(out, "ok   %s\n", r.name)
	}
	return failed
}
