// Package cli implements the sheetstore command-line interface.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/yln-platform/sheetstore/internal/engine"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configFile string
	dataDir    string
	verbose    bool
}

var flags rootFlags

// NewRootCmd creates the top-level "sheetstore" command with global flags
// and all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sheetstore",
		Short: "Entity storage over a local database or a remote spreadsheet",
		Long: "Sheetstore persists typed entity records in either a local embedded\n" +
			"database or a remote spreadsheet, selected by configuration. Remote\n" +
			"failures are absorbed into a durable retry queue.",
		// Do not print usage on errors returned by subcommands.
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.configFile, "config", "", "config file (default: ./config.yaml)")
	root.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "data directory override")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newCheckCmd())
	root.AddCommand(newSyncCmd())
	root.AddCommand(newSeedAdminCmd())
	root.AddCommand(newGetCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newCreateCmd())
	root.AddCommand(newDeleteCmd())
	root.AddCommand(newPendingCmd())

	return root
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(exitUserError)
	}
}

// newLogger builds the process logger honoring --verbose.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if flags.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openEngine loads config and builds an engine. The caller owns Close.
func openEngine(ctx context.Context) (*engine.Engine, error) {
	cfg, err := loadConfig(flags.configFile)
	if err != nil {
		return nil, err
	}
	if flags.dataDir != "" {
		cfg.DataDir = flags.dataDir
	}
	return engine.New(ctx, cfg, engine.WithLogger(newLogger()))
}

// exitError prints the error to stderr and exits with the given code.
func exitError(code int, msg string) error {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(code)
	return nil // unreachable
}
