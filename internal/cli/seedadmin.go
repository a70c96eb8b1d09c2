package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSeedAdminCmd() *cobra.Command {
	var email, passwordHash string

	cmd := &cobra.Command{
		Use:   "seed-admin",
		Short: "Create a verified admin user if absent",
		Long: "Create a verified admin user keyed by email. The password hash is\n" +
			"stored as given; hash it before passing it in.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := openEngine(ctx)
			if err != nil {
				return exitError(exitUserError, err.Error())
			}
			defer eng.Close()

			id, created, err := eng.SeedAdmin(ctx, email, passwordHash)
			if err != nil {
				return exitError(exitSysError, fmt.Sprintf("seed admin: %s", err))
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "admin created: %s\n", id)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "admin already exists: %s\n", id)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "admin email (required)")
	cmd.Flags().StringVar(&passwordHash, "password-hash", "", "pre-hashed admin credential (required)")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("password-hash")
	return cmd
}
