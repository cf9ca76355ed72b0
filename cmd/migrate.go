package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	pgstore "github.com/JakeFAU/kblog/internal/storage/postgres"
)

var runMigrations = pgstore.RunMigrations

func newMigrateCmd() *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:         "migrate",
		Short:       "Apply the submission database migrations",
		Annotations: map[string]string{buildAnnotation: buildNone},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if list {
				names, err := pgstore.MigrationNames()
				if err != nil {
					return fmt.Errorf("list migrations: %w", err)
				}
				for _, name := range names {
					fmt.Fprintln(out, name)
				}
				return nil
			}
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return errors.New("database.url (or DATABASE_URL) is required")
			}
			version, dirty, err := runMigrations(cfg.Database.URL)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Database at version %d (dirty=%t)\n", version, dirty)
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list embedded migrations without connecting")
	return cmd
}
