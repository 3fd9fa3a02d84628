package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/database"
	_ "github.com/nerrad567/gray-logic-hub/migrations" // registers embedded SQL
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Inspect and migrate the hub database",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "List applied and pending schema migrations",
			RunE: withDB(func(cmd *cobra.Command, db *database.DB) error {
				applied, pending, err := db.MigrationStatus(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, m := range applied {
					fmt.Fprintf(out, "applied  %s_%s  %s\n", m.Version, m.Name, m.AppliedAt.Format("2006-01-02 15:04:05"))
				}
				for _, m := range pending {
					fmt.Fprintf(out, "pending  %s_%s\n", m.Version, m.Name)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply pending schema migrations",
			RunE: withDB(func(cmd *cobra.Command, db *database.DB) error {
				_, pending, err := db.MigrationStatus(cmd.Context())
				if err != nil {
					return err
				}
				if err := db.Migrate(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "applied %d migrations\n", len(pending))
				return nil
			}),
		},
		&cobra.Command{
			Use:   "rollback",
			Short: "Revert the newest schema migration",
			RunE: withDB(func(cmd *cobra.Command, db *database.DB) error {
				version, err := db.Rollback(cmd.Context())
				if err != nil {
					return err
				}
				if version == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "nothing to roll back")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s\n", version)
				return nil
			}),
		},
	)
	return cmd
}

// withDB opens the configured database around fn.
func withDB(fn func(cmd *cobra.Command, db *database.DB) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, path, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		db, err := database.Open(cmd.Context(), database.ConfigFrom(cfg.Database))
		if err != nil {
			return err
		}
		defer db.Close() //nolint:errcheck // read-mostly command
		return fn(cmd, db)
	}
}
