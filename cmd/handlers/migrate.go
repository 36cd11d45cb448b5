package handlers

import (
	"context"
	"fmt"

	"storyline/internal/config"
	"storyline/internal/persistence"

	"github.com/spf13/cobra"
)

// NewMigrateCmd creates the migrate command for database migrations
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long: `Manage database schema migrations.

Subcommands:
  up       Apply all pending migrations
  status   Show migration status

Applied migrations are tracked in the schema_migrations table and new ones
are applied in version order, each in its own transaction.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateUp(cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateStatus(cmd)
		},
	})

	return cmd
}

func withMigrations(ctx context.Context, fn func(*persistence.MigrationManager) error) error {
	db, err := persistence.NewPostgresDB(config.Get().Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	return fn(persistence.NewMigrationManager(db))
}

func runMigrateUp(cmd *cobra.Command) error {
	return withMigrations(cmd.Context(), func(m *persistence.MigrationManager) error {
		applied, err := m.Migrate(cmd.Context())
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		if applied == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("✓ Database schema is up to date"))
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(fmt.Sprintf("✓ Applied %d migration(s)", applied)))
		return nil
	})
}

func runMigrateStatus(cmd *cobra.Command) error {
	return withMigrations(cmd.Context(), func(m *persistence.MigrationManager) error {
		status, err := m.Status(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to read migration status: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, headerStyle.Render("Migrations"))
		pending := 0
		for _, s := range status {
			mark := okStyle.Render("✓ applied")
			if !s.Applied {
				mark = warnStyle.Render("• pending")
				pending++
			}
			fmt.Fprintf(out, "  %03d  %-40s %s\n", s.Version, s.Description, mark)
		}
		fmt.Fprintf(out, "\n%d total, %d pending\n", len(status), pending)
		return nil
	})
}
