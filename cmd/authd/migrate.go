package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/appenteng/ai-assistant/cmd/internal/app"
	"github.com/appenteng/ai-assistant/cmd/internal/migrations"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long:  `Apply all pending migrations to the database at AUTH_DATABASE_URL.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if list {
				return listMigrations(cmd)
			}
			return runMigrate(cmd)
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "print the embedded migrations and exit")
	return cmd
}

func listMigrations(cmd *cobra.Command) error {
	names, err := migrations.Versions()
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "list migrations").Wrap(err)
	}
	for _, n := range names {
		cmd.Println(n)
	}
	return nil
}

func runMigrate(cmd *cobra.Command) error {
	cfg, log := loadConfig()
	if cfg.DatabaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("AUTH_DATABASE_URL environment variable is required")
	}

	cmd.Println("Running migrations...")
	if err := app.Migrate(cmd.Context(), cfg, log); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
	}

	cmd.Println("Migrations completed successfully")
	return nil
}
