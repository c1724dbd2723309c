package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/reviewflow/reviewflow/internal/challenge"
	"github.com/reviewflow/reviewflow/internal/config"
	"github.com/reviewflow/reviewflow/internal/database"
	"github.com/reviewflow/reviewflow/internal/queue"
	"github.com/reviewflow/reviewflow/internal/run"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database tables",
		Long: `Create the queue, run tracking and read-model tables if they do
not exist. Safe to run repeatedly.`,
		RunE: runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg := config.FromEnv()
	if cfg.Postgres.Host == "" || cfg.Postgres.Database == "" {
		return fmt.Errorf("migrate: postgres host and database are required")
	}

	db, err := database.Connect(cfg.Postgres)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer database.Close(db)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := queue.NewPostgresEngine(db).CreateTables(ctx); err != nil {
		return err
	}
	if err := run.NewSQLRepository(db).CreateTable(ctx); err != nil {
		return err
	}
	if err := challenge.NewSQLRepository(db).CreateTables(ctx); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
	return nil
}
