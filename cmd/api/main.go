package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"taskflow/api/internal/config"
	"taskflow/api/internal/logging"
	"taskflow/api/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	cfg := config.Load()

	root := &cobra.Command{
		Use:           "taskflow-api",
		Short:         "Taskflow project management API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Setup(cfg.LogFormat, cfg.LogLevel)
		},
	}
	root.PersistentFlags().StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "Postgres connection string")
	root.PersistentFlags().StringVar(&cfg.MigrationsDir, "migrations", cfg.MigrationsDir, "directory holding *.up.sql and *.down.sql files")

	root.AddCommand(serveCommand(&cfg), migrateCommand(&cfg))
	return root
}

func migrateCommand(cfg *config.Config) *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations, or roll back the latest with --down",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := store.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			if down {
				version, err := store.RollbackMigration(ctx, db, cfg.MigrationsDir)
				if err != nil {
					return err
				}
				if version == "" {
					slog.Info("nothing to roll back")
					return nil
				}
				slog.Info("migration rolled back", "version", version)
				return nil
			}

			applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
			if err != nil {
				return err
			}
			slog.Info("migrations applied", "count", len(applied), "versions", applied)
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back the most recent migration")
	return cmd
}

func serveCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run migrations and start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), *cfg)
		},
	}
	cmd.Flags().StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	return cmd
}
