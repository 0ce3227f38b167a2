package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shardcore/updatecore/internal/config"
	"github.com/shardcore/updatecore/internal/logging"
	"github.com/shardcore/updatecore/internal/updatelog/pgstore"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending journal schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), *configPath)
		},
	}
}

func runMigrate(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Journal.DSN == "" {
		return fmt.Errorf("journal.dsn must be set to run migrations")
	}

	logger := logging.New(cfg.Log)
	log, err := pgstore.Open(ctx, pgstore.Config{
		DSN:            cfg.Journal.DSN,
		MaxConnections: cfg.Journal.MaxConnections,
		ConnectTimeout: cfg.Journal.ConnectTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer log.Close(ctx)

	logger.Info("journal migrations applied")
	return nil
}
