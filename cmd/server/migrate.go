package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"examportal/internal/config"
	"examportal/internal/db"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.StorageType != config.StorageTypePostgres {
				return fmt.Errorf("migrate requires STORAGE=%s", config.StorageTypePostgres)
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			pool, err := db.NewPool(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("db connection failed: %w", err)
			}
			defer pool.Close()
			if err := db.Migrate(ctx, pool); err != nil {
				return err
			}
			logger.Info("schema applied")
			return nil
		},
	}
}
