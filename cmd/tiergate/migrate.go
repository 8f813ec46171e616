package main

import (
	"github.com/aman-churiwal/tier-gate/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		db, err := storage.NewPostgres(cfg.Database.DSN, cfg.Log.Level == "debug")
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.AutoMigrate(); err != nil {
			return err
		}

		logger.Info("database migrated", zap.String("environment", cfg.Server.Environment))
		return nil
	},
}
