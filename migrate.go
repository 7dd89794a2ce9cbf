package main

import (
	"catalog-svc/database"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the products table if it does not exist",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg.LogLevel)
		defer logger.Sync()

		db, err := database.InitDB(cfg.DSN(), logger)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := database.Migrate(cmd.Context(), db, logger); err != nil {
			logger.Error("Migration failed", zap.Error(err))
			return err
		}
		return nil
	},
}
