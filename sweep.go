package main

import (
	"fmt"

	"catalog-svc/database"
	"catalog-svc/imagestore"
	"catalog-svc/repository"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove image files no product references",
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

		images, err := imagestore.NewOS(cfg.ImageDir, logger)
		if err != nil {
			return err
		}

		res, err := newSweeper(repository.NewProductRepository(db), images, cfg, logger).Run(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "scanned %d, removed %d, failed %d\n", res.Scanned, res.Removed, res.Failed)
		return nil
	},
}
