package main

import (
	"github.com/blues/agapay/internal/database"
	"github.com/blues/agapay/internal/logger"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the moderation tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.Init(conf.Database)
		if err != nil {
			return err
		}
		if err := database.Migrate(db); err != nil {
			return err
		}
		logger.Info("Database migrated")
		return nil
	},
}
