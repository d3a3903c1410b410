package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var migrateSchema string

func init() {
	migrateCmd.Flags().StringVar(&migrateSchema, "schema", "", "apply this SQL file instead of the built-in schema")
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		newLogger(cfg)

		db, err := openDB(cfg)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()

		var fsys afero.Fs
		if migrateSchema != "" {
			fsys = afero.NewOsFs()
		}
		if err := db.Migrate(cmd.Context(), fsys, migrateSchema); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("Migration Completed", "driver", cfg.DBDriver)
		return nil
	},
}
