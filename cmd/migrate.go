package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/atendai/kbengine/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Migrate applies the embedded schema migrations to the configured
PostgreSQL database. Serving also migrates on startup; this command exists
for provisioning a database ahead of time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrate()
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate() error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	fmt.Println("Migrations applied.")
	return nil
}
