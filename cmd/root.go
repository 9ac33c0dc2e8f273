// Package cmd implements the kbengine command-line interface.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/atendai/kbengine/internal/config"
	"github.com/atendai/kbengine/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "kbengine",
	Short: "Knowledge-base ingestion and retrieval engine",
	Long: `kbengine stages raw documents, chunks and embeds them into a
PostgreSQL/pgvector index, and serves scoped text, vector and hybrid
retrieval over HTTP and the CLI.`,
	SilenceUsage: true,
}

var flagVerbose bool

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
}

// loadConfig loads and validates configuration, returning it with a logger
// honoring the --verbose flag.
func loadConfig() (*config.Config, log.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("validating config: %w", err)
	}

	logCfg := log.Config{}
	if flagVerbose {
		logCfg.Level = slog.LevelDebug
	}
	return cfg, log.New(logCfg), nil
}
