package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/atendai/kbengine/internal/app"
	"github.com/atendai/kbengine/internal/chunk"
	"github.com/atendai/kbengine/internal/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show staged document and chunk counts for a scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStats()
	},
}

func init() {
	statsCmd.Flags().StringVar(&flagTenant, "tenant", "", "tenant scope")
	statsCmd.Flags().StringVar(&flagClient, "client", "", "client scope (UUID)")
	statsCmd.Flags().StringVar(&flagProject, "project", "", "project scope (UUID)")
	rootCmd.AddCommand(statsCmd)
}

func runStats() error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	scope, err := scopeFromFlags()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() { _ = a.Close() }()

	staged, err := a.Staging.CountStaged(ctx, scope)
	if err != nil {
		return fmt.Errorf("counting staged documents: %w", err)
	}
	fmt.Printf("Staged documents: %d\n", staged)

	for _, namespace := range []string{chunk.StrategyFixed, chunk.StrategyMarkdown, chunk.StrategySemantic} {
		count, err := a.Chunks.Count(ctx, store.Filter{Scope: scope, Namespace: namespace})
		if err != nil {
			return fmt.Errorf("counting chunks in %q: %w", namespace, err)
		}
		if count == 0 {
			continue
		}
		docs, err := a.Chunks.ListDocPaths(ctx, store.Filter{Scope: scope, Namespace: namespace})
		if err != nil {
			return fmt.Errorf("listing documents in %q: %w", namespace, err)
		}
		fmt.Printf("Namespace %-10s %d chunk(s) across %d document(s)\n", namespace+":", count, len(docs))
	}
	return nil
}
