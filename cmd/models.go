package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/atendai/kbengine/internal/app"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List embedding backends usable right now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runModels()
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}

func runModels() error {
	cfg, logger, err := loadConfig()
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

	available := a.Registry.ListAvailable(ctx)
	if len(available) == 0 {
		fmt.Println("No embedding backends are available.")
		fmt.Println("Set GEMINI_API_KEY, start an Ollama server, or configure tei_base_url.")
		return nil
	}

	defaultBackend := a.Registry.BackendFor("")
	for _, d := range available {
		marker := " "
		if d.ID == defaultBackend {
			marker = "*"
		}
		fmt.Printf("%s %-8s %s (%d dims)\n", marker, d.ID, d.DisplayName, d.Dimensionality)
	}
	return nil
}
