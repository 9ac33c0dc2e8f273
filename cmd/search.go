package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/atendai/kbengine/internal/app"
	"github.com/atendai/kbengine/internal/retrieval"
	"github.com/atendai/kbengine/internal/store"
)

var (
	flagSearchK         int
	flagSearchType      string
	flagSearchNamespace string
	flagThreshold       float64
	flagSearchBackend   string
	flagHyDE            bool
	flagRerank          bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Query the retrieval index",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSearch(strings.Join(args, " "))
	},
}

func init() {
	searchCmd.Flags().IntVarP(&flagSearchK, "k", "k", retrieval.DefaultK, "number of results")
	searchCmd.Flags().StringVar(&flagSearchType, "type", string(retrieval.SearchHybridRRF), "search mode: text, vector, hybrid_rrf or hybrid_union")
	searchCmd.Flags().StringVar(&flagTenant, "tenant", "", "tenant scope")
	searchCmd.Flags().StringVar(&flagClient, "client", "", "client scope (UUID)")
	searchCmd.Flags().StringVar(&flagProject, "project", "", "project scope (UUID)")
	searchCmd.Flags().StringVar(&flagSearchNamespace, "namespace", "", "chunk namespace")
	searchCmd.Flags().Float64Var(&flagThreshold, "threshold", 0, "minimum vector similarity (0 disables)")
	searchCmd.Flags().StringVar(&flagSearchBackend, "backend", "", "embedding backend override")
	searchCmd.Flags().BoolVar(&flagHyDE, "hyde", false, "expand the query with a hypothetical passage before embedding")
	searchCmd.Flags().BoolVar(&flagRerank, "rerank", false, "rerank candidates with the cross-encoder")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(query string) error {
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

	resp, err := a.Engine.Search(ctx, retrieval.Request{
		Query: query,
		K:     flagSearchK,
		Type:  retrieval.SearchType(flagSearchType),
		Filter: store.Filter{
			Scope:     store.Scope{TenantID: flagTenant, ClientID: flagClient, ProjectID: flagProject},
			Namespace: flagSearchNamespace,
		},
		Threshold: flagThreshold,
		Backend:   flagSearchBackend,
		UseHyDE:   flagHyDE,
		Rerank:    flagRerank,
	})
	if err != nil {
		return err
	}

	if len(resp.Results) == 0 {
		fmt.Println("No results.")
		return nil
	}
	if resp.HyDEApplied {
		fmt.Println("(query expanded via hypothetical passage)")
	}
	if resp.RerankFallback {
		fmt.Println("(reranker unavailable, results in original order)")
	}
	for i, sc := range resp.Results {
		fmt.Printf("%2d. [%.4f] %s #%d (%s)\n", i+1, sc.Score, sc.DocPath, sc.ChunkIndex, sc.Namespace)
		fmt.Printf("    %s\n", firstLine(sc.Content, 160))
	}
	return nil
}

// firstLine returns the first line of s truncated to max runes.
func firstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	runes := []rune(s)
	if len(runes) > max {
		return string(runes[:max]) + "…"
	}
	return s
}
