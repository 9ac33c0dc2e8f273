package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atendai/kbengine/db"
	"github.com/atendai/kbengine/internal/chunk"
	"github.com/atendai/kbengine/internal/config"
	"github.com/atendai/kbengine/internal/embedding"
	"github.com/atendai/kbengine/internal/ingest"
	"github.com/atendai/kbengine/internal/log"
	"github.com/atendai/kbengine/internal/reranker"
	"github.com/atendai/kbengine/internal/retrieval"
	"github.com/atendai/kbengine/internal/store"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = log.New(log.Config{})
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	pool, dbCleanup, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.dbCleanup = dbCleanup
	a.DBPool = pool

	g, ollamaPlugin, geminiEnabled, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	a.Registry = embedding.NewRegistry(cfg, g, ollamaPlugin, geminiEnabled, logger)

	a.Staging = store.NewStaging(pool, logger)
	a.Chunks = store.NewChunks(pool, logger)

	a.Stager = ingest.NewStager(a.Staging, nil, logger)
	a.Materializer = ingest.NewMaterializer(a.Staging, a.Chunks, a.Registry, chunk.Params{
		Size:                 cfg.ChunkSize,
		Overlap:              cfg.ChunkOverlap,
		BreakpointPercentile: cfg.BreakpointPercentile,
	}, logger)

	var hyde retrieval.Generator
	if cfg.HyDEModel != "" {
		if !geminiEnabled {
			logger.Warn("hyde_model is set but no Gemini credential is present, HyDE disabled",
				"model", cfg.HyDEModel)
		} else {
			hyde = retrieval.NewGenkitGenerator(g, cfg.HyDEModel)
		}
	}

	var rr reranker.Reranker
	if cfg.RerankerURL != "" {
		timeout := time.Duration(cfg.RerankerTimeout) * time.Second
		rr = reranker.NewHTTP(cfg.RerankerURL, timeout)
	}

	a.Engine = retrieval.NewEngine(a.Chunks, a.Registry, hyde, rr, logger)

	// Set up lifecycle management
	_, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	return a, nil
}

// provideGenkit initializes Genkit with the embedding provider plugins.
// The Ollama plugin is always loaded (resolution probes the host lazily);
// the GoogleAI plugin is loaded only when a Gemini credential is present,
// because its Init fails hard on a missing key.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, *ollama.Ollama, bool, error) {
	ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}

	geminiEnabled := os.Getenv("GEMINI_API_KEY") != "" || os.Getenv("GOOGLE_API_KEY") != ""

	var g *genkit.Genkit
	if geminiEnabled {
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin, &googlegenai.GoogleAI{}))
	} else {
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
	}
	if g == nil {
		return nil, nil, false, errors.New("initializing genkit")
	}

	logger.Info("initialized Genkit",
		"ollama_host", cfg.OllamaHost, "gemini_enabled", geminiEnabled)
	return g, ollamaPlugin, geminiEnabled, nil
}

// provideDBPool creates a PostgreSQL connection pool and runs migrations.
// Pool is configured with sensible defaults for connection management.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, func(), error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	cleanup := func() {
		pool.Close()
	}

	return pool, cleanup, nil
}
