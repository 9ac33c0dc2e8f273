// Package app provides application initialization and dependency injection.
//
// App is the container that wires configuration, the database pool, the
// embedding registry, the ingestion pipeline and the retrieval engine
// together. Setup builds it; Close releases everything in reverse order.
package app

import (
	"context"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atendai/kbengine/internal/config"
	"github.com/atendai/kbengine/internal/embedding"
	"github.com/atendai/kbengine/internal/ingest"
	"github.com/atendai/kbengine/internal/log"
	"github.com/atendai/kbengine/internal/retrieval"
	"github.com/atendai/kbengine/internal/store"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	// Core services
	Genkit   *genkit.Genkit
	DBPool   *pgxpool.Pool
	Registry *embedding.Registry

	// Storage
	Staging *store.Staging
	Chunks  *store.Chunks

	// Pipeline
	Stager       *ingest.Stager
	Materializer *ingest.Materializer
	Engine       *retrieval.Engine

	// Lifecycle management
	dbCleanup func()
	cancel    context.CancelFunc
}

// Close gracefully shuts down all resources.
func (a *App) Close() error {
	a.Logger.Info("shutting down application")

	if a.cancel != nil {
		a.cancel()
	}

	if a.dbCleanup != nil {
		a.dbCleanup()
		a.Logger.Info("database pool closed")
	}

	return nil
}
