// Package retrieval executes scoped similarity queries against the chunk
// index. The engine dispatches one of four search modes, optionally expands
// the query with a hypothetical passage (HyDE) and optionally reranks the
// candidate pool with a cross-encoder, degrading to the pre-rerank order
// when the reranker is unavailable.
package retrieval

import (
	"context"
	"errors"

	"github.com/atendai/kbengine/internal/embedding"
	"github.com/atendai/kbengine/internal/store"
)

// SearchType selects the retrieval mode. Modes are mutually exclusive.
type SearchType string

const (
	// SearchText is lexical full-text match only; no embedding call.
	SearchText SearchType = "text"

	// SearchVector embeds the query and retrieves nearest neighbors.
	SearchVector SearchType = "vector"

	// SearchHybridRRF fuses text and vector rankings by reciprocal rank.
	SearchHybridRRF SearchType = "hybrid_rrf"

	// SearchHybridUnion merges text and vector candidate sets by
	// normalized-score union.
	SearchHybridUnion SearchType = "hybrid_union"
)

var (
	// ErrUnscopedQuery indicates no scope discriminator was supplied.
	// Every query must carry at least one of tenant, client, project or
	// namespace to prevent cross-tenant leakage and full-corpus scans.
	ErrUnscopedQuery = errors.New("unscoped query: set at least one of tenant, client, project or namespace")

	// ErrInvalidSearchType indicates an unknown search mode identifier.
	ErrInvalidSearchType = errors.New("invalid search type")

	// ErrMissingEmbeddingForMode indicates a vector or hybrid mode was
	// requested but no embedding backend could be resolved.
	ErrMissingEmbeddingForMode = errors.New("search mode requires an embedding backend")

	// ErrEmptyQuery indicates a blank query string.
	ErrEmptyQuery = errors.New("query must not be empty")
)

// Index is the set of retrieval-index primitives the engine calls.
// Implemented by store.Chunks; defined here at the consumer.
type Index interface {
	TextSearch(ctx context.Context, queryText string, k int32, filter store.Filter) ([]store.ScoredChunk, error)
	VectorSearch(ctx context.Context, queryVec []float32, k int32, threshold float64, filter store.Filter) ([]store.ScoredChunk, error)
	HybridSearchRRF(ctx context.Context, queryText string, queryVec []float32, k int32, threshold float64, filter store.Filter) ([]store.ScoredChunk, error)
	HybridSearchUnion(ctx context.Context, queryText string, queryVec []float32, k int32, threshold float64, filter store.Filter) ([]store.ScoredChunk, error)
}

// Resolver resolves embedding backends. Implemented by embedding.Registry.
type Resolver interface {
	Resolve(backendID string) (embedding.Embedder, error)
	BackendFor(projectID string) string
}

// Generator produces a hypothetical relevant passage for a query.
// Used by the HyDE expansion; implemented by GenkitGenerator.
type Generator interface {
	Hypothesize(ctx context.Context, query string) (string, error)
}

// Request describes one search call.
type Request struct {
	Query string
	K     int
	Type  SearchType

	// Filter must name at least one scope discriminator.
	Filter store.Filter

	// Threshold drops vector matches below this similarity; 0 disables.
	Threshold float64

	// Backend overrides the embedding backend for this call. Empty uses
	// the backend bound to the filter's project scope.
	Backend string

	// UseHyDE embeds a generated hypothetical passage instead of the raw
	// query text. Never implicit; per-call only.
	UseHyDE bool

	// Rerank reorders the candidate pool with the cross-encoder.
	Rerank bool

	// RerankCandidates sizes the candidate pool handed to the reranker.
	// Defaults to 4*K when zero.
	RerankCandidates int
}

// Response carries the ranked results plus observability flags for the
// optional stages.
type Response struct {
	Results []store.ScoredChunk

	// HyDEApplied reports whether the query vector came from a generated
	// hypothetical passage.
	HyDEApplied bool

	// RerankApplied reports whether cross-encoder ordering was used.
	RerankApplied bool

	// RerankFallback reports that reranking was requested but the backend
	// was unavailable, so results are in original candidate order.
	RerankFallback bool
}

// DefaultK is the result count used when Request.K is zero.
const DefaultK = 5
