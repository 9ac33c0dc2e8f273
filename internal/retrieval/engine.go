package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/atendai/kbengine/internal/reranker"
	"github.com/atendai/kbengine/internal/store"
)

const (
	// embedRetries bounds transient-failure retries for the query
	// embedding call. Configuration errors are never retried.
	embedRetries = 3

	// embedRetryBase is the initial backoff; it doubles per attempt.
	embedRetryBase = 200 * time.Millisecond
)

// Engine executes search requests. It holds no locks and spawns no
// background goroutines; hybrid lookups fan out per call and join before
// fusion inside the Index implementation.
//
// Engine is safe for concurrent use by multiple goroutines.
type Engine struct {
	index    Index
	resolver Resolver
	hyde     Generator         // nil disables HyDE
	reranker reranker.Reranker // nil disables reranking
	logger   *slog.Logger
}

// NewEngine creates a retrieval engine. hyde and rr may be nil; requests
// that ask for the missing enhancement degrade to the plain search with a
// warn log instead of failing.
func NewEngine(index Index, resolver Resolver, hyde Generator, rr reranker.Reranker, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		index:    index,
		resolver: resolver,
		hyde:     hyde,
		reranker: rr,
		logger:   logger,
	}
}

// Search runs one query. The filter policy is enforced before any index or
// backend call: a request without a scope discriminator fails with
// ErrUnscopedQuery.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, ErrEmptyQuery
	}
	if req.Filter.Empty() {
		return nil, ErrUnscopedQuery
	}

	k := req.K
	if k <= 0 {
		k = DefaultK
	}
	poolSize := k
	if req.Rerank {
		poolSize = req.RerankCandidates
		if poolSize <= 0 {
			poolSize = 4 * k
		}
		if poolSize < k {
			poolSize = k
		}
	}

	resp := &Response{}

	candidates, err := e.retrieve(ctx, req, int32(poolSize), resp)
	if err != nil {
		return nil, err
	}

	if req.Rerank {
		candidates = e.rerank(ctx, req.Query, candidates, k, resp)
	}

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	resp.Results = candidates
	return resp, nil
}

// retrieve dispatches the search mode and returns the candidate pool.
func (e *Engine) retrieve(ctx context.Context, req Request, k int32, resp *Response) ([]store.ScoredChunk, error) {
	switch req.Type {
	case SearchText:
		return e.index.TextSearch(ctx, req.Query, k, req.Filter)

	case SearchVector:
		queryVec, err := e.queryVector(ctx, req, resp)
		if err != nil {
			return nil, err
		}
		return e.index.VectorSearch(ctx, queryVec, k, req.Threshold, req.Filter)

	case SearchHybridRRF:
		queryVec, err := e.queryVector(ctx, req, resp)
		if err != nil {
			return nil, err
		}
		return e.index.HybridSearchRRF(ctx, req.Query, queryVec, k, req.Threshold, req.Filter)

	case SearchHybridUnion:
		queryVec, err := e.queryVector(ctx, req, resp)
		if err != nil {
			return nil, err
		}
		return e.index.HybridSearchUnion(ctx, req.Query, queryVec, k, req.Threshold, req.Filter)

	default:
		return nil, fmt.Errorf("%w: %q (expected text, vector, hybrid_rrf or hybrid_union)", ErrInvalidSearchType, req.Type)
	}
}

// queryVector resolves the embedding backend and embeds the query text,
// optionally replacing it with a generated hypothetical passage first.
// An embedding failure here is fatal for the search: vector and hybrid
// modes cannot run without a query vector.
func (e *Engine) queryVector(ctx context.Context, req Request, resp *Response) ([]float32, error) {
	backendID := req.Backend
	if backendID == "" {
		backendID = e.resolver.BackendFor(req.Filter.ProjectID)
	}
	embedder, err := e.resolver.Resolve(backendID)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving %q: %w", ErrMissingEmbeddingForMode, backendID, err)
	}

	embedText := req.Query
	if req.UseHyDE {
		if e.hyde == nil {
			e.logger.Warn("hyde requested but no generation model is configured, embedding raw query")
		} else if passage, hydeErr := e.hyde.Hypothesize(ctx, req.Query); hydeErr != nil {
			// Expansion is best-effort; fall back to the raw query but
			// keep the degradation visible.
			e.logger.Warn("hyde expansion failed, embedding raw query", "error", hydeErr)
		} else if passage != "" {
			embedText = passage
			resp.HyDEApplied = true
		}
	}

	var vec []float32
	err = withRetry(ctx, embedRetries, embedRetryBase, func() error {
		var embedErr error
		vec, embedErr = embedder.EmbedQuery(ctx, embedText)
		return embedErr
	})
	if err != nil {
		return nil, fmt.Errorf("embedding query with backend %q: %w", backendID, err)
	}
	return vec, nil
}

// rerank reorders candidates with the cross-encoder and truncates to k.
// Any reranker failure degrades to the pre-rerank ordering; the degradation
// is surfaced on the response and logged, never silent.
func (e *Engine) rerank(ctx context.Context, query string, candidates []store.ScoredChunk, k int, resp *Response) []store.ScoredChunk {
	if e.reranker == nil {
		e.logger.Warn("rerank requested but no reranker is configured, returning original order")
		resp.RerankFallback = true
		return candidates
	}
	if len(candidates) == 0 {
		return candidates
	}

	pool := make([]reranker.Candidate, len(candidates))
	for i, c := range candidates {
		pool[i] = reranker.Candidate{Content: c.Content, Score: c.Score}
	}

	results, err := e.reranker.Rerank(ctx, query, pool, k)
	if err != nil {
		e.logger.Warn("reranker unavailable, returning original candidate order", "error", err)
		resp.RerankFallback = true
		return candidates
	}

	reordered := make([]store.ScoredChunk, 0, len(results))
	for _, r := range results {
		sc := candidates[r.OriginalRank]
		sc.Score = r.Score
		reordered = append(reordered, sc)
	}
	resp.RerankApplied = true
	return reordered
}

// withRetry retries fn with exponential backoff on transient failures.
// Context cancellation stops retrying immediately.
func withRetry(ctx context.Context, attempts int, base time.Duration, fn func() error) error {
	var err error
	delay := base
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		select {
		case <-time.After(delay):
			delay *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
