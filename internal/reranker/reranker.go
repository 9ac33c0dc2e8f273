// Package reranker reorders a retrieval candidate pool with a cross-encoder
// relevance model. Backends return differently shaped payloads across
// versions, so the HTTP adapter normalizes everything to the single Result
// type at the integration boundary; no shape-sniffing leaks into ranking
// code.
package reranker

import (
	"context"
	"errors"
)

// ErrUnavailable indicates the reranker backend cannot serve the request.
// Callers treat this as recoverable and fall back to the pre-rerank order.
var ErrUnavailable = errors.New("reranker unavailable")

// Candidate is one pre-rerank pool entry.
type Candidate struct {
	Content string
	Score   float64
}

// Result is a re-scored candidate. OriginalRank is the candidate's 0-based
// position in the input pool.
type Result struct {
	Content      string
	Score        float64
	OriginalRank int
}

// Reranker reorders candidates by relevance to the query.
type Reranker interface {
	// Rerank returns candidates sorted by descending cross-encoder score,
	// truncated to topK.
	Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Result, error)

	// Close releases backend resources.
	Close() error
}
