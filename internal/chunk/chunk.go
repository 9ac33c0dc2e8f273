// Package chunk splits document text into retrievable units under one of
// three strategies: fixed sliding-window, markdown structure-aware, and
// semantic embedding-distance splitting.
//
// Strategy selection is strict: a strategy either succeeds or fails
// explicitly. Silently substituting a different strategy than the one
// requested is treated as a correctness bug, so semantic splitting without
// an embedder returns ErrEmbedderRequired instead of downgrading to fixed.
package chunk

import (
	"context"
	"errors"
	"fmt"
)

// Strategy identifiers accepted by Split.
const (
	StrategyFixed    = "fixed"
	StrategyMarkdown = "markdown"
	StrategySemantic = "semantic"
)

var (
	// ErrInvalidStrategy indicates an unknown chunking strategy name.
	ErrInvalidStrategy = errors.New("invalid chunking strategy")

	// ErrEmbedderRequired indicates semantic chunking was requested
	// without an embedding backend.
	ErrEmbedderRequired = errors.New("semantic chunking requires an embedding backend")

	// ErrInvalidParams indicates out-of-range chunking parameters.
	ErrInvalidParams = errors.New("invalid chunking parameters")
)

// Params tunes the splitting behavior.
type Params struct {
	// Size is the fixed-strategy window length in runes.
	Size int
	// Overlap is how many trailing runes of a chunk reappear at the head
	// of the next one. Must be < Size.
	Overlap int
	// BreakpointPercentile is the semantic-strategy distance percentile
	// above which a sentence boundary becomes a chunk boundary.
	BreakpointPercentile float64
}

// Draft is a chunk produced by splitting, before embedding and storage.
// Meta always carries the strategy name plus strategy-specific fields
// (e.g. the markdown heading path).
type Draft struct {
	Content string
	Meta    map[string]string
}

// Embedder is the subset of the embedding backend the semantic strategy
// needs. Defined here at the consumer.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Split divides text under the named strategy. Empty input yields an empty
// chunk list, not an error. The embedder is only consulted by the semantic
// strategy; passing nil for the other strategies is fine.
func Split(ctx context.Context, text, strategy string, p Params, embedder Embedder) ([]Draft, error) {
	if text == "" {
		return nil, nil
	}

	switch strategy {
	case StrategyFixed:
		return splitFixed(text, p)
	case StrategyMarkdown:
		return splitMarkdown(text), nil
	case StrategySemantic:
		if embedder == nil {
			return nil, fmt.Errorf("%w; none was provided", ErrEmbedderRequired)
		}
		return splitSemantic(ctx, text, p, embedder)
	default:
		return nil, fmt.Errorf("%w: %q (expected fixed, markdown or semantic)", ErrInvalidStrategy, strategy)
	}
}
