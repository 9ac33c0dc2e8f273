package embedding

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/time/rate"
)

// maxBatchSize caps how many texts go into a single backend call.
// Gemini's embedContent endpoint accepts at most 100 inputs per request.
const maxBatchSize = 96

// genkitEmbedder adapts a Genkit ai.Embedder to the package Embedder
// interface, splitting large batches and pacing calls through a shared
// rate limiter.
type genkitEmbedder struct {
	embedder ai.Embedder
	limiter  *rate.Limiter
	options  any
}

func newGenkitEmbedder(embedder ai.Embedder, limiter *rate.Limiter, options any) *genkitEmbedder {
	return &genkitEmbedder{embedder: embedder, limiter: limiter, options: options}
}

func (g *genkitEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := g.embedOnce(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (g *genkitEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := g.embedOnce(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (g *genkitEmbedder) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for embedding rate limiter: %w", err)
		}
	}

	input := make([]*ai.Document, len(texts))
	for i, t := range texts {
		input[i] = ai.DocumentFromText(t, nil)
	}

	resp, err := g.embedder.Embed(ctx, &ai.EmbedRequest{Input: input, Options: g.options})
	if err != nil {
		return nil, fmt.Errorf("embed call failed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("backend returned %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if len(emb.Embedding) == 0 {
			return nil, fmt.Errorf("%w for input %d", ErrEmptyEmbedding, i)
		}
		vectors[i] = emb.Embedding
	}
	return vectors, nil
}
