package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

const (
	// hydeTimeout bounds the generation call; expansion is not worth a
	// slow search.
	hydeTimeout = 15 * time.Second

	hydePrompt = `Write a short passage (3-5 sentences) that would plausibly appear in a
support knowledge base and directly answers the following question. Write
in the same language as the question. Output only the passage, no preamble.

Question: %s`
)

// GenkitGenerator produces hypothetical passages with a Genkit model.
type GenkitGenerator struct {
	genkit *genkit.Genkit
	model  string
}

// NewGenkitGenerator creates a HyDE generator. model is a full Genkit model
// name, e.g. "googleai/gemini-2.5-flash".
func NewGenkitGenerator(g *genkit.Genkit, model string) *GenkitGenerator {
	return &GenkitGenerator{genkit: g, model: model}
}

// Hypothesize generates a hypothetical relevant passage for the query.
func (h *GenkitGenerator) Hypothesize(ctx context.Context, query string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, hydeTimeout)
	defer cancel()

	resp, err := genkit.Generate(ctx, h.genkit,
		ai.WithModelName(h.model),
		ai.WithPrompt(hydePrompt, query),
	)
	if err != nil {
		return "", fmt.Errorf("generating hypothetical passage: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}
