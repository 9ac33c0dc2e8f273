package chunk

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// splitSemantic groups consecutive sentences and breaks where the
// embedding distance between neighboring sentences exceeds the configured
// percentile of all pairwise distances. All sentences are embedded in a
// single batch call.
func splitSemantic(ctx context.Context, text string, p Params, embedder Embedder) ([]Draft, error) {
	percentile := p.BreakpointPercentile
	if percentile == 0 {
		percentile = 90
	}
	if percentile <= 0 || percentile >= 100 {
		return nil, fmt.Errorf("%w: breakpoint percentile %.1f", ErrInvalidParams, percentile)
	}

	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil, nil
	}
	if len(sentences) == 1 {
		return []Draft{semanticDraft(sentences, 0)}, nil
	}

	vectors, err := embedder.EmbedBatch(ctx, sentences)
	if err != nil {
		return nil, fmt.Errorf("embedding %d sentence groups: %w", len(sentences), err)
	}
	if len(vectors) != len(sentences) {
		return nil, fmt.Errorf("embedding backend returned %d vectors for %d sentence groups", len(vectors), len(sentences))
	}

	distances := make([]float64, len(sentences)-1)
	for i := range distances {
		distances[i] = cosineDistance(vectors[i], vectors[i+1])
	}
	threshold := percentileOf(distances, percentile)

	var drafts []Draft
	start := 0
	for i, d := range distances {
		if d > threshold {
			drafts = append(drafts, semanticDraft(sentences[start:i+1], len(drafts)))
			start = i + 1
		}
	}
	drafts = append(drafts, semanticDraft(sentences[start:], len(drafts)))
	return drafts, nil
}

func semanticDraft(sentences []string, ordinal int) Draft {
	return Draft{
		Content: strings.Join(sentences, " "),
		Meta: map[string]string{
			"strategy":       StrategySemantic,
			"sentence_count": strconv.Itoa(len(sentences)),
			"group":          strconv.Itoa(ordinal),
		},
	}
}

// splitSentences breaks text on sentence terminators followed by whitespace
// and on blank-line paragraph boundaries. Whitespace-only fragments are
// dropped.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	runes := []rune(text)

	flush := func() {
		s := strings.TrimSpace(current.String())
		if s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)
		switch r {
		case '.', '!', '?':
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				flush()
			}
		case '\n':
			// Paragraph break
			if i+1 < len(runes) && runes[i+1] == '\n' {
				flush()
			}
		}
	}
	flush()
	return sentences
}

func cosineDistance(a, b []float32) float64 {
	var dot, normA, normB float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

// percentileOf returns the pth percentile of values using linear
// interpolation between closest ranks.
func percentileOf(values []float64, p float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	frac := rank - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}
