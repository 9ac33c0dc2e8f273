package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"
)

// HTTP calls a cross-encoder rerank endpoint (TEI /rerank or any service
// speaking the same contract).
type HTTP struct {
	baseURL string
	client  *http.Client
}

// NewHTTP creates a reranker client for the given base URL.
// timeout bounds each rerank call; reranking is best-effort, so callers
// should keep it short.
func NewHTTP(baseURL string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTP{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

// rerankRow tolerates the two response shapes seen across backend versions:
// TEI returns a bare array of {index, score}, Cohere-compatible servers
// wrap {results: [{index, relevance_score}]}.
type rerankRow struct {
	Index          int      `json:"index"`
	Score          *float64 `json:"score"`
	RelevanceScore *float64 `json:"relevance_score"`
}

func (r rerankRow) score() float64 {
	if r.Score != nil {
		return *r.Score
	}
	if r.RelevanceScore != nil {
		return *r.RelevanceScore
	}
	return 0
}

// Rerank scores every candidate against the query and returns the topK by
// descending score. Transport, status and decoding failures are reported as
// ErrUnavailable so the caller can degrade to the original order.
func (h *HTTP) Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Result, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Content
	}

	body, err := json.Marshal(rerankRequest{Query: query, Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("marshaling rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, respBody)
	}

	rows, err := decodeRows(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		if row.Index < 0 || row.Index >= len(candidates) {
			return nil, fmt.Errorf("%w: backend returned out-of-range index %d", ErrUnavailable, row.Index)
		}
		results = append(results, Result{
			Content:      candidates[row.Index].Content,
			Score:        row.score(),
			OriginalRank: row.Index,
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Close is a no-op for the HTTP client.
func (*HTTP) Close() error { return nil }

func decodeRows(body io.Reader) ([]rerankRow, error) {
	raw, err := io.ReadAll(io.LimitReader(body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading rerank response: %w", err)
	}

	var rows []rerankRow
	if err := json.Unmarshal(raw, &rows); err == nil {
		return rows, nil
	}

	var wrapped struct {
		Results []rerankRow `json:"results"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decoding rerank response: %w", err)
	}
	return wrapped.Results, nil
}
