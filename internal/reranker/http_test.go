package reranker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func candidates(texts ...string) []Candidate {
	out := make([]Candidate, len(texts))
	for i, text := range texts {
		out[i] = Candidate{Content: text}
	}
	return out
}

func TestRerankBareArrayResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rerank" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Query string   `json:"query"`
			Texts []string `json:"texts"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Query != "warranty period" || len(req.Texts) != 3 {
			http.Error(w, "bad request body", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `[{"index":2,"score":0.91},{"index":0,"score":0.35},{"index":1,"score":0.02}]`)
	}))
	defer srv.Close()

	rr := NewHTTP(srv.URL, time.Second)
	results, err := rr.Rerank(context.Background(), "warranty period", candidates("a", "b", "c"), 2)
	if err != nil {
		t.Fatalf("Rerank failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected topK=2 results, got %d", len(results))
	}
	if results[0].OriginalRank != 2 || results[0].Score != 0.91 {
		t.Errorf("first result = %+v, want index 2 with score 0.91", results[0])
	}
	if results[0].Content != "c" {
		t.Errorf("result content must come from the candidate pool, got %q", results[0].Content)
	}
	if results[1].OriginalRank != 0 {
		t.Errorf("second result rank = %d, want 0", results[1].OriginalRank)
	}
}

func TestRerankWrappedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"results":[{"index":1,"relevance_score":0.8},{"index":0,"relevance_score":0.1}]}`)
	}))
	defer srv.Close()

	rr := NewHTTP(srv.URL, time.Second)
	results, err := rr.Rerank(context.Background(), "q", candidates("a", "b"), 0)
	if err != nil {
		t.Fatalf("Rerank failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].OriginalRank != 1 || results[0].Score != 0.8 {
		t.Errorf("wrapped shape not decoded: %+v", results[0])
	}
}

func TestRerankSortsUnorderedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[{"index":0,"score":0.1},{"index":1,"score":0.9}]`)
	}))
	defer srv.Close()

	rr := NewHTTP(srv.URL, time.Second)
	results, err := rr.Rerank(context.Background(), "q", candidates("a", "b"), 0)
	if err != nil {
		t.Fatalf("Rerank failed: %v", err)
	}
	if results[0].OriginalRank != 1 {
		t.Errorf("results must be sorted by descending score, got %+v", results)
	}
}

func TestRerankErrorsAreUnavailable(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error status",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "model loading", http.StatusServiceUnavailable)
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, `not json at all`)
			},
		},
		{
			name: "out of range index",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, `[{"index":99,"score":0.5}]`)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			rr := NewHTTP(srv.URL, time.Second)
			_, err := rr.Rerank(context.Background(), "q", candidates("a"), 5)
			if !errors.Is(err, ErrUnavailable) {
				t.Fatalf("expected ErrUnavailable, got %v", err)
			}
		})
	}
}

func TestRerankConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	rr := NewHTTP(srv.URL, time.Second)
	_, err := rr.Rerank(context.Background(), "q", candidates("a"), 5)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestRerankEmptyPool(t *testing.T) {
	rr := NewHTTP("http://127.0.0.1:1", time.Second)
	results, err := rr.Rerank(context.Background(), "q", nil, 5)
	if err != nil {
		t.Fatalf("empty pool should be a no-op: %v", err)
	}
	if results != nil {
		t.Errorf("expected nil results, got %v", results)
	}
}
