package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/atendai/kbengine/internal/log"
	"github.com/atendai/kbengine/internal/retrieval"
	"github.com/atendai/kbengine/internal/store"
)

// MaxSearchK bounds the per-request result count.
const MaxSearchK = 100

// SearchRequest is the request body for POST /api/search.
type SearchRequest struct {
	Query string       `json:"query"`
	K     int          `json:"k"`
	Type  string       `json:"type"`
	Scope ScopeRequest `json:"scope"`

	Namespace string  `json:"namespace"`
	Strategy  string  `json:"strategy"`
	Threshold float64 `json:"threshold"`
	Backend   string  `json:"backend"`

	UseHyDE          bool `json:"use_hyde"`
	Rerank           bool `json:"rerank"`
	RerankCandidates int  `json:"rerank_candidates"`
}

// SearchResponse is the response body for POST /api/search.
type SearchResponse struct {
	Results        []store.ScoredChunk `json:"results"`
	Total          int                 `json:"total"`
	HyDEApplied    bool                `json:"hyde_applied,omitempty"`
	RerankApplied  bool                `json:"rerank_applied,omitempty"`
	RerankFallback bool                `json:"rerank_fallback,omitempty"`
}

// SearchHandler handles the retrieval endpoint.
type SearchHandler struct {
	engine *retrieval.Engine
	logger log.Logger
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(engine *retrieval.Engine, logger log.Logger) *SearchHandler {
	return &SearchHandler{engine: engine, logger: logger}
}

// RegisterRoutes registers search routes on the given mux.
func (h *SearchHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/search", h.search)
}

func (h *SearchHandler) search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	scope, err := req.Scope.toScope()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_scope", err.Error())
		return
	}
	if req.K > MaxSearchK {
		req.K = MaxSearchK
	}

	searchType := retrieval.SearchType(req.Type)
	if req.Type == "" {
		searchType = retrieval.SearchHybridRRF
	}

	resp, err := h.engine.Search(r.Context(), retrieval.Request{
		Query: req.Query,
		K:     req.K,
		Type:  searchType,
		Filter: store.Filter{
			Scope:     scope,
			Namespace: req.Namespace,
			Strategy:  req.Strategy,
		},
		Threshold:        req.Threshold,
		Backend:          req.Backend,
		UseHyDE:          req.UseHyDE,
		Rerank:           req.Rerank,
		RerankCandidates: req.RerankCandidates,
	})
	if err != nil {
		switch {
		case errors.Is(err, retrieval.ErrEmptyQuery),
			errors.Is(err, retrieval.ErrUnscopedQuery),
			errors.Is(err, retrieval.ErrInvalidSearchType):
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		case errors.Is(err, retrieval.ErrMissingEmbeddingForMode):
			writeError(w, http.StatusBadRequest, "missing_embedding_backend", err.Error())
		default:
			h.logger.Error("search failed", "type", req.Type, "error", err)
			writeError(w, http.StatusBadGateway, "search_failed", err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, SearchResponse{
		Results:        resp.Results,
		Total:          len(resp.Results),
		HyDEApplied:    resp.HyDEApplied,
		RerankApplied:  resp.RerankApplied,
		RerankFallback: resp.RerankFallback,
	})
}
