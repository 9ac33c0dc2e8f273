package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"github.com/google/uuid"

	"github.com/atendai/kbengine/internal/chunk"
	"github.com/atendai/kbengine/internal/ingest"
	"github.com/atendai/kbengine/internal/log"
	"github.com/atendai/kbengine/internal/store"
)

// ScopeRequest carries tenant discriminators in request bodies.
type ScopeRequest struct {
	TenantID  string `json:"tenant_id"`
	ClientID  string `json:"client_id"`
	ProjectID string `json:"project_id"`
}

// toScope validates and converts to a store scope. ClientID and ProjectID
// must be UUIDs when set.
func (s ScopeRequest) toScope() (store.Scope, error) {
	if s.ClientID != "" {
		if err := uuid.Validate(s.ClientID); err != nil {
			return store.Scope{}, errors.New("client_id must be a UUID")
		}
	}
	if s.ProjectID != "" {
		if err := uuid.Validate(s.ProjectID); err != nil {
			return store.Scope{}, errors.New("project_id must be a UUID")
		}
	}
	return store.Scope{TenantID: s.TenantID, ClientID: s.ClientID, ProjectID: s.ProjectID}, nil
}

// IngestRequest is the request body for POST /api/ingest.
type IngestRequest struct {
	// Path is a file or directory to stage.
	Path  string       `json:"path"`
	Scope ScopeRequest `json:"scope"`

	// StageOnly stops after staging, skipping chunking and embedding.
	StageOnly bool `json:"stage_only"`

	Strategy  string `json:"strategy"`
	Namespace string `json:"namespace"`
	Backend   string `json:"backend"`

	// Chunking overrides. Omitted fields use the server's configured
	// defaults; an explicit "chunk_overlap": 0 means zero overlap.
	ChunkSize            *int     `json:"chunk_size,omitempty"`
	ChunkOverlap         *int     `json:"chunk_overlap,omitempty"`
	BreakpointPercentile *float64 `json:"breakpoint_percentile,omitempty"`
}

// IngestResponse summarizes one ingestion run.
type IngestResponse struct {
	Staged        int      `json:"staged"`
	Skipped       int      `json:"skipped"`
	StageFailed   int      `json:"stage_failed"`
	Documents     int      `json:"documents"`
	DocumentsFail int      `json:"documents_failed"`
	ChunksWritten int      `json:"chunks_written"`
	Backend       string   `json:"backend,omitempty"`
	Namespace     string   `json:"namespace,omitempty"`
	Errors        []string `json:"errors,omitempty"`
}

// IngestHandler handles the staging and materialization endpoint.
type IngestHandler struct {
	stager       *ingest.Stager
	materializer *ingest.Materializer
	logger       log.Logger
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(stager *ingest.Stager, materializer *ingest.Materializer, logger log.Logger) *IngestHandler {
	return &IngestHandler{stager: stager, materializer: materializer, logger: logger}
}

// RegisterRoutes registers ingest routes on the given mux.
func (h *IngestHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/ingest", h.ingest)
}

// ingest stages the requested path and, unless stage_only is set, chunks and
// embeds the staged documents for the request scope. Per-item failures are
// reported in the response without failing the run.
func (h *IngestHandler) ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "path is required")
		return
	}
	scope, err := req.Scope.toScope()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_scope", err.Error())
		return
	}
	if scope.Empty() {
		writeError(w, http.StatusBadRequest, "unscoped_request", "at least one scope discriminator is required")
		return
	}

	resp := IngestResponse{}

	info, err := os.Stat(req.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_path", err.Error())
		return
	}
	if info.IsDir() {
		result, err := h.stager.StageDirectory(r.Context(), req.Path, scope)
		if err != nil {
			h.logger.Error("bulk staging failed", "path", req.Path, "error", err)
			writeError(w, http.StatusInternalServerError, "staging_failed", err.Error())
			return
		}
		resp.Staged = result.Staged
		resp.Skipped = result.Skipped
		resp.StageFailed = result.Failed
		for _, ie := range result.Errors {
			resp.Errors = append(resp.Errors, ie.Error())
		}
	} else {
		inserted, err := h.stager.StageFile(r.Context(), req.Path, scope)
		if err != nil {
			writeError(w, http.StatusBadRequest, "staging_failed", err.Error())
			return
		}
		if inserted {
			resp.Staged = 1
		} else {
			resp.Skipped = 1
		}
	}

	if req.StageOnly {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	strategy := req.Strategy
	if strategy == "" {
		strategy = chunk.StrategyFixed
	}
	result, err := h.materializer.Materialize(r.Context(), ingest.MaterializeRequest{
		Scope:                scope,
		Strategy:             strategy,
		Namespace:            req.Namespace,
		Backend:              req.Backend,
		ChunkSize:            req.ChunkSize,
		ChunkOverlap:         req.ChunkOverlap,
		BreakpointPercentile: req.BreakpointPercentile,
	})
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, chunk.ErrInvalidStrategy) || errors.Is(err, chunk.ErrInvalidParams) ||
			errors.Is(err, chunk.ErrEmbedderRequired) || errors.Is(err, ingest.ErrBackendMismatch) {
			status = http.StatusBadRequest
		}
		h.logger.Error("materialization failed", "error", err)
		writeError(w, status, "materialization_failed", err.Error())
		return
	}

	resp.Documents = result.Documents
	resp.DocumentsFail = result.DocumentsFail
	resp.ChunksWritten = result.ChunksWritten
	resp.Backend = result.Backend
	resp.Namespace = result.Namespace
	for _, ie := range result.Errors {
		resp.Errors = append(resp.Errors, ie.Error())
	}

	status := http.StatusOK
	if result.DocumentsFail > 0 {
		// Partial success; results that did land are still usable.
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, resp)
}
