package api

import (
	"net/http"

	"github.com/atendai/kbengine/internal/embedding"
	"github.com/atendai/kbengine/internal/log"
)

// ModelsResponse is the response body for GET /api/models.
type ModelsResponse struct {
	Backends []BackendInfo `json:"backends"`
	Default  string        `json:"default"`
}

// BackendInfo describes one usable embedding backend.
type BackendInfo struct {
	ID             string `json:"id"`
	DisplayName    string `json:"display_name"`
	Dimensionality int    `json:"dimensionality"`
	CredentialEnv  string `json:"credential_env,omitempty"`
}

// ModelsHandler reports embedding backend availability.
type ModelsHandler struct {
	registry *embedding.Registry
	logger   log.Logger
}

// NewModelsHandler creates a new models handler.
func NewModelsHandler(registry *embedding.Registry, logger log.Logger) *ModelsHandler {
	return &ModelsHandler{registry: registry, logger: logger}
}

// RegisterRoutes registers model routes on the given mux.
func (h *ModelsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/models", h.list)
}

// list returns the backends that are usable right now. A backend with a
// missing credential or an unreachable local dependency is omitted.
func (h *ModelsHandler) list(w http.ResponseWriter, r *http.Request) {
	descriptors := h.registry.ListAvailable(r.Context())

	backends := make([]BackendInfo, 0, len(descriptors))
	for _, d := range descriptors {
		backends = append(backends, BackendInfo{
			ID:             d.ID,
			DisplayName:    d.DisplayName,
			Dimensionality: d.Dimensionality,
			CredentialEnv:  d.CredentialEnv,
		})
	}

	writeJSON(w, http.StatusOK, ModelsResponse{
		Backends: backends,
		Default:  h.registry.BackendFor(""),
	})
}
