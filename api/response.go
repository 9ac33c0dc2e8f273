package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// writeJSON encodes data as the response body with the given status.
// Encoding failures after WriteHeader cannot change the status anymore,
// so they are only logged.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// ErrorResponse is the error body shared by every endpoint. Error is a
// stable machine-readable code; Message carries the human-readable detail.
//
// Codes in use: invalid_request, invalid_scope, unscoped_request,
// invalid_path, staging_failed, materialization_failed,
// missing_embedding_backend, search_failed.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeError writes an ErrorResponse with the given code and detail.
func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}
