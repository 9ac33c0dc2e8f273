// Package embedding exposes named embedding backends behind an explicit
// Registry. Resolution is lazy and memoized per backend ID: the first
// Resolve pays the setup cost (credential validation, client construction)
// and later calls reuse the same client. The registry is an owned instance
// passed into the materializer and retrieval engine, never a package global.
package embedding

import (
	"context"
	"errors"
)

// Backend identifiers. They match the config constants so a config value
// can be used directly as a registry ID.
const (
	BackendGemini = "gemini"
	BackendOllama = "ollama"
	BackendTEI    = "tei"
)

// VectorDim is the embedding dimensionality every backend must produce.
// It matches the VECTOR(768) column in the chunks table; mixing
// dimensionalities would make stored similarity comparisons meaningless.
const VectorDim = 768

var (
	// ErrUnknownBackend indicates an unrecognized backend ID.
	ErrUnknownBackend = errors.New("unknown embedding backend")

	// ErrMissingCredential indicates the backend's credential is not set.
	ErrMissingCredential = errors.New("missing credential")

	// ErrWrongProviderKey indicates a credential that was issued for a
	// different provider (e.g. an OpenAI secret key presented to Gemini).
	ErrWrongProviderKey = errors.New("credential issued for a different provider")

	// ErrBackendUnavailable indicates the backend cannot be used in this
	// process (dependency not configured or not reachable).
	ErrBackendUnavailable = errors.New("embedding backend unavailable")

	// ErrEmptyEmbedding indicates the backend returned no vector.
	ErrEmptyEmbedding = errors.New("backend returned empty embedding")
)

// Embedder maps text to fixed-length vectors.
type Embedder interface {
	// EmbedQuery embeds a single query string.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds many texts in as few backend round-trips as the
	// backend's batch limit allows. The result preserves input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Descriptor describes a backend for listing purposes.
type Descriptor struct {
	ID             string `json:"id"`
	DisplayName    string `json:"display_name"`
	Dimensionality int    `json:"dimensionality"`
	// CredentialEnv names the environment variable holding the backend's
	// credential; empty means no credential is required.
	CredentialEnv string `json:"credential_env,omitempty"`
}
