package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/atendai/kbengine/internal/chunk"
	"github.com/atendai/kbengine/internal/embedding"
	"github.com/atendai/kbengine/internal/store"
)

// ErrBackendMismatch is returned when a materialization request names an
// embedding backend that conflicts with the project's configured binding.
var ErrBackendMismatch = errors.New("requested backend conflicts with the project's configured embedding backend")

// StagingReader is the staging read surface the Materializer needs.
type StagingReader interface {
	ListStaged(ctx context.Context, scope store.Scope, pathPrefix string) ([]store.StagedDocument, error)
}

// ChunkStore is the chunk write surface the Materializer needs. Satisfied
// by store.Chunks.
type ChunkStore interface {
	Upsert(ctx context.Context, chunks []store.Chunk) error
	TrimDocument(ctx context.Context, namespace, docPath string, keep int32) (int64, error)
}

// Resolver resolves embedding backends. Satisfied by embedding.Registry.
type Resolver interface {
	Resolve(backendID string) (embedding.Embedder, error)
	BackendFor(projectID string) string
}

// MaterializeRequest selects which staged documents to chunk and embed.
type MaterializeRequest struct {
	// Scope selects staged documents; at least one field must be set.
	Scope store.Scope

	// PathPrefix optionally narrows the selection to source paths under
	// a prefix.
	PathPrefix string

	// Strategy is the chunking strategy (chunk.StrategyFixed et al.).
	Strategy string

	// ChunkSize, ChunkOverlap and BreakpointPercentile override the
	// materializer's configured chunking defaults. Nil means "use the
	// default"; an explicit zero overlap is honored as zero.
	ChunkSize            *int
	ChunkOverlap         *int
	BreakpointPercentile *float64

	// Namespace is the target chunk namespace. Defaults to the strategy
	// name, which keeps per-strategy materializations disjoint.
	Namespace string

	// Backend optionally overrides the embedding backend. When the
	// project is bound to a backend the override must agree with it.
	Backend string
}

// MaterializeResult summarizes a materialization run. Per-document failures
// are collected in Errors while the run continues; only conditions that
// would fail every document abort the call.
type MaterializeResult struct {
	Backend       string
	Namespace     string
	Documents     int
	DocumentsFail int
	ChunksWritten int
	Errors        []ItemError
}

// Materializer turns staged documents into embedded chunks.
type Materializer struct {
	staging  StagingReader
	chunks   ChunkStore
	resolver Resolver
	defaults chunk.Params
	logger   *slog.Logger
}

// NewMaterializer creates a materializer. defaults supplies chunking
// parameters for requests that leave them zero.
func NewMaterializer(staging StagingReader, chunks ChunkStore, resolver Resolver, defaults chunk.Params, logger *slog.Logger) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{
		staging:  staging,
		chunks:   chunks,
		resolver: resolver,
		defaults: defaults,
		logger:   logger,
	}
}

// Materialize chunks and embeds every staged document matching the request,
// then upserts the chunks by (namespace, doc_path, chunk_index). Re-running
// the same request is idempotent: unchanged documents overwrite themselves
// and indexes past the new chunk count are trimmed.
func (m *Materializer) Materialize(ctx context.Context, req MaterializeRequest) (*MaterializeResult, error) {
	switch req.Strategy {
	case chunk.StrategyFixed, chunk.StrategyMarkdown, chunk.StrategySemantic:
	default:
		return nil, fmt.Errorf("%w: %q", chunk.ErrInvalidStrategy, req.Strategy)
	}

	params := m.fillParams(req)
	namespace := req.Namespace
	if namespace == "" {
		namespace = req.Strategy
	}

	backendID := req.Backend
	if bound := m.resolver.BackendFor(req.Scope.ProjectID); bound != "" {
		if backendID == "" {
			backendID = bound
		} else if backendID != bound {
			return nil, fmt.Errorf("%w: requested %q, project %q is bound to %q",
				ErrBackendMismatch, backendID, req.Scope.ProjectID, bound)
		}
	}

	embedder, err := m.resolver.Resolve(backendID)
	if err != nil {
		return nil, fmt.Errorf("resolving embedding backend %q: %w", backendID, err)
	}

	docs, err := m.staging.ListStaged(ctx, req.Scope, req.PathPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing staged documents: %w", err)
	}

	result := &MaterializeResult{Backend: backendID, Namespace: namespace}

	// Chunk everything first so all texts can go through the provider in
	// as few embed calls as possible.
	type docDrafts struct {
		doc    store.StagedDocument
		drafts []chunk.Draft
	}
	var pending []docDrafts
	var texts []string
	for _, doc := range docs {
		drafts, err := chunk.Split(ctx, doc.Content, req.Strategy, params, embedder)
		if err != nil {
			// A missing embedder fails every document identically.
			if errors.Is(err, chunk.ErrEmbedderRequired) || errors.Is(err, chunk.ErrInvalidParams) {
				return nil, fmt.Errorf("chunking %s: %w", doc.SourcePath, err)
			}
			result.DocumentsFail++
			result.Errors = append(result.Errors, ItemError{Path: doc.SourcePath, Err: err})
			continue
		}
		pending = append(pending, docDrafts{doc: doc, drafts: drafts})
		for _, d := range drafts {
			texts = append(texts, d.Content)
		}
	}

	var vectors [][]float32
	if len(texts) > 0 {
		vectors, err = embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embedding %d chunks via %s: %w", len(texts), backendID, err)
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("backend %s returned %d embeddings for %d chunks", backendID, len(vectors), len(texts))
		}
	}

	offset := 0
	for _, pd := range pending {
		rows := make([]store.Chunk, len(pd.drafts))
		for i, d := range pd.drafts {
			rows[i] = store.Chunk{
				Namespace: namespace,
				DocPath:   pd.doc.SourcePath,
				Index:     int32(i),
				Content:   d.Content,
				Embedding: vectors[offset+i],
				Meta:      d.Meta,
				Scope:     pd.doc.Scope,
			}
		}
		offset += len(pd.drafts)

		if err := m.chunks.Upsert(ctx, rows); err != nil {
			result.DocumentsFail++
			result.Errors = append(result.Errors, ItemError{Path: pd.doc.SourcePath, Err: err})
			continue
		}
		trimmed, err := m.chunks.TrimDocument(ctx, namespace, pd.doc.SourcePath, int32(len(rows)))
		if err != nil {
			result.DocumentsFail++
			result.Errors = append(result.Errors, ItemError{Path: pd.doc.SourcePath, Err: err})
			continue
		}
		if trimmed > 0 {
			m.logger.Debug("trimmed stale chunks",
				"namespace", namespace, "doc_path", pd.doc.SourcePath, "trimmed", trimmed)
		}

		result.Documents++
		result.ChunksWritten += len(rows)
	}

	m.logger.Info("materialization finished",
		"namespace", namespace, "backend", backendID, "strategy", req.Strategy,
		"documents", result.Documents, "failed", result.DocumentsFail, "chunks", result.ChunksWritten)
	return result, nil
}

func (m *Materializer) fillParams(req MaterializeRequest) chunk.Params {
	p := m.defaults
	if req.ChunkSize != nil {
		p.Size = *req.ChunkSize
	}
	if req.ChunkOverlap != nil {
		p.Overlap = *req.ChunkOverlap
	}
	if req.BreakpointPercentile != nil {
		p.BreakpointPercentile = *req.BreakpointPercentile
	}
	return p
}
