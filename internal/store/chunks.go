package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// Chunks manages the retrieval index. Writes are per-row atomic upserts
// keyed on (namespace, doc_path, chunk_index); concurrent writers race at
// the row level with last-writer-wins semantics.
//
// Chunks is safe for concurrent use by multiple goroutines.
type Chunks struct {
	db     DB
	logger *slog.Logger
}

// NewChunks creates a chunk store over the given database handle.
func NewChunks(db DB, logger *slog.Logger) *Chunks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chunks{db: db, logger: logger}
}

const upsertChunkSQL = `
	INSERT INTO chunks
		(namespace, doc_path, chunk_index, content, embedding, meta,
		 tenant_id, client_id, project_id, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
	ON CONFLICT (namespace, doc_path, chunk_index) DO UPDATE SET
		content = EXCLUDED.content,
		embedding = EXCLUDED.embedding,
		meta = EXCLUDED.meta,
		tenant_id = EXCLUDED.tenant_id,
		client_id = EXCLUDED.client_id,
		project_id = EXCLUDED.project_id,
		updated_at = now()`

// Upsert writes chunks in a single batch round-trip. Each row is written
// atomically as a whole, so a canceled call never leaves a chunk whose
// content and embedding come from different texts.
func (c *Chunks) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i := range chunks {
		ch := &chunks[i]
		metaJSON, err := json.Marshal(ch.Meta)
		if err != nil {
			return fmt.Errorf("marshaling meta for %s/%s[%d]: %w", ch.Namespace, ch.DocPath, ch.Index, err)
		}
		embedding := pgvector.NewVector(ch.Embedding)
		batch.Queue(upsertChunkSQL,
			ch.Namespace, ch.DocPath, ch.Index, ch.Content, &embedding, metaJSON,
			ch.Scope.TenantID, ch.Scope.ClientID, ch.Scope.ProjectID,
		)
	}

	results := c.db.SendBatch(ctx, batch)
	defer func() {
		if err := results.Close(); err != nil {
			c.logger.Warn("closing upsert batch", "error", err)
		}
	}()

	for i := range chunks {
		if _, err := results.Exec(); err != nil {
			ch := &chunks[i]
			return fmt.Errorf("upserting chunk %s/%s[%d]: %w", ch.Namespace, ch.DocPath, ch.Index, err)
		}
	}

	c.logger.Debug("upserted chunks", "count", len(chunks))
	return nil
}

// TrimDocument deletes trailing chunk rows with chunk_index >= keep.
// Re-chunking a document that now produces fewer chunks leaves stale
// trailing rows behind; the materializer calls this after every upsert.
func (c *Chunks) TrimDocument(ctx context.Context, namespace, docPath string, keep int32) (int64, error) {
	tag, err := c.db.Exec(ctx, `
		DELETE FROM chunks
		WHERE namespace = $1 AND doc_path = $2 AND chunk_index >= $3`,
		namespace, docPath, keep,
	)
	if err != nil {
		return 0, fmt.Errorf("trimming %s/%s: %w", namespace, docPath, err)
	}
	return tag.RowsAffected(), nil
}

// DeleteNamespace bulk-clears every chunk in a strategy namespace.
func (c *Chunks) DeleteNamespace(ctx context.Context, namespace string) (int64, error) {
	tag, err := c.db.Exec(ctx, `DELETE FROM chunks WHERE namespace = $1`, namespace)
	if err != nil {
		return 0, fmt.Errorf("deleting namespace %q: %w", namespace, err)
	}
	c.logger.Info("cleared namespace", "namespace", namespace, "rows", tag.RowsAffected())
	return tag.RowsAffected(), nil
}

// Count returns the number of chunks matching the filter.
func (c *Chunks) Count(ctx context.Context, filter Filter) (int64, error) {
	b := &whereBuilder{}
	b.applyFilter(filter)

	var count int64
	err := c.db.QueryRow(ctx, `SELECT count(*) FROM chunks`+b.clause(), b.args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return count, nil
}

// ListDocPaths returns the distinct doc_path values matching the filter.
func (c *Chunks) ListDocPaths(ctx context.Context, filter Filter) ([]string, error) {
	b := &whereBuilder{}
	b.applyFilter(filter)

	rows, err := c.db.Query(ctx, `SELECT DISTINCT doc_path FROM chunks`+b.clause()+` ORDER BY doc_path`, b.args...)
	if err != nil {
		return nil, fmt.Errorf("listing doc paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scanning doc path: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}
