// Package store implements the PostgreSQL persistence layer: the staging
// table for raw ingested documents and the pgvector-backed retrieval index.
//
// The package holds no locks of its own; idempotency and last-writer-wins
// semantics come entirely from the database's atomic upsert primitives.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool used by the stores. Defined here at the
// consumer, following the same convention as io.Reader and sql.Driver.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Staging is the durable, idempotent store of raw ingested documents.
//
// Staging is safe for concurrent use by multiple goroutines.
type Staging struct {
	db     DB
	logger *slog.Logger
}

// NewStaging creates a staging store over the given database handle.
func NewStaging(db DB, logger *slog.Logger) *Staging {
	if logger == nil {
		logger = slog.Default()
	}
	return &Staging{db: db, logger: logger}
}

// HashContent returns the hex-encoded SHA-256 of raw document content.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Stage lands a raw document. The content hash is computed here; if a row
// with the same (path, hash) already exists the call is a no-op and returns
// inserted=false. ON CONFLICT DO NOTHING, never an error.
func (s *Staging) Stage(ctx context.Context, path, content, mimeType string, scope Scope, metadata map[string]string) (bool, error) {
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return false, fmt.Errorf("marshaling metadata for %q: %w", path, err)
	}
	if mimeType == "" {
		mimeType = "text/plain"
	}

	hash := HashContent(content)
	tag, err := s.db.Exec(ctx, `
		INSERT INTO staged_documents
			(source_path, source_hash, mime_type, content, tenant_id, client_id, project_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (source_path, source_hash) DO NOTHING`,
		path, hash, mimeType, content,
		scope.TenantID, scope.ClientID, scope.ProjectID, metadataJSON,
	)
	if err != nil {
		return false, fmt.Errorf("staging document %q: %w", path, err)
	}

	inserted := tag.RowsAffected() > 0
	s.logger.Debug("staged document", "path", path, "hash", hash[:12], "inserted", inserted)
	return inserted, nil
}

// ListStaged returns staged documents matching the scope filter, optionally
// restricted to paths beginning with pathPrefix. Only the newest row per
// source_path is returned so superseded content is not re-materialized.
func (s *Staging) ListStaged(ctx context.Context, scope Scope, pathPrefix string) ([]StagedDocument, error) {
	b := &whereBuilder{}
	b.applyScope(scope)
	if pathPrefix != "" {
		b.addRaw("source_path LIKE ? || '%'", pathPrefix)
	}

	query := `
		SELECT DISTINCT ON (source_path)
			id, source_path, source_hash, mime_type, content,
			tenant_id, client_id, project_id, metadata, created_at
		FROM staged_documents` + b.clause() + `
		ORDER BY source_path, created_at DESC`

	rows, err := s.db.Query(ctx, query, b.args...)
	if err != nil {
		return nil, fmt.Errorf("listing staged documents: %w", err)
	}
	defer rows.Close()

	var docs []StagedDocument
	for rows.Next() {
		var doc StagedDocument
		var metadataJSON []byte
		if err := rows.Scan(
			&doc.ID, &doc.SourcePath, &doc.SourceHash, &doc.MimeType, &doc.Content,
			&doc.Scope.TenantID, &doc.Scope.ClientID, &doc.Scope.ProjectID,
			&metadataJSON, &doc.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning staged document: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &doc.Metadata); err != nil {
			s.logger.Warn("failed to parse staged metadata", "path", doc.SourcePath, "error", err)
			doc.Metadata = map[string]string{}
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating staged documents: %w", err)
	}
	return docs, nil
}

// CountStaged returns the number of staged rows matching the scope filter.
func (s *Staging) CountStaged(ctx context.Context, scope Scope) (int64, error) {
	b := &whereBuilder{}
	b.applyScope(scope)

	var count int64
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM staged_documents`+b.clause(), b.args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting staged documents: %w", err)
	}
	return count, nil
}
