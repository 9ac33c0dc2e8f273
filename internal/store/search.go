package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/errgroup"
)

// VectorSearch returns the k nearest chunks by cosine similarity,
// optionally dropping rows below threshold (0 disables the cutoff).
// Results are ordered by descending score.
func (c *Chunks) VectorSearch(ctx context.Context, queryVec []float32, k int32, threshold float64, filter Filter) ([]ScoredChunk, error) {
	vec := pgvector.NewVector(queryVec)

	b := &whereBuilder{}
	b.args = append(b.args, &vec) // $1 reserved for the query vector
	b.applyFilter(filter)
	b.conds = append(b.conds, "embedding IS NOT NULL")
	if threshold > 0 {
		b.addRaw("1 - (embedding <=> $1) >= ?", threshold)
	}

	b.args = append(b.args, k)
	query := fmt.Sprintf(`
		SELECT namespace, doc_path, chunk_index, content, meta,
		       1 - (embedding <=> $1) AS score
		FROM chunks%s
		ORDER BY embedding <=> $1
		LIMIT $%d`, b.clause(), len(b.args))

	rows, err := c.db.Query(ctx, query, b.args...)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()
	return c.scanScored(rows)
}

// TextSearch returns the k best lexical matches using PostgreSQL full-text
// search (websearch_to_tsquery over the simple configuration), ordered by
// descending ts_rank. No embedding is involved.
func (c *Chunks) TextSearch(ctx context.Context, queryText string, k int32, filter Filter) ([]ScoredChunk, error) {
	b := &whereBuilder{}
	b.args = append(b.args, queryText) // $1 reserved for the query text
	b.applyFilter(filter)
	b.conds = append(b.conds, "to_tsvector('simple', content) @@ websearch_to_tsquery('simple', $1)")

	b.args = append(b.args, k)
	query := fmt.Sprintf(`
		SELECT namespace, doc_path, chunk_index, content, meta,
		       ts_rank(to_tsvector('simple', content), websearch_to_tsquery('simple', $1))::float8 AS score
		FROM chunks%s
		ORDER BY score DESC
		LIMIT $%d`, b.clause(), len(b.args))

	rows, err := c.db.Query(ctx, query, b.args...)
	if err != nil {
		return nil, fmt.Errorf("text search: %w", err)
	}
	defer rows.Close()
	return c.scanScored(rows)
}

// HybridSearchRRF runs text and vector retrieval concurrently and fuses the
// two ranked lists with Reciprocal Rank Fusion. Chunks present in both lists
// rank higher than chunks present in only one.
func (c *Chunks) HybridSearchRRF(ctx context.Context, queryText string, queryVec []float32, k int32, threshold float64, filter Filter) ([]ScoredChunk, error) {
	vecResults, textResults, err := c.concurrentLookup(ctx, queryText, queryVec, k, threshold, filter)
	if err != nil {
		return nil, err
	}
	return fuseRRF(vecResults, textResults, int(k)), nil
}

// HybridSearchUnion runs text and vector retrieval concurrently and merges
// the candidate sets by normalized-score union: per-list scores are min-max
// normalized and summed across lists. Distinct from RRF's rank-based fusion;
// the two modes can disagree on ordering for ambiguous queries.
func (c *Chunks) HybridSearchUnion(ctx context.Context, queryText string, queryVec []float32, k int32, threshold float64, filter Filter) ([]ScoredChunk, error) {
	vecResults, textResults, err := c.concurrentLookup(ctx, queryText, queryVec, k, threshold, filter)
	if err != nil {
		return nil, err
	}
	return fuseUnion(vecResults, textResults, int(k)), nil
}

// concurrentLookup issues the vector and text lookups concurrently and joins
// them before fusion. The two lookups are independent; either failure fails
// the hybrid call.
func (c *Chunks) concurrentLookup(ctx context.Context, queryText string, queryVec []float32, k int32, threshold float64, filter Filter) (vecResults, textResults []ScoredChunk, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vecResults, err = c.VectorSearch(gctx, queryVec, k, threshold, filter)
		return err
	})
	g.Go(func() error {
		var err error
		textResults, err = c.TextSearch(gctx, queryText, k, filter)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return vecResults, textResults, nil
}

func (c *Chunks) scanScored(rows pgx.Rows) ([]ScoredChunk, error) {
	var results []ScoredChunk
	for rows.Next() {
		var sc ScoredChunk
		var metaJSON []byte
		if err := rows.Scan(&sc.Namespace, &sc.DocPath, &sc.ChunkIndex, &sc.Content, &metaJSON, &sc.Score); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		if err := json.Unmarshal(metaJSON, &sc.Meta); err != nil {
			c.logger.Warn("failed to parse chunk meta", "doc_path", sc.DocPath, "error", err)
			sc.Meta = map[string]string{}
		}
		results = append(results, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search results: %w", err)
	}
	return results, nil
}
