package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/atendai/kbengine/internal/chunk"
	"github.com/atendai/kbengine/internal/embedding"
	"github.com/atendai/kbengine/internal/log"
	"github.com/atendai/kbengine/internal/store"
)

type memStagingReader struct {
	docs []store.StagedDocument
	err  error
}

func (m *memStagingReader) ListStaged(_ context.Context, _ store.Scope, _ string) ([]store.StagedDocument, error) {
	return m.docs, m.err
}

type memChunkStore struct {
	upserts     [][]store.Chunk
	trims       map[string]int32
	failUpsert  map[string]error
	failTrimFor string
}

func newMemChunkStore() *memChunkStore {
	return &memChunkStore{trims: make(map[string]int32)}
}

func (m *memChunkStore) Upsert(_ context.Context, chunks []store.Chunk) error {
	if len(chunks) > 0 && m.failUpsert != nil {
		if err, ok := m.failUpsert[chunks[0].DocPath]; ok {
			return err
		}
	}
	m.upserts = append(m.upserts, chunks)
	return nil
}

func (m *memChunkStore) TrimDocument(_ context.Context, _, docPath string, keep int32) (int64, error) {
	if docPath == m.failTrimFor {
		return 0, errors.New("trim failed")
	}
	m.trims[docPath] = keep
	return 0, nil
}

// countingEmbedder returns constant vectors and counts batch calls.
type countingEmbedder struct {
	batches int
	texts   int
	err     error
}

func (e *countingEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []float32{1}, nil
}

func (e *countingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.batches++
	e.texts += len(texts)
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{float32(i)}
	}
	return out, nil
}

type stubResolver struct {
	embedder embedding.Embedder
	err      error
	bound    map[string]string
	resolved string
}

func (r *stubResolver) Resolve(backendID string) (embedding.Embedder, error) {
	r.resolved = backendID
	if r.err != nil {
		return nil, r.err
	}
	return r.embedder, nil
}

func (r *stubResolver) BackendFor(projectID string) string {
	if b, ok := r.bound[projectID]; ok {
		return b
	}
	return "ollama"
}

func stagedDoc(path, content string) store.StagedDocument {
	return store.StagedDocument{
		SourcePath: path,
		Content:    content,
		Scope:      store.Scope{TenantID: "acme"},
	}
}

func defaults() chunk.Params {
	return chunk.Params{Size: 40, Overlap: 10, BreakpointPercentile: 90}
}

func TestMaterializePositionalUpsert(t *testing.T) {
	staging := &memStagingReader{docs: []store.StagedDocument{
		stagedDoc("/docs/a.txt", strings.Repeat("alpha ", 20)),
		stagedDoc("/docs/b.txt", "short"),
	}}
	chunks := newMemChunkStore()
	emb := &countingEmbedder{}
	resolver := &stubResolver{embedder: emb}

	m := NewMaterializer(staging, chunks, resolver, defaults(), log.NewNop())
	result, err := m.Materialize(context.Background(), MaterializeRequest{
		Scope:    store.Scope{TenantID: "acme"},
		Strategy: chunk.StrategyFixed,
	})
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}

	if result.Documents != 2 {
		t.Errorf("documents = %d, want 2", result.Documents)
	}
	if result.Namespace != chunk.StrategyFixed {
		t.Errorf("namespace = %q, want the strategy name", result.Namespace)
	}
	if result.Backend != "ollama" {
		t.Errorf("backend = %q, want the default ollama", result.Backend)
	}
	if emb.batches != 1 {
		t.Errorf("expected all chunk texts in one batch call, got %d", emb.batches)
	}

	// Each document's chunks carry consecutive positional indexes from 0
	// and inherit the staged document's scope.
	for _, rows := range chunks.upserts {
		for i, row := range rows {
			if row.Index != int32(i) {
				t.Errorf("doc %s chunk %d has index %d", row.DocPath, i, row.Index)
			}
			if row.Namespace != chunk.StrategyFixed {
				t.Errorf("chunk namespace = %q", row.Namespace)
			}
			if row.Scope.TenantID != "acme" {
				t.Errorf("chunk must inherit the document scope, got %+v", row.Scope)
			}
			if len(row.Embedding) == 0 {
				t.Errorf("chunk %s#%d has no embedding", row.DocPath, i)
			}
		}
	}

	// Stale trailing positions are trimmed to the new chunk count.
	if keep, ok := chunks.trims["/docs/b.txt"]; !ok || keep != 1 {
		t.Errorf("trim keep for b.txt = %d (present=%v), want 1", keep, ok)
	}
}

func TestMaterializeInvalidStrategy(t *testing.T) {
	m := NewMaterializer(&memStagingReader{}, newMemChunkStore(), &stubResolver{embedder: &countingEmbedder{}}, defaults(), log.NewNop())
	_, err := m.Materialize(context.Background(), MaterializeRequest{
		Scope:    store.Scope{TenantID: "acme"},
		Strategy: "recursive",
	})
	if !errors.Is(err, chunk.ErrInvalidStrategy) {
		t.Fatalf("expected ErrInvalidStrategy, got %v", err)
	}
}

func TestMaterializeBackendMismatch(t *testing.T) {
	resolver := &stubResolver{
		embedder: &countingEmbedder{},
		bound:    map[string]string{"prj-1": "gemini"},
	}
	m := NewMaterializer(&memStagingReader{}, newMemChunkStore(), resolver, defaults(), log.NewNop())

	_, err := m.Materialize(context.Background(), MaterializeRequest{
		Scope:    store.Scope{ProjectID: "prj-1"},
		Strategy: chunk.StrategyFixed,
		Backend:  "tei",
	})
	if !errors.Is(err, ErrBackendMismatch) {
		t.Fatalf("expected ErrBackendMismatch, got %v", err)
	}
}

func TestMaterializeUsesProjectBinding(t *testing.T) {
	staging := &memStagingReader{docs: []store.StagedDocument{stagedDoc("/a.txt", "text")}}
	resolver := &stubResolver{
		embedder: &countingEmbedder{},
		bound:    map[string]string{"prj-1": "gemini"},
	}
	m := NewMaterializer(staging, newMemChunkStore(), resolver, defaults(), log.NewNop())

	result, err := m.Materialize(context.Background(), MaterializeRequest{
		Scope:    store.Scope{ProjectID: "prj-1"},
		Strategy: chunk.StrategyFixed,
	})
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if resolver.resolved != "gemini" || result.Backend != "gemini" {
		t.Errorf("resolved %q result %q, want the project-bound gemini", resolver.resolved, result.Backend)
	}
}

func TestMaterializeResolveFailureIsFatal(t *testing.T) {
	resolver := &stubResolver{err: embedding.ErrMissingCredential}
	m := NewMaterializer(&memStagingReader{}, newMemChunkStore(), resolver, defaults(), log.NewNop())

	_, err := m.Materialize(context.Background(), MaterializeRequest{
		Scope:    store.Scope{TenantID: "acme"},
		Strategy: chunk.StrategyFixed,
	})
	if !errors.Is(err, embedding.ErrMissingCredential) {
		t.Fatalf("expected the resolver error, got %v", err)
	}
}

func TestMaterializeEmbedFailureIsFatal(t *testing.T) {
	staging := &memStagingReader{docs: []store.StagedDocument{stagedDoc("/a.txt", "text")}}
	resolver := &stubResolver{embedder: &countingEmbedder{err: errors.New("quota exhausted")}}
	chunks := newMemChunkStore()
	m := NewMaterializer(staging, chunks, resolver, defaults(), log.NewNop())

	_, err := m.Materialize(context.Background(), MaterializeRequest{
		Scope:    store.Scope{TenantID: "acme"},
		Strategy: chunk.StrategyFixed,
	})
	if err == nil {
		t.Fatal("expected error when the embed call fails")
	}
	if len(chunks.upserts) != 0 {
		t.Errorf("no chunks may be written after an embed failure")
	}
}

func TestMaterializeCollectsUpsertFailures(t *testing.T) {
	staging := &memStagingReader{docs: []store.StagedDocument{
		stagedDoc("/a.txt", "first document"),
		stagedDoc("/b.txt", "second document"),
		stagedDoc("/c.txt", "third document"),
	}}
	chunks := newMemChunkStore()
	chunks.failUpsert = map[string]error{"/b.txt": errors.New("deadlock detected")}
	m := NewMaterializer(staging, chunks, &stubResolver{embedder: &countingEmbedder{}}, defaults(), log.NewNop())

	result, err := m.Materialize(context.Background(), MaterializeRequest{
		Scope:    store.Scope{TenantID: "acme"},
		Strategy: chunk.StrategyFixed,
	})
	if err != nil {
		t.Fatalf("a per-document failure must not fail the run: %v", err)
	}
	if result.Documents != 2 || result.DocumentsFail != 1 {
		t.Errorf("documents=%d failed=%d, want 2 and 1", result.Documents, result.DocumentsFail)
	}
	if len(result.Errors) != 1 || result.Errors[0].Path != "/b.txt" {
		t.Errorf("error list should name the failing document: %v", result.Errors)
	}
}

func TestMaterializeSemanticWithoutWorkingEmbedderIsFatal(t *testing.T) {
	// The semantic strategy needs the embedder during chunking; a nil
	// embedder from the resolver would fail every document the same way.
	staging := &memStagingReader{docs: []store.StagedDocument{stagedDoc("/a.txt", "one. two.")}}
	resolver := &stubResolver{embedder: nil}
	m := NewMaterializer(staging, newMemChunkStore(), resolver, defaults(), log.NewNop())

	_, err := m.Materialize(context.Background(), MaterializeRequest{
		Scope:    store.Scope{TenantID: "acme"},
		Strategy: chunk.StrategySemantic,
	})
	if !errors.Is(err, chunk.ErrEmbedderRequired) {
		t.Fatalf("expected ErrEmbedderRequired, got %v", err)
	}
}

func TestMaterializeCustomNamespace(t *testing.T) {
	staging := &memStagingReader{docs: []store.StagedDocument{stagedDoc("/a.txt", "text")}}
	chunks := newMemChunkStore()
	m := NewMaterializer(staging, chunks, &stubResolver{embedder: &countingEmbedder{}}, defaults(), log.NewNop())

	result, err := m.Materialize(context.Background(), MaterializeRequest{
		Scope:     store.Scope{TenantID: "acme"},
		Strategy:  chunk.StrategyFixed,
		Namespace: "experiment-7",
	})
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if result.Namespace != "experiment-7" {
		t.Errorf("namespace = %q, want experiment-7", result.Namespace)
	}
	if chunks.upserts[0][0].Namespace != "experiment-7" {
		t.Errorf("chunk namespace = %q", chunks.upserts[0][0].Namespace)
	}
}

func TestMaterializeExplicitZeroOverlap(t *testing.T) {
	// 80 runes; with the default Size 40 a zero overlap yields exactly two
	// chunks that reassemble losslessly. The configured Overlap 10 would
	// duplicate runes across three chunks instead.
	text := strings.Repeat("abcdefghij", 8)
	staging := &memStagingReader{docs: []store.StagedDocument{stagedDoc("/docs/a.txt", text)}}
	chunks := newMemChunkStore()
	m := NewMaterializer(staging, chunks, &stubResolver{embedder: &countingEmbedder{}}, defaults(), log.NewNop())

	zero := 0
	result, err := m.Materialize(context.Background(), MaterializeRequest{
		Scope:        store.Scope{TenantID: "acme"},
		Strategy:     chunk.StrategyFixed,
		ChunkOverlap: &zero,
	})
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if result.ChunksWritten != 2 {
		t.Fatalf("wrote %d chunks, want 2 (explicit zero overlap must not fall back to the default)", result.ChunksWritten)
	}

	var rebuilt strings.Builder
	for _, row := range chunks.upserts[0] {
		rebuilt.WriteString(row.Content)
	}
	if rebuilt.String() != text {
		t.Errorf("zero-overlap chunks must concatenate to the original text, got %d runes for %d",
			len(rebuilt.String()), len(text))
	}
}

func TestMaterializeOmittedParamsUseDefaults(t *testing.T) {
	// 80 runes with Size 40 / Overlap 10: windows start at 0, 30 and 60.
	text := strings.Repeat("abcdefghij", 8)
	staging := &memStagingReader{docs: []store.StagedDocument{stagedDoc("/docs/a.txt", text)}}
	chunks := newMemChunkStore()
	m := NewMaterializer(staging, chunks, &stubResolver{embedder: &countingEmbedder{}}, defaults(), log.NewNop())

	result, err := m.Materialize(context.Background(), MaterializeRequest{
		Scope:    store.Scope{TenantID: "acme"},
		Strategy: chunk.StrategyFixed,
	})
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if result.ChunksWritten != 3 {
		t.Errorf("wrote %d chunks, want 3 from the configured defaults", result.ChunksWritten)
	}
}
