package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/atendai/kbengine/internal/log"
	"github.com/atendai/kbengine/internal/store"
)

// memStaging records staged content keyed by path and simulates hash-based
// idempotence: re-staging identical content reports inserted=false.
type memStaging struct {
	staged     map[string]string
	mimes      map[string]string
	failByName map[string]error
}

func newMemStaging() *memStaging {
	return &memStaging{
		staged: make(map[string]string),
		mimes:  make(map[string]string),
	}
}

func (m *memStaging) Stage(_ context.Context, path, content, mimeType string, _ store.Scope, _ map[string]string) (bool, error) {
	if m.failByName != nil {
		if err, ok := m.failByName[filepath.Base(path)]; ok {
			return false, err
		}
	}
	if existing, ok := m.staged[path]; ok && existing == content {
		return false, nil
	}
	m.staged[path] = content
	m.mimes[path] = mimeType
	return true, nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestStageFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "guide.md", "# Guide\n\nContent.")

	staging := newMemStaging()
	s := NewStager(staging, nil, log.NewNop())

	inserted, err := s.StageFile(context.Background(), path, store.Scope{TenantID: "acme"})
	if err != nil {
		t.Fatalf("StageFile failed: %v", err)
	}
	if !inserted {
		t.Error("first staging should insert")
	}
	if staging.mimes[path] != "text/markdown" {
		t.Errorf("mime = %q, want text/markdown", staging.mimes[path])
	}

	// Unchanged content is a no-op.
	inserted, err = s.StageFile(context.Background(), path, store.Scope{TenantID: "acme"})
	if err != nil {
		t.Fatalf("second StageFile failed: %v", err)
	}
	if inserted {
		t.Error("re-staging unchanged content should not insert")
	}
}

func TestStageFileUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "binary.exe", "MZ...")

	s := NewStager(newMemStaging(), nil, log.NewNop())
	_, err := s.StageFile(context.Background(), path, store.Scope{TenantID: "acme"})
	if err == nil || !strings.Contains(err.Error(), "unsupported file type") {
		t.Fatalf("expected unsupported file type error, got %v", err)
	}
}

func TestStageDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "alpha")
	writeFile(t, dir, "sub/b.txt", "beta")
	writeFile(t, dir, "sub/c.png", "not text")
	writeFile(t, dir, ".git/config", "[core]")

	staging := newMemStaging()
	s := NewStager(staging, nil, log.NewNop())

	result, err := s.StageDirectory(context.Background(), dir, store.Scope{TenantID: "acme"})
	if err != nil {
		t.Fatalf("StageDirectory failed: %v", err)
	}
	if result.Staged != 2 {
		t.Errorf("staged = %d, want 2", result.Staged)
	}
	if result.Skipped != 1 {
		t.Errorf("skipped = %d (the .png), want 1", result.Skipped)
	}
	if result.Failed != 0 {
		t.Errorf("failed = %d, want 0: %v", result.Failed, result.Errors)
	}
	for path := range staging.staged {
		if strings.Contains(path, ".git") {
			t.Errorf("dot-directory content must be skipped, staged %s", path)
		}
	}
}

func TestStageDirectoryCollectsFailures(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.txt", "fine")
	writeFile(t, dir, "bad.txt", "will fail")

	staging := newMemStaging()
	staging.failByName = map[string]error{"bad.txt": errors.New("constraint violation")}
	s := NewStager(staging, nil, log.NewNop())

	result, err := s.StageDirectory(context.Background(), dir, store.Scope{TenantID: "acme"})
	if err != nil {
		t.Fatalf("a per-file failure must not fail the walk: %v", err)
	}
	if result.Staged != 1 || result.Failed != 1 {
		t.Errorf("staged=%d failed=%d, want 1 and 1", result.Staged, result.Failed)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0].Error(), "bad.txt") {
		t.Errorf("error list should name the failing file: %v", result.Errors)
	}
}

func TestStageDirectoryCustomExtensions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "alpha")
	writeFile(t, dir, "b.txt", "beta")

	s := NewStager(newMemStaging(), []string{".md"}, log.NewNop())
	result, err := s.StageDirectory(context.Background(), dir, store.Scope{TenantID: "acme"})
	if err != nil {
		t.Fatalf("StageDirectory failed: %v", err)
	}
	if result.Staged != 1 || result.Skipped != 1 {
		t.Errorf("staged=%d skipped=%d, want 1 and 1", result.Staged, result.Skipped)
	}
}
