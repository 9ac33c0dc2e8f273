// Package ingest moves documents into the knowledge base: the Stager lands
// raw files in the staging store and the Materializer turns staged content
// into embedded chunks in the retrieval index.
package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/atendai/kbengine/internal/store"
)

// StagingStore is the staging write surface the Stager needs.
type StagingStore interface {
	Stage(ctx context.Context, path, content, mimeType string, scope store.Scope, metadata map[string]string) (bool, error)
}

// defaultExtensions are the file types staged by default.
var defaultExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".rst":  true,
	".html": true,
	".json": true,
	".yaml": true,
	".yml":  true,
	".csv":  true,
}

// mimeByExtension maps known extensions to mime types stored with the
// staged row. Unknown extensions fall back to text/plain.
var mimeByExtension = map[string]string{
	".md":   "text/markdown",
	".html": "text/html",
	".json": "application/json",
	".yaml": "application/yaml",
	".yml":  "application/yaml",
	".csv":  "text/csv",
}

// MaxFileSize caps staged file content. Larger files are skipped, not
// failed: chunking can split them, but a multi-megabyte blob is almost
// always a binary or a generated artifact.
const MaxFileSize = 4 << 20 // 4 MiB

// ItemError records a per-item failure inside a bulk operation.
type ItemError struct {
	Path string
	Err  error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

// StageResult summarizes a bulk staging run. Failed items are collected in
// Errors; the batch continues past them.
type StageResult struct {
	Staged  int
	Skipped int
	Failed  int
	Errors  []ItemError
}

// Stager lands files in the staging store.
type Stager struct {
	staging    StagingStore
	extensions map[string]bool
	logger     *slog.Logger
}

// NewStager creates a stager. extensions optionally overrides the default
// file filter (e.g. []string{".txt", ".md"}).
func NewStager(staging StagingStore, extensions []string, logger *slog.Logger) *Stager {
	if logger == nil {
		logger = slog.Default()
	}

	extMap := make(map[string]bool, len(defaultExtensions))
	if len(extensions) > 0 {
		for _, ext := range extensions {
			extMap[strings.ToLower(ext)] = true
		}
	} else {
		for ext := range defaultExtensions {
			extMap[ext] = true
		}
	}

	return &Stager{staging: staging, extensions: extMap, logger: logger}
}

// StageFile stages a single file. Returns whether a new row was inserted;
// re-staging identical content is a no-op with inserted=false.
func (s *Stager) StageFile(ctx context.Context, filePath string, scope store.Scope) (bool, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return false, fmt.Errorf("resolving path: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(absPath))
	if !s.extensions[ext] {
		return false, fmt.Errorf("unsupported file type: %s", ext)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", absPath, err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("%s is a directory, use StageDirectory", absPath)
	}
	if info.Size() > MaxFileSize {
		return false, fmt.Errorf("%s (%d bytes) exceeds staging limit (%d bytes)", absPath, info.Size(), MaxFileSize)
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", absPath, err)
	}

	return s.staging.Stage(ctx, absPath, string(content), mimeFor(ext), scope, map[string]string{
		"file_name": filepath.Base(absPath),
		"file_ext":  ext,
	})
}

// StageDirectory walks root and stages every matching file. I/O errors on
// individual files are collected and the walk continues; previously staged
// content counts as skipped, not as an error.
//
// Files are read through os.Root so symlinks cannot escape the tree.
func (s *Stager) StageDirectory(ctx context.Context, dirPath string, scope store.Scope) (*StageResult, error) {
	absDir, err := filepath.Abs(dirPath)
	if err != nil {
		return nil, fmt.Errorf("resolving directory path: %w", err)
	}

	root, err := os.OpenRoot(absDir)
	if err != nil {
		return nil, fmt.Errorf("opening root directory: %w", err)
	}
	defer func() { _ = root.Close() }()

	result := &StageResult{}
	err = fs.WalkDir(root.FS(), ".", func(relPath string, d fs.DirEntry, walkErr error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if walkErr != nil {
			result.Failed++
			result.Errors = append(result.Errors, ItemError{Path: relPath, Err: walkErr})
			return nil
		}
		if d.IsDir() {
			// Skip dot-directories like .git wholesale.
			if relPath != "." && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}

		ext := strings.ToLower(filepath.Ext(relPath))
		if !s.extensions[ext] {
			result.Skipped++
			return nil
		}

		info, err := d.Info()
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, ItemError{Path: relPath, Err: err})
			return nil
		}
		if info.Size() > MaxFileSize {
			result.Skipped++
			return nil
		}

		content, err := root.ReadFile(relPath)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, ItemError{Path: relPath, Err: err})
			return nil
		}

		inserted, err := s.staging.Stage(ctx, filepath.Join(absDir, relPath), string(content), mimeFor(ext), scope, map[string]string{
			"file_name": d.Name(),
			"file_ext":  ext,
		})
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, ItemError{Path: relPath, Err: err})
			return nil
		}
		if inserted {
			result.Staged++
		} else {
			result.Skipped++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", absDir, err)
	}

	s.logger.Info("bulk staging finished",
		"dir", absDir, "staged", result.Staged, "skipped", result.Skipped, "failed", result.Failed)
	return result, nil
}

func mimeFor(ext string) string {
	if m, ok := mimeByExtension[ext]; ok {
		return m
	}
	return "text/plain"
}
