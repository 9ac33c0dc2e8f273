package store

import "time"

// Scope carries the tenant discriminators attached to every stored row.
// Empty fields mean "not set". ClientID and ProjectID are UUID strings.
type Scope struct {
	TenantID  string
	ClientID  string
	ProjectID string
}

// Empty reports whether no discriminator is set.
func (s Scope) Empty() bool {
	return s.TenantID == "" && s.ClientID == "" && s.ProjectID == ""
}

// Filter restricts queries against the retrieval index. Non-empty fields are
// combined with AND. Namespace selects a chunking-strategy namespace and
// counts as a scope discriminator for the query policy.
type Filter struct {
	Scope
	Namespace string
	// Strategy filters on the strategy recorded in chunk meta.
	Strategy string
}

// Empty reports whether the filter constrains nothing that would prevent a
// full-corpus scan.
func (f Filter) Empty() bool {
	return f.Scope.Empty() && f.Namespace == ""
}

// StagedDocument is a raw ingested document, unique by (SourcePath, SourceHash).
// Rows are never mutated; changed content produces a new row with a new hash.
type StagedDocument struct {
	ID         int64
	SourcePath string
	SourceHash string
	MimeType   string
	Content    string
	Scope      Scope
	Metadata   map[string]string
	CreatedAt  time.Time
}

// Chunk is a retrievable unit of document text. Identity is positional:
// (Namespace, DocPath, Index). Upserting an existing position replaces
// content, embedding, meta and scope in place.
type Chunk struct {
	Namespace string
	DocPath   string
	Index     int32
	Content   string
	Embedding []float32
	Meta      map[string]string
	Scope     Scope
}

// ScoredChunk is a search result row, ordered by descending Score.
type ScoredChunk struct {
	Namespace  string            `json:"namespace"`
	DocPath    string            `json:"doc_path"`
	ChunkIndex int32             `json:"chunk_index"`
	Content    string            `json:"content"`
	Score      float64           `json:"score"`
	Meta       map[string]string `json:"meta"`
}
