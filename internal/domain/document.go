package domain

import "time"

// IngestStatus tracks a document through the write path.
type IngestStatus string

const (
	IngestPending    IngestStatus = "pending"
	IngestProcessing IngestStatus = "processing"
	IngestCompleted  IngestStatus = "completed"
	IngestFailed     IngestStatus = "failed"
)

// Document is an ingested source document. Immutable once stored;
// re-ingestion under the same external ID supersedes it with a new version.
type Document struct {
	ID         string
	ExternalID string
	Title      string
	SourceURI  string
	Version    int
	Status     IngestStatus
	IngestedAt time.Time
	ChunkCount int
}

// Chunk is a contiguous excerpt of a document, the atomic retrieval unit.
// Start and End are rune offsets into the source text; Seq orders chunks
// within their document. Never mutated after creation.
type Chunk struct {
	ID         string
	DocumentID string
	Text       string
	Start      int
	End        int
	Seq        int
}

// Embedding is the stored vector for one chunk under one embedding model.
// A chunk has at most one embedding per model ID.
type Embedding struct {
	ChunkID    string
	ModelID    string
	Dim        int
	Normalized bool
	Vector     []float32
}

// Overlaps reports whether two chunks of the same document share any part
// of their source offset range.
func (c Chunk) Overlaps(other Chunk) bool {
	if c.DocumentID != other.DocumentID {
		return false
	}
	return c.Start < other.End && other.Start < c.End
}
