package ingestion

import (
	"context"

	"github.com/raks07/jarvis-data-injestion/internal/domain"
	"github.com/raks07/jarvis-data-injestion/internal/index"
)

// Repository defines the storage contract for the document corpus.
type Repository interface {
	SaveDocument(ctx context.Context, doc domain.Document) error
	GetDocument(ctx context.Context, id string) (domain.Document, error)
	GetDocumentByExternalID(ctx context.Context, externalID string) (domain.Document, error)
	ListDocuments(ctx context.Context, cursor string, limit int) (
		docs []domain.Document, nextCursor string, err error,
	)
	DeleteDocument(ctx context.Context, id string) error
	SaveChunks(ctx context.Context, chunks []domain.Chunk) error
	SaveEmbeddings(ctx context.Context, embs []domain.Embedding) error
	WalkEmbeddings(ctx context.Context, fn func(chunkID string, vec []float32, meta index.Meta) error) error
}

// Indexer is the in-process vector index consumed by ingestion.
type Indexer interface {
	Upsert(chunkID string, vec []float32, meta index.Meta) error
	DeleteDocument(docID string)
	Rebuild(ctx context.Context, src index.EmbeddingSource) error
}
