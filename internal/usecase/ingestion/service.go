// Package ingestion runs the write path: chunk, embed, persist, index.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/raks07/jarvis-data-injestion/internal/chunker"
	"github.com/raks07/jarvis-data-injestion/internal/domain"
	"github.com/raks07/jarvis-data-injestion/internal/index"
	"github.com/raks07/jarvis-data-injestion/internal/metrics"
)

// Service handles document ingestion with automatic chunking and vectorization.
type Service struct {
	repo            Repository
	embedder        domain.BatchEmbedder
	idx             Indexer
	chunkCfg        chunker.Config
	defaultPageSize int
	maxPageSize     int
	logger          *zap.Logger
}

// New creates an ingestion service.
func New(repo Repository, embedder domain.BatchEmbedder, idx Indexer, chunkCfg chunker.Config, logger *zap.Logger) *Service {
	return &Service{
		repo:            repo,
		embedder:        embedder,
		idx:             idx,
		chunkCfg:        chunkCfg,
		defaultPageSize: 20,
		maxPageSize:     100,
		logger:          logger,
	}
}

// WithPagination configures page size limits.
func (s *Service) WithPagination(defaultPageSize, maxPageSize int) *Service {
	if defaultPageSize > 0 {
		s.defaultPageSize = defaultPageSize
	}
	if maxPageSize > 0 {
		s.maxPageSize = maxPageSize
	}
	return s
}

// Request describes one document to ingest.
type Request struct {
	ExternalID string
	Title      string
	SourceURI  string
	Text       string
}

// Ingest chunks the text, embeds every chunk in one batch, persists the
// records, and indexes the vectors. A document becomes visible to retrieval
// only after all of its chunks are stored and indexed; on any failure the
// partial document is rolled back. Re-ingesting an ExternalID supersedes the
// previous version atomically from the reader's point of view.
func (s *Service) Ingest(ctx context.Context, req Request) (domain.Document, error) {
	if strings.TrimSpace(req.Text) == "" {
		return domain.Document{}, fmt.Errorf("empty document text: %w", domain.ErrInvalidInput)
	}

	var prev *domain.Document
	if req.ExternalID != "" {
		old, err := s.repo.GetDocumentByExternalID(ctx, req.ExternalID)
		switch {
		case err == nil:
			prev = &old
		case !isNotFound(err):
			return domain.Document{}, fmt.Errorf("resolve external ID: %w", err)
		}
	}

	pieces, err := chunker.Chunk(req.Text, s.chunkCfg)
	if err != nil {
		return domain.Document{}, fmt.Errorf("chunk document: %w", err)
	}
	if len(pieces) == 0 {
		return domain.Document{}, fmt.Errorf("document has no indexable content: %w", domain.ErrInvalidInput)
	}

	doc := domain.Document{
		ID:         uuid.NewString(),
		ExternalID: req.ExternalID,
		Title:      req.Title,
		SourceURI:  req.SourceURI,
		Version:    1,
		Status:     domain.IngestProcessing,
		IngestedAt: time.Now().UTC(),
	}
	if prev != nil {
		doc.Version = prev.Version + 1
	}

	if err := s.ingestChunks(ctx, &doc, pieces); err != nil {
		s.rollback(doc.ID)
		metrics.IngestedChunksTotal.WithLabelValues("error").Add(float64(len(pieces)))
		s.logger.Error("Ingestion failed",
			zap.String("document_id", doc.ID),
			zap.String("external_id", req.ExternalID),
			zap.Int("chunks", len(pieces)),
			zap.Error(err),
		)
		return domain.Document{}, err
	}

	doc.Status = domain.IngestCompleted
	doc.ChunkCount = len(pieces)
	// Final save flips the status and repoints the external-ID mapping at
	// the new version.
	if err := s.repo.SaveDocument(ctx, doc); err != nil {
		s.rollback(doc.ID)
		return domain.Document{}, fmt.Errorf("finalize document: %w", err)
	}

	if prev != nil && prev.ID != doc.ID {
		s.supersede(ctx, prev.ID)
	}

	metrics.IngestedChunksTotal.WithLabelValues("ok").Add(float64(len(pieces)))
	s.logger.Info("Document ingested",
		zap.String("document_id", doc.ID),
		zap.String("external_id", req.ExternalID),
		zap.Int("version", doc.Version),
		zap.Int("chunks", len(pieces)),
	)
	return doc, nil
}

func (s *Service) ingestChunks(ctx context.Context, doc *domain.Document, pieces []chunker.Piece) error {
	// The external-ID mapping keeps pointing at the previous version until
	// the final save; readers never see a half-ingested document.
	inFlight := *doc
	inFlight.ExternalID = ""
	if err := s.repo.SaveDocument(ctx, inFlight); err != nil {
		return fmt.Errorf("save document: %w", err)
	}

	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Text
	}

	batch, err := s.embedder.BatchEmbed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(batch.Embeddings) != len(pieces) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks: %w",
			len(batch.Embeddings), len(pieces), domain.ErrEmbeddingUnavailable)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	chunks := make([]domain.Chunk, len(pieces))
	embs := make([]domain.Embedding, len(pieces))
	for i, p := range pieces {
		chunkID := fmt.Sprintf("%s:%d", doc.ID, p.Seq)
		chunks[i] = domain.Chunk{
			ID:         chunkID,
			DocumentID: doc.ID,
			Text:       p.Text,
			Start:      p.Start,
			End:        p.End,
			Seq:        p.Seq,
		}
		embs[i] = domain.Embedding{
			ChunkID: chunkID,
			ModelID: batch.ModelID,
			Dim:     len(batch.Embeddings[i]),
			Vector:  batch.Embeddings[i],
		}
	}

	if err := s.repo.SaveChunks(ctx, chunks); err != nil {
		return fmt.Errorf("save chunks: %w", err)
	}
	if err := s.repo.SaveEmbeddings(ctx, embs); err != nil {
		return fmt.Errorf("save embeddings: %w", err)
	}

	for i := range chunks {
		meta := index.Meta{
			ModelID:    batch.ModelID,
			DocumentID: doc.ID,
			Seq:        chunks[i].Seq,
			IngestedAt: doc.IngestedAt,
		}
		if err := s.idx.Upsert(chunks[i].ID, embs[i].Vector, meta); err != nil {
			return fmt.Errorf("index chunk %s: %w", chunks[i].ID, err)
		}
	}
	return nil
}

// rollback removes the partial document. Best effort: leftovers are also
// cleaned up by the orphan skip in index rebuilds.
func (s *Service) rollback(docID string) {
	s.idx.DeleteDocument(docID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.repo.DeleteDocument(ctx, docID); err != nil && !isNotFound(err) {
		s.logger.Warn("Rollback cleanup failed", zap.String("document_id", docID), zap.Error(err))
	}
}

// supersede retires the previous version of a re-ingested document.
func (s *Service) supersede(ctx context.Context, oldID string) {
	s.idx.DeleteDocument(oldID)
	if err := s.repo.DeleteDocument(ctx, oldID); err != nil && !isNotFound(err) {
		s.logger.Warn("Failed to delete superseded document",
			zap.String("document_id", oldID), zap.Error(err))
	}
}

// Get retrieves a document by ID.
func (s *Service) Get(ctx context.Context, id string) (domain.Document, error) {
	doc, err := s.repo.GetDocument(ctx, id)
	if err != nil {
		return domain.Document{}, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// GetStatus reports where a document sits in the write path.
func (s *Service) GetStatus(ctx context.Context, id string) (domain.IngestStatus, error) {
	doc, err := s.repo.GetDocument(ctx, id)
	if err != nil {
		return "", fmt.Errorf("get document: %w", err)
	}
	return doc.Status, nil
}

// List returns a paginated list of documents, newest first.
func (s *Service) List(ctx context.Context, cursor string, limit int) ([]domain.Document, string, error) {
	if limit <= 0 {
		limit = s.defaultPageSize
	}
	if limit > s.maxPageSize {
		limit = s.maxPageSize
	}
	docs, next, err := s.repo.ListDocuments(ctx, cursor, limit)
	if err != nil {
		return nil, "", fmt.Errorf("list documents: %w", err)
	}
	return docs, next, nil
}

// Delete removes a document and all of its chunks from storage and the index.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	s.idx.DeleteDocument(id)
	return nil
}

// Rebuild repopulates the index from the durable corpus. The old index keeps
// serving until the fresh one swaps in.
func (s *Service) Rebuild(ctx context.Context) error {
	start := time.Now()
	if err := s.idx.Rebuild(ctx, sourceFunc(s.repo.WalkEmbeddings)); err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	s.logger.Info("Index rebuilt", zap.Duration("took", time.Since(start)))
	return nil
}

// sourceFunc adapts the repository walk to index.EmbeddingSource.
type sourceFunc func(ctx context.Context, fn func(chunkID string, vec []float32, meta index.Meta) error) error

func (f sourceFunc) WalkEmbeddings(ctx context.Context, fn func(chunkID string, vec []float32, meta index.Meta) error) error {
	return f(ctx, fn)
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrDocumentNotFound)
}
