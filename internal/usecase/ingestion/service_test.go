package ingestion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/raks07/jarvis-data-injestion/internal/chunker"
	"github.com/raks07/jarvis-data-injestion/internal/domain"
	"github.com/raks07/jarvis-data-injestion/internal/index"
	"github.com/raks07/jarvis-data-injestion/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.RegisterPipelineMetrics()
	os.Exit(m.Run())
}

type mockRepo struct {
	docs       map[string]domain.Document
	byExternal map[string]string
	chunks     map[string]domain.Chunk
	embs       map[string]domain.Embedding

	saveChunksErr error
	saveEmbsErr   error
	deleteCalls   []string
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		docs:       make(map[string]domain.Document),
		byExternal: make(map[string]string),
		chunks:     make(map[string]domain.Chunk),
		embs:       make(map[string]domain.Embedding),
	}
}

func (m *mockRepo) SaveDocument(_ context.Context, doc domain.Document) error {
	m.docs[doc.ID] = doc
	if doc.ExternalID != "" {
		m.byExternal[doc.ExternalID] = doc.ID
	}
	return nil
}

func (m *mockRepo) GetDocument(_ context.Context, id string) (domain.Document, error) {
	doc, ok := m.docs[id]
	if !ok {
		return domain.Document{}, domain.ErrDocumentNotFound
	}
	return doc, nil
}

func (m *mockRepo) GetDocumentByExternalID(ctx context.Context, ext string) (domain.Document, error) {
	id, ok := m.byExternal[ext]
	if !ok {
		return domain.Document{}, domain.ErrDocumentNotFound
	}
	return m.GetDocument(ctx, id)
}

func (m *mockRepo) ListDocuments(_ context.Context, _ string, limit int) ([]domain.Document, string, error) {
	docs := make([]domain.Document, 0, len(m.docs))
	for _, d := range m.docs {
		docs = append(docs, d)
	}
	if len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, "", nil
}

func (m *mockRepo) DeleteDocument(_ context.Context, id string) error {
	m.deleteCalls = append(m.deleteCalls, id)
	doc, ok := m.docs[id]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	delete(m.docs, id)
	if doc.ExternalID != "" && m.byExternal[doc.ExternalID] == id {
		delete(m.byExternal, doc.ExternalID)
	}
	for cid, c := range m.chunks {
		if c.DocumentID == id {
			delete(m.chunks, cid)
			delete(m.embs, cid)
		}
	}
	return nil
}

func (m *mockRepo) SaveChunks(_ context.Context, chunks []domain.Chunk) error {
	if m.saveChunksErr != nil {
		return m.saveChunksErr
	}
	for _, c := range chunks {
		m.chunks[c.ID] = c
	}
	return nil
}

func (m *mockRepo) SaveEmbeddings(_ context.Context, embs []domain.Embedding) error {
	if m.saveEmbsErr != nil {
		return m.saveEmbsErr
	}
	for _, e := range embs {
		m.embs[e.ChunkID] = e
	}
	return nil
}

func (m *mockRepo) WalkEmbeddings(_ context.Context, fn func(string, []float32, index.Meta) error) error {
	for cid, e := range m.embs {
		c := m.chunks[cid]
		doc := m.docs[c.DocumentID]
		meta := index.Meta{
			ModelID: e.ModelID, DocumentID: c.DocumentID,
			Seq: c.Seq, IngestedAt: doc.IngestedAt,
		}
		if err := fn(cid, e.Vector, meta); err != nil {
			return err
		}
	}
	return nil
}

type mockBatchEmbedder struct {
	err   error
	calls int
	short bool
}

func (m *mockBatchEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	m.calls++
	if m.err != nil {
		return domain.BatchEmbeddingResult{}, m.err
	}
	n := len(texts)
	if m.short {
		n--
	}
	embeddings := make([][]float32, n)
	for i := range embeddings {
		embeddings[i] = []float32{1, 0, 0}
	}
	return domain.BatchEmbeddingResult{
		Embeddings:  embeddings,
		ModelID:     "test-model",
		TotalTokens: 7 * len(texts),
	}, nil
}

type mockIndexer struct {
	upserts    map[string][]float32
	upsertErr  error
	deleted    []string
	rebuilds   int
	rebuildErr error
}

func newMockIndexer() *mockIndexer {
	return &mockIndexer{upserts: make(map[string][]float32)}
}

func (m *mockIndexer) Upsert(chunkID string, vec []float32, _ index.Meta) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.upserts[chunkID] = vec
	return nil
}

func (m *mockIndexer) DeleteDocument(docID string) {
	m.deleted = append(m.deleted, docID)
	for cid := range m.upserts {
		if strings.HasPrefix(cid, docID+":") {
			delete(m.upserts, cid)
		}
	}
}

func (m *mockIndexer) Rebuild(ctx context.Context, src index.EmbeddingSource) error {
	m.rebuilds++
	if m.rebuildErr != nil {
		return m.rebuildErr
	}
	return src.WalkEmbeddings(ctx, func(string, []float32, index.Meta) error { return nil })
}

func newTestService(repo *mockRepo, emb *mockBatchEmbedder, idx *mockIndexer) *Service {
	return New(repo, emb, idx, chunker.Config{MaxChunkSize: 50, Overlap: 10}, zap.NewNop())
}

func longText(paragraphs int) string {
	var b strings.Builder
	for i := 0; i < paragraphs; i++ {
		fmt.Fprintf(&b, "Paragraph %d has a few sentences in it. It keeps going for a while.\n\n", i)
	}
	return b.String()
}

func TestIngest_Success(t *testing.T) {
	repo := newMockRepo()
	emb := &mockBatchEmbedder{}
	idx := newMockIndexer()
	svc := newTestService(repo, emb, idx)

	doc, err := svc.Ingest(context.Background(), Request{
		ExternalID: "ext-1", Title: "T", Text: longText(3),
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if doc.Status != domain.IngestCompleted {
		t.Errorf("status = %s, want completed", doc.Status)
	}
	if doc.Version != 1 {
		t.Errorf("version = %d, want 1", doc.Version)
	}
	if doc.ChunkCount < 2 {
		t.Errorf("chunk count = %d, expected multiple chunks", doc.ChunkCount)
	}
	if len(repo.chunks) != doc.ChunkCount || len(repo.embs) != doc.ChunkCount {
		t.Errorf("stored %d chunks / %d embeddings, want %d",
			len(repo.chunks), len(repo.embs), doc.ChunkCount)
	}
	if len(idx.upserts) != doc.ChunkCount {
		t.Errorf("indexed %d chunks, want %d", len(idx.upserts), doc.ChunkCount)
	}
	if emb.calls != 1 {
		t.Errorf("embedder called %d times, want single batch", emb.calls)
	}
	for cid := range repo.chunks {
		if !strings.HasPrefix(cid, doc.ID+":") {
			t.Errorf("chunk ID %s not scoped to document", cid)
		}
	}
}

func TestIngest_EmptyTextRejected(t *testing.T) {
	svc := newTestService(newMockRepo(), &mockBatchEmbedder{}, newMockIndexer())

	_, err := svc.Ingest(context.Background(), Request{Text: "   \n\t "})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestIngest_EmbedFailureRollsBack(t *testing.T) {
	repo := newMockRepo()
	emb := &mockBatchEmbedder{err: domain.ErrEmbeddingUnavailable}
	idx := newMockIndexer()
	svc := newTestService(repo, emb, idx)

	_, err := svc.Ingest(context.Background(), Request{ExternalID: "ext-1", Text: longText(2)})
	if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Fatalf("err = %v, want ErrEmbeddingUnavailable", err)
	}
	if len(repo.docs) != 0 {
		t.Errorf("partial document survived rollback: %v", repo.docs)
	}
	if len(repo.byExternal) != 0 {
		t.Errorf("external mapping survived rollback")
	}
	if len(idx.upserts) != 0 {
		t.Errorf("index entries survived rollback")
	}
}

func TestIngest_ShortEmbedResponseRollsBack(t *testing.T) {
	repo := newMockRepo()
	emb := &mockBatchEmbedder{short: true}
	idx := newMockIndexer()
	svc := newTestService(repo, emb, idx)

	_, err := svc.Ingest(context.Background(), Request{Text: longText(3)})
	if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Fatalf("err = %v, want ErrEmbeddingUnavailable", err)
	}
	if len(repo.docs) != 0 || len(idx.upserts) != 0 {
		t.Error("partial state survived rollback")
	}
}

func TestIngest_IndexFailureRollsBack(t *testing.T) {
	repo := newMockRepo()
	idx := newMockIndexer()
	idx.upsertErr = domain.NewDimMismatch("test-model", 3, 4)
	svc := newTestService(repo, &mockBatchEmbedder{}, idx)

	_, err := svc.Ingest(context.Background(), Request{Text: longText(2)})
	if !errors.Is(err, domain.ErrIndexInconsistency) {
		t.Fatalf("err = %v, want ErrIndexInconsistency", err)
	}
	if len(repo.docs) != 0 {
		t.Errorf("partial document survived rollback")
	}
}

func TestIngest_SupersedesByExternalID(t *testing.T) {
	repo := newMockRepo()
	idx := newMockIndexer()
	svc := newTestService(repo, &mockBatchEmbedder{}, idx)
	ctx := context.Background()

	first, err := svc.Ingest(ctx, Request{ExternalID: "ext-1", Text: longText(2)})
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	second, err := svc.Ingest(ctx, Request{ExternalID: "ext-1", Text: longText(3)})
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}

	if second.Version != 2 {
		t.Errorf("version = %d, want 2", second.Version)
	}
	if _, err := repo.GetDocument(ctx, first.ID); !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Errorf("superseded document still stored")
	}
	resolved, err := repo.GetDocumentByExternalID(ctx, "ext-1")
	if err != nil {
		t.Fatalf("resolve external ID: %v", err)
	}
	if resolved.ID != second.ID {
		t.Errorf("external ID points at %s, want %s", resolved.ID, second.ID)
	}
	var superseded bool
	for _, id := range idx.deleted {
		if id == first.ID {
			superseded = true
		}
	}
	if !superseded {
		t.Errorf("old document vectors not dropped from index")
	}

	// Version numbering continues across repeated re-ingestions.
	third, err := svc.Ingest(ctx, Request{ExternalID: "ext-1", Text: longText(2)})
	if err != nil {
		t.Fatalf("third Ingest: %v", err)
	}
	if third.Version != 3 {
		t.Errorf("version = %d, want 3", third.Version)
	}
	if _, err := repo.GetDocument(ctx, second.ID); !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Errorf("second version still stored after third ingest")
	}
}

func TestIngest_NewDocInvisibleUntilComplete(t *testing.T) {
	// On chunk save failure the document must not remain readable.
	repo := newMockRepo()
	repo.saveChunksErr = errors.New("store down")
	svc := newTestService(repo, &mockBatchEmbedder{}, newMockIndexer())

	_, err := svc.Ingest(context.Background(), Request{ExternalID: "e", Text: longText(2)})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(repo.docs) != 0 {
		t.Errorf("document visible despite failed ingest")
	}
}

func TestDelete_CascadesToIndex(t *testing.T) {
	repo := newMockRepo()
	idx := newMockIndexer()
	svc := newTestService(repo, &mockBatchEmbedder{}, idx)
	ctx := context.Background()

	doc, err := svc.Ingest(ctx, Request{Text: longText(2)})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if err := svc.Delete(ctx, doc.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(repo.docs) != 0 || len(repo.chunks) != 0 {
		t.Error("storage not cleaned up")
	}
	if len(idx.upserts) != 0 {
		t.Error("index not cleaned up")
	}
}

func TestDelete_MissingDocument(t *testing.T) {
	svc := newTestService(newMockRepo(), &mockBatchEmbedder{}, newMockIndexer())

	err := svc.Delete(context.Background(), "missing")
	if !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Fatalf("err = %v, want ErrDocumentNotFound", err)
	}
}

func TestRebuild(t *testing.T) {
	repo := newMockRepo()
	idx := newMockIndexer()
	svc := newTestService(repo, &mockBatchEmbedder{}, idx)
	ctx := context.Background()

	if _, err := svc.Ingest(ctx, Request{Text: longText(2)}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if err := svc.Rebuild(ctx); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if idx.rebuilds != 1 {
		t.Errorf("rebuilds = %d, want 1", idx.rebuilds)
	}
}

func TestList_ClampsLimit(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, &mockBatchEmbedder{}, newMockIndexer()).WithPagination(2, 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := svc.Ingest(ctx, Request{Text: longText(1)}); err != nil {
			t.Fatalf("Ingest %d: %v", i, err)
		}
	}

	docs, _, err := svc.List(ctx, "", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("default page size not applied: got %d", len(docs))
	}

	docs, _, err = svc.List(ctx, "", 100)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(docs) != 3 {
		t.Errorf("max page size not applied: got %d", len(docs))
	}
}

func TestGetStatus(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, &mockBatchEmbedder{}, newMockIndexer())
	ctx := context.Background()

	doc, err := svc.Ingest(ctx, Request{Text: longText(2)})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	status, err := svc.GetStatus(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status != domain.IngestCompleted {
		t.Errorf("status = %s, want completed", status)
	}

	if _, err := svc.GetStatus(ctx, "missing"); !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Errorf("err = %v, want ErrDocumentNotFound", err)
	}
}
