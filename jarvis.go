// Package jarvis embeds the retrieval pipeline in-process: ingest documents,
// ask questions over them, and manage per-user document selections without
// running the HTTP server.
package jarvis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/raks07/jarvis-data-injestion/internal/chunker"
	"github.com/raks07/jarvis-data-injestion/internal/db"
	dbRedis "github.com/raks07/jarvis-data-injestion/internal/db/redis"
	"github.com/raks07/jarvis-data-injestion/internal/domain"
	"github.com/raks07/jarvis-data-injestion/internal/index"
	"github.com/raks07/jarvis-data-injestion/internal/metrics"
	corpusrepo "github.com/raks07/jarvis-data-injestion/internal/repository/corpus"
	"github.com/raks07/jarvis-data-injestion/internal/repository/embcache"
	historyrepo "github.com/raks07/jarvis-data-injestion/internal/repository/history"
	selectionrepo "github.com/raks07/jarvis-data-injestion/internal/repository/selection"
	openaiTransport "github.com/raks07/jarvis-data-injestion/internal/transport/openai"
	embeddinguc "github.com/raks07/jarvis-data-injestion/internal/usecase/embedding"
	ingestionuc "github.com/raks07/jarvis-data-injestion/internal/usecase/ingestion"
	qauc "github.com/raks07/jarvis-data-injestion/internal/usecase/qa"
	retrievaluc "github.com/raks07/jarvis-data-injestion/internal/usecase/retrieval"
	selectionuc "github.com/raks07/jarvis-data-injestion/internal/usecase/selection"
)

const defaultReadinessTimeout = 10 * time.Second

// batchingEmbedder is what the write path needs: single and batch embedding.
type batchingEmbedder interface {
	domain.Embedder
	domain.BatchEmbedder
}

// Option configures the Engine.
type Option func(*engineConfig)

type engineConfig struct {
	addrs    []string
	password string

	apiKey  string
	baseURL string

	embeddingModel      string
	dimensions          int
	documentInstruction string
	queryInstruction    string

	chatModel string

	chunking  chunker.Config
	retrieval retrievaluc.Config

	contextBudget int
	maxInFlight   int

	logger *zap.Logger
}

// WithRedis configures the Redis/Valkey connection.
func WithRedis(addr, password string) Option {
	return func(c *engineConfig) {
		c.addrs = []string{addr}
		c.password = password
	}
}

// WithOpenAI sets the API credentials for embedding and chat completion.
// baseURL may point at any OpenAI-compatible endpoint; empty means the
// OpenAI default.
func WithOpenAI(apiKey, baseURL string) Option {
	return func(c *engineConfig) {
		c.apiKey = apiKey
		c.baseURL = baseURL
	}
}

// WithEmbeddingModel sets the embedding model and its vector dimensions.
// dimensions 0 uses the provider default.
func WithEmbeddingModel(model string, dimensions int) Option {
	return func(c *engineConfig) {
		c.embeddingModel = model
		c.dimensions = dimensions
	}
}

// WithInstructions sets instruction prefixes prepended to document and query
// texts before embedding. Either may be empty.
func WithInstructions(document, query string) Option {
	return func(c *engineConfig) {
		c.documentInstruction = document
		c.queryInstruction = query
	}
}

// WithChatModel sets the chat-completion model used for answer generation.
func WithChatModel(model string) Option {
	return func(c *engineConfig) {
		c.chatModel = model
	}
}

// WithChunking sets chunk size and overlap in characters.
// Defaults: size 1000, overlap 200.
func WithChunking(maxChunkSize, overlap int) Option {
	return func(c *engineConfig) {
		c.chunking = chunker.Config{MaxChunkSize: maxChunkSize, Overlap: overlap}
	}
}

// WithRetrieval tunes search: how many chunks to return and the minimum
// similarity score. topK 0 keeps the default of 5; minScore 0 disables the
// threshold.
func WithRetrieval(topK int, minScore float64) Option {
	return func(c *engineConfig) {
		c.retrieval.TopK = topK
		c.retrieval.MinScore = minScore
	}
}

// WithRerank enables lexical re-ranking over depth candidates with the given
// blend weight (0..1).
func WithRerank(depth int, weight float64) Option {
	return func(c *engineConfig) {
		c.retrieval.RerankDepth = depth
		c.retrieval.RerankWeight = weight
	}
}

// WithContextBudget caps the assembled prompt context, in characters.
// Default: 6000.
func WithContextBudget(budget int) Option {
	return func(c *engineConfig) {
		c.contextBudget = budget
	}
}

// WithMaxInFlight bounds concurrent embedding provider calls. Default: 8.
func WithMaxInFlight(n int) Option {
	return func(c *engineConfig) {
		c.maxInFlight = n
	}
}

// WithLogger enables structured logging. Pass nil to disable (default).
func WithLogger(l *zap.Logger) Option {
	return func(c *engineConfig) {
		c.logger = l
	}
}

// Engine is the embedded pipeline entry point.
type Engine struct {
	store      db.Store
	idx        *index.Index
	ingestion  *ingestionuc.Service
	answers    *qauc.Service
	selections *selectionuc.Service
}

// New creates an Engine, connects to the store, and loads the vector index
// from durable records.
func New(opts ...Option) (*Engine, error) {
	cfg := &engineConfig{
		chunking:    chunker.Config{MaxChunkSize: 1000, Overlap: 200},
		maxInFlight: 8,
	}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	if len(cfg.addrs) == 0 {
		return nil, errors.New("jarvis: store address required (use WithRedis)")
	}
	if cfg.apiKey == "" {
		return nil, errors.New("jarvis: API key required (use WithOpenAI)")
	}
	if cfg.embeddingModel == "" {
		return nil, errors.New("jarvis: embedding model required (use WithEmbeddingModel)")
	}
	if cfg.chatModel == "" {
		return nil, errors.New("jarvis: chat model required (use WithChatModel)")
	}

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.addrs,
		Password: cfg.password,
	})
	if err != nil {
		return nil, fmt.Errorf("jarvis: create store: %w", err)
	}

	ctx := context.Background()
	if err := store.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
		store.Close()
		return nil, fmt.Errorf("jarvis: store not ready: %w", err)
	}

	engine, err := wireEngine(ctx, store, cfg)
	if err != nil {
		store.Close()
		return nil, err
	}
	return engine, nil
}

func wireEngine(ctx context.Context, store db.Store, cfg *engineConfig) (*Engine, error) {
	corpus := corpusrepo.New(store)
	selections := selectionrepo.New(store)

	docEmbedder := buildEmbedder(store, cfg, cfg.documentInstruction)
	queryEmbedder := buildEmbedder(store, cfg, cfg.queryInstruction)

	completion := openaiTransport.NewCompletionClient(&openaiTransport.CompletionConfig{
		APIKey:  cfg.apiKey,
		BaseURL: cfg.baseURL,
		Model:   cfg.chatModel,
		Logger:  cfg.logger,
	})

	idx := index.New()
	if err := idx.Rebuild(ctx, corpus); err != nil {
		return nil, fmt.Errorf("jarvis: load index: %w", err)
	}

	ingestion := ingestionuc.New(corpus, docEmbedder, idx, cfg.chunking, cfg.logger)
	retriever := retrievaluc.New(queryEmbedder, idx, corpus, cfg.retrieval, cfg.logger)
	selectionSvc := selectionuc.New(selections, corpus, cfg.logger)
	answers := qauc.New(retriever, &generatorAdapter{inner: completion}, selectionSvc,
		qauc.Config{ContextBudget: cfg.contextBudget}, cfg.logger).
		WithHistory(historyrepo.New(store))

	return &Engine{
		store:      store,
		idx:        idx,
		ingestion:  ingestion,
		answers:    answers,
		selections: selectionSvc,
	}, nil
}

// buildEmbedder assembles the embedded-mode chain: OpenAI -> Limiter ->
// Cached -> Instruction.
func buildEmbedder(store db.Store, cfg *engineConfig, instruction string) batchingEmbedder {
	base := openaiTransport.NewEmbedder(&openaiTransport.EmbedderConfig{
		APIKey:     cfg.apiKey,
		BaseURL:    cfg.baseURL,
		Model:      cfg.embeddingModel,
		Dimensions: cfg.dimensions,
		Provider:   "openai",
		Logger:     cfg.logger,
	})

	limited := embeddinguc.NewLimiter(base, cfg.maxInFlight)
	cached := embcache.New(limited, store, cfg.embeddingModel, metrics.EmbeddingCacheTotal, cfg.logger)

	if instruction != "" {
		return domain.NewInstructionEmbedder(cached, instruction)
	}
	return cached
}

// generatorAdapter narrows the completion client to the answer service's
// contract, dropping token usage.
type generatorAdapter struct {
	inner *openaiTransport.CompletionClient
}

func (g *generatorAdapter) Generate(ctx context.Context, system, prompt string) (string, error) {
	text, _, err := g.inner.Generate(ctx, system, prompt)
	return text, err
}

// IngestRequest is one document to ingest.
type IngestRequest struct {
	ExternalID string
	Title      string
	SourceURI  string
	Text       string
}

// Document describes an ingested document.
type Document struct {
	ID         string
	ExternalID string
	Title      string
	SourceURI  string
	Version    int
	Status     string
	IngestedAt time.Time
	ChunkCount int
}

// Citation is the provenance of one chunk shown to the model.
type Citation struct {
	ChunkID    string
	DocumentID string
	Excerpt    string
	Score      float64
}

// Answer is a generated answer with its citations.
type Answer struct {
	Question  string
	Text      string
	Citations []Citation
}

// AskOptions scope and attribute a question.
type AskOptions struct {
	UserID      string
	DocumentIDs []string
}

// HistoryRecord is one previously answered question.
type HistoryRecord struct {
	ID        string
	UserID    string
	Question  string
	Answer    string
	Citations []Citation
	AskedAt   time.Time
}

// Ingest chunks, embeds, stores, and indexes one document.
func (e *Engine) Ingest(ctx context.Context, req IngestRequest) (Document, error) {
	doc, err := e.ingestion.Ingest(ctx, ingestionuc.Request{
		ExternalID: req.ExternalID,
		Title:      req.Title,
		SourceURI:  req.SourceURI,
		Text:       req.Text,
	})
	if err != nil {
		return Document{}, err
	}
	return toDocument(doc), nil
}

// Document returns one document by ID.
func (e *Engine) Document(ctx context.Context, id string) (Document, error) {
	doc, err := e.ingestion.Get(ctx, id)
	if err != nil {
		return Document{}, err
	}
	return toDocument(doc), nil
}

// DocumentStatus reports a document's ingestion status.
func (e *Engine) DocumentStatus(ctx context.Context, id string) (string, error) {
	status, err := e.ingestion.GetStatus(ctx, id)
	if err != nil {
		return "", err
	}
	return string(status), nil
}

// ListDocuments pages through ingested documents, newest first. An empty
// cursor starts from the beginning; an empty returned cursor means the end.
func (e *Engine) ListDocuments(ctx context.Context, cursor string, limit int) ([]Document, string, error) {
	docs, next, err := e.ingestion.List(ctx, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	out := make([]Document, len(docs))
	for i, d := range docs {
		out[i] = toDocument(d)
	}
	return out, next, nil
}

// DeleteDocument removes a document, its chunks, embeddings, and index
// entries.
func (e *Engine) DeleteDocument(ctx context.Context, id string) error {
	return e.ingestion.Delete(ctx, id)
}

// Ask answers a question over the ingested corpus.
func (e *Engine) Ask(ctx context.Context, question string, opts AskOptions) (Answer, error) {
	answer, err := e.answers.Ask(ctx, qauc.Request{
		UserID:      opts.UserID,
		Question:    question,
		DocumentIDs: opts.DocumentIDs,
	})
	if err != nil {
		return Answer{}, err
	}

	citations := make([]Citation, len(answer.Citations))
	for i, c := range answer.Citations {
		citations[i] = Citation{
			ChunkID:    c.ChunkID,
			DocumentID: c.DocumentID,
			Excerpt:    c.Excerpt,
			Score:      c.Score,
		}
	}
	return Answer{
		Question:  answer.Question,
		Text:      answer.Text,
		Citations: citations,
	}, nil
}

// History returns the user's answered questions, newest first. Zero limit
// means no cap.
func (e *Engine) History(ctx context.Context, userID string, limit, offset int) ([]HistoryRecord, error) {
	recs, err := e.answers.History(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]HistoryRecord, len(recs))
	for i, rec := range recs {
		out[i] = toHistoryRecord(rec)
	}
	return out, nil
}

// HistoryRecord returns one answered question by record ID.
func (e *Engine) HistoryRecord(ctx context.Context, id string) (HistoryRecord, error) {
	rec, err := e.answers.HistoryRecord(ctx, id)
	if err != nil {
		return HistoryRecord{}, err
	}
	return toHistoryRecord(rec), nil
}

func toHistoryRecord(rec domain.HistoryRecord) HistoryRecord {
	citations := make([]Citation, len(rec.Citations))
	for i, c := range rec.Citations {
		citations[i] = Citation{
			ChunkID:    c.ChunkID,
			DocumentID: c.DocumentID,
			Excerpt:    c.Excerpt,
			Score:      c.Score,
		}
	}
	return HistoryRecord{
		ID:        rec.ID,
		UserID:    rec.UserID,
		Question:  rec.Question,
		Answer:    rec.Answer,
		Citations: citations,
		AskedAt:   rec.AskedAt,
	}
}

// SelectDocuments restricts the user's future questions to the given
// documents. An empty list clears the selection.
func (e *Engine) SelectDocuments(ctx context.Context, userID string, documentIDs []string) error {
	return e.selections.Set(ctx, userID, documentIDs)
}

// SelectedDocuments returns the user's selected document IDs; nil means no
// selection (the whole corpus).
func (e *Engine) SelectedDocuments(ctx context.Context, userID string) ([]string, error) {
	return e.selections.Get(ctx, userID)
}

// ClearSelection removes the user's selection.
func (e *Engine) ClearSelection(ctx context.Context, userID string) error {
	return e.selections.Clear(ctx, userID)
}

// RebuildIndex reloads the vector index from durable records.
func (e *Engine) RebuildIndex(ctx context.Context) error {
	return e.ingestion.Rebuild(ctx)
}

// Ping checks store connectivity.
func (e *Engine) Ping(ctx context.Context) error {
	if err := e.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close releases all resources.
func (e *Engine) Close() {
	if e.store != nil {
		e.store.Close()
	}
}

func toDocument(d domain.Document) Document {
	return Document{
		ID:         d.ID,
		ExternalID: d.ExternalID,
		Title:      d.Title,
		SourceURI:  d.SourceURI,
		Version:    d.Version,
		Status:     string(d.Status),
		IngestedAt: d.IngestedAt,
		ChunkCount: d.ChunkCount,
	}
}
