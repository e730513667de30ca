package qa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/raks07/jarvis-data-injestion/internal/domain"
)

const (
	systemPrompt = "You are a helpful assistant that answers questions based on the provided context."

	promptTemplate = `Answer the question based on the context below.

Context:
%s

Question: %s

Answer:`

	// insufficientContext is returned instead of calling the model when
	// retrieval finds nothing usable.
	insufficientContext = "I don't have enough information to answer that question."
)

// Retriever finds the chunks most similar to a question.
type Retriever interface {
	Retrieve(ctx context.Context, query string, filter domain.Filter) (domain.RetrievalResult, error)
}

// Generator produces an answer from an assembled prompt.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// SelectionReader resolves a user's stored document selection.
type SelectionReader interface {
	Get(ctx context.Context, userID string) ([]string, error)
}

// HistoryStore keeps answered questions for later review.
type HistoryStore interface {
	Append(ctx context.Context, rec domain.HistoryRecord) error
	Get(ctx context.Context, id string) (domain.HistoryRecord, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.HistoryRecord, error)
}

// Config tunes answer orchestration.
type Config struct {
	ContextBudget  int  // max runes of assembled context
	EmptyIsFailure bool // surface ErrNoResults instead of the fallback answer
}

// Service orchestrates the read path.
type Service struct {
	retriever  Retriever
	generator  Generator
	selections SelectionReader // optional
	history    HistoryStore    // optional
	cfg        Config
	logger     *zap.Logger
}

// New creates an answer orchestrator. selections may be nil when per-user
// document selections are not used.
func New(retriever Retriever, generator Generator, selections SelectionReader, cfg Config, logger *zap.Logger) *Service {
	if cfg.ContextBudget <= 0 {
		cfg.ContextBudget = 6000
	}
	return &Service{
		retriever:  retriever,
		generator:  generator,
		selections: selections,
		cfg:        cfg,
		logger:     logger,
	}
}

// WithHistory enables answer persistence. Without it answers are ephemeral.
func (s *Service) WithHistory(h HistoryStore) *Service {
	s.history = h
	return s
}

// Request is one question to answer.
type Request struct {
	UserID      string
	Question    string
	DocumentIDs []string // explicit scope; overrides the stored selection
}

// Ask retrieves context for the question and generates an answer. The
// answer always carries citations for exactly the chunks shown to the
// model. When nothing relevant is found the service either answers with a
// fixed fallback or fails, per configuration.
func (s *Service) Ask(ctx context.Context, req Request) (domain.Answer, error) {
	log := s.logger.With(zap.String("user_id", req.UserID))
	log.Debug("Question received", zap.String("state", string(domain.StateReceived)))

	if strings.TrimSpace(req.Question) == "" {
		return domain.Answer{}, fmt.Errorf("empty question: %w", domain.ErrInvalidInput)
	}

	filter, err := s.resolveFilter(ctx, req)
	if err != nil {
		return domain.Answer{}, err
	}

	log.Debug("Embedding question", zap.String("state", string(domain.StateEmbedding)))
	result, err := s.retriever.Retrieve(ctx, req.Question, filter)
	if err != nil {
		if errors.Is(err, domain.ErrNoResults) && !s.cfg.EmptyIsFailure {
			log.Info("No relevant context, answering with fallback")
			ans := domain.Answer{
				Question: req.Question,
				Text:     insufficientContext,
			}
			s.record(ctx, log, req.UserID, ans)
			return ans, nil
		}
		log.Warn("Retrieval failed",
			zap.String("state", string(domain.StateFailed)), zap.Error(err))
		return domain.Answer{}, fmt.Errorf("retrieve context: %w", err)
	}

	log.Debug("Assembling context",
		zap.String("state", string(domain.StateAssembling)),
		zap.Int("candidates", len(result.Chunks)),
	)
	contextText, included := assembleContext(result.Chunks, s.cfg.ContextBudget)
	if contextText == "" {
		if s.cfg.EmptyIsFailure {
			return domain.Answer{}, fmt.Errorf("no chunk fits the context budget: %w", domain.ErrNoResults)
		}
		ans := domain.Answer{
			Question: req.Question,
			Text:     insufficientContext,
		}
		s.record(ctx, log, req.UserID, ans)
		return ans, nil
	}

	log.Debug("Generating answer",
		zap.String("state", string(domain.StateGenerating)),
		zap.Int("context_runes", len([]rune(contextText))),
		zap.Int("chunks_included", len(included)),
	)
	prompt := fmt.Sprintf(promptTemplate, contextText, req.Question)
	text, err := s.generator.Generate(ctx, systemPrompt, prompt)
	if err != nil {
		log.Error("Generation failed",
			zap.String("state", string(domain.StateFailed)), zap.Error(err))
		return domain.Answer{}, fmt.Errorf("generate answer: %w", err)
	}

	citations := make([]domain.Citation, len(included))
	for i, hit := range included {
		citations[i] = domain.Citation{
			ChunkID:    hit.Chunk.ID,
			DocumentID: hit.Chunk.DocumentID,
			Excerpt:    excerpt(hit.Chunk.Text),
			Score:      hit.Score,
		}
	}

	log.Info("Question answered",
		zap.String("state", string(domain.StateDone)),
		zap.Int("citations", len(citations)),
	)
	ans := domain.Answer{
		Question:  req.Question,
		Context:   contextText,
		Text:      strings.TrimSpace(text),
		Citations: citations,
	}
	s.record(ctx, log, req.UserID, ans)
	return ans, nil
}

// record persists the answered question. Persistence failures are logged,
// never surfaced; the answer has already been produced.
func (s *Service) record(ctx context.Context, log *zap.Logger, userID string, ans domain.Answer) {
	if s.history == nil {
		return
	}
	rec := domain.HistoryRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		Question:  ans.Question,
		Answer:    ans.Text,
		Citations: ans.Citations,
		AskedAt:   time.Now().UTC(),
	}
	if err := s.history.Append(ctx, rec); err != nil {
		log.Warn("History write failed", zap.Error(err))
	}
}

// History returns the user's answered questions, newest first.
func (s *Service) History(ctx context.Context, userID string, limit, offset int) ([]domain.HistoryRecord, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.ListByUser(ctx, userID, limit, offset)
}

// HistoryRecord returns one answered question by record ID.
func (s *Service) HistoryRecord(ctx context.Context, id string) (domain.HistoryRecord, error) {
	if s.history == nil {
		return domain.HistoryRecord{}, fmt.Errorf("record %s: %w", id, domain.ErrHistoryNotFound)
	}
	return s.history.Get(ctx, id)
}

// resolveFilter prefers the request's explicit scope over the stored
// selection. No selection means the whole corpus.
func (s *Service) resolveFilter(ctx context.Context, req Request) (domain.Filter, error) {
	if len(req.DocumentIDs) > 0 {
		return domain.Filter{DocumentIDs: req.DocumentIDs}, nil
	}
	if s.selections == nil || req.UserID == "" {
		return domain.Filter{}, nil
	}
	ids, err := s.selections.Get(ctx, req.UserID)
	if err != nil {
		return domain.Filter{}, fmt.Errorf("load selection: %w", err)
	}
	return domain.Filter{DocumentIDs: ids}, nil
}

const maxExcerptRunes = 200

func excerpt(text string) string {
	runes := []rune(text)
	if len(runes) <= maxExcerptRunes {
		return text
	}
	return string(runes[:maxExcerptRunes]) + "…"
}
