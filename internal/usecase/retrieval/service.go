// Package retrieval runs the read path's search stage: embed the query,
// rank against the index, and optionally rerank lexically.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/raks07/jarvis-data-injestion/internal/domain"
	"github.com/raks07/jarvis-data-injestion/internal/index"
	"github.com/raks07/jarvis-data-injestion/internal/metrics"
)

// Searcher is the vector index contract consumed by retrieval.
type Searcher interface {
	Search(vec []float32, k int, modelID string, filter domain.Filter) ([]index.Hit, error)
}

// ChunkReader loads chunk records for search hits.
type ChunkReader interface {
	GetChunks(ctx context.Context, chunkIDs []string) ([]domain.Chunk, error)
}

// Config tunes the ranking stage.
type Config struct {
	TopK         int
	MinScore     float64
	RerankDepth  int     // candidates pulled before reranking; 0 disables
	RerankWeight float64 // lexical share of the combined score, [0,1]
}

// Service retrieves the chunks most similar to a query.
type Service struct {
	embedder domain.Embedder
	searcher Searcher
	chunks   ChunkReader
	cfg      Config
	logger   *zap.Logger
}

// New creates a retrieval service.
func New(embedder domain.Embedder, searcher Searcher, chunks ChunkReader, cfg Config, logger *zap.Logger) *Service {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.RerankDepth < cfg.TopK && cfg.RerankDepth != 0 {
		cfg.RerankDepth = cfg.TopK
	}
	return &Service{
		embedder: embedder,
		searcher: searcher,
		chunks:   chunks,
		cfg:      cfg,
		logger:   logger,
	}
}

// Retrieve embeds the query and returns the top-k chunks above the score
// threshold. With reranking enabled, rerank_depth candidates are re-scored
// by a fixed-weight mix of vector and lexical similarity before the final
// cut to k.
func (s *Service) Retrieve(ctx context.Context, query string, filter domain.Filter) (domain.RetrievalResult, error) {
	if strings.TrimSpace(query) == "" {
		return domain.RetrievalResult{}, fmt.Errorf("empty query: %w", domain.ErrInvalidInput)
	}

	start := time.Now()

	embedded, err := s.embedder.Embed(ctx, query)
	if err != nil {
		metrics.RetrievalResultsTotal.WithLabelValues("error").Inc()
		return domain.RetrievalResult{}, fmt.Errorf("embed query: %w", err)
	}

	depth := s.cfg.TopK
	if s.cfg.RerankDepth > depth {
		depth = s.cfg.RerankDepth
	}

	s.logger.Debug("Searching index",
		zap.String("state", string(domain.StateRetrieving)),
		zap.String("model", embedded.ModelID),
	)
	hits, err := s.searcher.Search(embedded.Embedding, depth, embedded.ModelID, filter)
	if err != nil {
		if errors.Is(err, domain.ErrNoResults) {
			metrics.RetrievalResultsTotal.WithLabelValues("empty").Inc()
		} else {
			metrics.RetrievalResultsTotal.WithLabelValues("error").Inc()
		}
		return domain.RetrievalResult{}, fmt.Errorf("search index: %w", err)
	}

	hits = s.aboveThreshold(hits)
	if len(hits) == 0 {
		metrics.RetrievalResultsTotal.WithLabelValues("empty").Inc()
		return domain.RetrievalResult{}, fmt.Errorf(
			"no chunk above score threshold %.2f: %w", s.cfg.MinScore, domain.ErrNoResults)
	}

	scored, err := s.loadChunks(ctx, hits)
	if err != nil {
		metrics.RetrievalResultsTotal.WithLabelValues("error").Inc()
		return domain.RetrievalResult{}, err
	}
	if len(scored) == 0 {
		metrics.RetrievalResultsTotal.WithLabelValues("empty").Inc()
		return domain.RetrievalResult{}, fmt.Errorf("every hit was stale: %w", domain.ErrNoResults)
	}

	if s.cfg.RerankDepth > 0 && s.cfg.RerankWeight > 0 {
		s.rerank(query, scored)
	}
	domain.SortScoredChunks(scored)
	if len(scored) > s.cfg.TopK {
		scored = scored[:s.cfg.TopK]
	}

	metrics.RetrievalResultsTotal.WithLabelValues("hit").Inc()
	metrics.RetrievalDuration.WithLabelValues(embedded.ModelID).Observe(time.Since(start).Seconds())
	s.logger.Debug("Retrieved chunks",
		zap.Int("candidates", len(hits)),
		zap.Int("returned", len(scored)),
		zap.Duration("took", time.Since(start)),
	)

	return domain.RetrievalResult{Chunks: scored}, nil
}

func (s *Service) aboveThreshold(hits []index.Hit) []index.Hit {
	if s.cfg.MinScore <= 0 {
		return hits
	}
	kept := hits[:0]
	for _, h := range hits {
		if h.Score >= s.cfg.MinScore {
			kept = append(kept, h)
		}
	}
	return kept
}

// loadChunks hydrates search hits with their stored records. A hit whose
// chunk was deleted after the search ranked it is dropped, not an error;
// the index may briefly trail the corpus during deletes.
func (s *Service) loadChunks(ctx context.Context, hits []index.Hit) ([]domain.ScoredChunk, error) {
	scored := make([]domain.ScoredChunk, 0, len(hits))
	for _, h := range hits {
		chunks, err := s.chunks.GetChunks(ctx, []string{h.ChunkID})
		if err != nil {
			if errors.Is(err, domain.ErrChunkNotFound) {
				s.logger.Debug("Dropping stale hit", zap.String("chunk_id", h.ChunkID))
				continue
			}
			return nil, fmt.Errorf("load chunks: %w", err)
		}
		scored = append(scored, domain.ScoredChunk{
			Chunk:      chunks[0],
			Score:      h.Score,
			IngestedAt: h.Meta.IngestedAt,
		})
	}
	return scored, nil
}

// rerank mixes the vector score with lexical term overlap at a fixed weight.
func (s *Service) rerank(query string, scored []domain.ScoredChunk) {
	terms := tokenize(query)
	if len(terms) == 0 {
		return
	}
	w := s.cfg.RerankWeight
	for i := range scored {
		lex := overlap(terms, scored[i].Chunk.Text)
		scored[i].Score = (1-w)*scored[i].Score + w*lex
	}
}

// overlap is the fraction of query terms present in the chunk text.
func overlap(terms []string, text string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	var found int
	for _, term := range terms {
		if strings.Contains(lower, term) {
			found++
		}
	}
	return float64(found) / float64(len(terms))
}

func tokenize(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	terms := fields[:0]
	for _, f := range fields {
		if len(f) > 1 {
			terms = append(terms, f)
		}
	}
	return terms
}
