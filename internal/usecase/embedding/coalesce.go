package embedding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raks07/jarvis-data-injestion/internal/domain"
	"github.com/raks07/jarvis-data-injestion/internal/metrics"
)

// Coalescer merges concurrent single-text Embed calls into one provider
// batch. Calls arriving within the window share an API request; each caller
// gets its own vector and a proportional share of the token usage.
type Coalescer struct {
	inner    domain.BatchEmbedder
	window   time.Duration
	maxBatch int
	flushTTL time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	pending []*coalesceReq
	timer   *time.Timer
	closed  bool
}

type coalesceReq struct {
	text string
	done chan coalesceResult
}

type coalesceResult struct {
	result domain.EmbeddingResult
	err    error
}

// NewCoalescer creates a coalescing decorator. A zero window disables
// batching and every call flushes alone.
func NewCoalescer(inner domain.BatchEmbedder, window time.Duration, maxBatch int, logger *zap.Logger) *Coalescer {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxAPIBatchSize
	}
	return &Coalescer{
		inner:    inner,
		window:   window,
		maxBatch: maxBatch,
		flushTTL: 30 * time.Second,
		logger:   logger,
	}
}

// Embed enqueues the text and waits for its batch to flush.
func (c *Coalescer) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	req := &coalesceReq{text: text, done: make(chan coalesceResult, 1)}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.EmbeddingResult{}, fmt.Errorf("coalescer closed: %w", domain.ErrEmbeddingUnavailable)
	}
	c.pending = append(c.pending, req)
	switch {
	case c.window <= 0 || len(c.pending) >= c.maxBatch:
		c.flushLocked()
	case len(c.pending) == 1:
		c.timer = time.AfterFunc(c.window, c.flush)
	}
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return domain.EmbeddingResult{}, ctx.Err()
	case res := <-req.done:
		return res.result, res.err
	}
}

// BatchEmbed bypasses the window: explicit batches are already efficient.
func (c *Coalescer) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	res, err := c.inner.BatchEmbed(ctx, texts)
	if err != nil {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("batch embed: %w", err)
	}
	return res, nil
}

// Close flushes pending requests and rejects new ones.
func (c *Coalescer) Close() {
	c.mu.Lock()
	c.closed = true
	c.flushLocked()
	c.mu.Unlock()
}

func (c *Coalescer) flush() {
	c.mu.Lock()
	c.flushLocked()
	c.mu.Unlock()
}

// flushLocked hands the pending batch to a worker goroutine. Callers hold mu.
func (c *Coalescer) flushLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if len(c.pending) == 0 {
		return
	}
	batch := c.pending
	c.pending = nil

	go c.run(batch)
}

func (c *Coalescer) run(batch []*coalesceReq) {
	outcome := "solo"
	if len(batch) > 1 {
		outcome = "merged"
	}
	metrics.EmbeddingCoalescedTotal.WithLabelValues(outcome).Add(float64(len(batch)))

	// Waiters may have given up; the flush gets its own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), c.flushTTL)
	defer cancel()

	texts := make([]string, len(batch))
	for i, req := range batch {
		texts[i] = req.text
	}

	res, err := c.inner.BatchEmbed(ctx, texts)
	if err != nil {
		for _, req := range batch {
			req.done <- coalesceResult{err: fmt.Errorf("coalesced embed: %w", err)}
		}
		return
	}
	if len(res.Embeddings) != len(batch) {
		err := fmt.Errorf("coalesced embed returned %d vectors for %d texts: %w",
			len(res.Embeddings), len(batch), domain.ErrEmbeddingUnavailable)
		for _, req := range batch {
			req.done <- coalesceResult{err: err}
		}
		return
	}

	// Split usage evenly, remainder to the first caller, so sums stay exact.
	promptShare, promptRem := res.PromptTokens/len(batch), res.PromptTokens%len(batch)
	totalShare, totalRem := res.TotalTokens/len(batch), res.TotalTokens%len(batch)

	for i, req := range batch {
		r := domain.EmbeddingResult{
			Embedding:    res.Embeddings[i],
			ModelID:      res.ModelID,
			PromptTokens: promptShare,
			TotalTokens:  totalShare,
		}
		if i == 0 {
			r.PromptTokens += promptRem
			r.TotalTokens += totalRem
		}
		req.done <- coalesceResult{result: r}
	}

	if c.logger != nil && len(batch) > 1 {
		c.logger.Debug("Coalesced embed calls",
			zap.Int("batch_size", len(batch)),
			zap.Int("total_tokens", res.TotalTokens),
		)
	}
}
