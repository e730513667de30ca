package embedding

import (
	"context"
	"fmt"

	"github.com/raks07/jarvis-data-injestion/internal/domain"
)

// Limiter caps concurrent provider calls with a semaphore. Waiting callers
// honor context cancellation instead of queueing forever.
type Limiter struct {
	inner domain.Embedder
	sem   chan struct{}
}

// NewLimiter creates a concurrency-limiting decorator. maxInFlight <= 0
// means no limit.
func NewLimiter(inner domain.Embedder, maxInFlight int) *Limiter {
	var sem chan struct{}
	if maxInFlight > 0 {
		sem = make(chan struct{}, maxInFlight)
	}
	return &Limiter{inner: inner, sem: sem}
}

func (l *Limiter) acquire(ctx context.Context) error {
	if l.sem == nil {
		return nil
	}
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Limiter) release() {
	if l.sem != nil {
		<-l.sem
	}
}

// Embed delegates to the inner embedder under the semaphore.
func (l *Limiter) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	if err := l.acquire(ctx); err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("limiter: %w", err)
	}
	defer l.release()
	return l.inner.Embed(ctx, text)
}

// BatchEmbed takes one slot regardless of batch size; the provider call is
// still a single request.
func (l *Limiter) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if err := l.acquire(ctx); err != nil {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("limiter: %w", err)
	}
	defer l.release()

	if be, ok := l.inner.(domain.BatchEmbedder); ok {
		return be.BatchEmbed(ctx, texts)
	}
	return domain.BatchFallback(ctx, l.inner, texts)
}
