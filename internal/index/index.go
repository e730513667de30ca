// Package index provides an in-memory exact nearest-neighbor index over
// cosine similarity. It is a rebuildable projection of the durable
// (chunk, embedding) records, never a source of truth.
package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/raks07/jarvis-data-injestion/internal/domain"
)

// Meta carries the index attributes of one chunk embedding.
type Meta struct {
	ModelID    string
	DocumentID string
	Seq        int
	IngestedAt time.Time
}

// Hit is a single search result.
type Hit struct {
	ChunkID string
	Score   float64
	Meta    Meta
}

// entry holds an L2-normalized vector copy. Entries are immutable once
// stored; mutation replaces the whole entry, so a concurrent search can
// never observe a partially written vector.
type entry struct {
	vector []float32
	meta   Meta
}

// space is the per-model partition of the index. Vectors from different
// embedding models are never compared.
type space struct {
	dim     int
	entries map[string]*entry
}

// Index is an exact cosine-similarity index partitioned by embedding model.
type Index struct {
	mu     sync.RWMutex
	spaces map[string]*space
}

// New creates an empty index.
func New() *Index {
	return &Index{spaces: make(map[string]*space)}
}

// Upsert stores or replaces the vector for a chunk within its model space.
// The vector is copied and normalized; the first vector of a model space
// fixes the space's dimension.
func (ix *Index) Upsert(chunkID string, vec []float32, meta Meta) error {
	if chunkID == "" || meta.ModelID == "" {
		return fmt.Errorf("chunk ID and model ID are required: %w", domain.ErrInvalidInput)
	}
	if len(vec) == 0 {
		return fmt.Errorf("empty vector for chunk %s: %w", chunkID, domain.ErrInvalidInput)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	sp, ok := ix.spaces[meta.ModelID]
	if !ok {
		sp = &space{dim: len(vec), entries: make(map[string]*entry)}
		ix.spaces[meta.ModelID] = sp
	}
	if len(vec) != sp.dim {
		return domain.NewDimMismatch(meta.ModelID, len(vec), sp.dim)
	}

	sp.entries[chunkID] = &entry{vector: normalize(vec), meta: meta}
	return nil
}

// Delete removes a chunk from one model space. Missing entries are not an error.
func (ix *Index) Delete(chunkID, modelID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if sp, ok := ix.spaces[modelID]; ok {
		delete(sp.entries, chunkID)
	}
}

// DeleteDocument removes every chunk of a document from all model spaces.
func (ix *Index) DeleteDocument(docID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, sp := range ix.spaces {
		for id, e := range sp.entries {
			if e.meta.DocumentID == docID {
				delete(sp.entries, id)
			}
		}
	}
}

// Search returns the top-k chunks of the given model space by cosine
// similarity, descending, ties broken by ingestion recency then sequence
// index. The document filter is applied before ranking, never as a
// post-filter on a truncated candidate list. Returns ErrNoResults when the
// space is empty or the filter admits no candidates.
func (ix *Index) Search(vec []float32, k int, modelID string, filter domain.Filter) ([]Hit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d: %w", k, domain.ErrInvalidInput)
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	sp, ok := ix.spaces[modelID]
	if !ok || len(sp.entries) == 0 {
		return nil, fmt.Errorf("model space %q is empty: %w", modelID, domain.ErrNoResults)
	}
	if len(vec) != sp.dim {
		return nil, domain.NewDimMismatch(modelID, len(vec), sp.dim)
	}

	query := normalize(vec)
	hits := make([]Hit, 0, len(sp.entries))
	for id, e := range sp.entries {
		if !filter.Allows(e.meta.DocumentID) {
			continue
		}
		hits = append(hits, Hit{ChunkID: id, Score: dot(query, e.vector), Meta: e.meta})
	}
	if len(hits) == 0 {
		return nil, fmt.Errorf("no candidates after filtering: %w", domain.ErrNoResults)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if !hits[i].Meta.IngestedAt.Equal(hits[j].Meta.IngestedAt) {
			return hits[i].Meta.IngestedAt.After(hits[j].Meta.IngestedAt)
		}
		return hits[i].Meta.Seq < hits[j].Meta.Seq
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Count returns the number of entries in a model space.
func (ix *Index) Count(modelID string) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	sp, ok := ix.spaces[modelID]
	if !ok {
		return 0
	}
	return len(sp.entries)
}

// Clear drops all spaces, preparing for a rebuild.
func (ix *Index) Clear() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.spaces = make(map[string]*space)
}

// EmbeddingSource yields stored embeddings with their index metadata,
// typically from the corpus repository.
type EmbeddingSource interface {
	WalkEmbeddings(ctx context.Context, fn func(chunkID string, vec []float32, meta Meta) error) error
}

// Rebuild reloads the index from durable records. The previous contents are
// dropped only after the source has been read successfully into a fresh set
// of spaces.
func (ix *Index) Rebuild(ctx context.Context, src EmbeddingSource) error {
	fresh := New()
	err := src.WalkEmbeddings(ctx, func(chunkID string, vec []float32, meta Meta) error {
		return fresh.Upsert(chunkID, vec, meta)
	})
	if err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.spaces = fresh.spaces
	return nil
}

// normalize returns an L2-normalized copy. Zero vectors are returned as a
// zero copy, which scores 0 against everything.
func normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		copy(out, v)
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, f := range v {
		out[i] = float32(float64(f) * inv)
	}
	return out
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
