package domain

import (
	"sort"
	"time"
)

// ScoredChunk is a single retrieval hit: a chunk and its cosine similarity.
type ScoredChunk struct {
	Chunk      Chunk
	Score      float64
	IngestedAt time.Time
}

// RetrievalResult is an ordered sequence of scored chunks, descending by
// score, ties broken by chunk recency then sequence index.
type RetrievalResult struct {
	Chunks []ScoredChunk
}

// Filter restricts retrieval candidates before ranking. A nil or empty
// DocumentIDs set means no restriction.
type Filter struct {
	DocumentIDs []string
}

// Allows reports whether the filter admits the given document ID.
func (f Filter) Allows(docID string) bool {
	if len(f.DocumentIDs) == 0 {
		return true
	}
	for _, id := range f.DocumentIDs {
		if id == docID {
			return true
		}
	}
	return false
}

// IsEmpty reports whether the filter admits everything.
func (f Filter) IsEmpty() bool { return len(f.DocumentIDs) == 0 }

// SortScoredChunks orders hits descending by score with deterministic tie
// breaking: newer ingestion first, then lower sequence index.
func SortScoredChunks(hits []ScoredChunk) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if !hits[i].IngestedAt.Equal(hits[j].IngestedAt) {
			return hits[i].IngestedAt.After(hits[j].IngestedAt)
		}
		return hits[i].Chunk.Seq < hits[j].Chunk.Seq
	})
}
