package domain

import (
	"testing"
	"time"
)

func TestSortScoredChunks_TieBreaking(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	hits := []ScoredChunk{
		{Chunk: Chunk{ID: "c", Seq: 2}, Score: 0.5, IngestedAt: older},
		{Chunk: Chunk{ID: "a", Seq: 0}, Score: 0.9, IngestedAt: older},
		{Chunk: Chunk{ID: "b", Seq: 1}, Score: 0.5, IngestedAt: newer},
		{Chunk: Chunk{ID: "d", Seq: 0}, Score: 0.5, IngestedAt: older},
	}
	SortScoredChunks(hits)

	// Highest score first; ties by recency, then sequence index.
	want := []string{"a", "b", "d", "c"}
	for i, id := range want {
		if hits[i].Chunk.ID != id {
			t.Errorf("position %d: got %s, want %s", i, hits[i].Chunk.ID, id)
		}
	}
}

func TestFilterAllows(t *testing.T) {
	empty := Filter{}
	if !empty.Allows("anything") {
		t.Error("empty filter must allow everything")
	}
	f := Filter{DocumentIDs: []string{"d1", "d2"}}
	if !f.Allows("d2") {
		t.Error("expected d2 allowed")
	}
	if f.Allows("d3") {
		t.Error("expected d3 rejected")
	}
}
