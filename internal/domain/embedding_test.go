package domain

import (
	"context"
	"errors"
	"testing"
)

type stubEmbedder struct {
	calls []string
	err   error
}

func (s *stubEmbedder) Embed(_ context.Context, text string) (EmbeddingResult, error) {
	s.calls = append(s.calls, text)
	if s.err != nil {
		return EmbeddingResult{}, s.err
	}
	return EmbeddingResult{
		Embedding:   []float32{float32(len(text))},
		ModelID:     "stub-model",
		TotalTokens: len(text),
	}, nil
}

func TestBatchFallback(t *testing.T) {
	stub := &stubEmbedder{}
	res, err := BatchFallback(context.Background(), stub, []string{"a", "bb", "ccc"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embeddings) != 3 {
		t.Fatalf("expected 3 embeddings, got %d", len(res.Embeddings))
	}
	if res.TotalTokens != 6 {
		t.Errorf("expected 6 total tokens, got %d", res.TotalTokens)
	}
	if res.ModelID != "stub-model" {
		t.Errorf("expected model ID propagated, got %q", res.ModelID)
	}
	// Each batch entry must equal the single-call result.
	for i, want := range []float32{1, 2, 3} {
		if res.Embeddings[i][0] != want {
			t.Errorf("embedding[%d] = %v, want [%v]", i, res.Embeddings[i], want)
		}
	}
}

func TestBatchFallback_Error(t *testing.T) {
	sentinel := errors.New("boom")
	stub := &stubEmbedder{err: sentinel}
	_, err := BatchFallback(context.Background(), stub, []string{"a"})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestInstructionEmbedder(t *testing.T) {
	stub := &stubEmbedder{}
	emb := NewInstructionEmbedder(stub, "query: ")

	if _, err := emb.Embed(context.Background(), "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stub.calls[0] != "query: hello" {
		t.Errorf("expected instruction prefix, got %q", stub.calls[0])
	}

	if _, err := emb.BatchEmbed(context.Background(), []string{"a", "b"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stub.calls[1] != "query: a" || stub.calls[2] != "query: b" {
		t.Errorf("expected prefixed batch texts, got %v", stub.calls[1:])
	}
}

func TestChunkOverlaps(t *testing.T) {
	a := Chunk{DocumentID: "d1", Start: 0, End: 100}
	tests := []struct {
		name string
		b    Chunk
		want bool
	}{
		{"overlapping range", Chunk{DocumentID: "d1", Start: 80, End: 180}, true},
		{"contained range", Chunk{DocumentID: "d1", Start: 10, End: 20}, true},
		{"adjacent range", Chunk{DocumentID: "d1", Start: 100, End: 200}, false},
		{"different document", Chunk{DocumentID: "d2", Start: 0, End: 100}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.Overlaps(tt.b); got != tt.want {
				t.Errorf("Overlaps = %v, want %v", got, tt.want)
			}
		})
	}
}
