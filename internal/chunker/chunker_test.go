package chunker

import (
	"errors"
	"strings"
	"testing"

	"github.com/raks07/jarvis-data-injestion/internal/domain"
)

func TestChunk_EmptyInput(t *testing.T) {
	for _, input := range []string{"", "   ", "\n\n\t"} {
		pieces, err := Chunk(input, Config{MaxChunkSize: 100, Overlap: 10})
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", input, err)
		}
		if len(pieces) != 0 {
			t.Errorf("expected zero chunks for %q, got %d", input, len(pieces))
		}
	}
}

func TestChunk_InvalidConfiguration(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"overlap equals size", Config{MaxChunkSize: 100, Overlap: 100}},
		{"overlap exceeds size", Config{MaxChunkSize: 100, Overlap: 150}},
		{"negative overlap", Config{MaxChunkSize: 100, Overlap: -1}},
		{"zero size", Config{MaxChunkSize: 0, Overlap: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Chunk("some text", tt.cfg)
			if !errors.Is(err, domain.ErrInvalidConfiguration) {
				t.Errorf("expected ErrInvalidConfiguration, got %v", err)
			}
		})
	}
}

func TestChunk_SingleSmallInput(t *testing.T) {
	pieces, err := Chunk("hello world", Config{MaxChunkSize: 100, Overlap: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pieces) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(pieces))
	}
	p := pieces[0]
	if p.Text != "hello world" || p.Start != 0 || p.End != 11 || p.Seq != 0 {
		t.Errorf("unexpected piece: %+v", p)
	}
}

func TestChunk_RespectsMaxSize(t *testing.T) {
	text := strings.Repeat("abcdefghij", 100) // no natural boundaries
	pieces, err := Chunk(text, Config{MaxChunkSize: 128, Overlap: 16})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, p := range pieces {
		if n := len([]rune(p.Text)); n > 128 {
			t.Errorf("chunk %d has %d runes, max 128", p.Seq, n)
		}
	}
}

func TestChunk_OverlapRepeated(t *testing.T) {
	text := strings.Repeat("x", 250)
	pieces, err := Chunk(text, Config{MaxChunkSize: 100, Overlap: 20})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pieces) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(pieces))
	}
	for i := 1; i < len(pieces); i++ {
		prev, cur := pieces[i-1], pieces[i]
		if cur.Start != prev.End-20 {
			t.Errorf("chunk %d starts at %d, want %d", i, cur.Start, prev.End-20)
		}
	}
}

func TestChunk_PrefersParagraphBoundary(t *testing.T) {
	text := "First paragraph here.\n\nSecond paragraph follows with more text to push past the limit."
	pieces, err := Chunk(text, Config{MaxChunkSize: 50, Overlap: 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(pieces[0].Text, "here.\n\n") {
		t.Errorf("expected first chunk cut after paragraph break, got %q", pieces[0].Text)
	}
	if !strings.HasPrefix(pieces[1].Text, "Second paragraph") {
		t.Errorf("expected second chunk to start the next paragraph, got %q", pieces[1].Text)
	}
}

func TestChunk_PrefersSentenceBoundary(t *testing.T) {
	text := "One short sentence. Another sentence that will definitely not fit in the same chunk as the first."
	pieces, err := Chunk(text, Config{MaxChunkSize: 40, Overlap: 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(pieces[0].Text, "sentence.") {
		t.Errorf("expected first chunk cut after sentence end, got %q", pieces[0].Text)
	}
}

func TestChunk_OffsetsMatchSource(t *testing.T) {
	text := "Alpha beta gamma. Delta epsilon zeta. Eta theta iota kappa lambda mu nu xi."
	pieces, err := Chunk(text, Config{MaxChunkSize: 30, Overlap: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	runes := []rune(text)
	for _, p := range pieces {
		if got := string(runes[p.Start:p.End]); got != p.Text {
			t.Errorf("chunk %d offsets [%d,%d) yield %q, text is %q",
				p.Seq, p.Start, p.End, got, p.Text)
		}
	}
}

func TestChunk_Deterministic(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40)
	cfg := Config{MaxChunkSize: 200, Overlap: 40}

	first, err := Chunk(text, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Chunk(text, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("chunk %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestChunk_SequenceIndexes(t *testing.T) {
	text := strings.Repeat("word ", 200)
	pieces, err := Chunk(text, Config{MaxChunkSize: 100, Overlap: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, p := range pieces {
		if p.Seq != i {
			t.Errorf("piece %d has Seq=%d", i, p.Seq)
		}
	}
}
