// Package chunker splits raw document text into overlapping passages
// suitable for embedding.
package chunker

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/raks07/jarvis-data-injestion/internal/domain"
)

// Config bounds chunk size and overlap, both measured in runes.
type Config struct {
	MaxChunkSize int
	Overlap      int
}

// Piece is one produced chunk: its text, [Start, End) rune offsets into the
// source, and a sequence index ordering it within the document.
type Piece struct {
	Text  string
	Start int
	End   int
	Seq   int
}

// Chunk splits text into pieces of at most cfg.MaxChunkSize runes, repeating
// the trailing cfg.Overlap runes of each piece at the start of the next.
// Splitting prefers paragraph boundaries, then sentence ends, before falling
// back to a hard cut. Identical input and configuration always yield
// identical pieces.
func Chunk(text string, cfg Config) ([]Piece, error) {
	if cfg.MaxChunkSize <= 0 {
		return nil, fmt.Errorf("max chunk size must be positive, got %d: %w",
			cfg.MaxChunkSize, domain.ErrInvalidConfiguration)
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.MaxChunkSize {
		return nil, fmt.Errorf("overlap %d must be in [0, %d): %w",
			cfg.Overlap, cfg.MaxChunkSize, domain.ErrInvalidConfiguration)
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	runes := []rune(text)
	var pieces []Piece

	start := 0
	seq := 0
	for start < len(runes) {
		for start < len(runes) && unicode.IsSpace(runes[start]) {
			start++
		}
		if start >= len(runes) {
			break
		}

		end := start + cfg.MaxChunkSize
		if end >= len(runes) {
			end = len(runes)
		} else if cut := splitPoint(runes[start:end]); cut > 0 {
			end = start + cut
		}

		pieces = append(pieces, Piece{
			Text:  string(runes[start:end]),
			Start: start,
			End:   end,
			Seq:   seq,
		})
		seq++

		if end >= len(runes) {
			break
		}
		// Repeat trailing runes at the start of the next chunk, but always
		// make forward progress.
		next := end - cfg.Overlap
		if next <= start {
			next = end
		}
		start = next
	}

	return pieces, nil
}

// splitPoint finds the preferred cut within a full-size window: the position
// after the last paragraph break, else after the last sentence end.
// Returns 0 when no natural boundary exists (hard cut at window end).
func splitPoint(window []rune) int {
	for i := len(window) - 1; i > 0; i-- {
		if window[i] == '\n' && window[i-1] == '\n' {
			return i + 1
		}
	}
	for i := len(window) - 1; i > 0; i-- {
		if isSentenceEnd(window[i]) && (i == len(window)-1 || unicode.IsSpace(window[i+1])) {
			return i + 1
		}
	}
	return 0
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
