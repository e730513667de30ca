package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfiguration signals bad chunking or budget parameters.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrInvalidInput signals malformed or empty text.
	ErrInvalidInput = errors.New("invalid input")
	// ErrEmbeddingUnavailable signals a transient embedding provider failure.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")
	// ErrGenerationFailed signals an exhausted language-model retry budget.
	ErrGenerationFailed = errors.New("answer generation failed")
	// ErrNoResults signals an empty index or no match above the similarity threshold.
	ErrNoResults = errors.New("no results found")
	// ErrIndexInconsistency signals an embedding dimension or model mismatch at query time.
	ErrIndexInconsistency = errors.New("index inconsistency")
	// ErrDocumentNotFound signals a missing document.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrChunkNotFound signals a missing chunk.
	ErrChunkNotFound = errors.New("chunk not found")
	// ErrEmbeddingQuotaExceeded signals an exhausted embedding token budget.
	ErrEmbeddingQuotaExceeded = errors.New("embedding quota exceeded")
	// ErrHistoryNotFound signals a missing question-answer history record.
	ErrHistoryNotFound = errors.New("history record not found")
)

// DimMismatchError wraps ErrIndexInconsistency with the offending dimensions.
type DimMismatchError struct {
	ModelID string
	Got     int
	Want    int
}

func (e *DimMismatchError) Error() string {
	return fmt.Sprintf("%s: model %s expects dimension %d, got %d",
		ErrIndexInconsistency.Error(), e.ModelID, e.Want, e.Got)
}

func (e *DimMismatchError) Unwrap() error { return ErrIndexInconsistency }

// NewDimMismatch creates a dimension mismatch error for a model space.
func NewDimMismatch(modelID string, got, want int) error {
	return &DimMismatchError{ModelID: modelID, Got: got, Want: want}
}
