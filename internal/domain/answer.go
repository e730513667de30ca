package domain

import "time"

// Citation is the provenance of one chunk included in the prompt context.
// Citations record what the model was shown, not what it chose to use.
type Citation struct {
	ChunkID    string
	DocumentID string
	Excerpt    string
	Score      float64
}

// Answer is the outcome of one question-answering request. Created per
// request; never mutated.
type Answer struct {
	Question  string
	Context   string
	Text      string
	Citations []Citation
}

// HistoryRecord is one answered question kept for later review.
type HistoryRecord struct {
	ID        string
	UserID    string
	Question  string
	Answer    string
	Citations []Citation
	AskedAt   time.Time
}

// RequestState tracks the read-path pipeline through its stages. A request
// never re-enters a prior state; Failed is terminal and reachable from any
// stage.
type RequestState string

const (
	StateReceived   RequestState = "received"
	StateEmbedding  RequestState = "embedding"
	StateRetrieving RequestState = "retrieving"
	StateAssembling RequestState = "assembling"
	StateGenerating RequestState = "generating"
	StateDone       RequestState = "done"
	StateFailed     RequestState = "failed"
)
