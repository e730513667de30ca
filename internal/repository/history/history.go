// Package history persists answered questions so users can review past
// sessions. Records are append-only.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/raks07/jarvis-data-injestion/internal/db"
	"github.com/raks07/jarvis-data-injestion/internal/domain"
)

type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Scan(ctx context.Context, pattern string) ([]string, error)
}

const keyPrefix = domain.KeyPrefix + "qahist:"

func histKey(id string) string { return keyPrefix + id }

type citationDTO struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Excerpt    string  `json:"excerpt,omitempty"`
	Score      float64 `json:"score"`
}

type recordDTO struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id,omitempty"`
	Question  string        `json:"question"`
	Answer    string        `json:"answer"`
	Citations []citationDTO `json:"citations,omitempty"`
	AskedAt   string        `json:"asked_at"`
}

// Repo stores question-answer records keyed by record ID.
type Repo struct {
	store store
}

func New(s store) *Repo {
	return &Repo{store: s}
}

// Append stores one answered question.
func (r *Repo) Append(ctx context.Context, rec domain.HistoryRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("empty record ID: %w", domain.ErrInvalidInput)
	}
	data, err := json.Marshal(toDTO(rec))
	if err != nil {
		return fmt.Errorf("marshal history record: %w", err)
	}
	if err := r.store.Set(ctx, histKey(rec.ID), data); err != nil {
		return fmt.Errorf("set history record %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns one record by ID.
func (r *Repo) Get(ctx context.Context, id string) (domain.HistoryRecord, error) {
	raw, err := r.store.Get(ctx, histKey(id))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domain.HistoryRecord{}, fmt.Errorf("record %s: %w", id, domain.ErrHistoryNotFound)
		}
		return domain.HistoryRecord{}, fmt.Errorf("get history record %s: %w", id, err)
	}
	return parseRecord(raw)
}

// ListByUser returns the user's records, newest first.
func (r *Repo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.HistoryRecord, error) {
	if userID == "" {
		return nil, fmt.Errorf("empty user ID: %w", domain.ErrInvalidInput)
	}
	keys, err := r.store.Scan(ctx, keyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}

	var recs []domain.HistoryRecord
	for _, key := range keys {
		raw, err := r.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, db.ErrKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("get %s: %w", key, err)
		}
		rec, err := parseRecord(raw)
		if err != nil {
			return nil, err
		}
		if rec.UserID == userID {
			recs = append(recs, rec)
		}
	}

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].AskedAt.Equal(recs[j].AskedAt) {
			return recs[i].ID > recs[j].ID
		}
		return recs[i].AskedAt.After(recs[j].AskedAt)
	})

	if offset >= len(recs) {
		return nil, nil
	}
	recs = recs[offset:]
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

func toDTO(rec domain.HistoryRecord) recordDTO {
	dto := recordDTO{
		ID:       rec.ID,
		UserID:   rec.UserID,
		Question: rec.Question,
		Answer:   rec.Answer,
		AskedAt:  rec.AskedAt.UTC().Format(time.RFC3339Nano),
	}
	for _, c := range rec.Citations {
		dto.Citations = append(dto.Citations, citationDTO{
			ChunkID:    c.ChunkID,
			DocumentID: c.DocumentID,
			Excerpt:    c.Excerpt,
			Score:      c.Score,
		})
	}
	return dto
}

func parseRecord(raw []byte) (domain.HistoryRecord, error) {
	var dto recordDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return domain.HistoryRecord{}, fmt.Errorf("parse history record: %w", err)
	}
	askedAt, err := time.Parse(time.RFC3339Nano, dto.AskedAt)
	if err != nil {
		return domain.HistoryRecord{}, fmt.Errorf("parse asked_at %q: %w", dto.AskedAt, err)
	}
	rec := domain.HistoryRecord{
		ID:       dto.ID,
		UserID:   dto.UserID,
		Question: dto.Question,
		Answer:   dto.Answer,
		AskedAt:  askedAt,
	}
	for _, c := range dto.Citations {
		rec.Citations = append(rec.Citations, domain.Citation{
			ChunkID:    c.ChunkID,
			DocumentID: c.DocumentID,
			Excerpt:    c.Excerpt,
			Score:      c.Score,
		})
	}
	return rec, nil
}
