// Package selection persists per-user document selections. A selection
// narrows retrieval to a subset of the corpus for that user's questions.
package selection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/raks07/jarvis-data-injestion/internal/db"
	"github.com/raks07/jarvis-data-injestion/internal/domain"
)

type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Del(ctx context.Context, key string) error
}

const keyPrefix = domain.KeyPrefix + "sel:"

func selKey(userID string) string { return keyPrefix + userID }

type selectionDTO struct {
	DocumentIDs []string  `json:"document_ids"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Repo stores document selections keyed by user ID.
type Repo struct {
	store store
}

func New(s store) *Repo {
	return &Repo{store: s}
}

// Set replaces the user's selection. An empty list clears it.
func (r *Repo) Set(ctx context.Context, userID string, documentIDs []string) error {
	if userID == "" {
		return fmt.Errorf("empty user ID: %w", domain.ErrInvalidInput)
	}
	if len(documentIDs) == 0 {
		return r.Clear(ctx, userID)
	}
	data, err := json.Marshal(selectionDTO{
		DocumentIDs: dedupe(documentIDs),
		UpdatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal selection: %w", err)
	}
	if err := r.store.Set(ctx, selKey(userID), data); err != nil {
		return fmt.Errorf("set selection for %s: %w", userID, err)
	}
	return nil
}

// Get returns the user's selected document IDs. A user with no stored
// selection gets an empty list, which retrieval treats as "all documents".
func (r *Repo) Get(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, fmt.Errorf("empty user ID: %w", domain.ErrInvalidInput)
	}
	raw, err := r.store.Get(ctx, selKey(userID))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get selection for %s: %w", userID, err)
	}
	var dto selectionDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return nil, fmt.Errorf("parse selection for %s: %w", userID, err)
	}
	return dto.DocumentIDs, nil
}

// Clear removes the user's selection.
func (r *Repo) Clear(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("empty user ID: %w", domain.ErrInvalidInput)
	}
	if err := r.store.Del(ctx, selKey(userID)); err != nil {
		return fmt.Errorf("clear selection for %s: %w", userID, err)
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
