// Package selection manages per-user document selections that scope
// retrieval to a subset of the corpus.
package selection

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/raks07/jarvis-data-injestion/internal/domain"
)

// Store persists selections.
type Store interface {
	Set(ctx context.Context, userID string, documentIDs []string) error
	Get(ctx context.Context, userID string) ([]string, error)
	Clear(ctx context.Context, userID string) error
}

// DocumentReader checks that selected documents exist.
type DocumentReader interface {
	GetDocument(ctx context.Context, id string) (domain.Document, error)
}

// Service validates and stores document selections.
type Service struct {
	store  Store
	docs   DocumentReader
	logger *zap.Logger
}

func New(store Store, docs DocumentReader, logger *zap.Logger) *Service {
	return &Service{store: store, docs: docs, logger: logger}
}

// Set replaces the user's selection. Every document ID must name an existing
// document; unknown IDs are rejected wholesale so a selection never silently
// narrows. An empty list clears the selection.
func (s *Service) Set(ctx context.Context, userID string, documentIDs []string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("empty user id: %w", domain.ErrInvalidInput)
	}
	if len(documentIDs) == 0 {
		return s.Clear(ctx, userID)
	}

	for _, id := range documentIDs {
		if _, err := s.docs.GetDocument(ctx, id); err != nil {
			return fmt.Errorf("selected document %s: %w", id, err)
		}
	}

	if err := s.store.Set(ctx, userID, documentIDs); err != nil {
		return fmt.Errorf("save selection: %w", err)
	}
	s.logger.Info("Selection updated",
		zap.String("user_id", userID),
		zap.Int("documents", len(documentIDs)),
	)
	return nil
}

// Get returns the user's selected document IDs. A nil result means no
// selection is stored and retrieval covers the whole corpus.
func (s *Service) Get(ctx context.Context, userID string) ([]string, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("empty user id: %w", domain.ErrInvalidInput)
	}
	ids, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load selection: %w", err)
	}
	return ids, nil
}

// Clear removes the user's selection.
func (s *Service) Clear(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("empty user id: %w", domain.ErrInvalidInput)
	}
	if err := s.store.Clear(ctx, userID); err != nil {
		return fmt.Errorf("clear selection: %w", err)
	}
	s.logger.Info("Selection cleared", zap.String("user_id", userID))
	return nil
}
