package selection

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/raks07/jarvis-data-injestion/internal/domain"
)

type mockStore struct {
	selections map[string][]string
	setErr     error
}

func newMockStore() *mockStore {
	return &mockStore{selections: make(map[string][]string)}
}

func (m *mockStore) Set(_ context.Context, userID string, documentIDs []string) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.selections[userID] = documentIDs
	return nil
}

func (m *mockStore) Get(_ context.Context, userID string) ([]string, error) {
	return m.selections[userID], nil
}

func (m *mockStore) Clear(_ context.Context, userID string) error {
	delete(m.selections, userID)
	return nil
}

type mockDocs struct {
	existing map[string]bool
}

func (m *mockDocs) GetDocument(_ context.Context, id string) (domain.Document, error) {
	if !m.existing[id] {
		return domain.Document{}, domain.ErrDocumentNotFound
	}
	return domain.Document{ID: id}, nil
}

func newTestService(store *mockStore, docs *mockDocs) *Service {
	return New(store, docs, zap.NewNop())
}

func TestSet_StoresValidatedSelection(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store, &mockDocs{existing: map[string]bool{"d1": true, "d2": true}})

	if err := svc.Set(context.Background(), "u1", []string{"d1", "d2"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := store.selections["u1"]; len(got) != 2 {
		t.Fatalf("selection not stored: %+v", got)
	}
}

func TestSet_RejectsUnknownDocument(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store, &mockDocs{existing: map[string]bool{"d1": true}})

	err := svc.Set(context.Background(), "u1", []string{"d1", "missing"})
	if !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	if _, ok := store.selections["u1"]; ok {
		t.Fatal("selection must not be stored when validation fails")
	}
}

func TestSet_EmptyListClears(t *testing.T) {
	store := newMockStore()
	store.selections["u1"] = []string{"d1"}
	svc := newTestService(store, &mockDocs{})

	if err := svc.Set(context.Background(), "u1", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := store.selections["u1"]; ok {
		t.Fatal("empty selection must clear the stored one")
	}
}

func TestGet_NoSelectionMeansNil(t *testing.T) {
	svc := newTestService(newMockStore(), &mockDocs{})

	ids, err := svc.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ids != nil {
		t.Fatalf("expected nil for no stored selection, got %+v", ids)
	}
}

func TestEmptyUserID(t *testing.T) {
	svc := newTestService(newMockStore(), &mockDocs{})
	ctx := context.Background()

	if err := svc.Set(ctx, " ", []string{"d1"}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("Set: expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.Get(ctx, ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("Get: expected ErrInvalidInput, got %v", err)
	}
	if err := svc.Clear(ctx, ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("Clear: expected ErrInvalidInput, got %v", err)
	}
}
