package history

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/raks07/jarvis-data-injestion/internal/db"
	"github.com/raks07/jarvis-data-injestion/internal/domain"
)

type mockStore struct {
	data map[string][]byte
}

func newMockStore() *mockStore {
	return &mockStore{data: make(map[string][]byte)}
}

func (m *mockStore) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.data[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (m *mockStore) Set(_ context.Context, key string, value []byte) error {
	m.data[key] = value
	return nil
}

func (m *mockStore) Scan(_ context.Context, pattern string) ([]string, error) {
	prefix := strings.TrimSuffix(pattern, "*")
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func record(id, userID string, at time.Time) domain.HistoryRecord {
	return domain.HistoryRecord{
		ID:       id,
		UserID:   userID,
		Question: "q " + id,
		Answer:   "a " + id,
		Citations: []domain.Citation{
			{ChunkID: "d1:0", DocumentID: "d1", Excerpt: "text", Score: 0.8},
		},
		AskedAt: at,
	}
}

func TestAppendAndGet(t *testing.T) {
	ctx := context.Background()
	repo := New(newMockStore())

	at := time.Now().UTC().Truncate(time.Millisecond)
	want := record("r1", "u1", at)
	if err := repo.Append(ctx, want); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := repo.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Question != want.Question || got.Answer != want.Answer || got.UserID != "u1" {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if !got.AskedAt.Equal(at) {
		t.Errorf("asked_at = %v, want %v", got.AskedAt, at)
	}
	if len(got.Citations) != 1 || got.Citations[0].ChunkID != "d1:0" {
		t.Errorf("citations = %+v", got.Citations)
	}
}

func TestGetMissing(t *testing.T) {
	repo := New(newMockStore())

	_, err := repo.Get(context.Background(), "nope")
	if !errors.Is(err, domain.ErrHistoryNotFound) {
		t.Fatalf("err = %v, want ErrHistoryNotFound", err)
	}
}

func TestAppendEmptyID(t *testing.T) {
	repo := New(newMockStore())

	err := repo.Append(context.Background(), domain.HistoryRecord{})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestListByUser(t *testing.T) {
	ctx := context.Background()
	repo := New(newMockStore())

	at := time.Now().UTC().Truncate(time.Millisecond)
	for i, rec := range []domain.HistoryRecord{
		record("r1", "u1", at),
		record("r2", "u1", at.Add(time.Second)),
		record("r3", "u2", at.Add(2*time.Second)),
		record("r4", "u1", at.Add(3*time.Second)),
	} {
		if err := repo.Append(ctx, rec); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	recs, err := repo.ListByUser(ctx, "u1", 0, 0)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	for i, want := range []string{"r4", "r2", "r1"} {
		if recs[i].ID != want {
			t.Errorf("recs[%d] = %s, want %s", i, recs[i].ID, want)
		}
	}

	page, err := repo.ListByUser(ctx, "u1", 1, 1)
	if err != nil {
		t.Fatalf("ListByUser paged: %v", err)
	}
	if len(page) != 1 || page[0].ID != "r2" {
		t.Errorf("page = %+v, want single r2", page)
	}

	none, err := repo.ListByUser(ctx, "u1", 10, 5)
	if err != nil {
		t.Fatalf("ListByUser past end: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("got %d records past the end", len(none))
	}
}

func TestListByUserEmptyUser(t *testing.T) {
	repo := New(newMockStore())

	_, err := repo.ListByUser(context.Background(), "", 0, 0)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}
