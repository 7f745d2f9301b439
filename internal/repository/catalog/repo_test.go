package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/lumatv/nextup/internal/db"
	"github.com/lumatv/nextup/internal/domain"
)

type mockStore struct {
	hashes      map[string]map[string]string
	indexExists bool
	created     *db.IndexDefinition
}

func newMockStore() *mockStore {
	return &mockStore{hashes: make(map[string]map[string]string)}
}

func (m *mockStore) HSet(_ context.Context, key string, fields map[string]string) error {
	m.hashes[key] = fields
	return nil
}

func (m *mockStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	return m.hashes[key], nil
}

func (m *mockStore) Del(_ context.Context, key string) error {
	delete(m.hashes, key)
	return nil
}

func (m *mockStore) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.hashes[key]
	return ok, nil
}

func (m *mockStore) CreateIndex(_ context.Context, def *db.IndexDefinition) error {
	m.created = def
	return nil
}

func (m *mockStore) IndexExists(_ context.Context, _ string) (bool, error) {
	return m.indexExists, nil
}

func testContent(dim int) domain.ContentVector {
	emb := make([]float32, dim)
	for i := range emb {
		emb[i] = float32(i) * 0.1
	}
	return domain.ContentVector{
		ID:          "movie-123",
		Title:       "Test Movie",
		ContentType: "movie",
		Genres:      []string{"action", "sci-fi"},
		Rating:      7.5,
		Year:        2024,
		Available:   true,
		Embedding:   emb,
	}
}

func TestUpsertGet_RoundTrip(t *testing.T) {
	store := newMockStore()
	repo := New(store, "nextup:", 4)

	in := testContent(4)
	if err := repo.Upsert(context.Background(), in); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	out, err := repo.Get(context.Background(), "movie-123")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out.Title != in.Title || out.ContentType != in.ContentType {
		t.Errorf("metadata mismatch: %+v", out)
	}
	if len(out.Genres) != 2 || out.Genres[1] != "sci-fi" {
		t.Errorf("genres mismatch: %v", out.Genres)
	}
	if out.Rating != 7.5 || out.Year != 2024 || !out.Available {
		t.Errorf("attributes mismatch: %+v", out)
	}
	for i := range in.Embedding {
		if out.Embedding[i] != in.Embedding[i] {
			t.Fatalf("embedding mismatch at %d", i)
		}
	}
}

func TestUpsert_DimensionMismatch(t *testing.T) {
	repo := New(newMockStore(), "nextup:", 8)

	err := repo.Upsert(context.Background(), testContent(4))
	if !errors.Is(err, domain.ErrInvalidVector) {
		t.Fatalf("expected ErrInvalidVector, got %v", err)
	}
}

func TestDelete_NotFound(t *testing.T) {
	repo := New(newMockStore(), "nextup:", 4)

	err := repo.Delete(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEnsureIndex_SkipsWhenPresent(t *testing.T) {
	store := newMockStore()
	store.indexExists = true
	repo := New(store, "nextup:", 4)

	if err := repo.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}
	if store.created != nil {
		t.Error("index should not be re-created when it exists")
	}
}

func TestEnsureIndex_CreatesHNSW(t *testing.T) {
	store := newMockStore()
	repo := New(store, "nextup:", 4).WithHNSW(HNSWConfig{M: 16, EFConstruct: 200})

	if err := repo.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}
	if store.created == nil {
		t.Fatal("expected index creation")
	}

	var vec *db.IndexField
	for i := range store.created.Fields {
		if store.created.Fields[i].Type == db.IndexFieldVector {
			vec = &store.created.Fields[i]
		}
	}
	if vec == nil {
		t.Fatal("no vector field in index definition")
	}
	if vec.VectorDim != 4 || vec.VectorM != 16 || vec.VectorEFConstruct != 200 {
		t.Errorf("unexpected vector field: %+v", vec)
	}
}
