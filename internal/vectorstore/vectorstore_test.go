package vectorstore

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
)

func TestMemorySearchOrdersBySimilarity(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	store.Store(ctx, "same", []float64{1, 0})
	store.Store(ctx, "close", []float64{0.9, 0.1})
	store.Store(ctx, "far", []float64{0, 1})

	results, err := store.Search(ctx, SearchQuery{Embedding: []float64{1, 0}, SimilarityThreshold: 0.5})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results above threshold, got %d", len(results))
	}
	if results[0].ItemID != "same" || results[1].ItemID != "close" {
		t.Errorf("unexpected order: %+v", results)
	}
}

func TestMemorySearchFilters(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	now := time.Now()
	store.Store(ctx, "old", []float64{1, 0})
	store.Describe("old", "Old", "", now.Add(-72*time.Hour))
	store.Store(ctx, "new", []float64{1, 0})
	store.Describe("new", "New", "t1", now)
	store.Store(ctx, "self", []float64{1, 0})
	store.Describe("self", "Self", "", now)

	results, _ := store.Search(ctx, SearchQuery{
		Embedding:  []float64{1, 0},
		Since:      now.Add(-24 * time.Hour),
		ExcludeIDs: []string{"self"},
	})
	if len(results) != 1 || results[0].ItemID != "new" || results[0].ThreadID != "t1" {
		t.Fatalf("expected only new, got %+v", results)
	}
}

func TestMemorySearchKeepsUndatedItems(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	store.Store(ctx, "undated", []float64{1, 0})

	results, _ := store.Search(ctx, SearchQuery{Embedding: []float64{1, 0}, Since: time.Now().Add(-time.Hour)})
	if len(results) != 1 || results[0].ItemID != "undated" {
		t.Fatalf("expected the undated item, got %+v", results)
	}
	stats, _ := store.Stats(ctx)
	if stats.TotalEmbeddings != 1 || stats.EmbeddingDimensions != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestMemoryGetMissing(t *testing.T) {
	if _, err := NewMemory().Get(context.Background(), "x"); !errors.Is(err, ErrNoEmbedding) {
		t.Errorf("expected ErrNoEmbedding, got %v", err)
	}
}

// TestPgVectorIntegration exercises the pgvector store against a migrated database.
// Run with: DATABASE_URL=postgres://... go test ./internal/vectorstore -run TestPgVectorIntegration
func TestPgVectorIntegration(t *testing.T) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}

	store := NewPgVector(db, 768)
	stats, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	t.Logf("embeddings=%d index=%s", stats.TotalEmbeddings, stats.IndexType)

	if err := store.Store(context.Background(), "missing", []float64{1}); err == nil {
		t.Error("expected dimension mismatch to be rejected")
	}
}
