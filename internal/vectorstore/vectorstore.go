// Package vectorstore stores feed item embeddings and answers similarity queries.
package vectorstore

import (
	"context"
	"errors"
	"time"
)

// ErrNoEmbedding is returned when an item has no stored embedding
var ErrNoEmbedding = errors.New("item has no embedding")

// VectorStore provides semantic search over feed item embeddings using cosine similarity
type VectorStore interface {
	// Store saves or replaces the embedding of an item
	Store(ctx context.Context, itemID string, embedding []float64) error

	// Get returns an item's embedding or ErrNoEmbedding
	Get(ctx context.Context, itemID string) ([]float64, error)

	// Search returns items similar to the query embedding, most similar first
	Search(ctx context.Context, query SearchQuery) ([]SearchResult, error)

	// Stats reports how many embeddings are stored
	Stats(ctx context.Context) (*Stats, error)
}

// SearchQuery configures a similarity search
type SearchQuery struct {
	// Embedding is the query vector
	Embedding []float64

	// Limit is the maximum number of results (default 10)
	Limit int

	// SimilarityThreshold is the minimum cosine similarity (default 0.7)
	SimilarityThreshold float64

	// Since restricts results to items published at or after it. Undated items always match.
	Since time.Time

	// ExcludeIDs filters out specific items
	ExcludeIDs []string
}

// SearchResult is one similar item
type SearchResult struct {
	ItemID     string
	Title      string
	ThreadID   string
	Similarity float64
	Distance   float64 // 1 - Similarity
}

// Stats provides metrics about the vector store
type Stats struct {
	TotalEmbeddings     int64
	EmbeddingDimensions int
	IndexType           string
}

// DefaultSearchQuery returns sensible defaults
func DefaultSearchQuery(embedding []float64) SearchQuery {
	return SearchQuery{
		Embedding:           embedding,
		Limit:               10,
		SimilarityThreshold: 0.7,
	}
}

func (q *SearchQuery) applyDefaults() {
	if q.Limit == 0 {
		q.Limit = 10
	}
	if q.SimilarityThreshold == 0 {
		q.SimilarityThreshold = 0.7
	}
}
