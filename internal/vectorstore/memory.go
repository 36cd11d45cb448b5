package vectorstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"storyline/internal/embedding"
)

// Memory is an in-process VectorStore used for dry runs and tests
type Memory struct {
	mu      sync.RWMutex
	vectors map[string]entry
}

type entry struct {
	vector    []float64
	title     string
	threadID  string
	published time.Time
}

// NewMemory creates an empty in-memory vector store
func NewMemory() *Memory {
	return &Memory{vectors: make(map[string]entry)}
}

func (m *Memory) Store(ctx context.Context, itemID string, vector []float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.vectors[itemID]
	e.vector = append([]float64(nil), vector...)
	m.vectors[itemID] = e
	return nil
}

// Describe attaches the metadata search results report for an item
func (m *Memory) Describe(itemID, title, threadID string, published time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.vectors[itemID]
	e.title, e.threadID, e.published = title, threadID, published
	m.vectors[itemID] = e
}

func (m *Memory) Get(ctx context.Context, itemID string) ([]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.vectors[itemID]
	if !ok || e.vector == nil {
		return nil, ErrNoEmbedding
	}
	return append([]float64(nil), e.vector...), nil
}

func (m *Memory) Search(ctx context.Context, query SearchQuery) ([]SearchResult, error) {
	query.applyDefaults()
	exclude := make(map[string]bool, len(query.ExcludeIDs))
	for _, id := range query.ExcludeIDs {
		exclude[id] = true
	}

	m.mu.RLock()
	var results []SearchResult
	for id, e := range m.vectors {
		if exclude[id] || e.vector == nil {
			continue
		}
		if !query.Since.IsZero() && !e.published.IsZero() && e.published.Before(query.Since) {
			continue
		}
		sim := embedding.CosineSimilarity(query.Embedding, e.vector)
		if sim < query.SimilarityThreshold {
			continue
		}
		results = append(results, SearchResult{ItemID: id, Title: e.title, ThreadID: e.threadID, Similarity: sim, Distance: 1 - sim})
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].ItemID < results[j].ItemID
	})
	if len(results) > query.Limit {
		results = results[:query.Limit]
	}
	return results, nil
}

func (m *Memory) Stats(ctx context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := &Stats{IndexType: "memory"}
	for _, e := range m.vectors {
		if e.vector != nil {
			stats.TotalEmbeddings++
			stats.EmbeddingDimensions = len(e.vector)
		}
	}
	return stats, nil
}
