// Package embedding provides the sentence embedder shared by ranking and threading,
// a SQLite-backed cache in front of it, and vector math helpers.
package embedding

import (
	"context"
	"fmt"

	"storyline/internal/logger"
)

// Embedder turns text into a fixed-dimension vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// ModelEmbedder is an Embedder that can name its model, used as the cache namespace
type ModelEmbedder interface {
	Embedder
	EmbeddingModel() string
}

// Cached serves embeddings from a Cache before calling the model
type Cached struct {
	next  ModelEmbedder
	cache *Cache
}

// NewCached wraps next with cache. A nil cache disables caching.
func NewCached(next ModelEmbedder, cache *Cache) *Cached {
	return &Cached{next: next, cache: cache}
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float64, error) {
	model := c.next.EmbeddingModel()
	if c.cache != nil {
		if v, ok, err := c.cache.Get(model, text); err != nil {
			logger.Warn("embedding cache read failed", "error", err)
		} else if ok {
			return v, nil
		}
	}

	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	if c.cache != nil {
		if err := c.cache.Put(model, text, v); err != nil {
			logger.Warn("embedding cache write failed", "error", err)
		}
	}
	return v, nil
}

func (c *Cached) EmbeddingModel() string { return c.next.EmbeddingModel() }

// EmbedAll embeds each text in order, stopping at the first error
func EmbedAll(ctx context.Context, e Embedder, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
