// Package cached decorates an embedder with a ristretto cache.
//
// The memory system embeds the same text more than once in normal
// operation: the router embeds a query once per included kind's
// retry, session rehydration re-embeds recent turns, and interactive
// callers repeat queries. Embedding is the most expensive call in the
// read path, so memoizing it by exact text is worthwhile.
package cached

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// Embedder is the minimal embedding contract this decorator wraps.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Cache wraps an Embedder and memoizes successful results keyed by the
// exact input text. Errors are never cached.
type Cache struct {
	inner Embedder
	cache *ristretto.Cache
}

// New creates a caching decorator around inner. maxBytes bounds the
// approximate memory spent on cached vectors.
func New(inner Embedder, maxBytes int64) (*Cache, error) {
	if maxBytes <= 0 {
		maxBytes = 16 << 20
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		// Counters sized for ~10x the number of vectors that fit.
		NumCounters: 10 * (maxBytes / int64(4*inner.Dimensions())),
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Cache{inner: inner, cache: c}, nil
}

// Embed returns the cached vector for text, or delegates to the inner
// embedder and caches the result.
func (c *Cache) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		cached := v.([]float32)
		// Copy out: stored vectors must not be mutated by callers or
		// by substrate-side normalization.
		out := make([]float32, len(cached))
		copy(out, cached)
		return out, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	stored := make([]float32, len(vec))
	copy(stored, vec)
	c.cache.Set(text, stored, int64(4*len(stored)))
	return vec, nil
}

// Dimensions returns the inner embedder's dimensionality.
func (c *Cache) Dimensions() int {
	return c.inner.Dimensions()
}

// Wait blocks until buffered Set operations are applied. Tests use it
// to make cache contents observable.
func (c *Cache) Wait() {
	c.cache.Wait()
}
