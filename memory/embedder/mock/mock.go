// Package mock provides a deterministic embedder for tests. It has no
// semantic understanding; identical text always produces the identical
// unit vector, which is all the storage and routing layers need.
package mock

import (
	"context"
	"hash/fnv"
	"math"
)

// Embedder generates hash-seeded pseudo-random embeddings.
type Embedder struct {
	dims int
}

// New creates a mock embedder with the given dimensionality.
func New(dims int) *Embedder {
	return &Embedder{dims: dims}
}

// Embed derives a deterministic embedding from the text's FNV hash.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))

	// LCG seeded by the hash, mapped into [-1, 1].
	seed := h.Sum64()
	vec := make([]float32, e.dims)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(vec), nil
}

// Dimensions returns the embedding size.
func (e *Embedder) Dimensions() int {
	return e.dims
}

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	for i, v := range vec {
		vec[i] = v / norm
	}
	return vec
}
