// Package substrate defines the vector database boundary used by the
// memory system. A Substrate holds one named collection per entity kind
// and exposes upsert, nearest-neighbor query, filtered listing, and
// delete. Implementations: chromem (embedded, in-process). A pgvector
// or Qdrant adapter can be swapped in for production without touching
// the layers above.
package substrate

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no point has the requested id.
var ErrNotFound = errors.New("point not found")

// Hit is a single stored point returned by Query, Scan, or Get.
type Hit struct {
	// ID is the point's unique identifier within its collection.
	ID string

	// Score is the similarity score for ranked queries, higher is more
	// similar. Zero for Scan and Get results.
	Score float32

	// Payload is the entity's serialized form (JSON).
	Payload []byte

	// Index holds the exact-match filterable fields stored alongside
	// the payload (session id, kind, superseded flag).
	Index map[string]string

	// Vector is the stored embedding.
	Vector []float32
}

// Substrate is the vector store boundary. A single Substrate instance
// is shared across all sessions and entity kinds; implementations must
// be safe for concurrent use and hold no per-session state.
type Substrate interface {
	// Upsert stores or replaces a point. The payload is opaque; index
	// fields are filterable with exact-match semantics.
	Upsert(ctx context.Context, collection, id string, vector []float32, payload []byte, index map[string]string) error

	// Query returns up to k points ranked by similarity to vector,
	// restricted to points whose index fields match where exactly.
	Query(ctx context.Context, collection string, vector []float32, where map[string]string, k int) ([]Hit, error)

	// Scan returns up to limit points matching where, in no particular
	// order. Used for filtered listings where no ranking vector exists
	// (session rehydration, compaction reads).
	Scan(ctx context.Context, collection string, where map[string]string, limit int) ([]Hit, error)

	// Get returns the point with the given id.
	Get(ctx context.Context, collection, id string) (Hit, error)

	// Delete removes points by id. Missing ids are not an error.
	Delete(ctx context.Context, collection string, ids ...string) error
}
