// Package chromem adapts chromem-go, a pure-Go embedded vector
// database, to the substrate.Substrate interface.
package chromem

import (
	"context"
	"fmt"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/recallkit/recall-go/memory/substrate"
)

// Store is a substrate.Substrate backed by an in-process chromem DB.
// Collections are created lazily on first use.
type Store struct {
	db   *chromem.DB
	dims int

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

// New creates a chromem-backed store. dims is the embedding
// dimensionality; Scan needs it to build a probe vector because
// chromem only exposes ranked queries.
func New(dims int) (*Store, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("dims must be positive, got %d", dims)
	}
	return &Store{
		db:          chromem.NewDB(),
		dims:        dims,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func (s *Store) collection(name string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, ok := s.collections[name]
	s.mu.RUnlock()
	if ok {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[name]; ok {
		return col, nil
	}

	// No embedding func: callers always provide vectors.
	col, err := s.db.GetOrCreateCollection(name, nil, func(_ context.Context, _ string) ([]float32, error) {
		return nil, fmt.Errorf("collection %q stores precomputed embeddings only", name)
	})
	if err != nil {
		return nil, fmt.Errorf("create collection %q: %w", name, err)
	}
	s.collections[name] = col
	return col, nil
}

// Upsert stores or replaces a point. chromem's AddDocument is not
// documented as replace-on-duplicate, so the existing id is deleted
// first; the delete is a no-op for new ids.
func (s *Store) Upsert(ctx context.Context, collection, id string, vector []float32, payload []byte, index map[string]string) error {
	col, err := s.collection(collection)
	if err != nil {
		return err
	}

	if err := col.Delete(ctx, nil, nil, id); err != nil && !isNotFoundErr(err) {
		return fmt.Errorf("replace %q: %w", id, err)
	}

	doc := chromem.Document{
		ID:        id,
		Content:   string(payload),
		Embedding: vector,
		Metadata:  index,
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document %q: %w", id, err)
	}
	return nil
}

// Query returns up to k points ranked by cosine similarity.
func (s *Store) Query(ctx context.Context, collection string, vector []float32, where map[string]string, k int) ([]substrate.Hit, error) {
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	if len(where) == 0 {
		where = nil
	}
	if n := col.Count(); n < k {
		k = n
	}
	if k == 0 {
		return nil, nil
	}

	// chromem rejects nResults larger than the filtered document set
	// and does not report that set's size up front, so shrink k until
	// the query is accepted (the teacher of this pattern: retry from k
	// down to 1, stopping at an empty filtered set).
	var results []chromem.Result
	for ; k >= 1; k-- {
		results, err = col.QueryEmbedding(ctx, vector, k, where, nil)
		if err == nil {
			break
		}
		if !isInsufficientDocsErr(err) {
			return nil, fmt.Errorf("chromem query: %w", err)
		}
		if k == 1 {
			return nil, nil
		}
	}

	hits := make([]substrate.Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, substrate.Hit{
			ID:      r.ID,
			Score:   r.Similarity,
			Payload: []byte(r.Content),
			Index:   r.Metadata,
			Vector:  r.Embedding,
		})
	}
	return hits, nil
}

// Scan returns points matching where without ranking. chromem has no
// listing API, so the scan is a ranked query with a fixed probe
// vector; membership under an exact-match filter does not depend on
// the ranking, and callers of Scan re-order results themselves.
func (s *Store) Scan(ctx context.Context, collection string, where map[string]string, limit int) ([]substrate.Hit, error) {
	probe := make([]float32, s.dims)
	probe[0] = 1
	hits, err := s.Query(ctx, collection, probe, where, limit)
	if err != nil {
		return nil, err
	}
	for i := range hits {
		hits[i].Score = 0
	}
	return hits, nil
}

// Get returns the point with the given id.
func (s *Store) Get(ctx context.Context, collection, id string) (substrate.Hit, error) {
	col, err := s.collection(collection)
	if err != nil {
		return substrate.Hit{}, err
	}

	doc, err := col.GetByID(ctx, id)
	if err != nil {
		if isNotFoundErr(err) {
			return substrate.Hit{}, fmt.Errorf("get %q: %w", id, substrate.ErrNotFound)
		}
		return substrate.Hit{}, fmt.Errorf("get %q: %w", id, err)
	}
	return substrate.Hit{
		ID:      doc.ID,
		Payload: []byte(doc.Content),
		Index:   doc.Metadata,
		Vector:  doc.Embedding,
	}, nil
}

// Delete removes points by id. Missing ids are ignored.
func (s *Store) Delete(ctx context.Context, collection string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	col, err := s.collection(collection)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil && !isNotFoundErr(err) {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

func isInsufficientDocsErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}

func isNotFoundErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "not found")
}
