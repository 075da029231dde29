package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/recallkit/recall-go/memory/substrate"
)

// DefaultOverfetchMultiplier is how many times k candidates a filtered
// search fetches from the substrate before applying client-side
// predicates. Exact-match terms are pushed down, but time-range and
// URL predicates are evaluated here; over-fetching keeps filtered
// queries from starving. Tunable via Config.OverfetchMultiplier.
const DefaultOverfetchMultiplier = 3

// scanLimit bounds filtered listings (rehydration, compaction reads).
const scanLimit = 10000

// Scored pairs an entity with its similarity score.
type Scored[E Entity] struct {
	Entity E
	Score  float32
}

// Filter restricts a Collection search. Equals terms are evaluated
// substrate-side; Match, when set, is applied as a post-filter over an
// over-fetched candidate set.
type Filter[E Entity] struct {
	Equals map[string]string
	Match  func(E) bool
}

// Collection is the typed storage layer for one entity kind. It owns
// schema validation and the embed-then-write ordering: an entity is
// written to the substrate only after its embedding succeeds, so no
// partially indexed entity is ever queryable.
//
// A Collection holds no entity state of its own; every operation is a
// remote call against the shared substrate. The per-session recent-turn
// cache lives in Manager, not here.
type Collection[E Entity] struct {
	sub       substrate.Substrate
	embedder  Embedder
	name      string
	overfetch int
}

// NewCollection creates the typed store for the given entity kind.
func NewCollection[E Entity](sub substrate.Substrate, embedder Embedder, kind Kind, overfetch int) *Collection[E] {
	if overfetch <= 0 {
		overfetch = DefaultOverfetchMultiplier
	}
	return &Collection[E]{
		sub:       sub,
		embedder:  embedder,
		name:      collectionName(kind),
		overfetch: overfetch,
	}
}

// Put validates, embeds, and upserts the entity. Returns the entity id.
func (c *Collection[E]) Put(ctx context.Context, e E) (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}

	vec, err := c.embedder.Embed(ctx, e.EmbeddingText())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", c.name, err)
	}

	id := e.EntityID()
	if err := c.sub.Upsert(ctx, c.name, id, vec, payload, e.IndexFields()); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubstrateUnavailable, err)
	}
	return id, nil
}

// Get returns the entity with the given id.
func (c *Collection[E]) Get(ctx context.Context, id string) (E, error) {
	var e E
	hit, err := c.sub.Get(ctx, c.name, id)
	if err != nil {
		if errors.Is(err, substrate.ErrNotFound) {
			return e, fmt.Errorf("%s %q: %w", c.name, id, ErrNotFound)
		}
		return e, fmt.Errorf("%w: %v", ErrSubstrateUnavailable, err)
	}
	if err := json.Unmarshal(hit.Payload, &e); err != nil {
		return e, fmt.Errorf("unmarshal %s %q: %w", c.name, id, err)
	}
	return e, nil
}

// Search returns up to k entities ranked by similarity to vector. When
// the filter carries a client-side predicate, k*overfetch candidates
// are pulled before filtering.
func (c *Collection[E]) Search(ctx context.Context, vector []float32, f Filter[E], k int) ([]Scored[E], error) {
	fetch := k
	if f.Match != nil {
		fetch = k * c.overfetch
	}

	hits, err := c.sub.Query(ctx, c.name, vector, f.Equals, fetch)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSubstrateUnavailable, err)
	}

	results := make([]Scored[E], 0, min(len(hits), k))
	for _, hit := range hits {
		var e E
		if err := json.Unmarshal(hit.Payload, &e); err != nil {
			log.Printf("[STORE] Skipping undecodable %s %q: %v", c.name, hit.ID, err)
			continue
		}
		if f.Match != nil && !f.Match(e) {
			continue
		}
		results = append(results, Scored[E]{Entity: e, Score: hit.Score})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// List returns entities matching the exact-match terms, in no
// particular order. Callers re-sort as needed.
func (c *Collection[E]) List(ctx context.Context, equals map[string]string, limit int) ([]E, error) {
	if limit <= 0 {
		limit = scanLimit
	}
	hits, err := c.sub.Scan(ctx, c.name, equals, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSubstrateUnavailable, err)
	}

	entities := make([]E, 0, len(hits))
	for _, hit := range hits {
		var e E
		if err := json.Unmarshal(hit.Payload, &e); err != nil {
			log.Printf("[STORE] Skipping undecodable %s %q: %v", c.name, hit.ID, err)
			continue
		}
		entities = append(entities, e)
	}
	return entities, nil
}

// MarkSuperseded flips the superseded flag on the given entities.
// Idempotent: already-flagged and missing ids are skipped. The stored
// embedding is preserved; only payload and index fields change.
func (c *Collection[E]) MarkSuperseded(ctx context.Context, ids []string) error {
	for _, id := range ids {
		hit, err := c.sub.Get(ctx, c.name, id)
		if err != nil {
			if errors.Is(err, substrate.ErrNotFound) {
				continue
			}
			return fmt.Errorf("%w: %v", ErrSubstrateUnavailable, err)
		}
		if hit.Index["superseded"] == "true" {
			continue
		}

		var payload map[string]any
		if err := json.Unmarshal(hit.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal %s %q: %w", c.name, id, err)
		}
		payload["superseded"] = true
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s %q: %w", c.name, id, err)
		}

		index := make(map[string]string, len(hit.Index))
		for k, v := range hit.Index {
			index[k] = v
		}
		index["superseded"] = "true"

		if err := c.sub.Upsert(ctx, c.name, id, hit.Vector, raw, index); err != nil {
			return fmt.Errorf("%w: %v", ErrSubstrateUnavailable, err)
		}
	}
	return nil
}
