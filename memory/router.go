package memory

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/recallkit/recall-go/memory/substrate"
)

// maxRouterResults caps a SearchAll result list regardless of how many
// kinds are included.
const maxRouterResults = 50

// Router answers queries that may span any of the entity kinds without
// the caller knowing which collection holds the answer. The query is
// embedded once and fanned out to the requested collections in
// parallel; a failing collection is skipped so partial results beat a
// total failure.
type Router struct {
	embedder  Embedder
	turns     *Collection[Turn]
	summaries *Collection[Summary]
	documents *Collection[Document]
	agents    *Collection[AgentDescriptor]
}

// NewRouter wires a router over the shared substrate.
func NewRouter(sub substrate.Substrate, embedder Embedder, cfg Config) *Router {
	cfg = cfg.withDefaults()
	return &Router{
		embedder:  embedder,
		turns:     NewCollection[Turn](sub, embedder, KindTurn, cfg.OverfetchMultiplier),
		summaries: NewCollection[Summary](sub, embedder, KindSummary, cfg.OverfetchMultiplier),
		documents: NewCollection[Document](sub, embedder, KindDocument, cfg.OverfetchMultiplier),
		agents:    NewCollection[AgentDescriptor](sub, embedder, KindAgent, cfg.OverfetchMultiplier),
	}
}

// SearchAll queries each included kind for kPerKind results and merges
// them by score descending, tagged with their originating kind.
// include defaults to all four kinds; kPerKind defaults to 5. The call
// errors only when the query cannot be embedded or every included kind
// fails.
func (r *Router) SearchAll(ctx context.Context, query string, include []Kind, kPerKind int) ([]SearchResult, error) {
	if kPerKind <= 0 {
		kPerKind = 5
	}
	if len(include) == 0 {
		include = []Kind{KindTurn, KindSummary, KindDocument, KindAgent}
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}

	var (
		mu       sync.Mutex
		results  []SearchResult
		failed   int
		firstErr error
		wg       sync.WaitGroup
	)
	for _, kind := range include {
		wg.Add(1)
		go func(kind Kind) {
			defer wg.Done()
			hits, err := r.searchKind(ctx, kind, vec, kPerKind)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Printf("[ROUTER] %s search degraded: %v", kind, err)
				failed++
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			results = append(results, hits...)
		}(kind)
	}
	wg.Wait()

	if failed == len(include) {
		return nil, firstErr
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	limit := min(kPerKind*len(include), maxRouterResults)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (r *Router) searchKind(ctx context.Context, kind Kind, vec []float32, k int) ([]SearchResult, error) {
	switch kind {
	case KindTurn:
		hits, err := r.turns.Search(ctx, vec, Filter[Turn]{}, k)
		if err != nil {
			return nil, err
		}
		out := make([]SearchResult, len(hits))
		for i := range hits {
			t := hits[i].Entity
			out[i] = SearchResult{Kind: KindTurn, ID: t.ID, Score: hits[i].Score, Turn: &t}
		}
		return out, nil

	case KindSummary:
		hits, err := r.summaries.Search(ctx, vec, Filter[Summary]{}, k)
		if err != nil {
			return nil, err
		}
		out := make([]SearchResult, len(hits))
		for i := range hits {
			s := hits[i].Entity
			out[i] = SearchResult{Kind: KindSummary, ID: s.ID, Score: hits[i].Score, Summary: &s}
		}
		return out, nil

	case KindDocument:
		hits, err := r.documents.Search(ctx, vec, Filter[Document]{}, k)
		if err != nil {
			return nil, err
		}
		out := make([]SearchResult, len(hits))
		for i := range hits {
			d := hits[i].Entity
			out[i] = SearchResult{Kind: KindDocument, ID: d.ChunkID, Score: hits[i].Score, Document: &d}
		}
		return out, nil

	case KindAgent:
		hits, err := r.agents.Search(ctx, vec, Filter[AgentDescriptor]{}, k)
		if err != nil {
			return nil, err
		}
		out := make([]SearchResult, len(hits))
		for i := range hits {
			a := hits[i].Entity
			out[i] = SearchResult{Kind: KindAgent, ID: a.EntityID(), Score: hits[i].Score, Agent: &a}
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: unknown entity kind %q", ErrValidation, kind)
	}
}

// RegisterAgent stores or replaces an agent descriptor card.
func (r *Router) RegisterAgent(ctx context.Context, card AgentDescriptor) (string, error) {
	if card.RegisteredAt.IsZero() {
		card.RegisteredAt = time.Now()
	}
	return r.agents.Put(ctx, card)
}

// SearchAgents finds agent descriptors by semantic similarity,
// optionally restricted to a domain.
func (r *Router) SearchAgents(ctx context.Context, query, domain string, k int) ([]AgentDescriptor, error) {
	if k <= 0 {
		k = 10
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}

	f := Filter[AgentDescriptor]{}
	if domain != "" {
		f.Equals = map[string]string{"domain": domain}
	}
	hits, err := r.agents.Search(ctx, vec, f, k)
	if err != nil {
		return nil, err
	}
	cards := make([]AgentDescriptor, len(hits))
	for i := range hits {
		cards[i] = hits[i].Entity
	}
	return cards, nil
}
