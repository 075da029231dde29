package memory_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/recallkit/recall-go/memory"
	"github.com/recallkit/recall-go/memory/embedder/mock"
	"github.com/recallkit/recall-go/memory/substrate"
	chromemstore "github.com/recallkit/recall-go/memory/substrate/chromem"
)

const testDims = 32

// newBackend wires a fresh in-process substrate plus the deterministic
// embedder the storage layers are tested against.
func newBackend(t *testing.T) (substrate.Substrate, memory.Embedder) {
	t.Helper()
	sub, err := chromemstore.New(testDims)
	if err != nil {
		t.Fatalf("chromem.New: %v", err)
	}
	return sub, mock.New(testDims)
}

// testConfig triggers compaction after three 30-token turns: budget
// 100, threshold 0.7, so the third turn crosses 70.
func testConfig() memory.Config {
	return memory.Config{
		TokenBudget:            100,
		SummarizationThreshold: 0.7,
		MinRecentTurns:         2,
	}
}

func newManager(t *testing.T, sub substrate.Substrate, emb memory.Embedder, gen memory.Generator, cfg memory.Config) *memory.Manager {
	t.Helper()
	return memory.NewManager(sub, emb, gen, memory.NewSessionStore(cfg), cfg)
}

// words returns n copies of base separated by spaces, so the token
// estimate of the result is ceil(n * 1.3).
func words(base string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = base
	}
	return strings.Join(parts, " ")
}

// turnTexts builds a 30-token exchange: a 10-word user message (13
// tokens) and a 13-word agent reply (17 tokens). The leading topic word
// keeps embeddings distinct across turns.
func turnTexts(i int) (string, string) {
	user := fmt.Sprintf("topic%d %s", i, words("question", 9))
	agent := fmt.Sprintf("answer%d %s", i, words("reply", 12))
	return user, agent
}

// stubGenerator is a scripted Generator. With no script it returns a
// fixed summary.
type stubGenerator struct {
	mu    sync.Mutex
	calls int
	fn    func(prompt string) (string, error)
}

func (g *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.calls++
	fn := g.fn
	g.mu.Unlock()
	if fn != nil {
		return fn(prompt)
	}
	return "Main topics: ongoing discussion. Decisions: none recorded.", nil
}

func (g *stubGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

var errSubstrateDown = errors.New("substrate down")

// flakySubstrate delegates to inner except for collections listed in
// fail, which error on every operation.
type flakySubstrate struct {
	inner substrate.Substrate
	fail  map[string]bool
}

func (f *flakySubstrate) Upsert(ctx context.Context, collection, id string, vector []float32, payload []byte, index map[string]string) error {
	if f.fail[collection] {
		return errSubstrateDown
	}
	return f.inner.Upsert(ctx, collection, id, vector, payload, index)
}

func (f *flakySubstrate) Query(ctx context.Context, collection string, vector []float32, where map[string]string, k int) ([]substrate.Hit, error) {
	if f.fail[collection] {
		return nil, errSubstrateDown
	}
	return f.inner.Query(ctx, collection, vector, where, k)
}

func (f *flakySubstrate) Scan(ctx context.Context, collection string, where map[string]string, limit int) ([]substrate.Hit, error) {
	if f.fail[collection] {
		return nil, errSubstrateDown
	}
	return f.inner.Scan(ctx, collection, where, limit)
}

func (f *flakySubstrate) Get(ctx context.Context, collection, id string) (substrate.Hit, error) {
	if f.fail[collection] {
		return substrate.Hit{}, errSubstrateDown
	}
	return f.inner.Get(ctx, collection, id)
}

func (f *flakySubstrate) Delete(ctx context.Context, collection string, ids ...string) error {
	if f.fail[collection] {
		return errSubstrateDown
	}
	return f.inner.Delete(ctx, collection, ids...)
}
