package cached_test

import (
	"context"
	"errors"
	"testing"

	"github.com/recallkit/recall-go/memory/embedder/cached"
	"github.com/recallkit/recall-go/memory/embedder/mock"
)

// countingEmbedder wraps the mock and counts delegated calls.
type countingEmbedder struct {
	inner *mock.Embedder
	calls int
	err   error
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) Dimensions() int { return c.inner.Dimensions() }

func TestCacheHitSkipsInner(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{inner: mock.New(16)}
	c, err := cached.New(inner, 1<<20)
	if err != nil {
		t.Fatalf("cached.New: %v", err)
	}

	first, err := c.Embed(ctx, "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	c.Wait()

	second, err := c.Embed(ctx, "hello world")
	if err != nil {
		t.Fatalf("Embed (cached): %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("inner called %d times, want 1", inner.calls)
	}
	if len(first) != len(second) {
		t.Fatalf("vector length changed: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("cached vector differs at %d", i)
		}
	}
}

func TestCacheReturnsCopies(t *testing.T) {
	ctx := context.Background()
	c, err := cached.New(&countingEmbedder{inner: mock.New(16)}, 1<<20)
	if err != nil {
		t.Fatal(err)
	}

	v1, err := c.Embed(ctx, "mutate me")
	if err != nil {
		t.Fatal(err)
	}
	c.Wait()
	v1[0] = 42

	v2, err := c.Embed(ctx, "mutate me")
	if err != nil {
		t.Fatal(err)
	}
	if v2[0] == 42 {
		t.Error("caller mutation leaked into the cache")
	}
}

func TestCacheNeverStoresErrors(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{inner: mock.New(16), err: errors.New("model offline")}
	c, err := cached.New(inner, 1<<20)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.Embed(ctx, "text"); err == nil {
		t.Fatal("expected inner error to propagate")
	}
	c.Wait()

	inner.err = nil
	if _, err := c.Embed(ctx, "text"); err != nil {
		t.Fatalf("recovery call failed: %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("inner called %d times, want 2 (errors must not be cached)", inner.calls)
	}
}

func TestCacheDistinguishesTexts(t *testing.T) {
	ctx := context.Background()
	c, err := cached.New(&countingEmbedder{inner: mock.New(16)}, 1<<20)
	if err != nil {
		t.Fatal(err)
	}

	a, err := c.Embed(ctx, "alpha")
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.Embed(ctx, "beta")
	if err != nil {
		t.Fatal(err)
	}

	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("distinct texts produced identical vectors")
	}
}
