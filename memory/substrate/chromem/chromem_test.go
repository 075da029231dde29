package chromem_test

import (
	"context"
	"errors"
	"testing"

	"github.com/recallkit/recall-go/memory/substrate"
	"github.com/recallkit/recall-go/memory/substrate/chromem"
)

const dims = 8

func vec(seed float32) []float32 {
	v := make([]float32, dims)
	v[0] = 1
	v[1] = seed
	return v
}

func newStore(t *testing.T) *chromem.Store {
	t.Helper()
	s, err := chromem.New(dims)
	if err != nil {
		t.Fatalf("chromem.New: %v", err)
	}
	return s
}

func TestUpsertAndGet(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	err := s.Upsert(ctx, "things", "a", vec(0.1), []byte(`{"v":1}`), map[string]string{"k": "x"})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	hit, err := s.Get(ctx, "things", "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(hit.Payload) != `{"v":1}` || hit.Index["k"] != "x" {
		t.Errorf("unexpected hit: payload=%s index=%v", hit.Payload, hit.Index)
	}
}

func TestUpsertReplaces(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	if err := s.Upsert(ctx, "things", "a", vec(0.1), []byte(`{"v":1}`), nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, "things", "a", vec(0.2), []byte(`{"v":2}`), nil); err != nil {
		t.Fatal(err)
	}

	hit, err := s.Get(ctx, "things", "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(hit.Payload) != `{"v":2}` {
		t.Errorf("payload = %s, want replaced value", hit.Payload)
	}

	hits, err := s.Scan(ctx, "things", nil, 10)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("expected 1 point after replace, got %d", len(hits))
	}
}

func TestGetMissing(t *testing.T) {
	s := newStore(t)
	_, err := s.Get(context.Background(), "things", "nope")
	if !errors.Is(err, substrate.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestQueryWithFilter(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	for i, sess := range []string{"s1", "s1", "s2"} {
		id := string(rune('a' + i))
		if err := s.Upsert(ctx, "turns", id, vec(float32(i)*0.1), []byte(`{}`), map[string]string{"session_id": sess}); err != nil {
			t.Fatal(err)
		}
	}

	hits, err := s.Query(ctx, "turns", vec(0.1), map[string]string{"session_id": "s1"}, 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 filtered hits, got %d", len(hits))
	}
	for _, h := range hits {
		if h.Index["session_id"] != "s1" {
			t.Errorf("filter leaked point %q from session %q", h.ID, h.Index["session_id"])
		}
	}
}

func TestQueryEmptyCollection(t *testing.T) {
	s := newStore(t)
	hits, err := s.Query(context.Background(), "empty", vec(0.5), nil, 5)
	if err != nil {
		t.Fatalf("Query on empty collection: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits, got %d", len(hits))
	}
}

func TestScanIgnoresRanking(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		if err := s.Upsert(ctx, "turns", id, vec(float32(i)), []byte(`{}`), map[string]string{"superseded": "false"}); err != nil {
			t.Fatal(err)
		}
	}

	hits, err := s.Scan(ctx, "turns", map[string]string{"superseded": "false"}, 100)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(hits) != 5 {
		t.Errorf("expected all 5 points, got %d", len(hits))
	}
	for _, h := range hits {
		if h.Score != 0 {
			t.Errorf("Scan hit %q carries a score", h.ID)
		}
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	if err := s.Upsert(ctx, "things", "a", vec(0.1), []byte(`{}`), nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "things", "a", "missing"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "things", "a"); !errors.Is(err, substrate.ErrNotFound) {
		t.Fatalf("expected point gone, got %v", err)
	}
}
