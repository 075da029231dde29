package memory

import "context"

// Embedder converts text to a fixed-dimension vector. It is the single
// swap point for a different embedding model or dimensionality.
//
// Implementations: mock (testing), ollama (local HTTP server), cached
// (ristretto decorator over either).
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// Generator produces text from a prompt. The compactor calls it once
// per compaction to condense a window of turns; prompt construction
// and model choice live behind this boundary.
//
// Implementations: summarizer/anthropic (Claude Messages API).
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// SearchResult is one ranked hit from SearchMemory or the router.
// Exactly one of the entity fields is set, matching Kind.
type SearchResult struct {
	Kind  Kind
	ID    string
	Score float32

	Turn     *Turn
	Summary  *Summary
	Document *Document
	Agent    *AgentDescriptor
}
