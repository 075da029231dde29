// Package memory keeps an agent's dialogue context inside a fixed
// token budget while preserving retrievable history indefinitely.
//
// A conversation grows without bound, but every model request has a
// fixed context window. The manager checks on every turn whether the
// accumulated context exceeds its budget; when it does, the compactor
// folds the oldest turns into a dense summary produced by an external
// model. Raw turns are never deleted: a superseded flag keeps them out
// of the active context while leaving them searchable.
//
// Architecture:
//   - substrate: vector storage boundary (chromem adapter for local use,
//     swappable for pgvector/Qdrant in production)
//   - Embedder: text-to-vector conversion (Ollama adapter, ristretto
//     caching decorator, deterministic mock for tests)
//   - Collection: generic embed-validate-upsert storage per entity kind
//   - Manager: per-session orchestration (AddTurn, GetContext,
//     SearchMemory)
//   - Compactor: threshold-triggered summarization of old turns
//   - Router: cross-kind semantic search over turns, summaries,
//     documents, and agent descriptors
//
// Four entity kinds share one substrate, each in its own collection:
// conversation turns, compaction summaries, ingested document chunks,
// and registered agent descriptors.
package memory
