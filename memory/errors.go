package memory

import "errors"

// Sentinel errors for memory operations. Callers classify failures
// with errors.Is; the wrapped chain carries the underlying cause.
var (
	// ErrValidation marks a malformed entity payload. Never retried;
	// the caller must fix its input.
	ErrValidation = errors.New("validation failed")

	// ErrEmbeddingUnavailable marks a failed embedding call. Write
	// paths surface it (losing a turn is worse than surfacing an
	// error); read paths degrade where possible.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrSubstrateUnavailable marks an unreachable vector store.
	// Writes fail loudly; reads degrade per source.
	ErrSubstrateUnavailable = errors.New("vector substrate unavailable")

	// ErrGenerationFailure marks a failed summarization call. It never
	// reaches AddTurn callers; compaction is retried on a later turn.
	ErrGenerationFailure = errors.New("generation failed")

	// ErrNotFound is returned by lookups for unknown ids.
	ErrNotFound = errors.New("not found")
)
