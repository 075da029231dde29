package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/recallkit/recall-go/memory/chunk"
	"github.com/recallkit/recall-go/memory/substrate"
)

// Ingestor loads reference documents into the document collection,
// chunked for retrieval. It is the write side of the Document kind;
// the router is the read side.
type Ingestor struct {
	documents *Collection[Document]
	opts      chunk.Options
}

// NewIngestor wires an ingestor over the shared substrate.
func NewIngestor(sub substrate.Substrate, embedder Embedder, cfg Config, opts chunk.Options) *Ingestor {
	cfg = cfg.withDefaults()
	return &Ingestor{
		documents: NewCollection[Document](sub, embedder, KindDocument, cfg.OverfetchMultiplier),
		opts:      opts,
	}
}

// IngestText chunks and stores one document. source is a path or label
// identifying where the text came from. Returns the stored chunks.
// Ingestion is a write path: any chunk failing to embed or store fails
// the call, and chunks already stored for this call remain (re-running
// with the same text is safe, ids are regenerated per call).
func (i *Ingestor) IngestText(ctx context.Context, source, description, text string, meta Metadata) ([]Document, error) {
	pieces := chunk.Split(text, i.opts)
	if len(pieces) == 0 {
		return nil, fmt.Errorf("%w: document text is empty", ErrValidation)
	}

	docID := uuid.New().String()
	now := time.Now()
	stored := make([]Document, 0, len(pieces))
	for n, piece := range pieces {
		doc := Document{
			DocumentID:  docID,
			ChunkID:     fmt.Sprintf("%s-%d", docID, n),
			Source:      source,
			Text:        piece,
			Description: description,
			IngestedAt:  now,
			Metadata:    meta,
		}
		if _, err := i.documents.Put(ctx, doc); err != nil {
			return stored, fmt.Errorf("ingest chunk %d of %s: %w", n, source, err)
		}
		stored = append(stored, doc)
	}
	return stored, nil
}
