// Package pipeline runs document ingestion: chunk, embed, persist, index.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/uththunga/promptlib/internal/chunker"
	"github.com/uththunga/promptlib/internal/docstore"
	"github.com/uththunga/promptlib/internal/embeddings"
	"github.com/uththunga/promptlib/internal/vectorindex"
)

// ErrInvalidConfig indicates missing processor collaborators.
var ErrInvalidConfig = errors.New("invalid configuration")

// Result summarizes one document ingestion.
type Result struct {
	DocumentID    string                `json:"document_id"`
	ChunksCreated int                   `json:"chunks_created"`
	ChunksStored  int                   `json:"chunks_stored"`
	ChunksIndexed int                   `json:"chunks_indexed"`
	Embedding     embeddings.BatchStats `json:"embedding"`
}

// Processor ingests documents for retrieval. Ingestion is sequential per
// document; callers serialize concurrent ingestion of the same document.
type Processor struct {
	chunker     *chunker.Chunker
	coordinator *embeddings.Coordinator
	store       docstore.Store
	indexes     *vectorindex.Manager
	logger      *zap.Logger
}

// NewProcessor creates a Processor over the given collaborators.
func NewProcessor(ch *chunker.Chunker, coord *embeddings.Coordinator, store docstore.Store, indexes *vectorindex.Manager, logger *zap.Logger) (*Processor, error) {
	if ch == nil || coord == nil || store == nil || indexes == nil {
		return nil, fmt.Errorf("%w: chunker, coordinator, store and indexes are required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		chunker:     ch,
		coordinator: coord,
		store:       store,
		indexes:     indexes,
		logger:      logger,
	}, nil
}

// ProcessDocument chunks text, embeds the chunks, persists every chunk
// record including embedding failures, and indexes the embedded ones under
// owner. A canceled context persists whatever state the chunks reached and
// returns the cancellation error.
func (p *Processor) ProcessDocument(ctx context.Context, owner, documentID, text string, extra map[string]string) (Result, error) {
	result := Result{DocumentID: documentID}

	chunks, err := p.chunker.Chunk(text, documentID, extra)
	if err != nil {
		return result, fmt.Errorf("chunking document %s: %w", documentID, err)
	}
	chunks, err = p.chunker.Optimize(chunks)
	if err != nil {
		return result, fmt.Errorf("optimizing chunks for %s: %w", documentID, err)
	}
	result.ChunksCreated = len(chunks)

	if len(chunks) == 0 {
		p.logger.Warn("document produced no chunks", zap.String("document_id", documentID))
		return result, nil
	}

	embedded, embedErr := p.coordinator.EmbedChunks(ctx, chunks)
	result.Embedding = embeddings.Stats(embedded)

	// Chunk records are stored regardless of embedding outcome so failed
	// chunks stay visible and re-embeddable. The store write is shielded
	// from cancellation: a context canceled mid-embedding must still leave
	// the reached chunk state on disk.
	if err := p.store.PutChunks(context.WithoutCancel(ctx), embedded); err != nil {
		return result, fmt.Errorf("storing chunks for %s: %w", documentID, err)
	}
	result.ChunksStored = len(embedded)

	if embedErr != nil {
		return result, fmt.Errorf("embedding chunks for %s: %w", documentID, embedErr)
	}

	err = p.indexes.WithIndex(ctx, owner, func(x *vectorindex.Index) error {
		return x.Add(ctx, embedded)
	})
	if err != nil {
		return result, fmt.Errorf("indexing chunks for %s: %w", documentID, err)
	}
	result.ChunksIndexed = result.Embedding.WithEmbeddings

	p.logger.Info("processed document",
		zap.String("owner", owner),
		zap.String("document_id", documentID),
		zap.Int("chunks_created", result.ChunksCreated),
		zap.Int("chunks_indexed", result.ChunksIndexed),
		zap.Float64("embedding_success_rate", result.Embedding.SuccessRate),
	)
	return result, nil
}

// RemoveDocument removes a document's entries from the owner's index.
func (p *Processor) RemoveDocument(ctx context.Context, owner, documentID string) error {
	return p.indexes.WithIndex(ctx, owner, func(x *vectorindex.Index) error {
		return x.RemoveDocument(ctx, documentID)
	})
}
