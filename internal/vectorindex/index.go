// Package vectorindex maintains per-owner exact inner-product indexes over
// chunk embeddings, persisted as a vector blob plus a metadata document.
package vectorindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/uththunga/promptlib/internal/chunker"
)

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrDimensionMismatch indicates a vector whose dimension does not
	// match the index.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrPersistence indicates an index load or save failure.
	ErrPersistence = errors.New("index persistence failed")

	// ErrNotInitialized indicates an operation on an index before
	// Initialize succeeded.
	ErrNotInitialized = errors.New("index not initialized")

	// ErrRebuildUnsupported marks the rebuild placeholder contract.
	ErrRebuildUnsupported = errors.New("index rebuild not implemented")
)

// Config holds configuration for vector indexes.
type Config struct {
	// Dimension is the embedding dimension for new indexes.
	Dimension int `koanf:"dimension"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Dimension == 0 {
		c.Dimension = 1536
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// Index is one owner's vector index. It is not safe for concurrent use;
// the Manager serializes access per owner. Writes follow load-modify-save:
// cross-process writers race with last-writer-wins semantics, so callers
// must serialize writes per owner externally.
type Index struct {
	owner   string
	config  Config
	store   BlobStore
	logger  *zap.Logger
	metrics *Metrics

	initialized bool
	flat        *flatIndex
	meta        Metadata
}

func indexKey(owner string) string    { return "vector_indices/" + owner + "/flat.index" }
func metadataKey(owner string) string { return "vector_indices/" + owner + "/metadata.json" }

// newIndex creates an uninitialized index for owner.
func newIndex(owner string, config Config, store BlobStore, logger *zap.Logger, metrics *Metrics) *Index {
	return &Index{
		owner:   owner,
		config:  config,
		store:   store,
		logger:  logger.With(zap.String("owner", owner)),
		metrics: metrics,
	}
}

// Initialize loads the owner's persisted index and metadata, or creates a
// fresh empty index when no artifacts exist. It returns true when an
// existing index was loaded.
func (x *Index) Initialize(ctx context.Context) (bool, error) {
	indexData, indexErr := x.store.Get(ctx, indexKey(x.owner))
	metaData, metaErr := x.store.Get(ctx, metadataKey(x.owner))

	if errors.Is(indexErr, ErrBlobNotFound) || errors.Is(metaErr, ErrBlobNotFound) {
		x.flat = newFlatIndex(x.config.Dimension)
		x.meta = Metadata{
			Dimension:      x.config.Dimension,
			DocumentChunks: make(map[string][]Entry),
		}
		x.initialized = true
		x.logger.Info("created empty vector index", zap.Int("dimension", x.config.Dimension))
		return false, nil
	}
	if indexErr != nil {
		return false, fmt.Errorf("%w: loading index blob: %v", ErrPersistence, indexErr)
	}
	if metaErr != nil {
		return false, fmt.Errorf("%w: loading metadata: %v", ErrPersistence, metaErr)
	}

	flat, err := decodeFlatIndex(indexData)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	var meta Metadata
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return false, fmt.Errorf("%w: decoding metadata: %v", ErrPersistence, err)
	}
	if meta.DocumentChunks == nil {
		meta.DocumentChunks = make(map[string][]Entry)
	}

	x.flat = flat
	x.meta = meta
	x.initialized = true
	x.logger.Info("loaded vector index",
		zap.Int("dimension", flat.dimension),
		zap.Int("total_vectors", flat.size()),
	)
	return true, nil
}

// Add inserts the embedded chunks in input order, assigns each a vector id
// equal to its insertion position, and re-persists both artifacts. Chunks
// without embeddings are skipped. The batch is validated up front: a
// dimension mismatch rejects the whole batch and leaves the index
// unchanged.
func (x *Index) Add(ctx context.Context, chunks []chunker.Chunk) error {
	start := time.Now()
	var addErr error
	added := 0
	defer func() {
		x.metrics.RecordAdd(ctx, x.owner, time.Since(start), added, addErr)
	}()

	if !x.initialized {
		addErr = ErrNotInitialized
		return addErr
	}

	for _, chunk := range chunks {
		if !chunk.HasEmbedding() {
			continue
		}
		if len(chunk.Embedding) != x.flat.dimension {
			addErr = fmt.Errorf("adding chunk %s: %w: vector has %d dimensions, index has %d",
				chunk.ID, ErrDimensionMismatch, len(chunk.Embedding), x.flat.dimension)
			return addErr
		}
	}

	for _, chunk := range chunks {
		if !chunk.HasEmbedding() {
			continue
		}
		vectorID, err := x.flat.add(chunk.Embedding)
		if err != nil {
			addErr = fmt.Errorf("adding chunk %s: %w", chunk.ID, err)
			return addErr
		}
		x.meta.DocumentChunks[chunk.DocumentID] = append(x.meta.DocumentChunks[chunk.DocumentID], Entry{
			VectorID:       vectorID,
			ChunkID:        chunk.ID,
			DocumentID:     chunk.DocumentID,
			ContentPreview: preview(chunk.Content),
			Metadata:       chunk.Metadata,
		})
		added++
	}
	x.meta.TotalVectors = x.flat.size()

	if added == 0 {
		return nil
	}
	if addErr = x.persist(ctx); addErr != nil {
		return addErr
	}

	x.logger.Info("added vectors",
		zap.Int("added", added),
		zap.Int("total_vectors", x.meta.TotalVectors),
	)
	return nil
}

// Search returns up to k chunks with similarity at or above threshold,
// ordered by descending similarity. An empty or uninitialized index yields
// an empty result list, never an error.
func (x *Index) Search(ctx context.Context, query []float32, k int, threshold float64) ([]SearchResult, error) {
	start := time.Now()
	var hits []SearchResult
	defer func() {
		x.metrics.RecordSearch(ctx, x.owner, time.Since(start), len(hits))
	}()

	if !x.initialized || x.flat.size() == 0 {
		return []SearchResult{}, nil
	}
	if len(query) != x.flat.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", ErrDimensionMismatch, len(query), x.flat.dimension)
	}

	hits = make([]SearchResult, 0, k)
	for _, s := range x.flat.search(query, k, threshold) {
		entry, ok := x.entryByVectorID(s.id)
		if !ok {
			// Vector belongs to a removed document.
			continue
		}
		hits = append(hits, SearchResult{
			ChunkID:         entry.ChunkID,
			DocumentID:      entry.DocumentID,
			ContentPreview:  entry.ContentPreview,
			Metadata:        entry.Metadata,
			SimilarityScore: s.score,
			VectorID:        s.id,
		})
	}
	return hits, nil
}

// entryByVectorID resolves a vector id through the metadata map.
func (x *Index) entryByVectorID(vectorID int) (Entry, bool) {
	for _, entries := range x.meta.DocumentChunks {
		for _, entry := range entries {
			if entry.VectorID == vectorID {
				return entry, true
			}
		}
	}
	return Entry{}, false
}

// RemoveDocument removes a document's entries from the metadata map and
// re-persists. The underlying vectors are not compacted: removed documents
// keep consuming index capacity and their vector ids are never reused.
func (x *Index) RemoveDocument(ctx context.Context, documentID string) error {
	if !x.initialized {
		return ErrNotInitialized
	}
	if _, ok := x.meta.DocumentChunks[documentID]; !ok {
		return nil
	}

	delete(x.meta.DocumentChunks, documentID)
	if err := x.persist(ctx); err != nil {
		return err
	}

	x.logger.Info("removed document from index", zap.String("document_id", documentID))
	return nil
}

// Rebuild is a placeholder for future compaction and always fails.
func (x *Index) Rebuild(ctx context.Context) error {
	return ErrRebuildUnsupported
}

// Stats reports the index's current shape.
func (x *Index) Stats() IndexStats {
	stats := IndexStats{
		Owner:       x.owner,
		Initialized: x.initialized,
	}
	if !x.initialized {
		return stats
	}
	stats.Dimension = x.flat.dimension
	stats.TotalVectors = x.flat.size()
	stats.DocumentCount = len(x.meta.DocumentChunks)
	for _, entries := range x.meta.DocumentChunks {
		stats.ChunkCount += len(entries)
	}
	return stats
}

// persist overwrites both artifacts. Not transactional: a failure between
// the two writes leaves the previous metadata paired with the new blob.
func (x *Index) persist(ctx context.Context) error {
	blob, err := x.flat.encode()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := x.store.Put(ctx, indexKey(x.owner), blob); err != nil {
		return fmt.Errorf("%w: saving index blob: %v", ErrPersistence, err)
	}

	metaData, err := json.Marshal(x.meta)
	if err != nil {
		return fmt.Errorf("%w: encoding metadata: %v", ErrPersistence, err)
	}
	if err := x.store.Put(ctx, metadataKey(x.owner), metaData); err != nil {
		return fmt.Errorf("%w: saving metadata: %v", ErrPersistence, err)
	}
	return nil
}
