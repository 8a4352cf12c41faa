// Package docstore persists authoritative chunk records keyed by document
// and chunk id. Retrieval uses it to enrich index hits with full content.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/uththunga/promptlib/internal/chunker"
)

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrChunkNotFound indicates a missing chunk record.
	ErrChunkNotFound = errors.New("chunk not found")
)

// StoredChunk is the persisted form of a chunk. Embeddings live in the
// vector index, not here.
type StoredChunk struct {
	ID           string           `json:"id"`
	DocumentID   string           `json:"document_id"`
	Content      string           `json:"content"`
	Metadata     chunker.Metadata `json:"metadata"`
	EmbeddingErr string           `json:"embedding_error,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// Store is a key-value chunk record store.
type Store interface {
	PutChunks(ctx context.Context, chunks []chunker.Chunk) error
	GetChunk(ctx context.Context, documentID, chunkID string) (StoredChunk, error)
}

// FSStore keeps one JSON file per chunk under
// {root}/documents/{document_id}/chunks/{chunk_id}.json.
type FSStore struct {
	root string
	now  func() time.Time
}

// NewFSStore creates a filesystem chunk store rooted at dir.
func NewFSStore(dir string) (*FSStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: root directory required", ErrInvalidConfig)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store root: %w", err)
	}
	return &FSStore{root: dir, now: time.Now}, nil
}

// PutChunks writes one record per chunk, overwriting existing records.
func (s *FSStore) PutChunks(ctx context.Context, chunks []chunker.Chunk) error {
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if chunk.DocumentID == "" || chunk.ID == "" {
			return fmt.Errorf("%w: chunk requires document id and chunk id", ErrInvalidConfig)
		}

		record := StoredChunk{
			ID:           chunk.ID,
			DocumentID:   chunk.DocumentID,
			Content:      chunk.Content,
			Metadata:     chunk.Metadata,
			EmbeddingErr: chunk.EmbeddingErr,
			CreatedAt:    s.now().UTC(),
		}
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("encoding chunk %s: %w", chunk.ID, err)
		}
		if err := s.writeFile(s.chunkPath(chunk.DocumentID, chunk.ID), data); err != nil {
			return err
		}
	}
	return nil
}

// GetChunk reads one chunk record.
func (s *FSStore) GetChunk(ctx context.Context, documentID, chunkID string) (StoredChunk, error) {
	data, err := os.ReadFile(s.chunkPath(documentID, chunkID))
	if err != nil {
		if os.IsNotExist(err) {
			return StoredChunk{}, fmt.Errorf("%w: %s/%s", ErrChunkNotFound, documentID, chunkID)
		}
		return StoredChunk{}, fmt.Errorf("reading chunk %s: %w", chunkID, err)
	}

	var record StoredChunk
	if err := json.Unmarshal(data, &record); err != nil {
		return StoredChunk{}, fmt.Errorf("decoding chunk %s: %w", chunkID, err)
	}
	return record, nil
}

func (s *FSStore) chunkPath(documentID, chunkID string) string {
	return filepath.Join(s.root, "documents", documentID, "chunks", chunkID+".json")
}

func (s *FSStore) writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating chunk directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".chunk-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing chunk file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("renaming chunk file: %w", err)
	}
	return nil
}

// MemoryStore is an in-memory Store for tests and embedding-free setups.
type MemoryStore struct {
	mu     sync.RWMutex
	chunks map[string]StoredChunk
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chunks: make(map[string]StoredChunk)}
}

// PutChunks stores the chunks in memory.
func (s *MemoryStore) PutChunks(ctx context.Context, chunks []chunker.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, chunk := range chunks {
		if chunk.DocumentID == "" || chunk.ID == "" {
			return fmt.Errorf("%w: chunk requires document id and chunk id", ErrInvalidConfig)
		}
		s.chunks[chunk.DocumentID+"/"+chunk.ID] = StoredChunk{
			ID:           chunk.ID,
			DocumentID:   chunk.DocumentID,
			Content:      chunk.Content,
			Metadata:     chunk.Metadata,
			EmbeddingErr: chunk.EmbeddingErr,
			CreatedAt:    time.Now().UTC(),
		}
	}
	return nil
}

// GetChunk looks up one chunk record.
func (s *MemoryStore) GetChunk(ctx context.Context, documentID, chunkID string) (StoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.chunks[documentID+"/"+chunkID]
	if !ok {
		return StoredChunk{}, fmt.Errorf("%w: %s/%s", ErrChunkNotFound, documentID, chunkID)
	}
	return record, nil
}
