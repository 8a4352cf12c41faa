package vectorindex

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uththunga/promptlib/internal/chunker"
)

func newTestManager(t *testing.T, dimension int) *Manager {
	t.Helper()
	store, err := NewFSBlobStore(t.TempDir())
	require.NoError(t, err)
	m, err := NewManager(Config{Dimension: dimension}, store, nil)
	require.NoError(t, err)
	return m
}

// randomVector returns a deterministic pseudo-random vector for seed.
func randomVector(dimension int, seed int64) []float32 {
	rng := rand.New(rand.NewSource(seed))
	v := make([]float32, dimension)
	for i := range v {
		v[i] = rng.Float32()*2 - 1
	}
	return v
}

func embeddedChunks(documentID string, dimension, n int) []chunker.Chunk {
	chunks := make([]chunker.Chunk, n)
	for i := range chunks {
		chunks[i] = chunker.Chunk{
			ID:         chunker.ChunkID(documentID, i),
			DocumentID: documentID,
			Content:    fmt.Sprintf("content of %s chunk %d", documentID, i),
			Embedding:  randomVector(dimension, int64(i)+1),
		}
	}
	return chunks
}

func TestIndexInitializeFresh(t *testing.T) {
	m := newTestManager(t, 8)

	err := m.WithIndex(context.Background(), "alice", func(x *Index) error {
		loaded, err := x.Initialize(context.Background())
		require.NoError(t, err)
		assert.False(t, loaded)
		return nil
	})
	require.NoError(t, err)
}

func TestIndexSearchExactMatchFirst(t *testing.T) {
	// Three vectors in a fresh index; querying with one of them returns
	// that chunk first with similarity ~1.
	const dimension = 1536
	m := newTestManager(t, dimension)
	ctx := context.Background()

	chunks := embeddedChunks("doc1", dimension, 3)
	err := m.WithIndex(ctx, "alice", func(x *Index) error {
		return x.Add(ctx, chunks)
	})
	require.NoError(t, err)

	var hits []SearchResult
	err = m.WithIndex(ctx, "alice", func(x *Index) error {
		var searchErr error
		hits, searchErr = x.Search(ctx, chunks[1].Embedding, 2, 0.0)
		return searchErr
	})
	require.NoError(t, err)

	require.NotEmpty(t, hits)
	assert.Equal(t, chunks[1].ID, hits[0].ChunkID)
	assert.InDelta(t, 1.0, hits[0].SimilarityScore, 1e-5)
	assert.LessOrEqual(t, len(hits), 2)
}

func TestIndexVectorIDsFollowInsertionOrder(t *testing.T) {
	m := newTestManager(t, 8)
	ctx := context.Background()

	err := m.WithIndex(ctx, "alice", func(x *Index) error {
		if err := x.Add(ctx, embeddedChunks("doc1", 8, 2)); err != nil {
			return err
		}
		return x.Add(ctx, embeddedChunks("doc2", 8, 3))
	})
	require.NoError(t, err)

	err = m.WithIndex(ctx, "alice", func(x *Index) error {
		ids := make(map[string]int)
		for doc, entries := range x.meta.DocumentChunks {
			for _, entry := range entries {
				ids[fmt.Sprintf("%s/%s", doc, entry.ChunkID)] = entry.VectorID
			}
		}
		assert.Equal(t, 0, ids["doc1/doc1_chunk_0"])
		assert.Equal(t, 1, ids["doc1/doc1_chunk_1"])
		assert.Equal(t, 2, ids["doc2/doc2_chunk_0"])
		assert.Equal(t, 3, ids["doc2/doc2_chunk_1"])
		assert.Equal(t, 4, ids["doc2/doc2_chunk_2"])
		return nil
	})
	require.NoError(t, err)
}

func TestIndexPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFSBlobStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	chunks := embeddedChunks("doc1", 8, 3)

	m1, err := NewManager(Config{Dimension: 8}, store, nil)
	require.NoError(t, err)
	err = m1.WithIndex(ctx, "alice", func(x *Index) error {
		return x.Add(ctx, chunks)
	})
	require.NoError(t, err)

	// A second manager over the same store loads the persisted artifacts.
	m2, err := NewManager(Config{Dimension: 8}, store, nil)
	require.NoError(t, err)
	err = m2.WithIndex(ctx, "alice", func(x *Index) error {
		hits, searchErr := x.Search(ctx, chunks[0].Embedding, 1, 0.5)
		require.NoError(t, searchErr)
		require.Len(t, hits, 1)
		assert.Equal(t, chunks[0].ID, hits[0].ChunkID)
		assert.Equal(t, "doc1", hits[0].DocumentID)
		return nil
	})
	require.NoError(t, err)

	stats, err := m2.Stats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalVectors)
	assert.Equal(t, 1, stats.DocumentCount)
}

func TestIndexSearchEmptyIndex(t *testing.T) {
	m := newTestManager(t, 8)
	ctx := context.Background()

	err := m.WithIndex(ctx, "alice", func(x *Index) error {
		hits, searchErr := x.Search(ctx, randomVector(8, 1), 5, 0.0)
		require.NoError(t, searchErr)
		assert.Empty(t, hits)
		return nil
	})
	require.NoError(t, err)
}

func TestIndexSearchThreshold(t *testing.T) {
	m := newTestManager(t, 4)
	ctx := context.Background()

	chunks := []chunker.Chunk{
		{ID: "doc1_chunk_0", DocumentID: "doc1", Content: "aligned", Embedding: []float32{1, 0, 0, 0}},
		{ID: "doc1_chunk_1", DocumentID: "doc1", Content: "orthogonal", Embedding: []float32{0, 1, 0, 0}},
	}
	err := m.WithIndex(ctx, "alice", func(x *Index) error {
		return x.Add(ctx, chunks)
	})
	require.NoError(t, err)

	err = m.WithIndex(ctx, "alice", func(x *Index) error {
		hits, searchErr := x.Search(ctx, []float32{1, 0, 0, 0}, 5, 0.7)
		require.NoError(t, searchErr)
		require.Len(t, hits, 1)
		assert.Equal(t, "doc1_chunk_0", hits[0].ChunkID)
		return nil
	})
	require.NoError(t, err)
}

func TestIndexAddDimensionMismatch(t *testing.T) {
	m := newTestManager(t, 8)
	ctx := context.Background()

	err := m.WithIndex(ctx, "alice", func(x *Index) error {
		return x.Add(ctx, []chunker.Chunk{{
			ID:         "doc1_chunk_0",
			DocumentID: "doc1",
			Embedding:  randomVector(4, 1),
		}})
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestIndexAddDimensionMismatchLeavesIndexUnchanged(t *testing.T) {
	m := newTestManager(t, 8)
	ctx := context.Background()

	// A valid chunk ahead of the mismatched one must not be kept.
	chunks := embeddedChunks("doc1", 8, 2)
	chunks[1].Embedding = randomVector(4, 1)

	err := m.WithIndex(ctx, "alice", func(x *Index) error {
		return x.Add(ctx, chunks)
	})
	require.ErrorIs(t, err, ErrDimensionMismatch)

	stats, err := m.Stats(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, stats.TotalVectors)
	assert.Zero(t, stats.DocumentCount)

	// A later valid batch persists without any trace of the rejected one.
	good := embeddedChunks("doc2", 8, 3)
	err = m.WithIndex(ctx, "alice", func(x *Index) error {
		return x.Add(ctx, good)
	})
	require.NoError(t, err)

	err = m.WithIndex(ctx, "alice", func(x *Index) error {
		hits, searchErr := x.Search(ctx, good[0].Embedding, 10, 0)
		require.NoError(t, searchErr)
		for _, hit := range hits {
			assert.Equal(t, "doc2", hit.DocumentID)
		}
		assert.Equal(t, 0, hits[0].VectorID)
		return nil
	})
	require.NoError(t, err)
}

func TestIndexAddSkipsUnembeddedChunks(t *testing.T) {
	m := newTestManager(t, 8)
	ctx := context.Background()

	chunks := embeddedChunks("doc1", 8, 2)
	chunks[1].Embedding = nil
	chunks[1].EmbeddingErr = "provider unavailable"

	err := m.WithIndex(ctx, "alice", func(x *Index) error {
		return x.Add(ctx, chunks)
	})
	require.NoError(t, err)

	stats, err := m.Stats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalVectors)
}

func TestIndexRemoveDocument(t *testing.T) {
	m := newTestManager(t, 8)
	ctx := context.Background()

	err := m.WithIndex(ctx, "alice", func(x *Index) error {
		if err := x.Add(ctx, embeddedChunks("doc1", 8, 2)); err != nil {
			return err
		}
		return x.Add(ctx, embeddedChunks("doc2", 8, 2))
	})
	require.NoError(t, err)

	err = m.WithIndex(ctx, "alice", func(x *Index) error {
		return x.RemoveDocument(ctx, "doc1")
	})
	require.NoError(t, err)

	stats, err := m.Stats(ctx, "alice")
	require.NoError(t, err)
	// Removal touches metadata only; the vectors stay in the index.
	assert.Equal(t, 4, stats.TotalVectors)
	assert.Equal(t, 1, stats.DocumentCount)
	assert.Equal(t, 2, stats.ChunkCount)

	// Searches no longer resolve the removed document.
	err = m.WithIndex(ctx, "alice", func(x *Index) error {
		hits, searchErr := x.Search(ctx, randomVector(8, 1), 10, -1)
		require.NoError(t, searchErr)
		for _, hit := range hits {
			assert.NotEqual(t, "doc1", hit.DocumentID)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestIndexRemoveMissingDocument(t *testing.T) {
	m := newTestManager(t, 8)
	ctx := context.Background()

	err := m.WithIndex(ctx, "alice", func(x *Index) error {
		return x.RemoveDocument(ctx, "no-such-doc")
	})
	require.NoError(t, err)
}

func TestIndexRebuildUnsupported(t *testing.T) {
	m := newTestManager(t, 8)

	err := m.WithIndex(context.Background(), "alice", func(x *Index) error {
		return x.Rebuild(context.Background())
	})
	assert.ErrorIs(t, err, ErrRebuildUnsupported)
}

func TestIndexOwnersIsolated(t *testing.T) {
	m := newTestManager(t, 8)
	ctx := context.Background()

	err := m.WithIndex(ctx, "alice", func(x *Index) error {
		return x.Add(ctx, embeddedChunks("doc1", 8, 3))
	})
	require.NoError(t, err)

	stats, err := m.Stats(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalVectors)
}

func TestManagerRequiresOwner(t *testing.T) {
	m := newTestManager(t, 8)

	err := m.WithIndex(context.Background(), "", func(x *Index) error { return nil })
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPreview(t *testing.T) {
	short := "short content"
	assert.Equal(t, short, preview(short))

	long := strings.Repeat("x", 500)
	p := preview(long)
	assert.Len(t, p, previewLength)
	assert.True(t, strings.HasSuffix(p, "..."))

	// Exactly at the limit stays untouched.
	exact := strings.Repeat("y", previewLength)
	assert.Equal(t, exact, preview(exact))
}

func TestNormalize(t *testing.T) {
	v := normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(v[1]), 1e-6)

	zero := normalize([]float32{0, 0, 0})
	for _, x := range zero {
		assert.Zero(t, x)
	}
}

func TestFSBlobStoreMissingKey(t *testing.T) {
	store, err := NewFSBlobStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "vector_indices/alice/flat.index")
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestFSBlobStoreRoundTrip(t *testing.T) {
	store, err := NewFSBlobStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	key := "vector_indices/alice/metadata.json"
	require.NoError(t, store.Put(ctx, key, []byte(`{"dimension":8}`)))

	data, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"dimension":8}`, string(data))

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, ErrBlobNotFound)

	// Deleting twice is fine.
	require.NoError(t, store.Delete(ctx, key))
}
