package retriever

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uththunga/promptlib/internal/chunker"
	"github.com/uththunga/promptlib/internal/docstore"
	"github.com/uththunga/promptlib/internal/vectorindex"
)

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

type fixture struct {
	retriever *Retriever
	indexes   *vectorindex.Manager
	store     *docstore.MemoryStore
	embedder  *fakeEmbedder
}

func newFixture(t *testing.T, config Config) *fixture {
	t.Helper()

	blobs, err := vectorindex.NewFSBlobStore(t.TempDir())
	require.NoError(t, err)
	indexes, err := vectorindex.NewManager(vectorindex.Config{Dimension: 4}, blobs, nil)
	require.NoError(t, err)

	store := docstore.NewMemoryStore()
	embedder := &fakeEmbedder{vector: []float32{1, 0, 0, 0}}

	r, err := New(config, embedder, indexes, store, nil)
	require.NoError(t, err)

	return &fixture{retriever: r, indexes: indexes, store: store, embedder: embedder}
}

// ingest adds chunks to both the index and the chunk store.
func (f *fixture) ingest(t *testing.T, owner string, chunks []chunker.Chunk) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.PutChunks(ctx, chunks))
	err := f.indexes.WithIndex(ctx, owner, func(x *vectorindex.Index) error {
		return x.Add(ctx, chunks)
	})
	require.NoError(t, err)
}

func testChunk(documentID string, seq int, content string, embedding []float32) chunker.Chunk {
	return chunker.Chunk{
		ID:         chunker.ChunkID(documentID, seq),
		DocumentID: documentID,
		Content:    content,
		Metadata:   chunker.Metadata{TokenCount: 10, SequenceIndex: seq},
		Embedding:  embedding,
	}
}

func TestRetrieveEmptyIndex(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	result, err := f.retriever.Retrieve(context.Background(), "alice", "what is chunking", nil)
	require.NoError(t, err)

	assert.Empty(t, result.Context)
	assert.Empty(t, result.Chunks)
	assert.Equal(t, 0, result.Metadata.TotalChunksFound)
	assert.Equal(t, 0, result.Metadata.ChunksUsed)
	assert.Equal(t, "what is chunking", result.Metadata.Query)
}

func TestRetrieveEmbeddingFailureDegrades(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.embedder.err = errors.New("provider down")

	result, err := f.retriever.Retrieve(context.Background(), "alice", "query", nil)
	require.NoError(t, err)
	assert.Empty(t, result.Context)
	assert.Empty(t, result.Chunks)
	assert.Equal(t, "query", result.Metadata.Query)
}

func TestRetrieveBasic(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.ingest(t, "alice", []chunker.Chunk{
		testChunk("doc1", 0, "the chunking pipeline splits documents", []float32{1, 0, 0, 0}),
		testChunk("doc1", 1, "completely different topic", []float32{0, 1, 0, 0}),
	})

	result, err := f.retriever.Retrieve(context.Background(), "alice", "chunking pipeline documents", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Metadata.TotalChunksFound)
	assert.Equal(t, 1, result.Metadata.ChunksUsed)
	require.Len(t, result.Chunks, 1)
	assert.Equal(t, "doc1_chunk_0", result.Chunks[0].ChunkID)
	assert.Contains(t, result.Context, "the chunking pipeline splits documents")
	assert.Contains(t, result.Context, "[Source 1]")
	assert.Equal(t, []string{"doc1"}, result.Metadata.DocumentSources)
	assert.Equal(t, len(result.Context), result.Metadata.ContextLength)
	require.Len(t, result.Metadata.SimilarityScores, 1)
	assert.InDelta(t, 1.0, result.Metadata.SimilarityScores[0], 1e-5)
}

func TestRetrieveDocumentFilter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SimilarityThreshold = 0.1
	f := newFixture(t, cfg)
	f.ingest(t, "alice", []chunker.Chunk{
		testChunk("doc1", 0, "first document content", []float32{1, 0, 0, 0}),
		testChunk("doc2", 0, "second document content", []float32{0.9, 0.1, 0, 0}),
	})

	result, err := f.retriever.Retrieve(context.Background(), "alice", "content", []string{"doc2"})
	require.NoError(t, err)

	require.Len(t, result.Chunks, 1)
	assert.Equal(t, "doc2", result.Chunks[0].DocumentID)
	// Found count reflects candidates before filtering.
	assert.Equal(t, 2, result.Metadata.TotalChunksFound)
}

func TestRetrieveEnrichmentFallsBackToPreview(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	// Index only; the chunk store never sees the record.
	chunk := testChunk("doc1", 0, "preview-only chunk content", []float32{1, 0, 0, 0})
	ctx := context.Background()
	err := f.indexes.WithIndex(ctx, "alice", func(x *vectorindex.Index) error {
		return x.Add(ctx, []chunker.Chunk{chunk})
	})
	require.NoError(t, err)

	result, err := f.retriever.Retrieve(ctx, "alice", "chunk content", nil)
	require.NoError(t, err)

	require.Len(t, result.Chunks, 1)
	assert.True(t, result.Chunks[0].FromPreview)
	assert.Equal(t, "preview-only chunk content", result.Chunks[0].Content)
}

func TestRerankKeywordOverlapWins(t *testing.T) {
	// The keyword-heavy chunk overtakes a higher raw similarity.
	f := newFixture(t, DefaultConfig())

	chunks := []EnrichedChunk{
		{ChunkID: "a", Content: "unrelated text", SimilarityScore: 0.95},
		{ChunkID: "b", Content: "this is a test query example", SimilarityScore: 0.90},
	}
	f.retriever.rerank("test query", chunks)

	assert.Equal(t, "b", chunks[0].ChunkID)
	assert.Greater(t, chunks[0].RerankScore, chunks[1].RerankScore)
}

func TestRerankStableOnTies(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	chunks := []EnrichedChunk{
		{ChunkID: "a", Content: "same words here", SimilarityScore: 0.8},
		{ChunkID: "b", Content: "same words here", SimilarityScore: 0.8},
	}
	f.retriever.rerank("same words", chunks)
	assert.Equal(t, "a", chunks[0].ChunkID)
	assert.Equal(t, "b", chunks[1].ChunkID)
}

func TestKeywordOverlap(t *testing.T) {
	query := wordSet("alpha beta gamma")

	assert.InDelta(t, 1.0, keywordOverlap(query, "alpha beta gamma delta"), 1e-9)
	assert.InDelta(t, 1.0/3, keywordOverlap(query, "alpha only here"), 1e-9)
	assert.Zero(t, keywordOverlap(query, "nothing matches"))
	assert.Zero(t, keywordOverlap(wordSet(""), "anything"))
}

func TestFormatContextBudget(t *testing.T) {
	// The formatted context never exceeds the budget, annotations
	// included, for any budget.
	var chunks []EnrichedChunk
	for i := 0; i < 6; i++ {
		chunks = append(chunks, EnrichedChunk{
			ChunkID:    fmt.Sprintf("doc1_chunk_%d", i),
			DocumentID: "doc1",
			Content:    strings.Repeat(fmt.Sprintf("sentence %d repeated here. ", i), 30),
			Metadata:   chunker.Metadata{PageNumber: i + 1, SectionTitle: "Budgets"},
		})
	}

	for _, budget := range []int{150, 400, 1000, 4000, 100000} {
		cfg := DefaultConfig()
		cfg.MaxContextLength = budget
		f := newFixture(t, cfg)

		context, used := f.retriever.formatContext(chunks)
		assert.LessOrEqual(t, len(context), budget, "budget %d exceeded", budget)
		assert.LessOrEqual(t, used, len(chunks))
	}
}

func TestFormatContextTruncatesWithEllipsis(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxContextLength = 300
	cfg.IncludeMetadata = false
	f := newFixture(t, cfg)

	chunks := []EnrichedChunk{{
		ChunkID: "doc1_chunk_0",
		Content: strings.Repeat("long content ", 100),
	}}
	context, used := f.retriever.formatContext(chunks)

	assert.Equal(t, 1, used)
	assert.LessOrEqual(t, len(context), 300)
	assert.True(t, strings.HasSuffix(context, "..."))
}

func TestFormatContextSkipsWhenRemainderTooSmall(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxContextLength = 120
	cfg.MinRemainder = 100
	cfg.IncludeMetadata = false
	f := newFixture(t, cfg)

	chunks := []EnrichedChunk{
		{ChunkID: "a", Content: strings.Repeat("a", 110)},
		{ChunkID: "b", Content: strings.Repeat("b", 110)},
	}
	context, used := f.retriever.formatContext(chunks)

	// First chunk fits; the second cannot fit MinRemainder characters.
	assert.Equal(t, 1, used)
	assert.LessOrEqual(t, len(context), 120)
}

func TestFormatChunkSourceHeader(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	chunk := EnrichedChunk{
		Metadata: chunker.Metadata{PageNumber: 2, SectionTitle: "Implementation"},
	}
	part := f.retriever.formatChunk(0, chunk, "body text")
	assert.Equal(t, "[Source 1 (Page 2, Section: Implementation)]\nbody text\n", part)

	bare := f.retriever.formatChunk(1, EnrichedChunk{}, "body text")
	assert.Equal(t, "[Source 2]\nbody text\n", bare)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "abc", truncateRunes("abcdef", 3))
	assert.Equal(t, "abcdef", truncateRunes("abcdef", 10))
	assert.Equal(t, "", truncateRunes("abc", 0))

	// Never cuts inside a multi-byte rune.
	s := "héllo wörld"
	for n := 0; n <= len(s); n++ {
		cut := truncateRunes(s, n)
		assert.True(t, len(cut) <= n)
		for _, r := range cut {
			assert.NotEqual(t, '�', r)
		}
	}
}

func TestStats(t *testing.T) {
	result := RetrievalResult{
		Chunks: []EnrichedChunk{
			{Content: "abcd", DocumentID: "doc1"},
			{Content: "ab", DocumentID: "doc2"},
		},
		Metadata: ResultMetadata{
			TotalChunksFound: 4,
			ChunksUsed:       2,
			ContextLength:    30,
			SimilarityScores: []float64{0.9, 0.7},
			DocumentSources:  []string{"doc1", "doc2"},
		},
	}

	stats := Stats(result)
	assert.Equal(t, 30, stats.ContextLength)
	assert.Equal(t, 2, stats.ChunksUsed)
	assert.Equal(t, 4, stats.TotalChunksFound)
	assert.InDelta(t, 0.8, stats.AvgSimilarityScore, 1e-9)
	assert.Equal(t, 2, stats.UniqueDocuments)
	assert.Equal(t, []int{4, 2}, stats.ChunkLengths)
	assert.InDelta(t, 0.5, stats.RetrievalEfficiency, 1e-9)

	empty := Stats(RetrievalResult{})
	assert.Zero(t, empty.AvgSimilarityScore)
	assert.Zero(t, empty.RetrievalEfficiency)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{TopK: -1}
	cfg.ApplyDefaults()
	assert.Error(t, cfg.Validate())

	good := DefaultConfig()
	assert.NoError(t, good.Validate())
}

func TestConfigApplyDefaults(t *testing.T) {
	// Zero numeric fields pick up defaults.
	var cfg Config
	cfg.ApplyDefaults()
	assert.Equal(t, DefaultConfig().TopK, cfg.TopK)
	assert.Equal(t, DefaultConfig().SimilarityThreshold, cfg.SimilarityThreshold)
	assert.Equal(t, DefaultConfig().MinRemainder, cfg.MinRemainder)

	// A negative threshold means "keep every candidate" and survives.
	open := Config{SimilarityThreshold: -1}
	open.ApplyDefaults()
	assert.Equal(t, -1.0, open.SimilarityThreshold)
	assert.NoError(t, open.Validate())
}
