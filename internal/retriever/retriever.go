// Package retriever turns a query into a budget-bounded context string by
// searching an owner's vector index, enriching hits from the chunk store
// and reranking with keyword overlap.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/uththunga/promptlib/internal/chunker"
	"github.com/uththunga/promptlib/internal/docstore"
	"github.com/uththunga/promptlib/internal/vectorindex"
)

// ErrInvalidConfig indicates invalid configuration.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds retrieval configuration. Use DefaultConfig as the base: the
// zero value disables reranking and metadata annotations, and a zero in
// any numeric field selects that field's default.
type Config struct {
	// TopK is the number of index candidates to fetch.
	TopK int `koanf:"top_k"`

	// SimilarityThreshold drops candidates below this cosine similarity.
	// Zero selects the default; set a negative value (similarities range
	// over [-1, 1]) to keep every candidate.
	SimilarityThreshold float64 `koanf:"similarity_threshold"`

	// MaxContextLength bounds the formatted context string, including
	// source annotations, in characters.
	MaxContextLength int `koanf:"max_context_length"`

	// MinRemainder is the smallest usable budget remainder; a chunk that
	// cannot fit at least this many characters is dropped instead of
	// truncated. Zero selects the default.
	MinRemainder int `koanf:"min_remainder"`

	// IncludeMetadata annotates each included chunk with a source header.
	IncludeMetadata bool `koanf:"include_metadata"`

	// RerankResults re-orders candidates by combined similarity and
	// keyword overlap.
	RerankResults bool `koanf:"rerank_results"`

	// SimilarityWeight and KeywordWeight combine into the rerank score.
	SimilarityWeight float64 `koanf:"similarity_weight"`
	KeywordWeight    float64 `koanf:"keyword_weight"`
}

// DefaultConfig returns the standard retrieval configuration.
func DefaultConfig() Config {
	return Config{
		TopK:                5,
		SimilarityThreshold: 0.7,
		MaxContextLength:    4000,
		MinRemainder:        100,
		IncludeMetadata:     true,
		RerankResults:       true,
		SimilarityWeight:    0.7,
		KeywordWeight:       0.3,
	}
}

// ApplyDefaults fills zero numeric fields with their defaults; negative
// values pass through unchanged. Boolean fields keep their value; start
// from DefaultConfig to get them enabled.
func (c *Config) ApplyDefaults() {
	base := DefaultConfig()
	if c.TopK == 0 {
		c.TopK = base.TopK
	}
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = base.SimilarityThreshold
	}
	if c.MaxContextLength == 0 {
		c.MaxContextLength = base.MaxContextLength
	}
	if c.MinRemainder == 0 {
		c.MinRemainder = base.MinRemainder
	}
	if c.SimilarityWeight == 0 && c.KeywordWeight == 0 {
		c.SimilarityWeight = base.SimilarityWeight
		c.KeywordWeight = base.KeywordWeight
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.TopK <= 0 {
		return fmt.Errorf("%w: top k must be positive", ErrInvalidConfig)
	}
	if c.MaxContextLength <= 0 {
		return fmt.Errorf("%w: max context length must be positive", ErrInvalidConfig)
	}
	if c.MinRemainder < 0 {
		return fmt.Errorf("%w: min remainder cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// QueryEmbedder embeds a single query text.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// ChunkStore resolves index hits back to authoritative chunk records.
type ChunkStore interface {
	GetChunk(ctx context.Context, documentID, chunkID string) (docstore.StoredChunk, error)
}

// EnrichedChunk is one retrieved chunk with its full content and scores.
type EnrichedChunk struct {
	ChunkID         string           `json:"chunk_id"`
	DocumentID      string           `json:"document_id"`
	Content         string           `json:"content"`
	Metadata        chunker.Metadata `json:"metadata"`
	SimilarityScore float64          `json:"similarity_score"`
	RerankScore     float64          `json:"rerank_score"`
	FromPreview     bool             `json:"from_preview,omitempty"`
}

// ResultMetadata describes how a retrieval result was assembled.
type ResultMetadata struct {
	Query            string    `json:"query"`
	TotalChunksFound int       `json:"total_chunks_found"`
	ChunksUsed       int       `json:"chunks_used"`
	ContextLength    int       `json:"context_length"`
	SimilarityScores []float64 `json:"similarity_scores"`
	DocumentSources  []string  `json:"document_sources"`
}

// RetrievalResult is the outcome of one retrieval.
type RetrievalResult struct {
	Context  string          `json:"context"`
	Chunks   []EnrichedChunk `json:"chunks"`
	Metadata ResultMetadata  `json:"metadata"`
}

// Retriever retrieves and formats context for a query.
type Retriever struct {
	config   Config
	embedder QueryEmbedder
	indexes  *vectorindex.Manager
	chunks   ChunkStore
	logger   *zap.Logger
	metrics  *Metrics
}

// New creates a Retriever.
func New(config Config, embedder QueryEmbedder, indexes *vectorindex.Manager, chunks ChunkStore, logger *zap.Logger) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: query embedder is required", ErrInvalidConfig)
	}
	if indexes == nil {
		return nil, fmt.Errorf("%w: index manager is required", ErrInvalidConfig)
	}
	if chunks == nil {
		return nil, fmt.Errorf("%w: chunk store is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &Retriever{
		config:   config,
		embedder: embedder,
		indexes:  indexes,
		chunks:   chunks,
		logger:   logger,
		metrics:  NewMetrics(logger),
	}, nil
}

// Retrieve finds the most relevant chunks for query in the owner's index
// and formats them into a context string. Embedding or index failures
// degrade to an empty-context result rather than an error; the returned
// error is non-nil only when the context is canceled.
func (r *Retriever) Retrieve(ctx context.Context, owner, query string, documentIDs []string) (RetrievalResult, error) {
	start := time.Now()
	result := emptyResult(query)
	defer func() {
		r.metrics.RecordRetrieval(ctx, owner, time.Since(start), result.Metadata.ChunksUsed)
	}()

	queryVector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		r.logger.Warn("query embedding failed", zap.Error(err))
		return result, nil
	}

	var hits []vectorindex.SearchResult
	err = r.indexes.WithIndex(ctx, owner, func(x *vectorindex.Index) error {
		var searchErr error
		hits, searchErr = x.Search(ctx, queryVector, r.config.TopK, r.config.SimilarityThreshold)
		return searchErr
	})
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		r.logger.Warn("index search failed", zap.String("owner", owner), zap.Error(err))
		return result, nil
	}

	result.Metadata.TotalChunksFound = len(hits)
	if len(hits) == 0 {
		r.logger.Info("no relevant chunks found", zap.String("owner", owner))
		return result, nil
	}

	if len(documentIDs) > 0 {
		hits = filterByDocuments(hits, documentIDs)
	}

	enriched := r.enrich(ctx, hits)
	if r.config.RerankResults {
		r.rerank(query, enriched)
	}

	context, used := r.formatContext(enriched)
	result.Context = context
	result.Chunks = enriched
	result.Metadata.ChunksUsed = used
	result.Metadata.ContextLength = len(context)
	for _, chunk := range enriched {
		result.Metadata.SimilarityScores = append(result.Metadata.SimilarityScores, chunk.SimilarityScore)
	}
	result.Metadata.DocumentSources = documentSources(enriched)

	r.logger.Info("retrieved context",
		zap.String("owner", owner),
		zap.Int("chunks_found", result.Metadata.TotalChunksFound),
		zap.Int("chunks_used", used),
		zap.Int("context_length", len(context)),
	)
	return result, nil
}

func emptyResult(query string) RetrievalResult {
	return RetrievalResult{
		Chunks: []EnrichedChunk{},
		Metadata: ResultMetadata{
			Query:            query,
			SimilarityScores: []float64{},
			DocumentSources:  []string{},
		},
	}
}

func filterByDocuments(hits []vectorindex.SearchResult, documentIDs []string) []vectorindex.SearchResult {
	allowed := make(map[string]bool, len(documentIDs))
	for _, id := range documentIDs {
		allowed[id] = true
	}
	filtered := hits[:0]
	for _, hit := range hits {
		if allowed[hit.DocumentID] {
			filtered = append(filtered, hit)
		}
	}
	return filtered
}

// enrich resolves each hit to its stored chunk content, falling back to
// the index preview when the record is missing.
func (r *Retriever) enrich(ctx context.Context, hits []vectorindex.SearchResult) []EnrichedChunk {
	enriched := make([]EnrichedChunk, 0, len(hits))
	for _, hit := range hits {
		chunk := EnrichedChunk{
			ChunkID:         hit.ChunkID,
			DocumentID:      hit.DocumentID,
			Metadata:        hit.Metadata,
			SimilarityScore: hit.SimilarityScore,
			RerankScore:     hit.SimilarityScore,
		}

		record, err := r.chunks.GetChunk(ctx, hit.DocumentID, hit.ChunkID)
		switch {
		case err == nil:
			chunk.Content = record.Content
			chunk.Metadata = record.Metadata
		case errors.Is(err, docstore.ErrChunkNotFound):
			r.logger.Warn("chunk record missing, using preview",
				zap.String("chunk_id", hit.ChunkID),
			)
			chunk.Content = hit.ContentPreview
			chunk.FromPreview = true
		default:
			r.logger.Warn("chunk lookup failed, using preview",
				zap.String("chunk_id", hit.ChunkID),
				zap.Error(err),
			)
			chunk.Content = hit.ContentPreview
			chunk.FromPreview = true
		}
		enriched = append(enriched, chunk)
	}
	return enriched
}

// rerank combines similarity with normalized keyword overlap and sorts
// descending by the combined score.
func (r *Retriever) rerank(query string, chunks []EnrichedChunk) {
	queryWords := wordSet(query)
	for i := range chunks {
		overlap := keywordOverlap(queryWords, chunks[i].Content)
		chunks[i].RerankScore = chunks[i].SimilarityScore*r.config.SimilarityWeight + overlap*r.config.KeywordWeight
	}
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].RerankScore > chunks[j].RerankScore
	})
}

func wordSet(text string) map[string]bool {
	words := make(map[string]bool)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		words[word] = true
	}
	return words
}

// keywordOverlap is the fraction of query words present in content.
func keywordOverlap(queryWords map[string]bool, content string) float64 {
	if len(queryWords) == 0 {
		return 0
	}
	overlap := 0
	for word := range wordSet(content) {
		if queryWords[word] {
			overlap++
		}
	}
	return float64(overlap) / float64(len(queryWords))
}

// formatContext accumulates chunk contents into one context string within
// the character budget. The budget covers the whole formatted string, source
// annotations included. Returns the context and how many chunks it uses.
func (r *Retriever) formatContext(chunks []EnrichedChunk) (string, int) {
	if len(chunks) == 0 {
		return "", 0
	}

	var parts []string
	currentLength := 0
	used := 0

	for i, chunk := range chunks {
		part := r.formatChunk(i, chunk, chunk.Content)
		partLength := len(part)
		if used > 0 {
			partLength++ // joining newline
		}

		if currentLength+partLength > r.config.MaxContextLength {
			overhead := partLength - len(chunk.Content)
			remaining := r.config.MaxContextLength - currentLength - overhead
			if remaining <= r.config.MinRemainder {
				break
			}
			truncated := truncateRunes(chunk.Content, remaining-3) + "..."
			part = r.formatChunk(i, chunk, truncated)
			partLength = len(part)
			if used > 0 {
				partLength++
			}
			if currentLength+partLength > r.config.MaxContextLength {
				break
			}
		}

		parts = append(parts, part)
		currentLength += partLength
		used++
	}

	return strings.TrimSpace(strings.Join(parts, "\n")), used
}

// formatChunk renders one chunk, with a source header when metadata
// inclusion is enabled.
func (r *Retriever) formatChunk(position int, chunk EnrichedChunk, content string) string {
	if !r.config.IncludeMetadata {
		return content + "\n\n"
	}

	var source []string
	if chunk.Metadata.PageNumber > 0 {
		source = append(source, fmt.Sprintf("Page %d", chunk.Metadata.PageNumber))
	}
	if chunk.Metadata.SectionTitle != "" {
		source = append(source, fmt.Sprintf("Section: %s", chunk.Metadata.SectionTitle))
	}

	sourceStr := ""
	if len(source) > 0 {
		sourceStr = fmt.Sprintf(" (%s)", strings.Join(source, ", "))
	}
	return fmt.Sprintf("[Source %d%s]\n%s\n", position+1, sourceStr, content)
}

// truncateRunes cuts s at a rune boundary to at most n bytes.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// ContextStats aggregates a retrieval result for logging and evaluation.
type ContextStats struct {
	ContextLength       int      `json:"context_length"`
	ChunksUsed          int      `json:"chunks_used"`
	TotalChunksFound    int      `json:"total_chunks_found"`
	AvgSimilarityScore  float64  `json:"avg_similarity_score"`
	UniqueDocuments     int      `json:"unique_documents"`
	DocumentSources     []string `json:"document_sources"`
	ChunkLengths        []int    `json:"chunk_lengths"`
	RetrievalEfficiency float64  `json:"retrieval_efficiency"`
}

// Stats summarizes a retrieval result. RetrievalEfficiency is the fraction
// of found chunks that made it into the context.
func Stats(result RetrievalResult) ContextStats {
	stats := ContextStats{
		ContextLength:    result.Metadata.ContextLength,
		ChunksUsed:       result.Metadata.ChunksUsed,
		TotalChunksFound: result.Metadata.TotalChunksFound,
		UniqueDocuments:  len(result.Metadata.DocumentSources),
		DocumentSources:  result.Metadata.DocumentSources,
		ChunkLengths:     make([]int, 0, len(result.Chunks)),
	}
	if n := len(result.Metadata.SimilarityScores); n > 0 {
		sum := 0.0
		for _, score := range result.Metadata.SimilarityScores {
			sum += score
		}
		stats.AvgSimilarityScore = sum / float64(n)
	}
	for _, chunk := range result.Chunks {
		stats.ChunkLengths = append(stats.ChunkLengths, len(chunk.Content))
	}
	if found := result.Metadata.TotalChunksFound; found > 0 {
		stats.RetrievalEfficiency = float64(result.Metadata.ChunksUsed) / float64(found)
	}
	return stats
}

func documentSources(chunks []EnrichedChunk) []string {
	seen := make(map[string]bool)
	sources := []string{}
	for _, chunk := range chunks {
		if !seen[chunk.DocumentID] {
			seen[chunk.DocumentID] = true
			sources = append(sources, chunk.DocumentID)
		}
	}
	return sources
}
