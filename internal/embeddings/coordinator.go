package embeddings

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/uththunga/promptlib/internal/chunker"
	"github.com/uththunga/promptlib/internal/tokenizer"
)

// Config holds configuration for the embedding coordinator.
type Config struct {
	// BatchSize is the number of chunks per provider request.
	BatchSize int `koanf:"batch_size"`

	// MaxRetries bounds retry attempts for a failing batch.
	MaxRetries int `koanf:"max_retries"`

	// InitialBackoff is the first retry delay; subsequent delays grow
	// exponentially.
	InitialBackoff time.Duration `koanf:"initial_backoff"`

	// RequestsPerSecond paces batch requests against provider rate limits.
	RequestsPerSecond float64 `koanf:"requests_per_second"`

	// MaxInputTokens is the provider's per-text token limit. Longer chunks
	// are truncated before embedding.
	MaxInputTokens int `koanf:"max_input_tokens"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = time.Second
	}
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = 2
	}
	if c.MaxInputTokens == 0 {
		c.MaxInputTokens = 8191
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive", ErrInvalidConfig)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries cannot be negative", ErrInvalidConfig)
	}
	if c.MaxInputTokens <= 0 {
		return fmt.Errorf("%w: max input tokens must be positive", ErrInvalidConfig)
	}
	return nil
}

// Coordinator embeds chunks in rate-limited batches with retry. A batch
// that fails after all retries marks its chunks embedding-absent instead of
// failing the whole job; partial success is the designed outcome.
type Coordinator struct {
	config  Config
	prov    Provider
	counter *tokenizer.Counter
	limiter *rate.Limiter
	logger  *zap.Logger
	metrics *Metrics
}

// NewCoordinator creates a coordinator for the given provider.
func NewCoordinator(config Config, prov Provider, counter *tokenizer.Counter, logger *zap.Logger) (*Coordinator, error) {
	if prov == nil {
		return nil, fmt.Errorf("%w: provider is required", ErrInvalidConfig)
	}
	if counter == nil {
		return nil, fmt.Errorf("%w: token counter is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &Coordinator{
		config:  config,
		prov:    prov,
		counter: counter,
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1),
		logger:  logger,
		metrics: NewMetrics(logger),
	}, nil
}

// EmbedChunks embeds the given chunks and returns exactly len(chunks) items
// in input order. Chunks whose batch ultimately fails carry an error
// annotation and no embedding. The returned error is non-nil only when the
// context is canceled; remaining chunks are then left embedding-absent.
func (c *Coordinator) EmbedChunks(ctx context.Context, chunks []chunker.Chunk) ([]chunker.Chunk, error) {
	start := time.Now()
	var genErr error
	defer func() {
		c.metrics.RecordGeneration(ctx, c.prov.Model(), "embed_chunks", time.Since(start), len(chunks), genErr)
	}()

	if len(chunks) == 0 {
		return []chunker.Chunk{}, nil
	}

	out := make([]chunker.Chunk, len(chunks))
	copy(out, chunks)

	// Indexes of chunks eligible for embedding, in input order.
	var eligible []int
	for i := range out {
		if strings.TrimSpace(out[i].Content) == "" {
			out[i].EmbeddingErr = "empty content"
			continue
		}
		c.truncateForModel(&out[i])
		eligible = append(eligible, i)
	}

	for batchStart := 0; batchStart < len(eligible); batchStart += c.config.BatchSize {
		batchEnd := batchStart + c.config.BatchSize
		if batchEnd > len(eligible) {
			batchEnd = len(eligible)
		}
		batch := eligible[batchStart:batchEnd]

		if err := c.limiter.Wait(ctx); err != nil {
			genErr = ctx.Err()
			c.markFailed(out, eligible[batchStart:], "embedding canceled")
			return out, genErr
		}

		texts := make([]string, len(batch))
		for i, idx := range batch {
			texts[i] = out[idx].Content
		}

		vectors, err := c.embedWithRetry(ctx, texts)
		if err != nil {
			if ctx.Err() != nil {
				genErr = ctx.Err()
				c.markFailed(out, eligible[batchStart:], "embedding canceled")
				return out, genErr
			}
			c.logger.Warn("embedding batch failed",
				zap.Int("batch_start", batchStart),
				zap.Int("batch_size", len(batch)),
				zap.Error(err),
			)
			c.markFailed(out, batch, err.Error())
			continue
		}

		for i, idx := range batch {
			out[idx].Embedding = vectors[i]
			out[idx].EmbeddingModel = c.prov.Model()
		}
	}

	return out, nil
}

// EmbedQuery embeds a single query text, applying the same token limit as
// chunk embedding.
func (c *Coordinator) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		c.metrics.RecordGeneration(ctx, c.prov.Model(), "embed_query", time.Since(start), 1, genErr)
	}()

	if strings.TrimSpace(text) == "" {
		genErr = fmt.Errorf("%w: query text cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	if c.counter.CountTokens(text) > c.config.MaxInputTokens {
		text = c.counter.Truncate(text, c.config.MaxInputTokens)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		genErr = err
		return nil, genErr
	}

	vectors, err := c.embedWithRetry(ctx, []string{text})
	if err != nil {
		genErr = err
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return vectors[0], nil
}

// embedWithRetry calls the provider with exponential backoff. Rate-limit
// and transient failures are retried up to MaxRetries; rejection errors
// abort immediately.
func (c *Coordinator) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.config.InitialBackoff

	var vectors [][]float32
	operation := func() error {
		var err error
		vectors, err = c.prov.Embed(ctx, texts)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrProviderUnavailable) {
			c.logger.Debug("retrying embedding batch", zap.Error(err))
			return err
		}
		return backoff.Permanent(err)
	}

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(c.config.MaxRetries)), ctx))
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

// truncateForModel trims a chunk to the provider's token limit, recording
// the original token count.
func (c *Coordinator) truncateForModel(chunk *chunker.Chunk) {
	tokens := chunk.Metadata.TokenCount
	if tokens == 0 {
		tokens = c.counter.CountTokens(chunk.Content)
	}
	if tokens <= c.config.MaxInputTokens {
		return
	}

	chunk.Metadata.OriginalTokenCount = tokens
	chunk.Metadata.Truncated = true
	chunk.Content = c.counter.Truncate(chunk.Content, c.config.MaxInputTokens)
	chunk.Metadata.TokenCount = c.counter.CountTokens(chunk.Content)

	c.logger.Warn("truncated chunk for embedding",
		zap.String("chunk_id", chunk.ID),
		zap.Int("original_tokens", tokens),
		zap.Int("limit", c.config.MaxInputTokens),
	)
}

func (c *Coordinator) markFailed(out []chunker.Chunk, indexes []int, reason string) {
	for _, idx := range indexes {
		if out[idx].HasEmbedding() || out[idx].EmbeddingErr != "" {
			continue
		}
		out[idx].EmbeddingErr = reason
	}
}

// CosineSimilarity computes the cosine similarity of two vectors. Zero-norm
// or mismatched-length inputs yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// BatchStats summarizes the embedding outcome for a batch of chunks.
type BatchStats struct {
	TotalChunks       int     `json:"total_chunks"`
	WithEmbeddings    int     `json:"with_embeddings"`
	WithoutEmbeddings int     `json:"without_embeddings"`
	SuccessRate       float64 `json:"success_rate"`
	Dimension         int     `json:"dimension"`
	Model             string  `json:"model,omitempty"`
}

// Stats reports aggregate embedding coverage for a batch of chunks.
func Stats(chunks []chunker.Chunk) BatchStats {
	stats := BatchStats{TotalChunks: len(chunks)}
	for _, chunk := range chunks {
		if chunk.HasEmbedding() {
			stats.WithEmbeddings++
			if stats.Dimension == 0 {
				stats.Dimension = len(chunk.Embedding)
				stats.Model = chunk.EmbeddingModel
			}
		} else {
			stats.WithoutEmbeddings++
		}
	}
	if stats.TotalChunks > 0 {
		stats.SuccessRate = float64(stats.WithEmbeddings) / float64(stats.TotalChunks)
	}
	return stats
}
