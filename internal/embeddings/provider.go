// Package embeddings generates chunk and query embeddings through an
// OpenAI-compatible provider, with batching, rate limiting and retries.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrRateLimited indicates the provider rejected the request with a
	// rate-limit signal. Retryable.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrProviderUnavailable indicates a transient provider failure such
	// as a 5xx response or a network error. Retryable.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrProviderRejected indicates an auth or bad-request class failure.
	// Not retryable.
	ErrProviderRejected = errors.New("provider rejected request")
)

// Provider generates embeddings for batches of texts. The returned vectors
// match the input order exactly.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Model returns the embedding model name.
	Model() string
	// Dimension returns the embedding dimension, or 0 when unknown.
	Dimension() int
}

// ProviderConfig holds configuration for the OpenAI-compatible provider.
type ProviderConfig struct {
	// BaseURL is the base URL for the embedding API.
	BaseURL string `koanf:"base_url"`

	// APIKey is sent as a bearer token when non-empty.
	APIKey string `koanf:"api_key"`

	// Model is the embedding model to use.
	Model string `koanf:"model"`

	// Dimension is the requested embedding dimension. Zero lets the
	// provider pick the model default.
	Dimension int `koanf:"dimension"`

	// Timeout bounds a single embedding request.
	Timeout time.Duration `koanf:"timeout"`
}

// ApplyDefaults sets default values for unset fields.
func (c *ProviderConfig) ApplyDefaults() {
	if c.Model == "" {
		c.Model = "text-embedding-3-small"
	}
	if c.Dimension == 0 {
		c.Dimension = 1536
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// Validate validates the configuration.
func (c ProviderConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Dimension < 0 {
		return fmt.Errorf("%w: dimension cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// OpenAIProvider talks to an OpenAI-compatible /embeddings endpoint.
type OpenAIProvider struct {
	config ProviderConfig
	client *http.Client
}

// NewOpenAIProvider creates a provider with the given configuration.
func NewOpenAIProvider(config ProviderConfig) (*OpenAIProvider, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &OpenAIProvider{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}, nil
}

// Model returns the configured model name.
func (p *OpenAIProvider) Model() string {
	return p.config.Model
}

// Dimension returns the configured embedding dimension.
func (p *OpenAIProvider) Dimension() int {
	return p.config.Dimension
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Embed generates embeddings for the given texts in input order.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	req := embeddingRequest{
		Model:      p.config.Model,
		Input:      texts,
		Dimensions: p.config.Dimension,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.config.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.classifyError(resp)
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrProviderRejected, err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrProviderRejected, len(texts), len(parsed.Data))
	}

	// The API documents input-order responses but index is authoritative.
	sort.Slice(parsed.Data, func(i, j int) bool {
		return parsed.Data[i].Index < parsed.Data[j].Index
	})

	vectors := make([][]float32, len(parsed.Data))
	for i, item := range parsed.Data {
		if len(item.Embedding) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at index %d", ErrProviderRejected, i)
		}
		vectors[i] = item.Embedding
	}
	return vectors, nil
}

// classifyError maps a non-200 response onto the retryability taxonomy.
func (p *OpenAIProvider) classifyError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	message := string(body)
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		message = parsed.Error.Message
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d: %s", ErrRateLimited, resp.StatusCode, message)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrProviderUnavailable, resp.StatusCode, message)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrProviderRejected, resp.StatusCode, message)
	}
}
