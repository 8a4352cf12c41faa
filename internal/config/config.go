// Package config provides configuration loading for promptlib.
//
// Configuration is loaded from a YAML file and overridden by environment
// variables, with defaults for every field.
package config

import (
	"errors"
	"fmt"

	"github.com/uththunga/promptlib/internal/chunker"
	"github.com/uththunga/promptlib/internal/embeddings"
	"github.com/uththunga/promptlib/internal/logging"
	"github.com/uththunga/promptlib/internal/retriever"
	"github.com/uththunga/promptlib/internal/tokenizer"
	"github.com/uththunga/promptlib/internal/vectorindex"
)

// Config holds the complete promptlib configuration.
type Config struct {
	Logging   logging.Config            `koanf:"logging"`
	Storage   StorageConfig             `koanf:"storage"`
	Tokenizer TokenizerConfig           `koanf:"tokenizer"`
	Chunking  chunker.Config            `koanf:"chunking"`
	Provider  embeddings.ProviderConfig `koanf:"provider"`
	Embedding embeddings.Config         `koanf:"embedding"`
	Index     vectorindex.Config        `koanf:"index"`
	Retrieval retriever.Config          `koanf:"retrieval"`
}

// StorageConfig holds local storage configuration.
type StorageConfig struct {
	// DataDir is the root directory for chunk records and index blobs.
	DataDir string `koanf:"data_dir"`
}

// TokenizerConfig holds tokenizer configuration.
type TokenizerConfig struct {
	// Encoding is the tiktoken encoding name.
	Encoding string `koanf:"encoding"`
}

// Default returns the configuration defaults. Load overlays file and
// environment values on top of it, so boolean features such as reranking
// default to enabled.
func Default() Config {
	cfg := Config{
		Logging: logging.Config{
			Level:  "info",
			Format: "console",
		},
		Storage: StorageConfig{
			DataDir: "data",
		},
		Tokenizer: TokenizerConfig{
			Encoding: tokenizer.DefaultEncoding,
		},
		Retrieval: retriever.DefaultConfig(),
	}
	cfg.Chunking.ApplyDefaults()
	cfg.Provider.BaseURL = "https://api.openai.com/v1"
	cfg.Provider.ApplyDefaults()
	cfg.Embedding.ApplyDefaults()
	cfg.Index.ApplyDefaults()
	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Storage.DataDir == "" {
		return errors.New("storage data_dir is required")
	}
	if c.Tokenizer.Encoding == "" {
		return errors.New("tokenizer encoding is required")
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Chunking.Validate(); err != nil {
		return fmt.Errorf("chunking: %w", err)
	}
	if err := c.Provider.Validate(); err != nil {
		return fmt.Errorf("provider: %w", err)
	}
	if err := c.Embedding.Validate(); err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	if err := c.Index.Validate(); err != nil {
		return fmt.Errorf("index: %w", err)
	}
	if err := c.Retrieval.Validate(); err != nil {
		return fmt.Errorf("retrieval: %w", err)
	}
	return nil
}
