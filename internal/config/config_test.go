package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 1000, cfg.Chunking.ChunkSize)
	assert.Equal(t, 100, cfg.Embedding.BatchSize)
	assert.Equal(t, 1536, cfg.Index.Dimension)
	assert.True(t, cfg.Retrieval.RerankResults)
	assert.True(t, cfg.Retrieval.IncludeMetadata)
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: debug
chunking:
  chunk_size: 500
  chunk_overlap: 50
retrieval:
  rerank_results: false
provider:
  base_url: http://localhost:8080/v1
  model: custom-embedder
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 500, cfg.Chunking.ChunkSize)
	assert.Equal(t, 50, cfg.Chunking.ChunkOverlap)
	assert.False(t, cfg.Retrieval.RerankResults)
	// Untouched keys keep defaults.
	assert.True(t, cfg.Retrieval.IncludeMetadata)
	assert.Equal(t, "http://localhost:8080/v1", cfg.Provider.BaseURL)
	assert.Equal(t, "custom-embedder", cfg.Provider.Model)
	assert.Equal(t, "data", cfg.Storage.DataDir)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chunking:\n  chunk_size: 500\n"), 0o600))

	t.Setenv("PROMPTLIB_CHUNKING_CHUNK_SIZE", "750")
	t.Setenv("PROMPTLIB_PROVIDER_API_KEY", "env-key")
	t.Setenv("PROMPTLIB_STORAGE_DATA_DIR", "/tmp/promptlib-data")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 750, cfg.Chunking.ChunkSize)
	assert.Equal(t, "env-key", cfg.Provider.APIKey)
	assert.Equal(t, "/tmp/promptlib-data", cfg.Storage.DataDir)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chunking:\n  chunk_size: 100\n  chunk_overlap: 100\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunking")
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
