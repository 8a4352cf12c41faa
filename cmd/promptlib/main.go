// Package main implements the promptlib CLI for document ingestion and
// retrieval against the local chunk store and vector indexes.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/uththunga/promptlib/internal/chunker"
	"github.com/uththunga/promptlib/internal/config"
	"github.com/uththunga/promptlib/internal/docstore"
	"github.com/uththunga/promptlib/internal/embeddings"
	"github.com/uththunga/promptlib/internal/logging"
	"github.com/uththunga/promptlib/internal/pipeline"
	"github.com/uththunga/promptlib/internal/retriever"
	"github.com/uththunga/promptlib/internal/tokenizer"
	"github.com/uththunga/promptlib/internal/vectorindex"
)

var (
	configPath string
	owner      string
	outputJSON bool

	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "promptlib",
	Short: "Document ingestion and context retrieval for RAG prompts",
	Long: `promptlib chunks documents, embeds them through an OpenAI-compatible
provider and maintains per-owner vector indexes for context retrieval.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (YAML)")
	rootCmd.PersistentFlags().StringVar(&owner, "owner", "", "owner id scoping the vector index (required)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output results as JSON")
}

// app holds the wired services behind every command.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	processor *pipeline.Processor
	retriever *retriever.Retriever
	indexes   *vectorindex.Manager
}

// buildApp loads configuration and wires the ingestion and retrieval
// services against the configured data directory.
func buildApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	counter := tokenizer.New(cfg.Tokenizer.Encoding, logger)

	ch, err := chunker.New(cfg.Chunking, counter, logger)
	if err != nil {
		return nil, fmt.Errorf("creating chunker: %w", err)
	}

	provider, err := embeddings.NewOpenAIProvider(cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}
	coordinator, err := embeddings.NewCoordinator(cfg.Embedding, provider, counter, logger)
	if err != nil {
		return nil, fmt.Errorf("creating embedding coordinator: %w", err)
	}

	store, err := docstore.NewFSStore(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("creating chunk store: %w", err)
	}
	blobs, err := vectorindex.NewFSBlobStore(filepath.Join(cfg.Storage.DataDir, "indexes"))
	if err != nil {
		return nil, fmt.Errorf("creating blob store: %w", err)
	}
	indexes, err := vectorindex.NewManager(cfg.Index, blobs, logger)
	if err != nil {
		return nil, fmt.Errorf("creating index manager: %w", err)
	}

	processor, err := pipeline.NewProcessor(ch, coordinator, store, indexes, logger)
	if err != nil {
		return nil, fmt.Errorf("creating processor: %w", err)
	}
	ret, err := retriever.New(cfg.Retrieval, coordinator, indexes, store, logger)
	if err != nil {
		return nil, fmt.Errorf("creating retriever: %w", err)
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		processor: processor,
		retriever: ret,
		indexes:   indexes,
	}, nil
}

func (a *app) close() {
	_ = logging.Sync(a.logger)
}

func requireOwner() error {
	if owner == "" {
		return fmt.Errorf("--owner is required")
	}
	return nil
}
