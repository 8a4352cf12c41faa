package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	ingestDocumentID string
	ingestSource     string
)

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVar(&ingestDocumentID, "document-id", "", "document id (defaults to a generated UUID)")
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "source label stored in chunk metadata")
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Chunk, embed and index a document",
	Long: `Ingest a text or markdown file: split it into chunks, embed the chunks
and add them to the owner's vector index.

Examples:
  # Ingest a document for an owner
  promptlib ingest --owner alice notes.md

  # Ingest with a stable document id
  promptlib ingest --owner alice --document-id onboarding-guide guide.txt`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	if err := requireOwner(); err != nil {
		return err
	}

	content, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading document: %w", err)
	}

	documentID := ingestDocumentID
	if documentID == "" {
		documentID = uuid.NewString()
	}

	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.close()

	extra := map[string]string{"filename": filepath.Base(args[0])}
	if ingestSource != "" {
		extra["source"] = ingestSource
	}

	result, err := app.processor.ProcessDocument(cmd.Context(), owner, documentID, string(content), extra)
	if err != nil {
		return err
	}

	if outputJSON {
		return json.NewEncoder(os.Stdout).Encode(result)
	}

	fmt.Printf("Document:        %s\n", result.DocumentID)
	fmt.Printf("Chunks created:  %d\n", result.ChunksCreated)
	fmt.Printf("Chunks stored:   %d\n", result.ChunksStored)
	fmt.Printf("Chunks indexed:  %d\n", result.ChunksIndexed)
	fmt.Printf("Embedding rate:  %.0f%%\n", result.Embedding.SuccessRate*100)
	if result.Embedding.WithoutEmbeddings > 0 {
		fmt.Printf("Failed chunks:   %d (stored without embeddings)\n", result.Embedding.WithoutEmbeddings)
	}
	return nil
}
