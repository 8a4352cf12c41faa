package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var queryDocuments []string

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringSliceVar(&queryDocuments, "documents", nil, "restrict retrieval to these document ids")
}

var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Retrieve context for a query",
	Long: `Search the owner's vector index and print the formatted context for a
query, with per-chunk scores.

Examples:
  # Retrieve context
  promptlib query --owner alice "how does chunk overlap work"

  # Restrict to specific documents
  promptlib query --owner alice --documents doc-1,doc-2 "error handling"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func runQuery(cmd *cobra.Command, args []string) error {
	if err := requireOwner(); err != nil {
		return err
	}

	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.close()

	query := strings.Join(args, " ")
	result, err := app.retriever.Retrieve(cmd.Context(), owner, query, queryDocuments)
	if err != nil {
		return err
	}

	if outputJSON {
		return json.NewEncoder(os.Stdout).Encode(result)
	}

	if result.Context == "" {
		fmt.Println("No relevant context found.")
		return nil
	}

	fmt.Println(result.Context)
	fmt.Println()
	fmt.Printf("Chunks found: %d, used: %d, context length: %d\n",
		result.Metadata.TotalChunksFound,
		result.Metadata.ChunksUsed,
		result.Metadata.ContextLength,
	)
	for i, chunk := range result.Chunks {
		fmt.Printf("  [%d] %s (doc %s) similarity=%.3f rerank=%.3f\n",
			i+1, chunk.ChunkID, chunk.DocumentID, chunk.SimilarityScore, chunk.RerankScore)
	}
	return nil
}
