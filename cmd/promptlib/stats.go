package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(removeCmd)
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the owner's vector index statistics",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	if err := requireOwner(); err != nil {
		return err
	}

	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.close()

	stats, err := app.indexes.Stats(cmd.Context(), owner)
	if err != nil {
		return err
	}

	if outputJSON {
		return json.NewEncoder(os.Stdout).Encode(stats)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Owner:\t%s\n", stats.Owner)
	fmt.Fprintf(w, "Dimension:\t%d\n", stats.Dimension)
	fmt.Fprintf(w, "Total vectors:\t%d\n", stats.TotalVectors)
	fmt.Fprintf(w, "Documents:\t%d\n", stats.DocumentCount)
	fmt.Fprintf(w, "Chunks:\t%d\n", stats.ChunkCount)
	return w.Flush()
}

var removeCmd = &cobra.Command{
	Use:   "remove [document-id]",
	Short: "Remove a document from the owner's index",
	Long: `Remove a document's entries from the owner's index metadata. The
underlying vectors are not compacted and keep consuming index capacity.`,
	Args: cobra.ExactArgs(1),
	RunE: runRemove,
}

func runRemove(cmd *cobra.Command, args []string) error {
	if err := requireOwner(); err != nil {
		return err
	}

	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.close()

	if err := app.processor.RemoveDocument(cmd.Context(), owner, args[0]); err != nil {
		return err
	}
	fmt.Printf("Removed document %s from index %s\n", args[0], owner)
	return nil
}
