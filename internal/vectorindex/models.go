package vectorindex

import (
	"github.com/uththunga/promptlib/internal/chunker"
)

// previewLength bounds the content preview stored per index entry.
const previewLength = 200

// Entry records one stored vector's identity inside the owner metadata.
// VectorID is the vector's position in the index at insertion time and is
// stable for the life of the index.
type Entry struct {
	VectorID       int              `json:"vector_id"`
	ChunkID        string           `json:"chunk_id"`
	DocumentID     string           `json:"document_id"`
	ContentPreview string           `json:"content_preview"`
	Metadata       chunker.Metadata `json:"metadata"`
}

// Metadata is the owner-scoped index state persisted alongside the vector
// blob. DocumentChunks maps document ids to the entries inserted for them.
type Metadata struct {
	Dimension      int                `json:"dimension"`
	TotalVectors   int                `json:"total_vectors"`
	DocumentChunks map[string][]Entry `json:"document_chunks"`
}

// SearchResult is one search hit resolved back to its stored chunk.
type SearchResult struct {
	ChunkID         string           `json:"chunk_id"`
	DocumentID      string           `json:"document_id"`
	ContentPreview  string           `json:"content_preview"`
	Metadata        chunker.Metadata `json:"metadata"`
	SimilarityScore float64          `json:"similarity_score"`
	VectorID        int              `json:"vector_id"`
}

// IndexStats summarizes an owner's index.
type IndexStats struct {
	Owner         string `json:"owner"`
	Dimension     int    `json:"dimension"`
	TotalVectors  int    `json:"total_vectors"`
	DocumentCount int    `json:"document_count"`
	ChunkCount    int    `json:"chunk_count"`
	Initialized   bool   `json:"initialized"`
}

// preview returns at most previewLength characters of content. A shortened
// preview is ellipsis-terminated, with the ellipsis counted inside the
// limit so the result never exceeds it.
func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewLength {
		return content
	}
	return string(runes[:previewLength-3]) + "..."
}
