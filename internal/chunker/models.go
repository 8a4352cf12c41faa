package chunker

import "fmt"

// Metadata carries the positional and structural context of a chunk inside
// its source document.
type Metadata struct {
	// StartIndex is the byte offset of the chunk in the cleaned text.
	StartIndex int `json:"start_index"`

	// EndIndex is the byte offset one past the end of the chunk.
	EndIndex int `json:"end_index"`

	// TokenCount is the chunk size in model tokens.
	TokenCount int `json:"token_count"`

	// CharacterCount is the chunk size in characters.
	CharacterCount int `json:"character_count"`

	// PageNumber is the page the chunk belongs to, resolved from the
	// nearest "--- Page N ---" marker. Zero means unknown.
	PageNumber int `json:"page_number,omitempty"`

	// SectionTitle is the nearest markdown heading text. Empty means unknown.
	SectionTitle string `json:"section_title,omitempty"`

	// SequenceIndex is the zero-based position of the chunk in the split
	// output for its document.
	SequenceIndex int `json:"sequence_index"`

	// IsSubChunk marks chunks produced by the oversize split pass.
	IsSubChunk bool `json:"is_sub_chunk,omitempty"`

	// ParentChunkID is the id of the chunk this sub-chunk was split from.
	ParentChunkID string `json:"parent_chunk_id,omitempty"`

	// SubChunkIndex is the zero-based position among the parent's sub-chunks.
	SubChunkIndex int `json:"sub_chunk_index,omitempty"`

	// Truncated marks chunks cut down to the embedding model input limit.
	Truncated bool `json:"truncated,omitempty"`

	// OriginalTokenCount is the pre-truncation token count.
	OriginalTokenCount int `json:"original_token_count,omitempty"`

	// Extra holds caller-supplied document metadata.
	Extra map[string]string `json:"extra,omitempty"`
}

// Chunk is a bounded, retrievable unit of document text. A chunk is
// immutable once embedded; the embedding fields are filled in by the
// embedding coordinator, never by the chunker.
type Chunk struct {
	// ID is deterministic: "{document_id}_chunk_{sequence_index}", with a
	// "_sub_{i}" suffix for sub-chunks.
	ID string `json:"id"`

	// DocumentID identifies the source document.
	DocumentID string `json:"document_id"`

	// Content is the chunk text.
	Content string `json:"content"`

	// Metadata carries position and structure information.
	Metadata Metadata `json:"metadata"`

	// Embedding is the vector for this chunk, nil until embedded or when
	// embedding failed.
	Embedding []float32 `json:"embedding,omitempty"`

	// EmbeddingModel names the model that produced the embedding.
	EmbeddingModel string `json:"embedding_model,omitempty"`

	// EmbeddingErr records why embedding failed, empty on success.
	EmbeddingErr string `json:"embedding_error,omitempty"`
}

// HasEmbedding reports whether the chunk carries a usable embedding.
func (c *Chunk) HasEmbedding() bool {
	return len(c.Embedding) > 0
}

// ChunkID builds the deterministic chunk id for a document and sequence index.
func ChunkID(documentID string, sequenceIndex int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, sequenceIndex)
}

// SubChunkID builds the deterministic id for a sub-chunk of parentID.
func SubChunkID(parentID string, subIndex int) string {
	return fmt.Sprintf("%s_sub_%d", parentID, subIndex)
}
