// Package chunker splits normalized document text into token-bounded,
// overlapping chunks with positional and structural metadata.
package chunker

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
	"go.uber.org/zap"

	"github.com/uththunga/promptlib/internal/tokenizer"
)

var (
	// ErrInvalidConfig indicates invalid chunking configuration.
	ErrInvalidConfig = errors.New("invalid chunking configuration")

	// ErrChunking indicates an internal chunking failure.
	ErrChunking = errors.New("chunking failed")
)

// DefaultSeparators order unit boundaries from coarse to fine so splits
// prefer natural language breaks: paragraphs, lines, sentence-terminal
// punctuation, clause punctuation, words, characters.
var DefaultSeparators = []string{"\n\n", "\n", ". ", "! ", "? ", "; ", ", ", " ", ""}

var (
	pagePattern    = regexp.MustCompile(`--- Page (\d+) ---`)
	headingPattern = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)

	blankLinePattern = regexp.MustCompile(`\n\s*\n\s*\n`)
	spaceRunPattern  = regexp.MustCompile(` +`)
)

// Config holds chunking configuration. Sizes and overlap are measured in
// tokens; the minimum size is measured in characters.
type Config struct {
	// ChunkSize is the target chunk size in tokens.
	ChunkSize int `koanf:"chunk_size"`

	// ChunkOverlap is the token overlap between consecutive chunks.
	ChunkOverlap int `koanf:"chunk_overlap"`

	// MinChunkSize discards chunks shorter than this many characters.
	MinChunkSize int `koanf:"min_chunk_size"`

	// MaxChunkSize is the token limit above which Optimize splits a chunk.
	MaxChunkSize int `koanf:"max_chunk_size"`

	// Separators override DefaultSeparators when non-empty.
	Separators []string `koanf:"separators"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = 1000
	}
	if c.ChunkOverlap == 0 {
		c.ChunkOverlap = 200
	}
	if c.MinChunkSize == 0 {
		c.MinChunkSize = 100
	}
	if c.MaxChunkSize == 0 {
		c.MaxChunkSize = 2000
	}
	if len(c.Separators) == 0 {
		c.Separators = DefaultSeparators
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive", ErrInvalidConfig)
	}
	if c.ChunkOverlap < 0 {
		return fmt.Errorf("%w: chunk overlap cannot be negative", ErrInvalidConfig)
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk overlap %d must be smaller than chunk size %d", ErrInvalidConfig, c.ChunkOverlap, c.ChunkSize)
	}
	if c.MaxChunkSize < c.ChunkSize {
		return fmt.Errorf("%w: max chunk size %d must be at least chunk size %d", ErrInvalidConfig, c.MaxChunkSize, c.ChunkSize)
	}
	return nil
}

// Chunker splits text into retrievable chunks. Chunking is a pure function
// of its input: the same text and document id always produce the same
// chunk ids, contents and offsets.
type Chunker struct {
	config  Config
	counter *tokenizer.Counter
	logger  *zap.Logger
}

// New creates a Chunker with the given configuration and token counter.
func New(config Config, counter *tokenizer.Counter, logger *zap.Logger) (*Chunker, error) {
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

	return &Chunker{
		config:  config,
		counter: counter,
		logger:  logger,
	}, nil
}

// Chunk splits text into token-bounded chunks with metadata. Empty or
// whitespace-only text yields an empty slice without error. The extra map
// is attached to every chunk's metadata.
func (c *Chunker) Chunk(text, documentID string, extra map[string]string) ([]Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return []Chunk{}, nil
	}
	if documentID == "" {
		return nil, fmt.Errorf("%w: document id is required", ErrChunking)
	}

	cleaned := c.preprocess(text)
	structure := extractStructure(cleaned)
	pieces := c.splitRecursive(cleaned, c.config.Separators)

	chunks := make([]Chunk, 0, len(pieces))
	searchFrom := 0

	for i, piece := range pieces {
		trimmed := strings.TrimSpace(piece)
		if len(trimmed) < c.config.MinChunkSize {
			continue
		}

		start := strings.Index(cleaned[searchFrom:], piece)
		if start == -1 {
			start = searchFrom
		} else {
			start += searchFrom
		}
		end := start + len(piece)
		// Overlapping pieces share a prefix with the tail of the previous
		// one, so the next search must start before this piece's end.
		searchFrom = start + 1

		chunks = append(chunks, Chunk{
			ID:         ChunkID(documentID, i),
			DocumentID: documentID,
			Content:    trimmed,
			Metadata: Metadata{
				StartIndex:     start,
				EndIndex:       end,
				TokenCount:     c.counter.CountTokens(piece),
				CharacterCount: len(piece),
				PageNumber:     structure.pageNumberFor(start, end),
				SectionTitle:   structure.sectionTitleFor(start, end),
				SequenceIndex:  i,
				Extra:          extra,
			},
		})
	}

	c.logger.Info("chunked document",
		zap.String("document_id", documentID),
		zap.Int("chunks", len(chunks)),
		zap.Int("text_length", len(cleaned)),
	)
	return chunks, nil
}

// Optimize post-processes chunks for retrieval: under-minimum chunks are
// dropped and chunks above the token limit are re-split with a token-exact
// splitter. Sub-chunks inherit the parent's metadata and are tagged with
// the parent id and their sub-chunk index.
func (c *Chunker) Optimize(chunks []Chunk) ([]Chunk, error) {
	optimized := make([]Chunk, 0, len(chunks))

	for _, chunk := range chunks {
		if len(strings.TrimSpace(chunk.Content)) < c.config.MinChunkSize {
			continue
		}
		if chunk.Metadata.TokenCount <= c.config.MaxChunkSize {
			optimized = append(optimized, chunk)
			continue
		}

		subChunks, err := c.splitLargeChunk(chunk)
		if err != nil {
			return nil, fmt.Errorf("%w: splitting oversize chunk %s: %v", ErrChunking, chunk.ID, err)
		}
		optimized = append(optimized, subChunks...)
	}

	return optimized, nil
}

// splitLargeChunk splits an oversize chunk token-exactly.
func (c *Chunker) splitLargeChunk(chunk Chunk) ([]Chunk, error) {
	splitter := textsplitter.NewTokenSplitter(
		textsplitter.WithChunkSize(c.config.MaxChunkSize),
		textsplitter.WithChunkOverlap(c.config.ChunkOverlap),
		textsplitter.WithEncodingName(c.counter.EncodingName()),
	)

	parts, err := splitter.SplitText(chunk.Content)
	if err != nil {
		return nil, err
	}

	subChunks := make([]Chunk, 0, len(parts))
	for i, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}

		meta := chunk.Metadata
		meta.TokenCount = c.counter.CountTokens(part)
		meta.CharacterCount = len(part)
		meta.IsSubChunk = true
		meta.ParentChunkID = chunk.ID
		meta.SubChunkIndex = i

		subChunks = append(subChunks, Chunk{
			ID:         SubChunkID(chunk.ID, i),
			DocumentID: chunk.DocumentID,
			Content:    trimmed,
			Metadata:   meta,
		})
	}
	return subChunks, nil
}

// preprocess normalizes text before splitting: line endings become LF,
// runs of three or more blank lines collapse to a single blank line, space
// runs collapse to one space, and control characters other than newline
// and tab are stripped.
func (c *Chunker) preprocess(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = blankLinePattern.ReplaceAllString(text, "\n\n")
	text = spaceRunPattern.ReplaceAllString(text, " ")
	text = strings.Map(func(r rune) rune {
		if r >= 32 || r == '\n' || r == '\t' {
			return r
		}
		return -1
	}, text)
	return strings.TrimSpace(text)
}

// splitRecursive splits text on the first separator present, recursing into
// finer separators for fragments that are still above the chunk size, then
// merges fragments back into token-bounded, overlapping chunks.
func (c *Chunker) splitRecursive(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var next []string
	for i, s := range separators {
		if s == "" {
			separator = s
			break
		}
		if strings.Contains(text, s) {
			separator = s
			next = separators[i+1:]
			break
		}
	}

	var fragments []string
	if separator == "" {
		fragments = strings.Split(text, "")
	} else {
		// SplitAfter keeps the separator attached so offsets and
		// re-joining stay exact.
		fragments = strings.SplitAfter(text, separator)
	}

	var final []string
	var pending []string
	for _, fragment := range fragments {
		if fragment == "" {
			continue
		}
		if c.counter.CountTokens(fragment) < c.config.ChunkSize {
			pending = append(pending, fragment)
			continue
		}
		if len(pending) > 0 {
			final = append(final, c.mergeFragments(pending)...)
			pending = nil
		}
		if len(next) == 0 {
			final = append(final, fragment)
		} else {
			final = append(final, c.splitRecursive(fragment, next)...)
		}
	}
	if len(pending) > 0 {
		final = append(final, c.mergeFragments(pending)...)
	}
	return final
}

// mergeFragments packs small fragments into chunks of at most ChunkSize
// tokens, carrying ChunkOverlap tokens of trailing fragments into the next
// chunk.
func (c *Chunker) mergeFragments(fragments []string) []string {
	var chunks []string
	var window []string
	total := 0

	for _, fragment := range fragments {
		size := c.counter.CountTokens(fragment)
		if total+size > c.config.ChunkSize && len(window) > 0 {
			chunks = append(chunks, strings.Join(window, ""))
			for total > c.config.ChunkOverlap || (total+size > c.config.ChunkSize && total > 0) {
				total -= c.counter.CountTokens(window[0])
				window = window[1:]
			}
		}
		window = append(window, fragment)
		total += size
	}
	if len(window) > 0 {
		chunks = append(chunks, strings.Join(window, ""))
	}
	return chunks
}

// structure records page markers and headings found in cleaned text.
type structure struct {
	pages    []pageMarker
	headings []headingMarker
}

type pageMarker struct {
	number int
	start  int
	end    int
}

type headingMarker struct {
	level int
	title string
	start int
	end   int
}

// extractStructure scans cleaned text for "--- Page N ---" markers and
// markdown-style headings, recording their offsets for metadata lookup.
func extractStructure(text string) structure {
	var s structure

	for _, match := range pagePattern.FindAllStringSubmatchIndex(text, -1) {
		number, err := strconv.Atoi(text[match[2]:match[3]])
		if err != nil {
			continue
		}
		s.pages = append(s.pages, pageMarker{
			number: number,
			start:  match[0],
			end:    match[1],
		})
	}

	for _, match := range headingPattern.FindAllStringSubmatchIndex(text, -1) {
		s.headings = append(s.headings, headingMarker{
			level: match[3] - match[2],
			title: strings.TrimSpace(text[match[4]:match[5]]),
			start: match[0],
			end:   match[1],
		})
	}

	return s
}

// pageNumberFor resolves the page for a chunk spanning [start, end): the
// first marker inside the chunk wins, falling back to the nearest marker
// before the chunk start. Zero means no page is known.
func (s structure) pageNumberFor(start, end int) int {
	preceding := 0
	for _, m := range s.pages {
		if m.start < start {
			preceding = m.number
			continue
		}
		if m.start < end {
			return m.number
		}
		break
	}
	return preceding
}

// sectionTitleFor resolves the section title the same way pageNumberFor
// resolves pages.
func (s structure) sectionTitleFor(start, end int) string {
	preceding := ""
	for _, h := range s.headings {
		if h.start < start {
			preceding = h.title
			continue
		}
		if h.start < end {
			return h.title
		}
		break
	}
	return preceding
}
