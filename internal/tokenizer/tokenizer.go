// Package tokenizer provides token counting and truncation shared by the
// chunker and the embedding coordinator. Both sides must measure text with
// the same encoding, otherwise chunk sizing and provider input limits drift
// apart.
package tokenizer

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// DefaultEncoding is the BPE encoding used by the supported embedding models.
const DefaultEncoding = "cl100k_base"

// approxTokensPerWord is the fallback ratio when no encoding is available.
// Roughly 1 token per 0.75 English words.
const approxTokensPerWord = 1.33

// Counter counts and truncates text in model tokens.
//
// When the requested encoding cannot be loaded, Counter degrades to a
// word-count approximation instead of failing: callers still get stable,
// deterministic measurements, just less precise ones.
type Counter struct {
	encodingName string
	encoding     *tiktoken.Tiktoken
	logger       *zap.Logger
}

// New creates a Counter for the given encoding name. An empty name selects
// DefaultEncoding.
func New(encodingName string, logger *zap.Logger) *Counter {
	if encodingName == "" {
		encodingName = DefaultEncoding
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Counter{
		encodingName: encodingName,
		logger:       logger,
	}

	encoding, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		logger.Warn("failed to load token encoding, using word-count approximation",
			zap.String("encoding", encodingName),
			zap.Error(err),
		)
		return c
	}
	c.encoding = encoding
	return c
}

// EncodingName returns the name of the encoding this counter was built for.
func (c *Counter) EncodingName() string {
	return c.encodingName
}

// CountTokens returns the number of tokens in text.
func (c *Counter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if c.encoding == nil {
		return c.approximateCount(text)
	}
	return len(c.encoding.Encode(text, nil, nil))
}

// Truncate returns text cut down to at most maxTokens tokens. Text already
// within the limit is returned unchanged. The result never counts more
// tokens than maxTokens.
func (c *Counter) Truncate(text string, maxTokens int) string {
	if text == "" || maxTokens <= 0 {
		return ""
	}
	if c.CountTokens(text) <= maxTokens {
		return text
	}

	if c.encoding == nil {
		return c.approximateTruncate(text, maxTokens)
	}

	tokens := c.encoding.Encode(text, nil, nil)
	keep := maxTokens
	truncated := c.encoding.Decode(tokens[:keep])

	// Re-encoding a decoded prefix can merge across the cut point and
	// exceed the limit. Trim until the invariant holds.
	for keep > 0 && c.CountTokens(truncated) > maxTokens {
		keep--
		truncated = c.encoding.Decode(tokens[:keep])
	}
	return truncated
}

// approximateCount estimates tokens from whitespace-separated words.
func (c *Counter) approximateCount(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return int(float64(words) * approxTokensPerWord)
}

// approximateTruncate cuts text by character ratio with a safety margin so
// the approximate count stays under the limit.
func (c *Counter) approximateTruncate(text string, maxTokens int) string {
	count := c.approximateCount(text)
	if count <= 0 {
		return text
	}
	charsPerToken := float64(len(text)) / float64(count)
	maxChars := int(float64(maxTokens) * charsPerToken * 0.9)

	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	truncated := string(runes[:maxChars])
	for c.approximateCount(truncated) > maxTokens && truncated != "" {
		runes = []rune(truncated)
		truncated = string(runes[:len(runes)*9/10])
	}
	return truncated
}
