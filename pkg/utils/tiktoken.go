// Package utils provides small shared helpers: tiktoken-based token counting and text budgeting.
package utils

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter counts tokens for prompt budgeting.
type TokenCounter struct {
	codec tokenizer.Codec
}

//nolint:gochecknoglobals // Codecs are immutable and expensive to build
var (
	codecCache   = map[tokenizer.Encoding]tokenizer.Codec{}
	codecCacheMu sync.Mutex
)

// encodingForModel picks the closest tiktoken encoding. Non-OpenAI models are approximated
// with cl100k, which is close enough for context budgeting.
func encodingForModel(model string) tokenizer.Encoding {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "gpt-4o"), strings.HasPrefix(m, "gpt-5"), strings.HasPrefix(m, "o1"),
		strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return tokenizer.O200kBase
	default:
		return tokenizer.Cl100kBase
	}
}

// NewTokenCounter creates a token counter for the specified model.
func NewTokenCounter(model string) (*TokenCounter, error) {
	enc := encodingForModel(model)

	codecCacheMu.Lock()
	defer codecCacheMu.Unlock()

	if codec, ok := codecCache[enc]; ok {
		return &TokenCounter{codec: codec}, nil
	}
	codec, err := tokenizer.Get(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec for model %s: %w", model, err)
	}
	codecCache[enc] = codec
	return &TokenCounter{codec: codec}, nil
}

// CountTokens returns the number of tokens in text.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc == nil || tc.codec == nil {
		// 4 chars ≈ 1 token
		return len(text) / 4
	}
	count, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// CountTokensSimple counts tokens with the default encoding.
func CountTokensSimple(text string) int {
	counter, err := NewTokenCounter("")
	if err != nil {
		return len(text) / 4
	}
	return counter.CountTokens(text)
}

// Fits reports whether text is within limit tokens.
func (tc *TokenCounter) Fits(text string, limit int) bool {
	return tc.CountTokens(text) <= limit
}

// TruncateHead keeps the beginning of text within roughly limit tokens.
func (tc *TokenCounter) TruncateHead(text string, limit int) string {
	current := tc.CountTokens(text)
	if current <= limit {
		return text
	}
	runes := []rune(text)
	keep := int(float64(len(runes)) * float64(limit) / float64(current) * 0.9)
	if keep < 0 {
		keep = 0
	}
	return string(runes[:keep]) + "\n... [truncated]"
}

// TruncateTail keeps the end of text within roughly limit tokens. Command output carries the
// interesting part (the error) at the end, so this is the variant used for captures.
func (tc *TokenCounter) TruncateTail(text string, limit int) string {
	current := tc.CountTokens(text)
	if current <= limit {
		return text
	}
	runes := []rune(text)
	keep := int(float64(len(runes)) * float64(limit) / float64(current) * 0.9)
	if keep < 0 {
		keep = 0
	}
	return "[truncated] ...\n" + string(runes[len(runes)-keep:])
}
