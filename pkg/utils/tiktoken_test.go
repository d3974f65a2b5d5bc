package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenCounter(t *testing.T) {
	for _, model := range []string{"gpt-4", "gpt-4o-mini", "claude-sonnet-4-5", "llama3.1", ""} {
		t.Run(model, func(t *testing.T) {
			counter, err := NewTokenCounter(model)
			require.NoError(t, err)
			require.NotNil(t, counter)
		})
	}
}

func TestCountTokens(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4")
	require.NoError(t, err)

	tests := []struct {
		text      string
		minTokens int
		maxTokens int
	}{
		{"", 0, 0},
		{"Hello", 1, 2},
		{"Hello world", 2, 3},
		{strings.Repeat("word ", 100), 90, 110},
	}
	for _, tt := range tests {
		got := counter.CountTokens(tt.text)
		assert.GreaterOrEqual(t, got, tt.minTokens, "text %q", tt.text)
		assert.LessOrEqual(t, got, tt.maxTokens, "text %q", tt.text)
	}
}

func TestNilCounterFallsBackToCharacters(t *testing.T) {
	var counter *TokenCounter
	assert.Equal(t, 2, counter.CountTokens("12345678"))
}

func TestTruncation(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4")
	require.NoError(t, err)

	text := strings.Repeat("alpha ", 200) + "FINAL-ERROR"

	assert.Equal(t, "short", counter.TruncateTail("short", 50))

	tail := counter.TruncateTail(text, 20)
	assert.True(t, strings.HasPrefix(tail, "[truncated]"))
	assert.True(t, strings.HasSuffix(tail, "FINAL-ERROR"))
	assert.Less(t, counter.CountTokens(tail), 40)

	head := counter.TruncateHead(text, 20)
	assert.True(t, strings.HasPrefix(head, "alpha"))
	assert.True(t, strings.HasSuffix(head, "[truncated]"))
	assert.True(t, counter.Fits(head, 40))
}
