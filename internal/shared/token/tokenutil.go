// Package tokenutil counts tokens with tiktoken-go's cl100k_base
// encoding. The encoding is initialized once; when it cannot be loaded
// (offline hosts without the BPE cache) every function degrades to a
// character heuristic instead of failing.
package tokenutil

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	once     sync.Once
	encoding *tiktoken.Tiktoken
)

func loadEncoding() *tiktoken.Tiktoken {
	once.Do(func() {
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			encoding = enc
		}
	})
	return encoding
}

// CountTokens returns the token count of text, or a heuristic estimate
// when the encoding is unavailable.
func CountTokens(text string) int {
	if enc := loadEncoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return EstimateFast(text)
}

// EstimateFast estimates tokens as max(runes/4, words) without touching
// the encoder. Good enough for budget checks over large transcripts.
func EstimateFast(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	estimate := len([]rune(trimmed)) / 4
	if words := len(strings.Fields(trimmed)); estimate < words {
		estimate = words
	}
	if estimate == 0 {
		estimate = 1
	}
	return estimate
}

// TruncateToTokens cuts text down to roughly maxTokens tokens, marking
// the cut with an ellipsis. Zero or negative budgets leave text alone.
func TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	if enc := loadEncoding(); enc != nil {
		tokens := enc.Encode(text, nil, nil)
		if len(tokens) <= maxTokens {
			return text
		}
		return enc.Decode(tokens[:maxTokens]) + "..."
	}
	runes := []rune(text)
	limit := maxTokens * 4
	if limit >= len(runes) {
		return text
	}
	return string(runes[:limit]) + "..."
}
