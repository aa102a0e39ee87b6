package embeddings

import (
	"context"
	"fmt"
	"log"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const encodingName = "cl100k_base"

// TokenCounter reports how many model tokens a text occupies.
type TokenCounter func(text string) int

// NewTokenCounter uses the cl100k_base encoding and falls back to
// EstimateTokens when the encoding cannot be loaded.
func NewTokenCounter(logger *log.Logger) TokenCounter {
	if logger == nil {
		logger = log.Default()
	}

	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		logger.Printf("tiktoken %s unavailable, estimating token counts: %v", encodingName, err)
		return EstimateTokens
	}

	return func(text string) int {
		return len(enc.Encode(text, nil, nil))
	}
}

// EstimateTokens assumes roughly four characters per token.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// Batches groups consecutive texts so that each batch stays within maxTokens.
// A text that alone exceeds the limit gets its own batch.
func Batches(texts []string, maxTokens int, count TokenCounter) [][]string {
	if count == nil {
		count = EstimateTokens
	}

	var (
		batches [][]string
		current []string
		used    int
	)
	for _, text := range texts {
		tokens := count(text)
		if len(current) > 0 && (maxTokens <= 0 || used+tokens > maxTokens) {
			batches = append(batches, current)
			current = nil
			used = 0
		}
		current = append(current, text)
		used += tokens
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}

	return batches
}

// EmbedAll embeds texts batch by batch and returns the vectors in input order.
func EmbedAll(ctx context.Context, embedder Embedder, texts []string, maxTokens int, count TokenCounter) ([][]float32, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder not configured")
	}

	vectors := make([][]float32, 0, len(texts))
	for _, batch := range Batches(texts, maxTokens, count) {
		out, err := embedder.Embed(ctx, batch)
		if err != nil {
			return nil, err
		}
		if len(out) != len(batch) {
			return nil, fmt.Errorf("embedding count mismatch: have %d texts, %d embeddings", len(batch), len(out))
		}
		vectors = append(vectors, out...)
	}

	return vectors, nil
}
