// Package chunker splits raw document text into overlapping fixed-size word
// windows, the unit of embedding and retrieval.
package chunker

import (
	"strings"

	"github.com/nheososweet/60days-rag/internal/models"
)

// Split divides text into word windows of chunkSize words, each window
// starting chunkSize-overlap words after the previous one. Splitting is on
// whitespace and deterministic: the same input and parameters always yield
// the same chunk sequence. Whitespace-only trailing windows are dropped.
//
// overlap must be smaller than chunkSize, otherwise the window start would
// never advance.
func Split(text string, chunkSize, overlap int) ([]string, error) {
	if chunkSize <= 0 {
		return nil, models.NewValidationError("chunk_size must be positive, got %d", chunkSize)
	}
	if overlap < 0 {
		return nil, models.NewValidationError("overlap must not be negative, got %d", overlap)
	}
	if overlap >= chunkSize {
		return nil, models.NewValidationError("overlap (%d) must be smaller than chunk_size (%d)", overlap, chunkSize)
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, nil
	}

	step := chunkSize - overlap
	var chunks []string
	for i := 0; i < len(words); i += step {
		end := i + chunkSize
		if end > len(words) {
			end = len(words)
		}
		chunk := strings.Join(words[i:end], " ")
		if strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(words) {
			break
		}
	}
	return chunks, nil
}

// WordCount returns the number of whitespace-separated words in text.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
