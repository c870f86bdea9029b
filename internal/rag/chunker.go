package rag

import "strings"

// Word-window chunking defaults. Windows overlap so facts spanning a chunk
// boundary stay retrievable from both sides.
const (
	DefaultChunkSize    = 384
	DefaultChunkOverlap = 50
)

// Chunk splits text into overlapping word windows for embedding. size and
// overlap are in words; a non-positive size and a negative overlap take the
// defaults (zero overlap is honoured), and an overlap at or above size is
// clamped so the window always advances. Whitespace-only input yields nil.
func Chunk(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap >= size {
		overlap = size / 2
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if len(words) <= size {
		return []string{strings.Join(words, " ")}
	}

	var chunks []string
	for start := 0; start < len(words); {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
		start = end - overlap
	}
	return chunks
}
