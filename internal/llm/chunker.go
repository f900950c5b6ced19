package llm

import (
	"strings"
	"unicode/utf8"
)

const (
	// DefaultChunkSize is the character window used for long source texts.
	DefaultChunkSize = 30000
	// DefaultChunkOverlap carries context from one window into the next.
	DefaultChunkOverlap = 2000
)

// Chunk is one window of a source document. Index is recorded on every
// extracted entity as its provenance.
type Chunk struct {
	Index int
	Start int // byte offset into the source
	Text  string
}

// ChunkText splits text into overlapping windows of at most size bytes. Text
// that fits in one window is returned unchanged as a single chunk. Each window
// end is pulled back to the last paragraph or sentence break found in its
// final 20%, so entities are rarely cut in half.
func ChunkText(text string, size, overlap int) []Chunk {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	if strings.TrimSpace(text) == "" {
		return []Chunk{}
	}
	if len(text) <= size {
		return []Chunk{{Index: 0, Start: 0, Text: text}}
	}

	var chunks []Chunk
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			end = len(text)
		} else {
			end = breakPoint(text, start, end)
		}

		chunks = append(chunks, Chunk{Index: len(chunks), Start: start, Text: text[start:end]})
		if end == len(text) {
			break
		}

		next := runeStart(text, end-overlap)
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// breakPoint looks for "\n\n", then a sentence terminator followed by
// whitespace, inside the last 20% of text[start:end].
func breakPoint(text string, start, end int) int {
	floor := end - (end-start)/5
	window := text[floor:end]

	if i := strings.LastIndex(window, "\n\n"); i >= 0 {
		return floor + i + 2
	}
	for i := len(window) - 2; i >= 0; i-- {
		switch window[i] {
		case '.', '!', '?':
			if c := window[i+1]; c == ' ' || c == '\n' || c == '\t' {
				return floor + i + 2
			}
		}
	}
	return runeStart(text, end)
}

// runeStart moves i back onto a UTF-8 rune boundary.
func runeStart(text string, i int) int {
	if i <= 0 {
		return 0
	}
	if i >= len(text) {
		return len(text)
	}
	for i > 0 && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}
