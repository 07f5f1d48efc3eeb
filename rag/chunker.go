package rag

import (
	"strings"
	"unicode/utf8"
)

const (
	// DefaultChunkSize is the default maximum number of characters per chunk.
	DefaultChunkSize = 800
	// DefaultChunkOverlap is the default number of characters carried into the next chunk.
	DefaultChunkOverlap = 100
)

// ChunkText greedily packs sentences into chunks of at most maxSize
// characters. Each new chunk starts with the trailing overlap characters of
// the previous one. A sentence longer than maxSize becomes its own chunk.
//
// The returned chunks carry Index, Content and estimated offsets only:
// StartIndex is index*(maxSize-overlap) and EndIndex is StartIndex plus the
// chunk length. After the first chunk these do not match source positions.
func ChunkText(text string, maxSize, overlap int) []Chunk {
	if maxSize <= 0 {
		maxSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= maxSize {
		overlap = maxSize / 4
	}
	step := maxSize - overlap

	var chunks []Chunk
	current := ""

	flush := func() {
		idx := len(chunks)
		start := idx * step
		chunks = append(chunks, Chunk{
			Index:      idx,
			Content:    current,
			StartIndex: start,
			EndIndex:   start + len(current),
		})
	}

	for _, s := range splitSentences(text) {
		if current == "" {
			current = s
			continue
		}
		if len(current)+1+len(s) > maxSize {
			flush()
			tail := overlapTail(current, overlap, maxSize-1-len(s))
			if tail == "" {
				current = s
			} else {
				current = tail + " " + s
			}
			continue
		}
		current += " " + s
	}
	if current != "" {
		flush()
	}
	return chunks
}

// splitSentences cuts text after every run of terminal punctuation. The
// punctuation stays with its sentence; text with none is one sentence.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	for i := 0; i < len(text); i++ {
		if !isTerminal(text[i]) {
			continue
		}
		for i+1 < len(text) && isTerminal(text[i+1]) {
			i++
		}
		if s := strings.TrimSpace(text[start : i+1]); s != "" {
			sentences = append(sentences, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func isTerminal(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}

// overlapTail returns at most min(overlap, budget) trailing characters of s.
func overlapTail(s string, overlap, budget int) string {
	n := overlap
	if budget < n {
		n = budget
	}
	if n <= 0 {
		return ""
	}
	if n >= len(s) {
		return strings.TrimSpace(s)
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return strings.TrimSpace(s[start:])
}
