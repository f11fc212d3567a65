// ABOUTME: Deterministic chunking of long outbound text into transport-safe segments
// ABOUTME: Prefers sentence, newline then space breaks above a 70% floor before hard-cutting

package splitter

import (
	"strings"
	"unicode"
)

// breakFloorPercent is the minimum share of maxLength a natural break point
// must reach; anything earlier would produce pathologically short chunks.
const breakFloorPercent = 70

// Split breaks text into chunks of at most maxLength characters each.
// Text that already fits is returned as a single trimmed chunk. Longer text
// is consumed greedily, breaking at (in priority order) sentence-ending
// punctuation followed by a space, a newline, or a plain space, provided the
// break falls at or past 70% of maxLength. With no acceptable break point
// the chunk is cut hard at maxLength, which may split mid-word.
//
// Chunks are trimmed of surrounding whitespace and never empty; input that
// trims to nothing yields no chunks. Lengths are measured in runes so a
// hard cut never lands inside a UTF-8 sequence.
func Split(text string, maxLength int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	runes := []rune(trimmed)
	if maxLength <= 0 || len(runes) <= maxLength {
		return []string{trimmed}
	}

	floor := maxLength * breakFloorPercent / 100
	if floor < 1 {
		floor = 1
	}

	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= maxLength {
			if c := strings.TrimSpace(string(runes)); c != "" {
				chunks = append(chunks, c)
			}
			break
		}

		cut := breakPoint(runes[:maxLength], floor)
		if cut == 0 {
			cut = maxLength
		}

		if c := strings.TrimSpace(string(runes[:cut])); c != "" {
			chunks = append(chunks, c)
		}
		runes = runes[cut:]
	}

	return chunks
}

// breakPoint finds the best cut position in window at or after floor,
// or 0 if no acceptable break exists. Each break class is scanned from the
// end so the chunk stays as large as possible.
func breakPoint(window []rune, floor int) int {
	// Sentence-ending punctuation followed by a space
	for i := len(window) - 1; i >= floor; i-- {
		if window[i] == ' ' && isSentenceEnd(window[i-1]) {
			return i
		}
	}

	// Newline
	for i := len(window) - 1; i >= floor; i-- {
		if window[i] == '\n' {
			return i + 1
		}
	}

	// Plain space
	for i := len(window) - 1; i >= floor; i-- {
		if unicode.IsSpace(window[i]) {
			return i + 1
		}
	}

	return 0
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?':
		return true
	}
	return false
}
