package relay

import (
	"strings"
	"unicode/utf8"
)

// SplitByBytes cuts text into chunks of at most max UTF-8 bytes. Chunks end
// after the last newline inside the window when there is one and never split
// a rune. Joining the chunks gives back text unchanged.
//
// A max <= 0 disables splitting. A max smaller than a single rune still
// yields that rune as its own chunk.
func SplitByBytes(text string, max int) []string {
	if text == "" {
		return nil
	}
	if max <= 0 || len(text) <= max {
		return []string{text}
	}

	var chunks []string
	rest := text
	for len(rest) > max {
		cut := max
		for cut > 0 && !utf8.RuneStart(rest[cut]) {
			cut--
		}
		if cut == 0 {
			_, size := utf8.DecodeRuneInString(rest)
			cut = size
		} else if nl := strings.LastIndexByte(rest[:cut], '\n'); nl > 0 {
			cut = nl + 1
		}
		chunks = append(chunks, rest[:cut])
		rest = rest[cut:]
	}
	if rest != "" {
		chunks = append(chunks, rest)
	}
	return chunks
}
