package normalize

import (
	"strings"
	"unicode"
)

// Normalize collapses every whitespace run to a single space, trims the
// result and cuts it to at most maxChars characters. Applying it twice with
// the same limit gives the same string.
func Normalize(raw string, maxChars int) string {
	if maxChars <= 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(min(len(raw), maxChars*4))

	n := 0
	pendingSpace := false
	for _, r := range raw {
		if unicode.IsSpace(r) {
			pendingSpace = n > 0
			continue
		}
		if pendingSpace {
			if n+1 >= maxChars {
				break
			}
			b.WriteByte(' ')
			n++
			pendingSpace = false
		}
		b.WriteRune(r)
		n++
		if n >= maxChars {
			break
		}
	}

	return b.String()
}

// Empty reports whether raw normalizes to nothing.
func Empty(raw string) bool {
	return strings.IndexFunc(raw, func(r rune) bool { return !unicode.IsSpace(r) }) < 0
}
