package usecase

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"webrag/internal/domain"
)

// BuildSnippets turns query hits into at most limit answer snippets, best
// first. With mergeDuplicates, hits sharing a URL collapse into the first
// (highest scoring) one and later distinct URLs fill the freed slots.
func BuildSnippets(hits []domain.ScoredRecord, limit, snippetChars int, mergeDuplicates bool) []domain.Snippet {
	snippets := make([]domain.Snippet, 0, min(len(hits), max(limit, 0)))
	seen := make(map[string]bool, len(hits))

	for _, h := range hits {
		if len(snippets) >= limit {
			break
		}
		url := h.Record.Source.URL
		if mergeDuplicates && url != "" {
			if seen[url] {
				continue
			}
			seen[url] = true
		}

		snippets = append(snippets, domain.Snippet{
			Title: h.Record.Source.Title,
			URL:   url,
			Score: h.Score,
			Text:  truncate(h.Record.Text, snippetChars),
		})
	}

	return snippets
}

// FormatAnswer renders snippets as the plain-text answer block:
//
//	Based on 2 sources:
//
//	Source 1 (title):
//	text...
//
//	Source 2 (title):
//	text...
//
//	Most relevant source: https://...
func FormatAnswer(snippets []domain.Snippet) string {
	if len(snippets) == 0 {
		return ""
	}

	parts := make([]string, 0, len(snippets))
	for i, s := range snippets {
		parts = append(parts, fmt.Sprintf("Source %d (%s):\n%s...", i+1, s.Title, s.Text))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Based on %d sources:\n\n", len(snippets))
	b.WriteString(strings.Join(parts, "\n\n"))
	fmt.Fprintf(&b, "\n\nMost relevant source: %s", snippets[0].URL)
	return b.String()
}

func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
