package search

import (
	"strings"
	"unicode/utf8"
)

// DefaultSnippetMaxBytes bounds snippet size in returned results.
const DefaultSnippetMaxBytes = 700

// snippet bounds chunk text for display. Text within the limit is returned
// whole; longer text is cut at the last word boundary before the limit,
// never mid-rune, with an ellipsis marker.
func snippet(text string, maxBytes int) string {
	if maxBytes <= 0 {
		maxBytes = DefaultSnippetMaxBytes
	}
	text = strings.TrimSpace(text)
	if len(text) <= maxBytes {
		return text
	}

	// Reserve room for the ellipsis marker so the bound holds.
	cut := maxBytes - len(" …")
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	truncated := text[:cut]
	if idx := strings.LastIndexAny(truncated, " \t\n"); idx > maxBytes/2 {
		truncated = truncated[:idx]
	}
	return strings.TrimRight(truncated, " \t\n") + " …"
}
