// Package htmltotext extracts a plain-text rendering from an HTML mail
// body, used when a message carries only text/html and the ingest
// pipeline needs BodyText for snippet generation and embedding input.
package htmltotext

import (
	"strings"

	"github.com/jaytaylor/html2text"
)

// Extract returns the visible text content of htmlSrc, with links
// rendered inline and tables/lists preserved as plain-text layout.
func Extract(htmlSrc string) (string, error) {
	text, err := html2text.FromString(htmlSrc, html2text.Options{PrettyTables: false})
	if err != nil {
		return "", err
	}
	return collapseBlankLines(text), nil
}

// collapseBlankLines drops consecutive blank lines left by quoted-reply
// chrome and signature separators, keeping snippets compact.
func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t\r")
		if trimmed == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, trimmed)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
