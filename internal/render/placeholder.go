package render

import (
	"errors"
	"strings"
	"time"
)

// ErrEmptyPlaceholder means there was nothing to summarize.
var ErrEmptyPlaceholder = errors.New("placeholder has no content")

// Placeholder renders the plain-text stand-in used when no PDF could be
// produced. It lists the same labeled rows a synthesized document would.
func Placeholder(title string, rows []Row, generatedAt time.Time) ([]byte, error) {
	rows = CompactRows(rows)
	if len(rows) == 0 {
		return nil, ErrEmptyPlaceholder
	}
	width := 0
	for _, r := range rows {
		if len(r.Label) > width {
			width = len(r.Label)
		}
	}
	var b strings.Builder
	b.WriteString(strings.TrimSpace(title))
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", len(strings.TrimSpace(title))))
	b.WriteString("\n\n")
	for _, r := range rows {
		b.WriteString(r.Label)
		b.WriteString(":")
		b.WriteString(strings.Repeat(" ", width-len(r.Label)+1))
		b.WriteString(r.Value)
		b.WriteString("\n")
	}
	b.WriteString("\nGenerated ")
	b.WriteString(generatedAt.UTC().Format(time.RFC3339))
	b.WriteString(". PDF rendering was unavailable; this text summary carries the same fields.\n")
	b.WriteString(disclaimer)
	b.WriteString("\n")
	return []byte(b.String()), nil
}
