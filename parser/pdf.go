package parser

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFParser extracts per-page plain text. Pages where the plain-text
// extractor comes back empty (common with CJK fonts and unusual content
// streams) fall back to positional reassembly of the raw text fragments.
type PDFParser struct{}

func (p *PDFParser) SupportedFormats() []string { return []string{"pdf"} }

func (p *PDFParser) Parse(ctx context.Context, path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer f.Close()

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text := ""
		if t, err := page.GetPlainText(nil); err == nil {
			text = strings.TrimSpace(t)
		}
		if text == "" {
			text = reassemblePage(page)
		}
		if text != "" {
			pages = append(pages, text)
		}
	}

	if len(pages) == 0 {
		return "", ErrEmptyExtraction
	}
	return strings.Join(pages, "\n"), nil
}

// reassemblePage rebuilds page text from individual positioned fragments:
// top-to-bottom (PDF y grows upward), left-to-right within a line. Fragments
// within lineTolerance points of each other share a line.
func reassemblePage(page pdf.Page) (text string) {
	// Malformed content streams panic inside the decoder; treat as no text.
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()

	const lineTolerance = 2.0

	content := page.Content()
	if len(content.Text) == 0 {
		return ""
	}

	frags := make([]pdf.Text, len(content.Text))
	copy(frags, content.Text)
	sort.SliceStable(frags, func(i, j int) bool {
		if math.Abs(frags[i].Y-frags[j].Y) > lineTolerance {
			return frags[i].Y > frags[j].Y
		}
		return frags[i].X < frags[j].X
	})

	var b strings.Builder
	lastY := math.Inf(1)
	for _, t := range frags {
		if t.S == "" {
			continue
		}
		if b.Len() > 0 && math.Abs(t.Y-lastY) > lineTolerance {
			b.WriteString("\n")
		}
		b.WriteString(t.S)
		lastY = t.Y
	}
	return strings.TrimSpace(b.String())
}
