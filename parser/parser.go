// Package parser extracts plain text from document files (txt, pdf, docx,
// xlsx, pptx) for the knowledge-graph pipeline. Extraction is text-only:
// layout is flattened, tables are linearized, and the result is cleaned and
// checked for meaningfulness before it reaches downstream stages.
package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsupportedFormat is returned for formats no parser handles.
	ErrUnsupportedFormat = errors.New("parser: unsupported format")

	// ErrFileMissing is returned when the file does not exist.
	ErrFileMissing = errors.New("parser: file missing")

	// ErrCorrupt is returned when a file cannot be decoded as its format.
	ErrCorrupt = errors.New("parser: corrupt file")

	// ErrUnknownEncoding is returned when no candidate text encoding decodes
	// the file cleanly.
	ErrUnknownEncoding = errors.New("parser: unknown text encoding")

	// ErrEmptyExtraction is returned when parsing succeeds but yields no text.
	ErrEmptyExtraction = errors.New("parser: no text extracted")

	// ErrNotMeaningful is returned when the extracted text fails the
	// meaningfulness gate (too short, too few content tokens, or mostly
	// punctuation).
	ErrNotMeaningful = errors.New("parser: extracted text not meaningful")
)

// Parser extracts plain text from a specific document format.
type Parser interface {
	Parse(ctx context.Context, path string) (string, error)
	SupportedFormats() []string
}

// Registry maps format tags to parsers.
type Registry struct {
	parsers map[string]Parser
}

func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	for _, p := range []Parser{&TextParser{}, &PDFParser{}, &DOCXParser{}, &XLSXParser{}, &PPTXParser{}} {
		for _, f := range p.SupportedFormats() {
			r.parsers[f] = p
		}
	}
	return r
}

func (r *Registry) Get(format string) (Parser, error) {
	p, ok := r.parsers[strings.ToLower(format)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	return p, nil
}

func (r *Registry) Register(format string, p Parser) {
	r.parsers[format] = p
}

// ParseFile extracts, cleans, and gates the text of one file. format may be
// an explicit tag, "auto" to sniff the file content, or empty to infer from
// the extension.
func (r *Registry) ParseFile(ctx context.Context, path, format string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %s", ErrFileMissing, path)
	}

	switch format {
	case "", "auto":
		format = SniffFormat(path)
	}

	p, err := r.Get(format)
	if err != nil {
		return "", err
	}

	text, err := p.Parse(ctx, path)
	if err != nil {
		return "", err
	}

	text = Clean(text)
	if text == "" {
		return "", fmt.Errorf("%w: %s", ErrEmptyExtraction, path)
	}
	if !Meaningful(text) {
		return "", fmt.Errorf("%w: %s", ErrNotMeaningful, path)
	}
	return text, nil
}

// SniffFormat guesses the format from file content (magic bytes, and for zip
// containers the interior paths), falling back to the file extension.
func SniffFormat(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return extFormat(path)
	}
	defer f.Close()

	head := make([]byte, 4)
	if _, err := f.Read(head); err != nil {
		return extFormat(path)
	}

	switch {
	case bytes.HasPrefix(head, []byte("%PDF")):
		return "pdf"
	case bytes.HasPrefix(head, []byte("PK\x03\x04")):
		return sniffZipFormat(path)
	}
	return extFormat(path)
}

func extFormat(path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch ext {
	case "md", "markdown", "text":
		return "txt"
	case "":
		return "txt"
	}
	return ext
}

func sniffZipFormat(path string) string {
	for _, probe := range []struct{ inner, format string }{
		{"word/document.xml", "docx"},
		{"xl/workbook.xml", "xlsx"},
		{"ppt/presentation.xml", "pptx"},
	} {
		if zipContains(path, probe.inner) {
			return probe.format
		}
	}
	return extFormat(path)
}
