package parser

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// DOCXParser extracts paragraph and table text from word/document.xml.
// Tables are linearized row by row with tab-joined cells and wrapped in
// explicit boundary markers so sentence-level extraction downstream does not
// run across cell boundaries.
type DOCXParser struct{}

func (p *DOCXParser) SupportedFormats() []string { return []string{"docx"} }

const (
	tableOpen  = "[TABLE]"
	tableClose = "[/TABLE]"
)

func (p *DOCXParser) Parse(ctx context.Context, path string) (string, error) {
	data, err := readZipEntry(path, "word/document.xml")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var doc docxDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("%w: parsing document.xml: %v", ErrCorrupt, err)
	}

	var parts []string
	for _, para := range doc.Body.Paragraphs {
		if t := para.text(); t != "" {
			parts = append(parts, t)
		}
	}
	for _, tbl := range doc.Body.Tables {
		if t := tbl.text(); t != "" {
			parts = append(parts, tableOpen+"\n"+t+"\n"+tableClose)
		}
	}

	if len(parts) == 0 {
		return "", ErrEmptyExtraction
	}
	return strings.Join(parts, "\n"), nil
}

// docxDocument maps the subset of WordprocessingML we care about: body
// paragraphs with their runs, and top-level tables.
type docxDocument struct {
	XMLName xml.Name `xml:"document"`
	Body    docxBody `xml:"body"`
}

type docxBody struct {
	Paragraphs []docxPara  `xml:"p"`
	Tables     []docxTable `xml:"tbl"`
}

type docxPara struct {
	Runs []docxRun `xml:"r"`
}

type docxRun struct {
	Text []string `xml:"t"`
}

type docxTable struct {
	Rows []docxRow `xml:"tr"`
}

type docxRow struct {
	Cells []docxCell `xml:"tc"`
}

type docxCell struct {
	Paragraphs []docxPara `xml:"p"`
}

func (p docxPara) text() string {
	var b strings.Builder
	for _, r := range p.Runs {
		for _, t := range r.Text {
			b.WriteString(t)
		}
	}
	return strings.TrimSpace(b.String())
}

func (t docxTable) text() string {
	var rows []string
	for _, row := range t.Rows {
		var cells []string
		for _, cell := range row.Cells {
			var cb strings.Builder
			for i, para := range cell.Paragraphs {
				if i > 0 {
					cb.WriteString(" ")
				}
				cb.WriteString(para.text())
			}
			cells = append(cells, strings.TrimSpace(cb.String()))
		}
		if row := strings.TrimSpace(strings.Join(cells, "\t")); row != "" {
			rows = append(rows, strings.Join(cells, "\t"))
		}
	}
	return strings.Join(rows, "\n")
}

// readZipEntry returns the contents of one file inside a zip container.
func readZipEntry(path, name string) ([]byte, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	for _, f := range r.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
	}
	return nil, fmt.Errorf("%s not found in archive", name)
}

// zipContains reports whether a zip archive has an entry with the given name.
func zipContains(path, name string) bool {
	r, err := zip.OpenReader(path)
	if err != nil {
		return false
	}
	defer r.Close()
	for _, f := range r.File {
		if f.Name == name {
			return true
		}
	}
	return false
}
