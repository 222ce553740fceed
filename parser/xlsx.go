package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// maxSheetRows caps the data rows extracted per sheet. Huge spreadsheets add
// little to entity extraction beyond the first rows and would swamp the LLM.
const maxSheetRows = 100

// XLSXParser extracts sheet contents: a header line naming the sheet, then
// rows with tab-joined cells, truncated past maxSheetRows.
type XLSXParser struct{}

func (p *XLSXParser) SupportedFormats() []string { return []string{"xlsx", "xls"} }

func (p *XLSXParser) Parse(ctx context.Context, path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer f.Close()

	var parts []string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}

		var b strings.Builder
		b.WriteString("工作表: " + sheet + "\n")

		limit := len(rows)
		truncated := false
		if limit > maxSheetRows+1 { // header row + data rows
			limit = maxSheetRows + 1
			truncated = true
		}
		for _, row := range rows[:limit] {
			line := strings.TrimSpace(strings.Join(row, "\t"))
			if line == "" {
				continue
			}
			b.WriteString(line + "\n")
		}
		if truncated {
			b.WriteString(fmt.Sprintf("[%d 行已省略]\n", len(rows)-limit))
		}
		parts = append(parts, strings.TrimRight(b.String(), "\n"))
	}

	if len(parts) == 0 {
		return "", ErrEmptyExtraction
	}
	return strings.Join(parts, "\n"), nil
}
