package ocr

import (
	"regexp"
	"strings"

	"github.com/sells-group/catalog-ingest/internal/model"
)

// columnGap separates cells in pdftotext -layout output.
var columnGap = regexp.MustCompile(`\s{2,}`)

// markdownRule matches a markdown table separator row such as |---|:--:|.
var markdownRule = regexp.MustCompile(`^\|?\s*:?-+:?\s*(\|\s*:?-+:?\s*)*\|?$`)

// SplitPages splits pdftotext output on form feeds. The trailing form feed
// pdftotext writes after the last page does not produce an extra page.
func SplitPages(text string) []string {
	parts := strings.Split(text, "\f")
	if n := len(parts); n > 1 && strings.TrimSpace(parts[n-1]) == "" {
		parts = parts[:n-1]
	}
	return parts
}

// DetectLayoutTables finds tables in layout-preserved text. A table is a run
// of consecutive lines that each split into two or more cells on wide gaps.
// Runs shorter than two lines are ignored.
func DetectLayoutTables(text string) []model.Table {
	var tables []model.Table
	var current model.Table

	flush := func() {
		if len(current) > 1 {
			tables = append(tables, current)
		}
		current = nil
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			flush()
			continue
		}
		cells := columnGap.Split(trimmed, -1)
		if len(cells) < 2 {
			flush()
			continue
		}
		current = append(current, cells)
	}
	flush()
	return tables
}

// ParseMarkdownTables extracts pipe tables from markdown.
func ParseMarkdownTables(md string) []model.Table {
	var tables []model.Table
	var current model.Table

	flush := func() {
		if len(current) > 1 {
			tables = append(tables, current)
		}
		current = nil
	}

	for _, line := range strings.Split(md, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "|") {
			flush()
			continue
		}
		if markdownRule.MatchString(trimmed) {
			continue
		}
		current = append(current, splitPipeRow(trimmed))
	}
	flush()
	return tables
}

func splitPipeRow(line string) []string {
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")
	cells := strings.Split(line, "|")
	for i, c := range cells {
		cells[i] = strings.TrimSpace(c)
	}
	return cells
}
