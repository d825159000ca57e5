package reader

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-ingest/internal/model"
)

// ReadPDF turns extracted page tables into field maps. In every table with
// more than one row, row 0 is the header; columns without a header cell are
// keyed by their index. Rows with an empty first cell are separators.
// A document without any usable table yields no records and a
// no_tabular_data_found warning.
func ReadPDF(ctx context.Context, pages []model.Page) (*Result, error) {
	res := &Result{}
	res.Meta.PageCount = len(pages)

	for i, page := range pages {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "pdf: context cancelled")
		}
		pageNum := page.Number
		if pageNum == 0 {
			pageNum = i + 1
		}

		for _, table := range page.Tables {
			if len(table) < 2 {
				continue
			}
			res.Meta.TableCount++
			header := trimAll(table[0])

			for r, row := range table[1:] {
				if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
					continue
				}
				res.Meta.RowCount++
				res.Records = append(res.Records, Record{
					Fields: tableRowFields(header, row),
					Row:    r + 2,
					Page:   pageNum,
				})
			}
		}
	}

	if res.Meta.TableCount == 0 {
		res.Meta.Warnings = append(res.Meta.Warnings, model.RecordError{
			Kind:    model.KindNoTabularDataFound,
			Message: fmt.Sprintf("no tables found on %d page(s)", len(pages)),
		})
	}
	return res, nil
}

// tableRowFields keys every cell by its column index and, when the header
// names the column, by the header text as well. The positional keys let
// tables whose headers match no alias still resolve by column.
func tableRowFields(header, row []string) model.FieldMap {
	fields := make(model.FieldMap, 2*len(row))
	for i, cell := range row {
		cell = strings.TrimSpace(cell)
		fields[strconv.Itoa(i)] = cell
		if i >= len(header) || header[i] == "" {
			continue
		}
		if _, dup := fields[header[i]]; !dup {
			fields[header[i]] = cell
		}
	}
	return fields
}
