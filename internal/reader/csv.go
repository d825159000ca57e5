package reader

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-ingest/internal/model"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
}

// CSVRow is one parsed record with the file line it starts on. Err is set
// when the record itself could not be parsed; streaming continues after it.
type CSVRow struct {
	Line   int
	Fields []string
	Err    error
}

// StreamCSV reads CSV records and sends them to a channel.
// Caller must consume the returned row channel. Fatal errors are sent on the
// error channel. Both channels are closed when processing completes.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan CSVRow, <-chan error) {
	rowCh := make(chan CSVRow, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		if opts.Comment != 0 {
			reader.Comment = opts.Comment
		}
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1 // column count is checked against the header by the caller

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}

			var row CSVRow
			var perr *csv.ParseError
			switch {
			case err == nil:
				line, _ := reader.FieldPos(0)
				row = CSVRow{Line: line, Fields: record}
			case errors.As(err, &perr):
				row = CSVRow{Line: perr.StartLine, Err: perr.Err}
			default:
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}

			select {
			case rowCh <- row:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// ReadCSV parses a CSV catalog. The first record is the header; every later
// record becomes a field map keyed by header name. Records whose column count
// differs from the header are skipped and reported as row parse errors.
func ReadCSV(ctx context.Context, raw []byte) (*Result, error) {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	opts := CSVOptions{Delimiter: sniffDelimiter(raw)}

	rowCh, errCh := StreamCSV(ctx, bytes.NewReader(raw), opts)

	res := &Result{}
	var header []string
	for row := range rowCh {
		if header == nil {
			if row.Err != nil {
				drain(rowCh)
				return nil, eris.Wrapf(model.ErrMalformedInput, "csv: header line %d: %v", row.Line, row.Err)
			}
			header = trimAll(row.Fields)
			continue
		}

		res.Meta.RowCount++
		if row.Err != nil {
			res.Meta.Errors = append(res.Meta.Errors, model.RecordError{
				Kind:    model.KindRowParseError,
				Row:     row.Line,
				Message: row.Err.Error(),
			})
			continue
		}
		if len(row.Fields) != len(header) {
			res.Meta.Errors = append(res.Meta.Errors, model.RecordError{
				Kind:    model.KindRowParseError,
				Row:     row.Line,
				Message: fmt.Sprintf("expected %d columns, got %d", len(header), len(row.Fields)),
			})
			continue
		}

		fields := make(model.FieldMap, len(header))
		for i, name := range header {
			key := name
			if key == "" {
				key = strconv.Itoa(i)
			}
			if _, dup := fields[key]; dup {
				continue
			}
			fields[key] = strings.TrimSpace(row.Fields[i])
		}
		res.Records = append(res.Records, Record{Fields: fields, Row: row.Line})
	}

	for err := range errCh {
		if err != nil {
			return nil, err
		}
	}
	if header == nil {
		return nil, eris.Wrap(model.ErrMalformedInput, "csv: missing header row")
	}
	return res, nil
}

// sniffDelimiter picks ';' or tab when the header line has no commas but does
// contain one of those.
func sniffDelimiter(raw []byte) rune {
	line := raw
	if i := bytes.IndexByte(raw, '\n'); i >= 0 {
		line = raw[:i]
	}
	if bytes.IndexByte(line, ',') >= 0 {
		return ','
	}
	switch {
	case bytes.IndexByte(line, '\t') >= 0:
		return '\t'
	case bytes.IndexByte(line, ';') >= 0:
		return ';'
	}
	return ','
}

func trimAll(fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = strings.TrimSpace(f)
	}
	return out
}

func drain(ch <-chan CSVRow) {
	for range ch { //nolint:revive
	}
}
