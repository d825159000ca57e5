// Package reader turns raw catalog payloads into loosely typed field maps.
package reader

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/ocr"
)

// Record is one field map plus where it came from. Row and Page are 1-based.
type Record struct {
	Fields model.FieldMap
	Row    int
	Page   int
}

// Result is the output of reading one payload. Meta carries counts, the
// per-record errors and warnings; the caller fills in source and size.
type Result struct {
	Records []Record
	Meta    model.SourceMeta
}

// Reader dispatches a payload to the reader for its declared format.
type Reader struct {
	pages ocr.PageExtractor
}

// New creates a Reader. pages is used for PDF payloads and may be nil when
// PDFs are not expected.
func New(pages ocr.PageExtractor) *Reader {
	return &Reader{pages: pages}
}

// Read parses raw according to format. Only whole-file failures are returned
// as errors; bad records are reported in Result.Meta.Errors.
func (r *Reader) Read(ctx context.Context, raw []byte, format model.Format) (*Result, error) {
	switch format {
	case model.FormatJSON:
		return ReadJSON(ctx, raw)
	case model.FormatCSV:
		return ReadCSV(ctx, raw)
	case model.FormatPDF:
		if r.pages == nil {
			return nil, eris.New("reader: no PDF page extractor configured")
		}
		pages, err := r.pages.ExtractPages(ctx, raw)
		if err != nil {
			if ctx.Err() != nil {
				return nil, eris.Wrap(ctx.Err(), "reader: extract pdf pages")
			}
			return nil, eris.Wrapf(model.ErrMalformedInput, "reader: extract pdf pages: %v", err)
		}
		return ReadPDF(ctx, pages)
	default:
		return nil, eris.Wrapf(model.ErrUnsupportedFormat, "reader: format %q", format)
	}
}
