package ocr

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-ingest/internal/model"
)

// PagesJSON reads pages that an upstream extraction service already produced.
// The payload is either {"pages": [...]} or a bare array of pages.
type PagesJSON struct{}

// ExtractPages decodes the pre-extracted pages.
func (PagesJSON) ExtractPages(_ context.Context, payload []byte) ([]model.Page, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var pages []model.Page
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &pages); err != nil {
			return nil, eris.Wrap(err, "ocr: decode pages array")
		}
	} else {
		var doc struct {
			Pages []model.Page `json:"pages"`
		}
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, eris.Wrap(err, "ocr: decode pages document")
		}
		pages = doc.Pages
	}
	return numberPages(pages), nil
}

// numberPages fills in missing 1-based page numbers.
func numberPages(pages []model.Page) []model.Page {
	for i := range pages {
		if pages[i].Number == 0 {
			pages[i].Number = i + 1
		}
	}
	return pages
}
