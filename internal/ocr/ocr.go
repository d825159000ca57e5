// Package ocr turns PDF payloads into per-page text and tables.
package ocr

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-ingest/internal/config"
	"github.com/sells-group/catalog-ingest/internal/model"
)

// PageExtractor extracts page text and tables from a PDF payload.
type PageExtractor interface {
	ExtractPages(ctx context.Context, pdf []byte) ([]model.Page, error)
}

// NewExtractor creates a PageExtractor based on config.
func NewExtractor(cfg config.OCRConfig) (PageExtractor, error) {
	switch cfg.Provider {
	case "local", "":
		return NewPdfToText(cfg.PdfToTextPath), nil
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("ocr: mistral provider requires mistral_api_key")
		}
		return NewMistralOCR(cfg.MistralKey, cfg.MistralModel, cfg.MistralBaseURL), nil
	case "pages_json":
		return PagesJSON{}, nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}
