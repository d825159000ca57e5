package ocr

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-ingest/internal/model"
)

// PdfToText extracts pages from PDFs using the pdftotext CLI tool and
// detects tables from the preserved layout.
type PdfToText struct {
	binPath string
}

// NewPdfToText creates a PdfToText extractor. If binPath is empty, "pdftotext" is used.
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath}
}

// ExtractText runs pdftotext on pdfPath and returns the layout-preserved
// text. Output is forced to UTF-8 so currency symbols survive.
func (p *PdfToText) ExtractText(ctx context.Context, pdfPath string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.binPath, "-layout", "-enc", "UTF-8", pdfPath, "-")
	cmd.Stdout, cmd.Stderr = &stdout, &stderr

	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "ocr: pdftotext failed for %s: %s", pdfPath, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.String(), nil
}

// ExtractPages runs pdftotext over the payload and detects tables on each
// page.
func (p *PdfToText) ExtractPages(ctx context.Context, pdf []byte) ([]model.Page, error) {
	path, cleanup, err := spool(pdf)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	text, err := p.ExtractText(ctx, path)
	if err != nil {
		return nil, err
	}
	return layoutPages(text), nil
}

// spool writes pdf to a temp file; pdftotext needs a seekable input.
func spool(pdf []byte) (string, func(), error) {
	f, err := os.CreateTemp("", "catalog-*.pdf")
	if err != nil {
		return "", nil, eris.Wrap(err, "ocr: create temp file")
	}
	cleanup := func() { _ = os.Remove(f.Name()) }

	_, werr := f.Write(pdf)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		cleanup()
		return "", nil, eris.Wrap(errors.Join(werr, cerr), "ocr: spool pdf")
	}
	return f.Name(), cleanup, nil
}

func layoutPages(text string) []model.Page {
	parts := SplitPages(text)
	pages := make([]model.Page, len(parts))
	for i, part := range parts {
		pages[i] = model.Page{Number: i + 1, Text: part, Tables: DetectLayoutTables(part)}
	}
	return pages
}
