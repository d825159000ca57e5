package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-ingest/internal/config"
	"github.com/sells-group/catalog-ingest/internal/model"
)

func TestNewExtractor_Local(t *testing.T) {
	ext, err := NewExtractor(config.OCRConfig{Provider: "local", PdfToTextPath: "/usr/bin/pdftotext"})
	require.NoError(t, err)
	assert.IsType(t, &PdfToText{}, ext)
}

func TestNewExtractor_LocalDefault(t *testing.T) {
	ext, err := NewExtractor(config.OCRConfig{Provider: ""})
	require.NoError(t, err)
	assert.IsType(t, &PdfToText{}, ext)
}

func TestNewExtractor_PagesJSON(t *testing.T) {
	ext, err := NewExtractor(config.OCRConfig{Provider: "pages_json"})
	require.NoError(t, err)
	assert.IsType(t, PagesJSON{}, ext)
}

func TestNewExtractor_MistralMissingKey(t *testing.T) {
	_, err := NewExtractor(config.OCRConfig{Provider: "mistral"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mistral provider requires mistral_api_key")
}

func TestNewExtractor_MistralWithKey(t *testing.T) {
	ext, err := NewExtractor(config.OCRConfig{Provider: "mistral", MistralKey: "test-key"})
	require.NoError(t, err)
	assert.IsType(t, &MistralOCR{}, ext)
}

func TestNewExtractor_UnknownProvider(t *testing.T) {
	_, err := NewExtractor(config.OCRConfig{Provider: "unknown"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown provider "unknown"`)
}

func TestPdfToText_BinPath(t *testing.T) {
	p := NewPdfToText("")
	assert.Equal(t, "pdftotext", p.binPath)

	p = NewPdfToText("/custom/pdftotext")
	assert.Equal(t, "/custom/pdftotext", p.binPath)
}

func TestMistralOCR_Defaults(t *testing.T) {
	m := NewMistralOCR("key", "", "")
	assert.Equal(t, defaultMistralModel, m.model)
	assert.Equal(t, "https://api.mistral.ai/v1/ocr", m.endpoint)

	m = NewMistralOCR("key", "custom-model", "http://localhost:9000/v1/")
	assert.Equal(t, "custom-model", m.model)
	assert.Equal(t, "http://localhost:9000/v1/ocr", m.endpoint)
}

func TestMistralOCR_ExtractPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req mistralOCRRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, "document_url", req.Document.Type)
		assert.Equal(t, "data:application/pdf;base64,"+base64.StdEncoding.EncodeToString([]byte("%PDF-1.4")), req.Document.DocumentURL)

		resp := mistralOCRResponse{
			Pages: []mistralOCRPage{
				{Index: 0, Markdown: "# Tech Catalog\n\n| Product | Vendor | Price |\n|---|---|---|\n| Pixel 8 Pro | Google | $999 |\n"},
				{Index: 1, Markdown: "Terms and conditions apply."},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp) //nolint:errcheck
	}))
	defer srv.Close()

	m := NewMistralOCR("test-key", "test-model", srv.URL)

	pages, err := m.ExtractPages(context.Background(), []byte("%PDF-1.4"))
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, 1, pages[0].Number)
	require.Len(t, pages[0].Tables, 1)
	assert.Equal(t, model.Table{
		{"Product", "Vendor", "Price"},
		{"Pixel 8 Pro", "Google", "$999"},
	}, pages[0].Tables[0])
	assert.Equal(t, 2, pages[1].Number)
	assert.Empty(t, pages[1].Tables)
}

func TestMistralOCR_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid api key"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	m := NewMistralOCR("bad-key", "test-model", srv.URL)
	_, err := m.ExtractPages(context.Background(), []byte("%PDF-1.4"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mistral API returned 401")
}

func TestMistralOCR_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{invalid json`)) //nolint:errcheck
	}))
	defer srv.Close()

	m := NewMistralOCR("test-key", "test-model", srv.URL)
	_, err := m.ExtractPages(context.Background(), []byte("%PDF-1.4"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal mistral response")
}

func TestPdfToText_ExtractText_BinaryNotFound(t *testing.T) {
	p := NewPdfToText("/nonexistent/pdftotext")
	_, err := p.ExtractText(context.Background(), "/tmp/test.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pdftotext failed")
}

func TestPdfToText_ExtractPages(t *testing.T) {
	// Fake pdftotext that prints two layout pages separated by a form feed.
	tmpDir := t.TempDir()
	fakeBin := filepath.Join(tmpDir, "pdftotext")
	script := "#!/bin/sh\n" +
		"printf 'Cloud Services Catalog\\n\\n" +
		"Service          Provider     Monthly Cost\\n" +
		"Compute Engine   Google       $140/month+\\n" +
		"EC2 Reserved     AWS          Custom pricing\\n\\f" +
		"Appendix\\n\\f'\n"
	require.NoError(t, os.WriteFile(fakeBin, []byte(script), 0755))

	p := NewPdfToText(fakeBin)
	pages, err := p.ExtractPages(context.Background(), []byte("%PDF-1.4"))
	require.NoError(t, err)
	require.Len(t, pages, 2)

	require.Len(t, pages[0].Tables, 1)
	assert.Equal(t, model.Table{
		{"Service", "Provider", "Monthly Cost"},
		{"Compute Engine", "Google", "$140/month+"},
		{"EC2 Reserved", "AWS", "Custom pricing"},
	}, pages[0].Tables[0])
	assert.Equal(t, 2, pages[1].Number)
	assert.Empty(t, pages[1].Tables)
}

func TestPagesJSON_Document(t *testing.T) {
	payload := `{"pages":[{"text":"p1","tables":[[["Product","Vendor"],["Pixel","Google"]]]},{"text":"p2","tables":[]}]}`
	pages, err := PagesJSON{}.ExtractPages(context.Background(), []byte(payload))
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, 1, pages[0].Number)
	assert.Equal(t, 2, pages[1].Number)
	assert.Equal(t, "Pixel", pages[0].Tables[0][1][0])
}

func TestPagesJSON_ArrayAndEmpty(t *testing.T) {
	pages, err := PagesJSON{}.ExtractPages(context.Background(), []byte(`[{"number":3,"text":"x"}]`))
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, 3, pages[0].Number)

	pages, err = PagesJSON{}.ExtractPages(context.Background(), []byte("  "))
	require.NoError(t, err)
	assert.Empty(t, pages)

	_, err = PagesJSON{}.ExtractPages(context.Background(), []byte(`{"pages":`))
	require.Error(t, err)
}

func TestMistralOCR_RetriesTransientStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(mistralOCRResponse{ //nolint:errcheck
			Pages: []mistralOCRPage{{Index: 0, Markdown: "| SKU | Price |\n|---|---|\n| A1 | $5 |"}},
		})
	}))
	defer srv.Close()

	m := NewMistralOCR("key", "test-model", srv.URL)
	m.retry.BaseDelay = time.Millisecond
	m.retry.MaxDelay = 2 * time.Millisecond

	pages, err := m.ExtractPages(context.Background(), []byte("%PDF-1.4"))
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, int32(2), hits.Load())
	assert.Len(t, pages[0].Tables, 1)
}
