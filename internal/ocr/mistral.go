package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/resilience"
)

const (
	defaultMistralBaseURL = "https://api.mistral.ai/v1"
	defaultMistralModel   = "mistral-ocr-latest"
)

// MistralOCR extracts pages from PDFs using the Mistral OCR API. Tables are
// recovered from the markdown each page comes back as.
type MistralOCR struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
	retry    resilience.RetryPolicy
}

// NewMistralOCR creates a MistralOCR extractor. Empty model or baseURL use defaults.
func NewMistralOCR(apiKey, model, baseURL string) *MistralOCR {
	if model == "" {
		model = defaultMistralModel
	}
	if baseURL == "" {
		baseURL = defaultMistralBaseURL
	}
	retry := resilience.DefaultRetryPolicy()
	retry.BaseDelay = time.Second
	retry.OnRetry = resilience.LogRetries("ocr", "mistral")
	return &MistralOCR{
		apiKey:   apiKey,
		model:    model,
		endpoint: strings.TrimSuffix(baseURL, "/") + "/ocr",
		client:   &http.Client{Timeout: 2 * time.Minute},
		limiter:  rate.NewLimiter(2, 2),
		retry:    retry,
	}
}

type mistralOCRRequest struct {
	Model    string             `json:"model"`
	Document mistralOCRDocument `json:"document"`
}

type mistralOCRDocument struct {
	Type        string `json:"type"`
	DocumentURL string `json:"document_url"`
}

type mistralOCRResponse struct {
	Pages []mistralOCRPage `json:"pages"`
}

type mistralOCRPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

// ExtractPages uploads the PDF inline as a data URL. Rate limited and
// server-side failures are retried.
func (m *MistralOCR) ExtractPages(ctx context.Context, pdf []byte) ([]model.Page, error) {
	payload, err := json.Marshal(mistralOCRRequest{
		Model: m.model,
		Document: mistralOCRDocument{
			Type:        "document_url",
			DocumentURL: "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(pdf),
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "ocr: encode mistral request")
	}

	parsed, err := resilience.DoVal(ctx, m.retry, func(ctx context.Context) (*mistralOCRResponse, error) {
		return m.post(ctx, payload)
	})
	if err != nil {
		return nil, err
	}

	pages := toPages(parsed.Pages)
	zap.L().Debug("ocr: mistral pages extracted",
		zap.String("model", m.model),
		zap.Int("pages", len(pages)),
		zap.Int("bytes", len(pdf)),
	)
	return pages, nil
}

func (m *MistralOCR) post(ctx context.Context, payload []byte) (*mistralOCRResponse, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "ocr: mistral rate limit")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "ocr: build mistral request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "ocr: mistral request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "ocr: read mistral response")
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := eris.Errorf("ocr: mistral API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return nil, apiErr
	}

	var parsed mistralOCRResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, eris.Wrap(err, "ocr: unmarshal mistral response")
	}
	return &parsed, nil
}

// toPages numbers pages from 1 in response order.
func toPages(in []mistralOCRPage) []model.Page {
	pages := make([]model.Page, 0, len(in))
	for _, p := range in {
		pages = append(pages, model.Page{
			Number: p.Index + 1,
			Text:   p.Markdown,
			Tables: ParseMarkdownTables(p.Markdown),
		})
	}
	return pages
}
