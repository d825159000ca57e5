package normalize

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/reader"
)

func newTestNormalizer() *Normalizer {
	return New(DefaultRules(), "")
}

func TestNormalize_JSONAliases(t *testing.T) {
	n := newTestNormalizer()
	p, err := n.Normalize(model.FieldMap{
		"product_name": "  Google   Pixel 8 ",
		"brand":        "google",
		"type":         "Phone",
		"cost":         json.Number("699"),
		"sku":          "PX-8",
		"color":        "obsidian",
	}, model.FormatJSON, "a.json")
	require.NoError(t, err)

	assert.Equal(t, "PX-8", p.ID)
	assert.Equal(t, "Google Pixel 8", p.Name)
	assert.Equal(t, "Google", p.Vendor)
	assert.Equal(t, "Phone", p.Category)
	assert.Equal(t, model.PriceFixed, p.Price.Kind)
	assert.Equal(t, "699", p.Price.Amount.String())
	assert.Equal(t, "USD", p.Price.Currency)
	assert.Equal(t, map[string]string{"color": "obsidian"}, p.Attributes)
	assert.Equal(t, "a.json", p.Source)
	assert.Equal(t, model.FormatJSON, p.Format)
}

func TestNormalize_FirstAliasWins(t *testing.T) {
	n := newTestNormalizer()
	p, err := n.Normalize(model.FieldMap{
		"name":  "Primary",
		"title": "Secondary",
	}, model.FormatJSON, "a.json")
	require.NoError(t, err)
	assert.Equal(t, "Primary", p.Name)
	assert.Equal(t, map[string]string{"title": "Secondary"}, p.Attributes)
}

func TestNormalize_EmptyAliasFallsThrough(t *testing.T) {
	n := newTestNormalizer()
	p, err := n.Normalize(model.FieldMap{
		"name":  "",
		"title": "Fallback",
	}, model.FormatJSON, "a.json")
	require.NoError(t, err)
	assert.Equal(t, "Fallback", p.Name)
}

func TestNormalize_CaseInsensitiveAlias(t *testing.T) {
	n := newTestNormalizer()
	p, err := n.Normalize(model.FieldMap{
		"PRODUCT NAME": "Slack Pro",
		"vendor":       "slack",
	}, model.FormatCSV, "b.csv")
	require.NoError(t, err)
	assert.Equal(t, "Slack Pro", p.Name)
	assert.Equal(t, "Slack", p.Vendor)
	assert.Empty(t, p.Attributes)
}

func TestNormalize_CSVRangePrice(t *testing.T) {
	n := newTestNormalizer()
	p, err := n.Normalize(model.FieldMap{
		"Product Name": "Zoom Rooms",
		"Vendor":       "Zoom",
		"Price":        "$15-100",
	}, model.FormatCSV, "b.csv")
	require.NoError(t, err)
	require.Equal(t, model.PriceRange, p.Price.Kind)
	assert.Equal(t, "15", p.Price.Min.String())
	assert.Equal(t, "100", p.Price.Max.String())
	assert.Equal(t, "USD", p.Price.Currency)
}

func TestNormalize_SentinelPriceKept(t *testing.T) {
	n := newTestNormalizer()
	p, err := n.Normalize(model.FieldMap{
		"Product": "Enterprise Suite",
		"Price":   "Custom pricing",
	}, model.FormatPDF, "c.pdf")
	require.NoError(t, err)
	assert.Equal(t, model.PriceUnpriced, p.Price.Kind)
	assert.Equal(t, "Custom pricing", p.Price.Raw)
	assert.True(t, p.Price.IsSet())
	assert.False(t, p.Price.IsNumeric())
}

func TestNormalize_PDFPositionalName(t *testing.T) {
	n := newTestNormalizer()
	p, err := n.Normalize(model.FieldMap{
		"0": "Adobe Acrobat",
		"1": "Adobe",
		"2": "$19.99",
	}, model.FormatPDF, "c.pdf")
	require.NoError(t, err)
	assert.Equal(t, "Adobe Acrobat", p.Name)
	assert.Equal(t, "Adobe", p.Vendor)
	assert.Equal(t, "Adobe Acrobat", p.ID)
	assert.Equal(t, map[string]string{"2": "$19.99"}, p.Attributes)
}

func TestNormalize_PDFUnrecognizedHeaders(t *testing.T) {
	pages := []model.Page{{Tables: []model.Table{{
		{"Item", "Company", "Price"},
		{"Acrobat Pro", "Adobe", "$19.99"},
	}}}}
	res, err := reader.ReadPDF(context.Background(), pages)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	n := newTestNormalizer()
	p, err := n.Normalize(res.Records[0].Fields, model.FormatPDF, "c.pdf")
	require.NoError(t, err)
	assert.Equal(t, "Acrobat Pro", p.Name)
	assert.Equal(t, "Adobe", p.Vendor)
	assert.Equal(t, "19.99", p.Price.Amount.String())
	assert.Empty(t, p.Attributes)
}

func TestNormalize_PDFPositionalVendorSkipsNamedColumn(t *testing.T) {
	pages := []model.Page{{Tables: []model.Table{{
		{"Product", "Price", "Edition"},
		{"Acrobat Pro", "$19.99", "Team"},
	}}}}
	res, err := reader.ReadPDF(context.Background(), pages)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	n := newTestNormalizer()
	p, err := n.Normalize(res.Records[0].Fields, model.FormatPDF, "c.pdf")
	require.NoError(t, err)
	assert.Equal(t, "Acrobat Pro", p.Name)
	assert.Empty(t, p.Vendor)
	assert.Equal(t, "19.99", p.Price.Amount.String())
	assert.Equal(t, map[string]string{"Edition": "Team"}, p.Attributes)
}

func TestNormalize_MissingName(t *testing.T) {
	n := newTestNormalizer()
	_, err := n.Normalize(model.FieldMap{"vendor": "Acme"}, model.FormatJSON, "a.json")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrMissingRequiredField)
}

func TestNormalize_UnknownFormat(t *testing.T) {
	n := newTestNormalizer()
	_, err := n.Normalize(model.FieldMap{"name": "x"}, model.Format("xml"), "a.xml")
	assert.ErrorIs(t, err, model.ErrUnsupportedFormat)
}

func TestNormalize_NestedAttributes(t *testing.T) {
	n := newTestNormalizer()
	p, err := n.Normalize(model.FieldMap{
		"name": "Widget",
		"specs": map[string]any{
			"weight": json.Number("1.5"),
			"dims":   map[string]any{"h": "10cm"},
		},
		"tags":     []any{"a", "b"},
		"active":   true,
		"nothing":  nil,
		"blankish": "  ",
	}, model.FormatJSON, "a.json")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"specs.weight": "1.5",
		"specs.dims.h": "10cm",
		"tags":         "a, b",
		"active":       "true",
	}, p.Attributes)
}

func TestCanonicalVendor(t *testing.T) {
	n := newTestNormalizer()
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"  amazon   web services ", "AWS"},
		{"AWS", "AWS"},
		{"gcp", "Google Cloud"},
		{"microsoft", "Microsoft"},
		{"ORACLE CORP", "Oracle Corp"},
		{"IBM", "IBM"},
		{"SAS", "SAS"},
		{"HashiCorp", "HashiCorp"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, n.CanonicalVendor(tt.in), tt.in)
	}
}

func TestNormalizeAll(t *testing.T) {
	n := newTestNormalizer()
	records := []reader.Record{
		{Fields: model.FieldMap{"Product Name": "Jira", "Vendor": "Atlassian"}, Row: 2},
		{Fields: model.FieldMap{"Vendor": "Nobody"}, Row: 3},
		{Fields: model.FieldMap{"Product Name": "Confluence", "Vendor": "Atlassian"}, Row: 4},
	}
	products, errs := n.NormalizeAll(records, model.FormatCSV, "b.csv")

	require.Len(t, products, 2)
	assert.Equal(t, "Jira", products[0].Name)
	assert.Equal(t, "Confluence", products[1].Name)

	require.Len(t, errs, 1)
	assert.Equal(t, model.KindMissingRequiredField, errs[0].Kind)
	assert.Equal(t, 3, errs[0].Row)
	assert.Equal(t, "name", errs[0].Field)
}
