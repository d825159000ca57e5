package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/catalog-ingest/internal/model"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		kind     model.PriceKind
		amount   string
		min, max string
		currency string
		unit     string
		orMore   bool
	}{
		{name: "plain dollars", raw: "$2,499", kind: model.PriceFixed, amount: "2499", currency: "USD"},
		{name: "many thousands groups", raw: "$12,345,678", kind: model.PriceFixed, amount: "12345678", currency: "USD"},
		{name: "decimal comma", raw: "€49,99", kind: model.PriceFixed, amount: "49.99", currency: "EUR"},
		{name: "decimal comma one digit", raw: "€4,5", kind: model.PriceFixed, amount: "4.5", currency: "EUR"},
		{name: "dot thousands decimal comma", raw: "€1.234,56", kind: model.PriceFixed, amount: "1234.56", currency: "EUR"},
		{name: "comma thousands dot decimal", raw: "$1,234.56", kind: model.PriceFixed, amount: "1234.56", currency: "USD"},
		{name: "decimal comma range", raw: "€9,50 - 19,90", kind: model.PriceRange, min: "9.5", max: "19.9", currency: "EUR"},
		{name: "decimal", raw: "$29.99", kind: model.PriceFixed, amount: "29.99", currency: "USD"},
		{name: "no symbol uses default", raw: "450", kind: model.PriceFixed, amount: "450", currency: "USD"},
		{name: "range", raw: "$15-100", kind: model.PriceRange, min: "15", max: "100", currency: "USD"},
		{name: "reversed range", raw: "$100 - 15", kind: model.PriceRange, min: "15", max: "100", currency: "USD"},
		{name: "range with to", raw: "€10 to 20", kind: model.PriceRange, min: "10", max: "20", currency: "EUR"},
		{name: "unit", raw: "$132/user/year", kind: model.PriceFixed, amount: "132", currency: "USD", unit: "user/year"},
		{name: "or more", raw: "$140/month+", kind: model.PriceFixed, amount: "140", currency: "USD", unit: "month", orMore: true},
		{name: "iso prefix", raw: "GBP 25", kind: model.PriceFixed, amount: "25", currency: "GBP"},
		{name: "iso suffix", raw: "25 eur", kind: model.PriceFixed, amount: "25", currency: "EUR"},
		{name: "sentinel", raw: "Custom pricing", kind: model.PriceUnpriced},
		{name: "contact", raw: "Contact sales", kind: model.PriceUnpriced},
		{name: "empty", raw: "   ", kind: model.PriceNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ParsePrice(tt.raw, "USD")
			assert.Equal(t, tt.kind, p.Kind)
			switch tt.kind {
			case model.PriceFixed:
				assert.Equal(t, tt.amount, p.Amount.String())
			case model.PriceRange:
				assert.Equal(t, tt.min, p.Min.String())
				assert.Equal(t, tt.max, p.Max.String())
			case model.PriceUnpriced:
				assert.Equal(t, tt.raw, p.Raw)
				assert.Empty(t, p.Currency)
				return
			case model.PriceNone:
				return
			}
			assert.Equal(t, tt.currency, p.Currency)
			assert.Equal(t, tt.unit, p.Unit)
			assert.Equal(t, tt.orMore, p.OrMore)
		})
	}
}

func TestParsePrice_DefaultCurrency(t *testing.T) {
	p := ParsePrice("12", "CAD")
	assert.Equal(t, "CAD", p.Currency)
	assert.Equal(t, "12", p.Amount.String())
}

func TestParsePrice_String(t *testing.T) {
	assert.Equal(t, "USD 15-100/month", ParsePrice("$15-100/month", "USD").String())
	assert.Equal(t, "USD 140/month+", ParsePrice("$140/month+", "USD").String())
	assert.Equal(t, "Custom pricing", ParsePrice("Custom pricing", "USD").String())
}
