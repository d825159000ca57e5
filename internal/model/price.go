package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

// PriceKind tags how a price was expressed in the source.
type PriceKind string

const (
	PriceNone     PriceKind = ""
	PriceFixed    PriceKind = "fixed"
	PriceRange    PriceKind = "range"
	PriceUnpriced PriceKind = "unpriced" // sentinel such as "Custom pricing"
)

// Price is a parsed price. Fixed prices set Amount; ranges set Min and Max.
// Unpriced sentinels keep the source text in Raw.
type Price struct {
	Kind     PriceKind        `json:"kind,omitempty"`
	Amount   *decimal.Decimal `json:"amount,omitempty"`
	Min      *decimal.Decimal `json:"min,omitempty"`
	Max      *decimal.Decimal `json:"max,omitempty"`
	Currency string           `json:"currency,omitempty"`
	Unit     string           `json:"unit,omitempty"`
	OrMore   bool             `json:"or_more,omitempty"`
	Raw      string           `json:"raw,omitempty"`
}

// IsSet reports whether the source carried any price value at all.
func (p Price) IsSet() bool {
	return p.Kind != PriceNone
}

// IsNumeric reports whether the price parsed to a number or a numeric range.
func (p Price) IsNumeric() bool {
	return p.Kind == PriceFixed || p.Kind == PriceRange
}

// FixedPrice builds a fixed price.
func FixedPrice(amount decimal.Decimal, currency string) Price {
	return Price{Kind: PriceFixed, Amount: &amount, Currency: currency}
}

// RangePrice builds a min/max price sharing one currency.
func RangePrice(lo, hi decimal.Decimal, currency string) Price {
	return Price{Kind: PriceRange, Min: &lo, Max: &hi, Currency: currency}
}

// UnpricedTag builds a sentinel price that preserves the original text.
func UnpricedTag(raw string) Price {
	return Price{Kind: PriceUnpriced, Raw: raw}
}

func (p Price) String() string {
	var b strings.Builder
	switch p.Kind {
	case PriceFixed:
		b.WriteString(p.Currency + " " + p.Amount.String())
	case PriceRange:
		b.WriteString(p.Currency + " " + p.Min.String() + "-" + p.Max.String())
	case PriceUnpriced:
		return p.Raw
	default:
		return ""
	}
	if p.Unit != "" {
		b.WriteString("/" + p.Unit)
	}
	if p.OrMore {
		b.WriteString("+")
	}
	return b.String()
}
