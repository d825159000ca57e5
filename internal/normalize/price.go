package normalize

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sells-group/catalog-ingest/internal/model"
)

var currencySymbols = []struct{ symbol, code string }{
	{"$", "USD"},
	{"€", "EUR"},
	{"£", "GBP"},
	{"¥", "JPY"},
	{"₹", "INR"},
}

var (
	isoCode     = regexp.MustCompile(`(?i)^(USD|EUR|GBP|CAD|AUD|JPY|INR)\s*|\s*(USD|EUR|GBP|CAD|AUD|JPY|INR)$`)
	singleValue = regexp.MustCompile(`^\d+(\.\d+)?$`)
	number      = regexp.MustCompile(`\d[\d.,]*\d`)
	rangeValue  = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*(?:-|–|—|to)\s*(\d+(?:\.\d+)?)$`)
)

// ParsePrice parses a textual price. It understands plain amounts ("$2,499"),
// ranges ("$15-100"), billing units ("$132/user/year"), open-ended prices
// ("$140/month+") and ISO codes ("USD 25"). Anything else non-empty is kept
// verbatim as an unpriced tag. Amounts without a currency get defaultCurrency.
func ParsePrice(raw, defaultCurrency string) model.Price {
	text := strings.TrimSpace(raw)
	if text == "" {
		return model.Price{}
	}

	s := text
	orMore := false
	if strings.HasSuffix(s, "+") {
		orMore = true
		s = strings.TrimSpace(strings.TrimSuffix(s, "+"))
	}

	unit := ""
	if i := strings.Index(s, "/"); i >= 0 {
		unit = strings.TrimSpace(s[i+1:])
		s = strings.TrimSpace(s[:i])
	}

	currency := ""
	for _, c := range currencySymbols {
		if strings.Contains(s, c.symbol) {
			if currency == "" {
				currency = c.code
			}
			s = strings.ReplaceAll(s, c.symbol, "")
		}
	}
	if m := isoCode.FindStringSubmatch(s); m != nil {
		code := m[1] + m[2]
		if currency == "" {
			currency = strings.ToUpper(code)
		}
		s = isoCode.ReplaceAllString(s, "")
	}
	if currency == "" {
		currency = defaultCurrency
	}

	s = number.ReplaceAllStringFunc(s, separators)
	s = strings.TrimSpace(s)

	var price model.Price
	switch {
	case singleValue.MatchString(s):
		price = model.FixedPrice(decimal.RequireFromString(s), currency)
	case rangeValue.MatchString(s):
		m := rangeValue.FindStringSubmatch(s)
		lo, hi := decimal.RequireFromString(m[1]), decimal.RequireFromString(m[2])
		if lo.GreaterThan(hi) {
			lo, hi = hi, lo
		}
		price = model.RangePrice(lo, hi, currency)
	default:
		return model.UnpricedTag(text)
	}

	price.Unit = unit
	price.OrMore = orMore
	price.Raw = text
	return price
}

// separators rewrites one number to a plain decimal. A final comma followed
// by one or two digits, with no dot after it, is a decimal comma ("49,99",
// "1.234,56"); any other comma groups thousands ("2,499").
func separators(n string) string {
	i := strings.LastIndex(n, ",")
	if i >= 0 && len(n)-i-1 <= 2 && !strings.Contains(n[i+1:], ".") {
		whole := strings.NewReplacer(",", "", ".", "").Replace(n[:i])
		return whole + "." + n[i+1:]
	}
	return strings.ReplaceAll(n, ",", "")
}

// priceFromNumber builds a fixed price from a numeric JSON value.
func priceFromNumber(v string, currency string) (model.Price, bool) {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return model.Price{}, false
	}
	p := model.FixedPrice(d, currency)
	p.Raw = v
	return p, true
}
