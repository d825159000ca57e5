// Package normalize maps reader field maps onto the canonical Product schema.
package normalize

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/reader"
)

// Normalizer resolves aliases, canonicalizes vendors and parses prices.
// It holds no mutable state and is safe for concurrent use.
type Normalizer struct {
	rules    Rules
	currency string
}

// New creates a Normalizer. An empty defaultCurrency means "USD".
func New(rules Rules, defaultCurrency string) *Normalizer {
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}
	return &Normalizer{
		rules:    rules,
		currency: strings.ToUpper(defaultCurrency),
	}
}

// Normalize builds one Product from a field map. It fails with
// ErrMissingRequiredField when no name can be resolved.
func (n *Normalizer) Normalize(fields model.FieldMap, format model.Format, source string) (model.Product, error) {
	aliases, ok := n.rules.Aliases[format]
	if !ok {
		return model.Product{}, eris.Wrapf(model.ErrUnsupportedFormat, "normalize: no aliases for format %q", format)
	}

	consumed := make(map[string]bool, len(resolveOrder))
	if format == model.FormatPDF {
		claimNamedColumns(fields, aliases, consumed)
	}
	resolved := make(map[Field]string, len(resolveOrder))
	var rawPrice any
	for _, field := range resolveOrder {
		key, value, ok := resolve(fields, aliases[field], consumed)
		if !ok {
			continue
		}
		consumed[key] = true
		resolved[field] = scalarString(value)
		if field == FieldPrice {
			rawPrice = value
		}
	}

	name := collapseSpace(resolved[FieldName])
	if name == "" {
		return model.Product{}, eris.Wrap(model.ErrMissingRequiredField, "normalize: name")
	}

	p := model.Product{
		ID:       strings.TrimSpace(resolved[FieldID]),
		Name:     name,
		Vendor:   n.CanonicalVendor(resolved[FieldVendor]),
		Category: collapseSpace(resolved[FieldCategory]),
		Price:    n.price(rawPrice),
		Source:   source,
		Format:   format,
	}
	if p.ID == "" {
		p.ID = name
	}

	attrs := map[string]string{}
	for key, value := range fields {
		if consumed[key] || (format == model.FormatPDF && columnShadow(fields, key, consumed)) {
			continue
		}
		flatten(attrs, key, value)
	}
	if len(attrs) > 0 {
		p.Attributes = attrs
	}
	return p, nil
}

// NormalizeAll normalizes every record of a read, in order. Records that fail
// are reported as errors carrying the record's row and page.
func (n *Normalizer) NormalizeAll(records []reader.Record, format model.Format, source string) ([]model.Product, []model.RecordError) {
	products := make([]model.Product, 0, len(records))
	var errs []model.RecordError
	for _, rec := range records {
		p, err := n.Normalize(rec.Fields, format, source)
		if err != nil {
			kind := model.KindRecordParseError
			field := ""
			if eris.Is(err, model.ErrMissingRequiredField) {
				kind = model.KindMissingRequiredField
				field = string(FieldName)
			}
			errs = append(errs, model.RecordError{
				Kind:    kind,
				Row:     rec.Row,
				Page:    rec.Page,
				Field:   field,
				Message: err.Error(),
			})
			zap.L().Debug("normalize: record skipped",
				zap.String("source", source),
				zap.Int("row", rec.Row),
				zap.Error(err),
			)
			continue
		}
		products = append(products, p)
	}
	return products, errs
}

// CanonicalVendor trims and collapses whitespace, applies known spellings,
// and title-cases names written entirely in one case.
func (n *Normalizer) CanonicalVendor(raw string) string {
	v := collapseSpace(raw)
	if v == "" {
		return ""
	}
	if canonical, ok := n.rules.Vendors[strings.ToLower(v)]; ok {
		return canonical
	}
	lower := v == strings.ToLower(v) && hasLetter(v)
	shouting := v == strings.ToUpper(v) && len([]rune(v)) > 4
	if lower || shouting {
		// Casers carry state, so each call gets its own.
		return cases.Title(language.English).String(v)
	}
	return v
}

func (n *Normalizer) price(v any) model.Price {
	switch t := v.(type) {
	case nil:
		return model.Price{}
	case json.Number:
		if p, ok := priceFromNumber(t.String(), n.currency); ok {
			return p
		}
	case float64:
		if p, ok := priceFromNumber(strconv.FormatFloat(t, 'f', -1, 64), n.currency); ok {
			return p
		}
	}
	return ParsePrice(scalarString(v), n.currency)
}

// resolve returns the first alias present with a non-empty value. Exact key
// matches win over case-insensitive ones.
func resolve(fields model.FieldMap, aliases []string, consumed map[string]bool) (string, any, bool) {
	for _, alias := range aliases {
		if v, ok := fields[alias]; ok && !consumed[alias] && scalarString(v) != "" {
			return alias, v, true
		}
	}
	keys := sortedKeys(fields)
	for _, alias := range aliases {
		for _, key := range keys {
			if consumed[key] || !strings.EqualFold(key, alias) {
				continue
			}
			if v := fields[key]; scalarString(v) != "" {
				return key, v, true
			}
		}
	}
	return "", nil, false
}

// scalarString renders scalar values as trimmed text. Objects and arrays are
// not scalars and render as "".
func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

// flatten writes v into attrs, expanding nested objects into dotted keys.
// claimNamedColumns marks positional keys as consumed when the same cell is
// also keyed by a header that some alias recognizes, so a positional alias
// never takes a column that already has a named home.
func claimNamedColumns(fields model.FieldMap, aliases map[Field][]string, consumed map[string]bool) {
	known := map[string]bool{}
	for _, list := range aliases {
		for _, a := range list {
			if !isPositional(a) {
				known[strings.ToLower(a)] = true
			}
		}
	}
	for key, v := range fields {
		if isPositional(key) || !known[strings.ToLower(key)] {
			continue
		}
		val := scalarString(v)
		if val == "" {
			continue
		}
		for other, ov := range fields {
			if isPositional(other) && scalarString(ov) == val {
				consumed[other] = true
			}
		}
	}
}

// columnShadow reports whether key is the second spelling of a PDF table
// cell: a positional key whose value also sits under a header key, or a
// header key whose positional twin was consumed.
func columnShadow(fields model.FieldMap, key string, consumed map[string]bool) bool {
	v := scalarString(fields[key])
	if v == "" {
		return false
	}
	pos := isPositional(key)
	for other, ov := range fields {
		if other == key || isPositional(other) == pos || scalarString(ov) != v {
			continue
		}
		if pos || consumed[other] {
			return true
		}
	}
	return false
}

func isPositional(key string) bool {
	if key == "" {
		return false
	}
	for _, r := range key {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func flatten(attrs map[string]string, key string, v any) {
	switch t := v.(type) {
	case map[string]any:
		for k, inner := range t {
			flatten(attrs, key+"."+k, inner)
		}
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := scalarString(item); s != "" {
				parts = append(parts, s)
			} else if b, err := json.Marshal(item); err == nil && item != nil {
				parts = append(parts, string(b))
			}
		}
		if len(parts) > 0 {
			attrs[key] = strings.Join(parts, ", ")
		}
	default:
		if s := scalarString(v); s != "" {
			attrs[key] = s
		}
	}
}

func sortedKeys(fields model.FieldMap) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
