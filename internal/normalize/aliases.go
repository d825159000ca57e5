package normalize

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/catalog-ingest/internal/model"
)

// Field is a canonical Product field that is resolved through aliases.
type Field string

const (
	FieldID       Field = "id"
	FieldName     Field = "name"
	FieldVendor   Field = "vendor"
	FieldCategory Field = "category"
	FieldPrice    Field = "price"
)

// resolveOrder is the order canonical fields are resolved in. A source key
// consumed by an earlier field is not offered to a later one.
var resolveOrder = []Field{FieldName, FieldVendor, FieldCategory, FieldPrice, FieldID}

// AliasTable maps format -> canonical field -> accepted source keys in priority order.
type AliasTable map[model.Format]map[Field][]string

// Rules is the full normalization rule set.
type Rules struct {
	Aliases AliasTable        `yaml:"aliases"`
	Vendors map[string]string `yaml:"vendors"` // lower-cased spelling -> canonical vendor
}

// DefaultRules returns the built-in alias table and vendor spellings.
func DefaultRules() Rules {
	return Rules{
		Aliases: AliasTable{
			model.FormatJSON: {
				FieldName:     {"name", "product_name", "title"},
				FieldVendor:   {"vendor", "provider", "brand", "manufacturer"},
				FieldCategory: {"category", "type"},
				FieldPrice:    {"price", "cost", "pricing"},
				FieldID:       {"id", "sku"},
			},
			model.FormatCSV: {
				FieldName:     {"Product Name", "Product", "Service", "name", "Name"},
				FieldVendor:   {"Vendor", "Provider", "vendor", "Brand"},
				FieldCategory: {"Category", "category", "Type", "License Type"},
				FieldPrice:    {"Price", "price", "Monthly Cost", "Cost", "Pricing"},
				FieldID:       {"SKU", "sku", "id", "ID"},
			},
			model.FormatPDF: {
				FieldName:     {"Product", "Product Name", "Service", "Software", "Name", "0"},
				FieldVendor:   {"Vendor", "Provider", "Brand", "1"},
				FieldCategory: {"Category", "License Type", "Type"},
				FieldPrice:    {"Price", "Pricing", "Monthly Cost", "Cost"},
				FieldID:       {"SKU", "ID"},
			},
		},
		Vendors: map[string]string{
			"aws":                   "AWS",
			"amazon web services":   "AWS",
			"gcp":                   "Google Cloud",
			"google cloud platform": "Google Cloud",
			"ibm":                   "IBM",
			"hp":                    "HP",
			"sap":                   "SAP",
			"ms":                    "Microsoft",
		},
	}
}

// LoadRules reads a YAML rules file and merges it over the defaults. A field
// list in the file replaces the default list for that format and field.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return rules, eris.Wrapf(err, "normalize: read rules %s", path)
	}

	var override Rules
	if err := yaml.Unmarshal(data, &override); err != nil {
		return rules, eris.Wrapf(err, "normalize: parse rules %s", path)
	}

	for format, fields := range override.Aliases {
		if !format.Valid() {
			return rules, eris.Wrapf(model.ErrUnsupportedFormat, "normalize: rules %s: format %q", path, format)
		}
		if rules.Aliases[format] == nil {
			rules.Aliases[format] = map[Field][]string{}
		}
		for field, keys := range fields {
			if !knownField(field) {
				return rules, eris.Errorf("normalize: rules %s: unknown field %q", path, field)
			}
			rules.Aliases[format][field] = keys
		}
	}
	for spelling, canonical := range override.Vendors {
		rules.Vendors[strings.ToLower(strings.TrimSpace(spelling))] = canonical
	}
	return rules, nil
}

func knownField(f Field) bool {
	for _, known := range resolveOrder {
		if f == known {
			return true
		}
	}
	return false
}
