package model

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Format identifies the declared encoding of a source payload.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatPDF  Format = "pdf"
)

// Formats lists every supported format in a stable order.
var Formats = []Format{FormatJSON, FormatCSV, FormatPDF}

// Valid reports whether f is a supported format.
func (f Format) Valid() bool {
	switch f {
	case FormatJSON, FormatCSV, FormatPDF:
		return true
	}
	return false
}

// ParseFormat converts a user-supplied format name ("CSV", ".pdf") into a Format.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "."))
	if !f.Valid() {
		return "", eris.Wrapf(ErrUnsupportedFormat, "model: format %q", s)
	}
	return f, nil
}

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	return ParseFormat(filepath.Ext(path))
}

// FieldMap is one loosely typed record produced by a source reader.
type FieldMap map[string]any

// Product is the canonical ingested entity. Products are never mutated once
// the normalizer returns them.
type Product struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Vendor     string            `json:"vendor,omitempty"`
	Category   string            `json:"category,omitempty"`
	Price      Price             `json:"price"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Source     string            `json:"source"`
	Format     Format            `json:"format"`
}

// PopulatedFields counts the non-empty canonical fields plus attribute entries.
func (p Product) PopulatedFields() int {
	n := 0
	for _, s := range []string{p.ID, p.Name, p.Vendor, p.Category} {
		if s != "" {
			n++
		}
	}
	if p.Price.IsSet() {
		n++
	}
	for _, v := range p.Attributes {
		if v != "" {
			n++
		}
	}
	return n
}

// WithSource returns a copy of p attributed to source.
func (p Product) WithSource(source string) Product {
	p.Source = source
	if len(p.Attributes) > 0 {
		attrs := make(map[string]string, len(p.Attributes))
		for k, v := range p.Attributes {
			attrs[k] = v
		}
		p.Attributes = attrs
	}
	return p
}
