package model

import "time"

// CacheTTL is how long a cache entry stays valid after it is written.
const CacheTTL = 24 * time.Hour

// Table is one extracted table: rows of cell strings.
type Table [][]string

// Page is the output of the PDF text/table extraction collaborator for one page.
type Page struct {
	Number int     `json:"number"`
	Text   string  `json:"text"`
	Tables []Table `json:"tables"`
}

// SourceMeta describes the payload a result was built from.
type SourceMeta struct {
	Source      string        `json:"source"`
	CatalogName string        `json:"catalog_name,omitempty"`
	ByteSize    int64         `json:"byte_size"`
	RowCount    int           `json:"row_count"`
	PageCount   int           `json:"page_count,omitempty"`
	TableCount  int           `json:"table_count,omitempty"`
	Errors      []RecordError `json:"errors,omitempty"`
	Warnings    []RecordError `json:"warnings,omitempty"`
}

// ExtractionResult is the output of one read+normalize run over one payload.
type ExtractionResult struct {
	Fingerprint string     `json:"fingerprint"`
	Format      Format     `json:"format"`
	Products    []Product  `json:"products"`
	Meta        SourceMeta `json:"source_meta"`
}

// ExtractedCount is the number of products that survived normalization.
func (r *ExtractionResult) ExtractedCount() int {
	if r == nil {
		return 0
	}
	return len(r.Products)
}

// HasWarning reports whether the result carries a warning of the given kind.
func (r *ExtractionResult) HasWarning(kind ErrorKind) bool {
	for _, w := range r.Meta.Warnings {
		if w.Kind == kind {
			return true
		}
	}
	return false
}

// CacheEntry is a persisted cache record.
type CacheEntry struct {
	Fingerprint string            `json:"fingerprint"`
	Result      *ExtractionResult `json:"result"`
	CreatedAt   time.Time         `json:"created_at"`
	ExpiresAt   time.Time         `json:"expires_at"`
}

// NewCacheEntry stamps an entry that expires CacheTTL after now.
func NewCacheEntry(fingerprint string, result *ExtractionResult, now time.Time) *CacheEntry {
	return &CacheEntry{
		Fingerprint: fingerprint,
		Result:      result,
		CreatedAt:   now,
		ExpiresAt:   now.Add(CacheTTL),
	}
}

// Expired reports whether the entry is no longer valid at now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}
