// Package store persists cache entries and ingestion run history.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-ingest/internal/model"
)

// ErrRunNotFound is returned by GetRun for unknown run IDs.
var ErrRunNotFound = eris.New("run not found")

// CacheStore is the durable tier of the extraction cache. Stores return
// entries as written; expiry is checked by the caller at read time.
type CacheStore interface {
	// GetEntry returns nil, nil when no entry exists.
	GetEntry(ctx context.Context, fingerprint string) (*model.CacheEntry, error)
	PutEntry(ctx context.Context, entry *model.CacheEntry) error
	DeleteEntry(ctx context.Context, fingerprint string) error
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	FailedOnly bool `json:"failed_only,omitempty"`
	Limit      int  `json:"limit,omitempty"`
	Offset     int  `json:"offset,omitempty"`
}

func (f RunFilter) limit() int {
	if f.Limit <= 0 {
		return 50
	}
	return f.Limit
}

// RunStore keeps ingestion reports.
type RunStore interface {
	SaveRun(ctx context.Context, report *model.IngestionReport) error
	GetRun(ctx context.Context, runID string) (*model.IngestionReport, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.RunSummary, error)
}

// Store is a complete persistence backend.
type Store interface {
	CacheStore
	RunStore
	Migrate(ctx context.Context) error
	Close() error
}

// productColumns are the columns of ingestion_run_products, one row per
// cluster representative.
var productColumns = []string{
	"run_id", "cluster_id", "product_id", "name", "vendor", "category",
	"price", "sources", "cluster_size", "confidence",
}

func productRows(report *model.IngestionReport) [][]any {
	rows := make([][]any, 0, len(report.Clusters))
	for _, c := range report.Clusters {
		rep := c.Representative
		rows = append(rows, []any{
			report.RunID, c.ID, rep.ID, rep.Name, rep.Vendor, rep.Category,
			rep.Price.String(), joinSources(c.Sources()), c.Size(), c.Confidence,
		})
	}
	return rows
}

func marshalReport(report *model.IngestionReport) ([]byte, error) {
	if report == nil || report.RunID == "" {
		return nil, eris.New("store: report has no run id")
	}
	b, err := json.Marshal(report)
	return b, eris.Wrap(err, "store: marshal report")
}

func unmarshalReport(b []byte) (*model.IngestionReport, error) {
	var r model.IngestionReport
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal report")
	}
	return &r, nil
}

func unmarshalResult(b []byte) (*model.ExtractionResult, error) {
	var r model.ExtractionResult
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal result")
	}
	return &r, nil
}

// RunProduct is one stored cluster representative.
type RunProduct struct {
	ClusterID   int      `json:"cluster_id"`
	ProductID   string   `json:"product_id"`
	Name        string   `json:"name"`
	Vendor      string   `json:"vendor"`
	Category    string   `json:"category"`
	Price       string   `json:"price"`
	Sources     []string `json:"sources"`
	ClusterSize int      `json:"cluster_size"`
	Confidence  float64  `json:"confidence"`
}

// Sources are stored as a JSON array so names may contain any character.
func joinSources(sources []string) string {
	if len(sources) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(sources)
	return string(b)
}

func splitSources(s string) []string {
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func checkEntry(entry *model.CacheEntry) error {
	if entry == nil || entry.Fingerprint == "" || entry.Result == nil {
		return eris.New("store: incomplete cache entry")
	}
	return nil
}

// Pruner is implemented by stores that can drop expired cache entries in
// bulk. Redis expires keys itself and memory entries are evicted on read.
type Pruner interface {
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// ProductLister is implemented by stores that keep one row per cluster
// representative for each run.
type ProductLister interface {
	RunProducts(ctx context.Context, runID string) ([]RunProduct, error)
}
