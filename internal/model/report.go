package model

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// QualityRating buckets the overall quality score.
type QualityRating string

const (
	RatingExcellent QualityRating = "EXCELLENT"
	RatingGood      QualityRating = "GOOD"
	RatingFair      QualityRating = "FAIR"
	RatingPoor      QualityRating = "POOR"
)

// QualityReport holds quality metrics as percentages in [0, 100].
type QualityReport struct {
	DataCompleteness   float64       `json:"data_completeness"`
	VendorValidation   float64       `json:"vendor_validation"`
	PriceAccuracy      float64       `json:"price_accuracy"`
	CategoryMatching   float64       `json:"category_matching"`
	DuplicateDetection float64       `json:"duplicate_detection"`
	OverallQuality     float64       `json:"overall_quality"`
	Rating             QualityRating `json:"rating"`
}

// Metrics returns the named metrics keyed by their report name.
func (q QualityReport) Metrics() map[string]float64 {
	return map[string]float64{
		"data_completeness":   q.DataCompleteness,
		"vendor_validation":   q.VendorValidation,
		"price_accuracy":      q.PriceAccuracy,
		"category_matching":   q.CategoryMatching,
		"duplicate_detection": q.DuplicateDetection,
		"overall_quality":     q.OverallQuality,
	}
}

// SourceRequest names one payload to ingest. Exactly one of Content, Catalog
// or Location should be set.
type SourceRequest struct {
	Source        string          `json:"source"`
	Format        Format          `json:"format"`
	Content       string          `json:"content,omitempty"`
	ContentBase64 string          `json:"content_base64,omitempty"`
	Catalog       json.RawMessage `json:"catalog,omitempty"`
	Location      string          `json:"location,omitempty"`
	Raw           []byte          `json:"-"`
}

// Inline returns the payload carried by the request itself, if any.
func (r SourceRequest) Inline() ([]byte, bool, error) {
	switch {
	case r.Raw != nil:
		return r.Raw, true, nil
	case len(r.Catalog) > 0:
		return []byte(r.Catalog), true, nil
	case r.ContentBase64 != "":
		b, err := base64.StdEncoding.DecodeString(r.ContentBase64)
		if err != nil {
			return nil, true, eris.Wrap(ErrMalformedInput, "model: decode content_base64")
		}
		return b, true, nil
	case r.Content != "":
		return []byte(r.Content), true, nil
	}
	return nil, false, nil
}

// ExtractResponse is the single-file upload response.
type ExtractResponse struct {
	ExtractedCount int           `json:"extracted_count"`
	Products       []Product     `json:"products"`
	Errors         []RecordError `json:"errors"`
	Warnings       []RecordError `json:"warnings,omitempty"`
	CacheHit       bool          `json:"cache_hit"`
	Fingerprint    string        `json:"fingerprint"`
}

// FileReport is the per-source section of an IngestionReport.
type FileReport struct {
	Source      string        `json:"source"`
	Format      Format        `json:"format"`
	Fingerprint string        `json:"fingerprint,omitempty"`
	Bytes       int64         `json:"bytes"`
	Extracted   int           `json:"extracted"`
	CacheHit    bool          `json:"cache_hit"`
	DurationMS  int64         `json:"duration_ms"`
	Errors      []RecordError `json:"errors,omitempty"`
	Warnings    []RecordError `json:"warnings,omitempty"`
	Failed      bool          `json:"failed"`
}

// ReportError is a file-level failure listed in the report.
type ReportError struct {
	Source  string    `json:"source"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// StageTimings records wall-clock milliseconds per pipeline stage.
type StageTimings struct {
	ReadMS  int64 `json:"read_ms"`
	DedupMS int64 `json:"dedup_ms"`
	ScoreMS int64 `json:"score_ms"`
	TotalMS int64 `json:"total_ms"`
}

// IngestionReport is the result of one pipeline invocation.
type IngestionReport struct {
	RunID              string         `json:"run_id"`
	StartedAt          time.Time      `json:"started_at"`
	CompletedAt        time.Time      `json:"completed_at"`
	Files              []FileReport   `json:"files"`
	TotalProducts      int            `json:"total_products"`
	ClusterCount       int            `json:"cluster_count"`
	DuplicateRate      float64        `json:"duplicate_rate"`
	Throughput         float64        `json:"throughput_per_sec"`
	FormatDistribution map[Format]int `json:"format_distribution"`
	CacheHits          int            `json:"cache_hits"`
	CacheMisses        int            `json:"cache_misses"`
	CacheTTLHours      int            `json:"cache_ttl_hours"`
	Timings            StageTimings   `json:"timings"`
	Quality            QualityReport  `json:"quality"`
	Clusters           []DedupCluster `json:"clusters"`
	Errors             []ReportError  `json:"errors"`
	Failed             bool           `json:"failed"`
}

// RunSummary is the persisted digest of an ingestion run.
type RunSummary struct {
	RunID          string        `json:"run_id"`
	Sources        int           `json:"sources"`
	TotalProducts  int           `json:"total_products"`
	ClusterCount   int           `json:"cluster_count"`
	OverallQuality float64       `json:"overall_quality"`
	Rating         QualityRating `json:"rating"`
	Failed         bool          `json:"failed"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Summary digests the report for run history.
func (r *IngestionReport) Summary() RunSummary {
	return RunSummary{
		RunID:          r.RunID,
		Sources:        len(r.Files),
		TotalProducts:  r.TotalProducts,
		ClusterCount:   r.ClusterCount,
		OverallQuality: r.Quality.OverallQuality,
		Rating:         r.Quality.Rating,
		Failed:         r.Failed,
		CreatedAt:      r.CompletedAt,
	}
}
