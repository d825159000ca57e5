// Package metrics defines the Prometheus collectors for ingestion.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "catalog_ingest"

// Cache tiers used as label values.
const (
	TierMemory  = "memory"
	TierDurable = "durable"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	CacheLookups      *prometheus.CounterVec
	CacheBuilds       *prometheus.CounterVec
	CacheBuildSeconds prometheus.Histogram
	CacheInflight     prometheus.Gauge
	DurableErrors     *prometheus.CounterVec

	FilesProcessed    *prometheus.CounterVec
	ProductsExtracted *prometheus.CounterVec
	StageSeconds      *prometheus.HistogramVec
	RunQuality        prometheus.Histogram
}

// New creates and registers the collectors on reg, or on the default
// registerer when reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by tier and outcome (hit, miss, expired).",
		}, []string{"tier", "outcome"}),
		CacheBuilds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "builds_total",
			Help:      "Cache builds by outcome (ok, error, cancelled).",
		}, []string{"outcome"}),
		CacheBuildSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "build_duration_seconds",
			Help:      "Time spent building cache entries.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		CacheInflight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "builds_inflight",
			Help:      "Builds currently running.",
		}),
		DurableErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "durable_errors_total",
			Help:      "Durable tier failures by operation.",
		}, []string{"op"}),
		FilesProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "files_processed_total",
			Help:      "Source files processed by format and status.",
		}, []string{"format", "status"}),
		ProductsExtracted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "products_extracted_total",
			Help:      "Products extracted by format.",
		}, []string{"format"}),
		StageSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage durations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"stage"}),
		RunQuality: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "run_overall_quality",
			Help:      "Overall quality score per run.",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
	}
}

// CacheLookup records a lookup outcome on a tier.
func (m *Metrics) CacheLookup(tier, outcome string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(tier, outcome).Inc()
}

// BuildStarted marks a build in flight and returns a func that records its
// outcome and duration.
func (m *Metrics) BuildStarted() func(outcome string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	m.CacheInflight.Inc()
	return func(outcome string) {
		m.CacheInflight.Dec()
		m.CacheBuilds.WithLabelValues(outcome).Inc()
		m.CacheBuildSeconds.Observe(time.Since(start).Seconds())
	}
}

// DurableError counts a durable tier failure.
func (m *Metrics) DurableError(op string) {
	if m == nil {
		return
	}
	m.DurableErrors.WithLabelValues(op).Inc()
}

// FileProcessed records one source file.
func (m *Metrics) FileProcessed(format, status string, products int) {
	if m == nil {
		return
	}
	m.FilesProcessed.WithLabelValues(format, status).Inc()
	if products > 0 {
		m.ProductsExtracted.WithLabelValues(format).Add(float64(products))
	}
}

// Stage records the duration of a pipeline stage.
func (m *Metrics) Stage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// Quality records a run's overall quality.
func (m *Metrics) Quality(score float64) {
	if m == nil {
		return
	}
	m.RunQuality.Observe(score)
}
