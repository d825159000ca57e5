// Package monitoring summarizes ingestion run history and raises alerts
// when it degrades.
package monitoring

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/store"
)

// pageSize is how many runs are read from the store per request.
const pageSize = 500

// RunStats holds a point-in-time view of ingestion health.
type RunStats struct {
	RunsTotal     int                         `json:"runs_total"`
	RunsFailed    int                         `json:"runs_failed"`
	FailRate      float64                     `json:"fail_rate"`
	ProductsTotal int                         `json:"products_total"`
	AvgProducts   float64                     `json:"avg_products"`
	AvgQuality    float64                     `json:"avg_quality"`
	Ratings       map[model.QualityRating]int `json:"ratings"`
	LastRunAt     time.Time                   `json:"last_run_at,omitempty"`
	LookbackHours int                         `json:"lookback_hours"`
	CollectedAt   time.Time                   `json:"collected_at"`
}

// Collector gathers stats from run history.
type Collector struct {
	runs store.RunStore
	now  func() time.Time
}

// NewCollector creates a new stats collector.
func NewCollector(runs store.RunStore) *Collector {
	return &Collector{runs: runs, now: time.Now}
}

// Collect summarizes the runs recorded within the lookback window. A
// non-positive lookback covers all history.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*RunStats, error) {
	now := c.now().UTC()
	stats := &RunStats{
		Ratings:       make(map[model.QualityRating]int),
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	var cutoff time.Time
	if lookbackHours > 0 {
		cutoff = now.Add(-time.Duration(lookbackHours) * time.Hour)
	}

	var qualitySum float64
	var scored int
	for offset := 0; ; offset += pageSize {
		page, err := c.runs.ListRuns(ctx, store.RunFilter{Limit: pageSize, Offset: offset})
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list runs")
		}

		// Runs come newest first, so the first one outside the window ends the scan.
		for _, r := range page {
			if !cutoff.IsZero() && r.CreatedAt.Before(cutoff) {
				return finish(stats, qualitySum, scored), nil
			}
			stats.RunsTotal++
			if stats.LastRunAt.IsZero() || r.CreatedAt.After(stats.LastRunAt) {
				stats.LastRunAt = r.CreatedAt
			}
			if r.Failed {
				stats.RunsFailed++
				continue
			}
			stats.ProductsTotal += r.TotalProducts
			stats.Ratings[r.Rating]++
			qualitySum += r.OverallQuality
			scored++
		}
		if len(page) < pageSize {
			break
		}
	}
	return finish(stats, qualitySum, scored), nil
}

func finish(s *RunStats, qualitySum float64, scored int) *RunStats {
	if s.RunsTotal > 0 {
		s.FailRate = round2(float64(s.RunsFailed) / float64(s.RunsTotal))
	}
	if scored > 0 {
		s.AvgQuality = round2(qualitySum / float64(scored))
		s.AvgProducts = round2(float64(s.ProductsTotal) / float64(scored))
	}
	return s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
