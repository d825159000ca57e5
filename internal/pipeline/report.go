package pipeline

import (
	"math"

	"github.com/sells-group/catalog-ingest/internal/model"
)

// summarize fills the derived counters of a report whose files, clusters
// and timings are set.
func summarize(r *model.IngestionReport) {
	r.FormatDistribution = make(map[model.Format]int)
	failed := 0
	for _, f := range r.Files {
		if f.Failed {
			failed++
			continue
		}
		r.TotalProducts += f.Extracted
		r.FormatDistribution[f.Format] += f.Extracted
		if f.CacheHit {
			r.CacheHits++
		} else {
			r.CacheMisses++
		}
	}
	r.Failed = len(r.Files) > 0 && failed == len(r.Files)
	r.ClusterCount = len(r.Clusters)
	if r.TotalProducts > 0 {
		r.DuplicateRate = round4(1 - float64(r.ClusterCount)/float64(r.TotalProducts))
	}

	total := r.CompletedAt.Sub(r.StartedAt)
	r.Timings.TotalMS = total.Milliseconds()
	if secs := total.Seconds(); secs > 0 {
		r.Throughput = math.Round(float64(r.TotalProducts)/secs*100) / 100
	}
	if r.Clusters == nil {
		r.Clusters = []model.DedupCluster{}
	}
	if r.Errors == nil {
		r.Errors = []model.ReportError{}
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
