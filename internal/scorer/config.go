// Package scorer rates the quality of a deduplicated product set.
package scorer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-ingest/internal/model"
)

// Thresholds are the minimum overall scores for each rating.
type Thresholds struct {
	Excellent float64
	Good      float64
	Fair      float64
}

// DefaultThresholds returns 90/70/50.
func DefaultThresholds() Thresholds {
	return Thresholds{Excellent: 90, Good: 70, Fair: 50}
}

// Validate checks that thresholds are percentages in descending order.
func (t Thresholds) Validate() error {
	var errs []string
	for name, v := range map[string]float64{"excellent": t.Excellent, "good": t.Good, "fair": t.Fair} {
		if v < 0 || v > 100 {
			errs = append(errs, fmt.Sprintf("%s threshold %.1f outside [0, 100]", name, v))
		}
	}
	if !(t.Excellent >= t.Good && t.Good >= t.Fair) {
		errs = append(errs, "thresholds must satisfy excellent >= good >= fair")
	}
	if len(errs) > 0 {
		sort.Strings(errs)
		return eris.Errorf("scorer: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Rate buckets an overall score.
func (t Thresholds) Rate(score float64) model.QualityRating {
	switch {
	case score >= t.Excellent:
		return model.RatingExcellent
	case score >= t.Good:
		return model.RatingGood
	case score >= t.Fair:
		return model.RatingFair
	default:
		return model.RatingPoor
	}
}
