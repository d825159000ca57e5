package scorer

import (
	"math"

	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/model"
)

// expectedFields is the number of representative fields data_completeness
// looks for: name, vendor, category, price, attributes.
const expectedFields = 5

// Scorer computes QualityReports.
type Scorer struct {
	thresholds Thresholds
}

// New creates a Scorer. Invalid thresholds fall back to the defaults.
func New(t Thresholds) *Scorer {
	if err := t.Validate(); err != nil {
		zap.L().Warn("scorer: invalid thresholds, using defaults", zap.Error(err))
		t = DefaultThresholds()
	}
	return &Scorer{thresholds: t}
}

// Score rates the representatives of clusters. Every metric is a percentage
// in [0, 100]; an empty cluster set scores 0 across the board.
func (s *Scorer) Score(clusters []model.DedupCluster) model.QualityReport {
	var (
		total, merged                       int
		fields, vendors, prices, categories int
	)
	for _, c := range clusters {
		total += c.Size()
		if c.Size() > 1 {
			merged += c.Size()
		}
		rep := c.Representative
		fields += completeness(rep)
		if rep.Vendor != "" {
			vendors++
		}
		if rep.Price.IsNumeric() {
			prices++
		}
		if rep.Category != "" {
			categories++
		}
	}

	n := len(clusters)
	q := model.QualityReport{
		DataCompleteness:   pct(fields, n*expectedFields),
		VendorValidation:   pct(vendors, n),
		PriceAccuracy:      pct(prices, n),
		CategoryMatching:   pct(categories, n),
		DuplicateDetection: pct(merged, total),
	}
	q.OverallQuality = round2((q.DataCompleteness + q.VendorValidation + q.PriceAccuracy +
		q.CategoryMatching + q.DuplicateDetection) / 5)
	q.Rating = s.thresholds.Rate(q.OverallQuality)
	return q
}

// Score rates clusters with the default thresholds.
func Score(clusters []model.DedupCluster) model.QualityReport {
	return New(DefaultThresholds()).Score(clusters)
}

func completeness(p model.Product) int {
	n := 0
	if p.Name != "" {
		n++
	}
	if p.Vendor != "" {
		n++
	}
	if p.Category != "" {
		n++
	}
	if p.Price.IsSet() {
		n++
	}
	if len(p.Attributes) > 0 {
		n++
	}
	return n
}

// pct returns 100*num/den clamped to [0, 100], or 0 when den is 0.
func pct(num, den int) float64 {
	if den <= 0 {
		return 0
	}
	return round2(math.Max(0, math.Min(100, 100*float64(num)/float64(den))))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
