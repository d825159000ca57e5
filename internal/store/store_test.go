package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-ingest/internal/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleEntry(fp string, now time.Time) *model.CacheEntry {
	return model.NewCacheEntry(fp, &model.ExtractionResult{
		Fingerprint: fp,
		Format:      model.FormatCSV,
		Products: []model.Product{{
			ID:     "SKU-1",
			Name:   "Google Pixel 8",
			Vendor: "Google",
			Price:  model.FixedPrice(decimal.NewFromInt(699), "USD"),
			Source: "a.csv",
			Format: model.FormatCSV,
		}},
		Meta: model.SourceMeta{Source: "a.csv", RowCount: 1},
	}, now)
}

func sampleReport(id string, at time.Time, failed bool) *model.IngestionReport {
	rep := model.Product{ID: "p1", Name: "Google Pixel 8", Vendor: "Google", Price: model.FixedPrice(decimal.NewFromInt(699), "USD")}
	return &model.IngestionReport{
		RunID:         id,
		StartedAt:     at.Add(-time.Second),
		CompletedAt:   at,
		Files:         []model.FileReport{{Source: "a.json", Format: model.FormatJSON, Extracted: 2}},
		TotalProducts: 2,
		ClusterCount:  1,
		Quality:       model.QualityReport{OverallQuality: 91, Rating: model.RatingExcellent},
		Clusters: []model.DedupCluster{{
			ID: 0,
			Members: []model.ClusterMember{
				{Product: rep, Source: "a.json", Order: 0},
				{Product: rep, Source: "b, with comma.csv", Order: 1},
			},
			Representative: rep,
			Confidence:     0.93,
		}},
		Failed: failed,
	}
}

// exerciseStore runs the same behavior checks against every backend.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing entry", func(t *testing.T) {
		e, err := s.GetEntry(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, e)
	})

	t.Run("entry round trip", func(t *testing.T) {
		require.NoError(t, s.PutEntry(ctx, sampleEntry("fp1", t0)))
		e, err := s.GetEntry(ctx, "fp1")
		require.NoError(t, err)
		require.NotNil(t, e)
		assert.Equal(t, "fp1", e.Fingerprint)
		assert.True(t, e.ExpiresAt.Equal(t0.Add(model.CacheTTL)))
		require.Len(t, e.Result.Products, 1)
		assert.Equal(t, "Google Pixel 8", e.Result.Products[0].Name)
		assert.Equal(t, "699", e.Result.Products[0].Price.Amount.String())
	})

	t.Run("entry overwrite and delete", func(t *testing.T) {
		later := t0.Add(time.Hour)
		require.NoError(t, s.PutEntry(ctx, sampleEntry("fp1", later)))
		e, err := s.GetEntry(ctx, "fp1")
		require.NoError(t, err)
		assert.True(t, e.CreatedAt.Equal(later))

		require.NoError(t, s.DeleteEntry(ctx, "fp1"))
		e, err = s.GetEntry(ctx, "fp1")
		require.NoError(t, err)
		assert.Nil(t, e)
	})

	t.Run("incomplete entry rejected", func(t *testing.T) {
		assert.Error(t, s.PutEntry(ctx, &model.CacheEntry{Fingerprint: "x"}))
	})

	t.Run("runs", func(t *testing.T) {
		require.NoError(t, s.SaveRun(ctx, sampleReport("run-old", t0, false)))
		require.NoError(t, s.SaveRun(ctx, sampleReport("run-new", t0.Add(time.Hour), true)))

		got, err := s.GetRun(ctx, "run-new")
		require.NoError(t, err)
		assert.Equal(t, "run-new", got.RunID)
		assert.True(t, got.Failed)
		require.Len(t, got.Clusters, 1)
		assert.Equal(t, []string{"a.json", "b, with comma.csv"}, got.Clusters[0].Sources())

		list, err := s.ListRuns(ctx, RunFilter{})
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "run-new", list[0].RunID)
		assert.Equal(t, "run-old", list[1].RunID)
		assert.Equal(t, 2, list[1].TotalProducts)
		assert.Equal(t, model.RatingExcellent, list[1].Rating)

		failed, err := s.ListRuns(ctx, RunFilter{FailedOnly: true})
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, "run-new", failed[0].RunID)

		page, err := s.ListRuns(ctx, RunFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "run-old", page[0].RunID)

		_, err = s.GetRun(ctx, "missing")
		assert.ErrorIs(t, err, ErrRunNotFound)
	})

	t.Run("run without id rejected", func(t *testing.T) {
		assert.Error(t, s.SaveRun(ctx, &model.IngestionReport{}))
	})
}

func TestMemoryStore(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.Migrate(context.Background()))
	exerciseStore(t, s)
	assert.NoError(t, s.Close())
}

func TestProductRows(t *testing.T) {
	rows := productRows(sampleReport("r1", t0, false))
	require.Len(t, rows, 1)
	require.Len(t, rows[0], len(productColumns))
	assert.Equal(t, "r1", rows[0][0])
	assert.Equal(t, "USD 699", rows[0][6])
	assert.Equal(t, `["a.json","b, with comma.csv"]`, rows[0][7])
	assert.Equal(t, 2, rows[0][8])
}

func TestSources_RoundTrip(t *testing.T) {
	assert.Equal(t, "[]", joinSources(nil))
	assert.Equal(t, []string{"x", "y,z"}, splitSources(joinSources([]string{"x", "y,z"})))
	assert.Nil(t, splitSources("not json"))
}
