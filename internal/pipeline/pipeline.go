// Package pipeline runs catalog sources through read, normalize, dedup and
// scoring, and assembles the IngestionReport.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/catalog-ingest/internal/cache"
	"github.com/sells-group/catalog-ingest/internal/dedup"
	"github.com/sells-group/catalog-ingest/internal/fetcher"
	"github.com/sells-group/catalog-ingest/internal/metrics"
	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/normalize"
	"github.com/sells-group/catalog-ingest/internal/reader"
	"github.com/sells-group/catalog-ingest/internal/scorer"
	"github.com/sells-group/catalog-ingest/internal/store"
)

// Options wires an Orchestrator. Reader, Normalizer and Cache are required;
// the rest fall back to defaults or are skipped when nil.
type Options struct {
	Reader     *reader.Reader
	Normalizer *normalize.Normalizer
	Cache      *cache.Manager
	Dedup      *dedup.Engine
	Scorer     *scorer.Scorer
	Loader     *fetcher.Loader
	Runs       store.RunStore
	Metrics    *metrics.Metrics

	MaxConcurrentFiles int
	Timeout            time.Duration
	Now                func() time.Time
}

// Orchestrator runs ingestion. Runs share nothing but the cache, so one
// Orchestrator may serve concurrent calls.
type Orchestrator struct {
	reader     *reader.Reader
	normalizer *normalize.Normalizer
	cache      *cache.Manager
	dedup      *dedup.Engine
	scorer     *scorer.Scorer
	loader     *fetcher.Loader
	runs       store.RunStore
	metrics    *metrics.Metrics

	maxConcurrent int
	timeout       time.Duration
	now           func() time.Time
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Dedup == nil {
		opts.Dedup = dedup.New(dedup.DefaultConfig())
	}
	if opts.Scorer == nil {
		opts.Scorer = scorer.New(scorer.DefaultThresholds())
	}
	if opts.Loader == nil {
		opts.Loader = fetcher.NewLoader(fetcher.LoaderOptions{})
	}
	if opts.MaxConcurrentFiles <= 0 {
		opts.MaxConcurrentFiles = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		reader:        opts.Reader,
		normalizer:    opts.Normalizer,
		cache:         opts.Cache,
		dedup:         opts.Dedup,
		scorer:        opts.Scorer,
		loader:        opts.Loader,
		runs:          opts.Runs,
		metrics:       opts.Metrics,
		maxConcurrent: opts.MaxConcurrentFiles,
		timeout:       opts.Timeout,
		now:           opts.Now,
	}
}

// Run ingests every source and returns the report. A file that fails is
// reported and skipped; Run returns ErrAllSourcesFailed, alongside the
// report, only when every file failed. An empty source list is malformed.
func (o *Orchestrator) Run(ctx context.Context, sources []model.SourceRequest) (*model.IngestionReport, error) {
	if len(sources) == 0 {
		return nil, eris.Wrap(model.ErrMalformedInput, "pipeline: no sources")
	}
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	report := &model.IngestionReport{
		RunID:         uuid.NewString(),
		StartedAt:     o.now().UTC(),
		CacheTTLHours: int(model.CacheTTL / time.Hour),
	}
	log := zap.L().With(zap.String("run_id", report.RunID))
	log.Info("pipeline: run started", zap.Int("sources", len(sources)))

	// Read stage: load, then fan out per file. Outcomes are kept by index so
	// report order matches input order.
	readStart := time.Now()
	jobs := o.resolve(ctx, sources)
	outcomes := make([]fileOutcome, len(jobs))

	g := new(errgroup.Group)
	g.SetLimit(o.maxConcurrent)
	for i, j := range jobs {
		g.Go(func() error {
			outcomes[i] = o.process(ctx, j)
			return nil
		})
	}
	_ = g.Wait()
	report.Timings.ReadMS = o.stage("read", readStart)

	// Barrier passed; everything below sees the whole product set.
	var names []string
	var lists [][]model.Product
	for _, out := range outcomes {
		report.Files = append(report.Files, out.report)
		if out.err != nil {
			report.Errors = append(report.Errors, model.ReportError{
				Source:  out.report.Source,
				Kind:    model.KindOf(out.err),
				Message: out.err.Error(),
			})
			continue
		}
		names = append(names, out.report.Source)
		lists = append(lists, out.products)
	}

	dedupStart := time.Now()
	report.Clusters = o.dedup.Cluster(dedup.Items(names, lists))
	report.Timings.DedupMS = o.stage("dedup", dedupStart)

	scoreStart := time.Now()
	report.Quality = o.scorer.Score(report.Clusters)
	report.Timings.ScoreMS = o.stage("score", scoreStart)
	o.metrics.Quality(report.Quality.OverallQuality)

	report.CompletedAt = o.now().UTC()
	summarize(report)

	fields := []zap.Field{
		zap.Int("files", len(report.Files)),
		zap.Int("failed_files", len(report.Errors)),
		zap.Int("products", report.TotalProducts),
		zap.Int("clusters", report.ClusterCount),
		zap.Int("cache_hits", report.CacheHits),
		zap.Float64("overall_quality", report.Quality.OverallQuality),
		zap.Int64("total_ms", report.Timings.TotalMS),
	}
	if report.Failed {
		log.Warn("pipeline: run failed", fields...)
	} else {
		log.Info("pipeline: run complete", fields...)
	}

	o.save(ctx, report)

	if report.Failed {
		return report, eris.Wrapf(model.ErrAllSourcesFailed, "pipeline: run %s", report.RunID)
	}
	return report, nil
}

func (o *Orchestrator) stage(name string, start time.Time) int64 {
	d := time.Since(start)
	o.metrics.Stage(name, d)
	zap.L().Debug("pipeline: stage complete", zap.String("stage", name), zap.Int64("duration_ms", d.Milliseconds()))
	return d.Milliseconds()
}

// save records the run. History is best effort; the report is returned
// either way.
func (o *Orchestrator) save(ctx context.Context, report *model.IngestionReport) {
	if o.runs == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := o.runs.SaveRun(saveCtx, report); err != nil {
		zap.L().Warn("pipeline: save run", zap.String("run_id", report.RunID), zap.Error(err))
	}
}
