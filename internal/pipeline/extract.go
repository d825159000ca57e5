package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/fingerprint"
	"github.com/sells-group/catalog-ingest/internal/model"
)

// fileOutcome is what one job contributes to a run.
type fileOutcome struct {
	report   model.FileReport
	products []model.Product
	err      error
}

// process extracts one job. It never returns an error; failures are
// carried in the outcome.
func (o *Orchestrator) process(ctx context.Context, j job) fileOutcome {
	start := time.Now()
	out := fileOutcome{report: model.FileReport{
		Source: j.name,
		Format: j.format,
		Bytes:  int64(len(j.data)),
	}}
	log := zap.L().With(zap.String("source", j.name))

	fail := func(err error) fileOutcome {
		out.err = err
		out.report.Failed = true
		out.report.DurationMS = time.Since(start).Milliseconds()
		o.metrics.FileProcessed(string(out.report.Format), "failed", 0)
		log.Warn("pipeline: file failed", zap.String("kind", string(model.KindOf(err))), zap.Error(err))
		return out
	}

	if j.err != nil {
		return fail(j.err)
	}
	format, err := formatOf(j)
	if err != nil {
		return fail(err)
	}
	out.report.Format = format

	fp := fingerprint.Compute(format, j.data)
	out.report.Fingerprint = fp

	res, hit, err := o.cache.GetOrBuild(ctx, fp, func(bctx context.Context) (*model.ExtractionResult, error) {
		return o.build(bctx, j.name, format, j.data)
	})
	if err != nil {
		return fail(err)
	}

	// Cached results are shared, and may have been built under another name.
	out.products = make([]model.Product, len(res.Products))
	for i, p := range res.Products {
		out.products[i] = p.WithSource(j.name)
	}
	out.report.Extracted = len(out.products)
	out.report.CacheHit = hit
	out.report.Errors = res.Meta.Errors
	out.report.Warnings = res.Meta.Warnings
	out.report.DurationMS = time.Since(start).Milliseconds()

	o.metrics.FileProcessed(string(format), "ok", out.report.Extracted)
	log.Info("pipeline: file extracted",
		zap.String("format", string(format)),
		zap.String("fingerprint", fp),
		zap.Int("products", out.report.Extracted),
		zap.Int("record_errors", len(out.report.Errors)),
		zap.Bool("cache_hit", hit),
		zap.Int64("duration_ms", out.report.DurationMS),
	)
	return out
}

// build is the cached step: read plus normalize.
func (o *Orchestrator) build(ctx context.Context, name string, format model.Format, data []byte) (*model.ExtractionResult, error) {
	res, err := o.reader.Read(ctx, data, format)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read %s", name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	products, errs := o.normalizer.NormalizeAll(res.Records, format, name)
	if products == nil {
		products = []model.Product{}
	}
	meta := res.Meta
	meta.Source = name
	meta.ByteSize = int64(len(data))
	meta.Errors = append(meta.Errors, errs...)

	return &model.ExtractionResult{
		Format:   format,
		Products: products,
		Meta:     meta,
	}, nil
}

// Extract runs a single file through read and normalize, without dedup or
// scoring. File-level failures are returned as errors.
func (o *Orchestrator) Extract(ctx context.Context, req model.SourceRequest) (*model.ExtractResponse, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	jobs := o.resolveOne(ctx, req, 0)
	if len(jobs) != 1 {
		return nil, eris.Wrapf(model.ErrMalformedInput, "pipeline: extract takes one file, %s holds %d", req.Location, len(jobs))
	}

	out := o.process(ctx, jobs[0])
	if out.err != nil {
		return nil, out.err
	}
	errs := out.report.Errors
	if errs == nil {
		errs = []model.RecordError{}
	}
	return &model.ExtractResponse{
		ExtractedCount: out.report.Extracted,
		Products:       out.products,
		Errors:         errs,
		Warnings:       out.report.Warnings,
		CacheHit:       out.report.CacheHit,
		Fingerprint:    out.report.Fingerprint,
	}, nil
}
