package pipeline

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/catalog-ingest/internal/fetcher"
	"github.com/sells-group/catalog-ingest/internal/model"
)

// job is one file ready to extract. err is set when the payload could not
// be obtained; the job still appears in the report.
type job struct {
	name   string
	format model.Format
	data   []byte
	err    error
}

// resolve turns requests into jobs, loading locations concurrently. A zip
// bundle expands in place, so job order follows request order.
func (o *Orchestrator) resolve(ctx context.Context, sources []model.SourceRequest) []job {
	perRequest := make([][]job, len(sources))

	g := new(errgroup.Group)
	g.SetLimit(o.maxConcurrent)
	for i, req := range sources {
		g.Go(func() error {
			perRequest[i] = o.resolveOne(ctx, req, i)
			return nil
		})
	}
	_ = g.Wait()

	var jobs []job
	for _, js := range perRequest {
		jobs = append(jobs, js...)
	}
	return jobs
}

func (o *Orchestrator) resolveOne(ctx context.Context, req model.SourceRequest, i int) []job {
	name := req.Source
	if name == "" && req.Location == "" {
		name = fmt.Sprintf("source-%d", i+1)
	}

	data, inline, err := req.Inline()
	switch {
	case err != nil:
		return []job{{name: name, format: req.Format, err: err}}
	case inline:
		if limit := o.loader.MaxBytes(); limit > 0 && int64(len(data)) > limit {
			err = eris.Wrapf(model.ErrSourceTooLarge, "pipeline: %s exceeds %d bytes", name, limit)
		}
		return []job{{name: name, format: req.Format, data: data, err: err}}
	case req.Location == "":
		return []job{{name: name, format: req.Format, err: eris.Wrapf(model.ErrMalformedInput, "pipeline: %s has no payload", name)}}
	}

	loaded, err := o.loader.Load(ctx, req.Location)
	if err != nil {
		if name == "" {
			name = req.Location
		}
		return []job{{name: name, format: req.Format, err: err}}
	}

	bundle := fetcher.IsZIP(req.Location)
	jobs := make([]job, 0, len(loaded))
	for _, src := range loaded {
		j := job{name: src.Name, format: src.Format, data: src.Data}
		if !bundle {
			if name != "" {
				j.name = name
			}
			if req.Format != "" {
				j.format = req.Format
			}
		}
		jobs = append(jobs, j)
	}
	if len(jobs) == 0 {
		if name == "" {
			name = req.Location
		}
		return []job{{name: name, err: eris.Wrapf(model.ErrMalformedInput, "pipeline: %s holds no catalog files", req.Location)}}
	}
	return jobs
}

// formatOf settles a job's format, falling back to its name's extension.
func formatOf(j job) (model.Format, error) {
	if j.format != "" {
		return model.ParseFormat(string(j.format))
	}
	f, err := model.FormatFromPath(j.name)
	if err != nil {
		return "", eris.Wrapf(model.ErrUnsupportedFormat, "pipeline: no format for %s", j.name)
	}
	return f, nil
}
