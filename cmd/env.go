package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/cache"
	"github.com/sells-group/catalog-ingest/internal/config"
	"github.com/sells-group/catalog-ingest/internal/dedup"
	"github.com/sells-group/catalog-ingest/internal/fetcher"
	"github.com/sells-group/catalog-ingest/internal/metrics"
	"github.com/sells-group/catalog-ingest/internal/normalize"
	"github.com/sells-group/catalog-ingest/internal/ocr"
	"github.com/sells-group/catalog-ingest/internal/pipeline"
	"github.com/sells-group/catalog-ingest/internal/reader"
	"github.com/sells-group/catalog-ingest/internal/resilience"
	"github.com/sells-group/catalog-ingest/internal/scorer"
	"github.com/sells-group/catalog-ingest/internal/store"
)

// ingestEnv holds everything the ingest, extract and serve commands share.
type ingestEnv struct {
	Store        store.Store
	Cache        *cache.Manager
	Orchestrator *pipeline.Orchestrator
	Registry     *prometheus.Registry
}

// Close releases resources held by the environment.
func (e *ingestEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates cfg for mode, opens the store and wires the
// orchestrator. Callers should defer env.Close().
func initEnv(ctx context.Context, c *config.Config, mode string) (*ingestEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, c.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env, err := buildEnv(c, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	zap.L().Debug("environment ready",
		zap.String("store", c.Store.Driver),
		zap.String("ocr", c.OCR.Provider),
	)
	return env, nil
}

// buildEnv wires the pipeline over an already opened store.
func buildEnv(c *config.Config, st store.Store) (*ingestEnv, error) {
	pages, err := ocr.NewExtractor(c.OCR)
	if err != nil {
		return nil, eris.Wrap(err, "init ocr")
	}

	rules := normalize.DefaultRules()
	if c.Normalize.AliasesFile != "" {
		rules, err = normalize.LoadRules(c.Normalize.AliasesFile)
		if err != nil {
			return nil, eris.Wrap(err, "load alias rules")
		}
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	retry, breaker := resilience.ForCache(c.Cache)
	mgr := cache.New(cache.Options{
		Durable:      st,
		BuildTimeout: time.Duration(c.Cache.BuildTimeoutSecs) * time.Second,
		Retry:        retry,
		Breaker:      breaker,
		Metrics:      m,
	})

	orch := pipeline.New(pipeline.Options{
		Reader:             reader.New(pages),
		Normalizer:         normalize.New(rules, c.Normalize.DefaultCurrency),
		Cache:              mgr,
		Dedup:              dedup.New(dedup.FromConfig(c.Dedup)),
		Scorer:             scorer.New(scorer.DefaultThresholds()),
		Loader:             fetcher.NewLoaderFromConfig(c),
		Runs:               st,
		Metrics:            m,
		MaxConcurrentFiles: c.Pipeline.MaxConcurrentFiles,
		Timeout:            time.Duration(c.Pipeline.TimeoutSecs) * time.Second,
	})

	return &ingestEnv{
		Store:        st,
		Cache:        mgr,
		Orchestrator: orch,
		Registry:     reg,
	}, nil
}
