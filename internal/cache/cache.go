// Package cache memoizes extraction results by payload fingerprint.
//
// Lookups check an in-process tier, then an optional durable tier. Misses
// are built once per fingerprint no matter how many callers ask at the same
// time. Entries live for model.CacheTTL and are expired lazily when read.
// Failed or cancelled builds are never stored.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/metrics"
	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/resilience"
	"github.com/sells-group/catalog-ingest/internal/store"
)

// BuildFunc produces the result for a fingerprint on a miss.
type BuildFunc func(ctx context.Context) (*model.ExtractionResult, error)

// Options configures a Manager. The zero value is a memory-only cache.
type Options struct {
	// Durable is the second tier. Nil disables it.
	Durable store.CacheStore
	// BuildTimeout bounds a single build. Zero means no bound.
	BuildTimeout time.Duration
	Retry        resilience.RetryPolicy
	Breaker      resilience.BreakerConfig
	Metrics      *metrics.Metrics
	// Now replaces time.Now in tests.
	Now func() time.Time
}

// Manager is the two-tier cache. It is safe for concurrent use. Results it
// returns are shared between callers and must be treated as read-only.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*model.CacheEntry

	flightMu sync.Mutex
	flights  map[string]*flight

	durable      store.CacheStore
	breaker      *resilience.Breaker
	retry        resilience.RetryPolicy
	buildTimeout time.Duration
	metrics      *metrics.Metrics
	now          func() time.Time
}

// flight is one in-progress build. waiters counts callers still blocked on
// it; the build is cancelled when the count drops to zero.
type flight struct {
	done    chan struct{}
	waiters int
	cancel  context.CancelFunc

	result *model.ExtractionResult
	hit    bool
	err    error
}

// New creates a Manager.
func New(opts Options) *Manager {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	breakerCfg := opts.Breaker
	breakerCfg.OnStateChange = func(name string, from, to resilience.State) {
		zap.L().Warn("cache: durable tier breaker state change",
			zap.String("breaker", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	return &Manager{
		entries:      make(map[string]*model.CacheEntry),
		flights:      make(map[string]*flight),
		durable:      opts.Durable,
		breaker:      resilience.NewBreaker("durable-cache", breakerCfg),
		retry:        opts.Retry,
		buildTimeout: opts.BuildTimeout,
		metrics:      opts.Metrics,
		now:          now,
	}
}

// GetOrBuild returns the cached result for fingerprint, building it with
// build on a miss. wasHit is true when the result came from either tier,
// including for callers that joined a build which found a durable entry.
//
// A caller whose ctx ends while waiting gets ErrTimeoutExceeded. The build
// itself keeps running for any remaining waiters and is cancelled once
// none are left. Build failures are returned as *model.BuildError.
func (m *Manager) GetOrBuild(ctx context.Context, fingerprint string, build BuildFunc) (*model.ExtractionResult, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, eris.Wrapf(model.ErrTimeoutExceeded, "cache: %s: %v", short(fingerprint), err)
	}
	if e := m.memoryGet(fingerprint); e != nil {
		return e.Result, true, nil
	}

	f := m.join(ctx, fingerprint, build)
	select {
	case <-f.done:
		return f.result, f.hit, f.err
	case <-ctx.Done():
		m.leave(fingerprint, f)
		return nil, false, eris.Wrapf(model.ErrTimeoutExceeded, "cache: %s: %v", short(fingerprint), ctx.Err())
	}
}

// join attaches the caller to the flight for fingerprint, starting one if
// needed.
func (m *Manager) join(ctx context.Context, fingerprint string, build BuildFunc) *flight {
	m.flightMu.Lock()
	defer m.flightMu.Unlock()

	if f, ok := m.flights[fingerprint]; ok {
		f.waiters++
		return f
	}

	bctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if m.buildTimeout > 0 {
		var cancelTimeout context.CancelFunc
		bctx, cancelTimeout = context.WithTimeout(bctx, m.buildTimeout)
		prev := cancel
		cancel = func() {
			cancelTimeout()
			prev()
		}
	}
	f := &flight{done: make(chan struct{}), waiters: 1, cancel: cancel}
	m.flights[fingerprint] = f
	go m.run(bctx, fingerprint, f, build)
	return f
}

// leave detaches a caller that stopped waiting. The last one out cancels
// the build and unregisters the flight so later callers start fresh.
func (m *Manager) leave(fingerprint string, f *flight) {
	m.flightMu.Lock()
	defer m.flightMu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if m.flights[fingerprint] == f {
		delete(m.flights, fingerprint)
	}
	zap.L().Debug("cache: build abandoned by all callers", zap.String("fingerprint", short(fingerprint)))
}

func (m *Manager) finish(fingerprint string, f *flight) {
	m.flightMu.Lock()
	if m.flights[fingerprint] == f {
		delete(m.flights, fingerprint)
	}
	m.flightMu.Unlock()
	f.cancel()
	close(f.done)
}

func (m *Manager) run(ctx context.Context, fingerprint string, f *flight, build BuildFunc) {
	defer m.finish(fingerprint, f)

	// A flight that finished after our memory miss may already have stored it.
	if e := m.peek(fingerprint); e != nil {
		f.result, f.hit = e.Result, true
		return
	}
	if e := m.durableGet(ctx, fingerprint); e != nil {
		m.memoryPut(e)
		f.result, f.hit = e.Result, true
		return
	}

	done := m.metrics.BuildStarted()
	start := time.Now()
	res, err := safeBuild(ctx, build)

	switch {
	case ctx.Err() != nil:
		done("cancelled")
		f.err = &model.BuildError{
			Fingerprint: fingerprint,
			Err:         eris.Wrapf(model.ErrTimeoutExceeded, "cache: build %s: %v", short(fingerprint), ctx.Err()),
		}
		return
	case err != nil:
		done("error")
		f.err = &model.BuildError{Fingerprint: fingerprint, Err: err}
		zap.L().Warn("cache: build failed",
			zap.String("fingerprint", short(fingerprint)),
			zap.Error(err),
		)
		return
	case res == nil:
		done("error")
		f.err = &model.BuildError{Fingerprint: fingerprint, Err: eris.New("cache: build returned no result")}
		return
	}

	done("ok")
	res.Fingerprint = fingerprint
	entry := model.NewCacheEntry(fingerprint, res, m.now())
	m.memoryPut(entry)
	m.durablePut(ctx, entry)
	f.result = res

	zap.L().Info("cache: build complete",
		zap.String("fingerprint", short(fingerprint)),
		zap.String("format", string(res.Format)),
		zap.Int("products", len(res.Products)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
}

// safeBuild turns a panicking build into an error so the flight completes.
func safeBuild(ctx context.Context, build BuildFunc) (res *model.ExtractionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, eris.Errorf("cache: build panicked: %v", r)
		}
	}()
	return build(ctx)
}

func (m *Manager) memoryGet(fingerprint string) *model.CacheEntry {
	m.mu.RLock()
	e, ok := m.entries[fingerprint]
	m.mu.RUnlock()
	if !ok {
		m.metrics.CacheLookup(metrics.TierMemory, "miss")
		return nil
	}
	if e.Expired(m.now()) {
		m.mu.Lock()
		if m.entries[fingerprint] == e {
			delete(m.entries, fingerprint)
		}
		m.mu.Unlock()
		m.metrics.CacheLookup(metrics.TierMemory, "expired")
		return nil
	}
	m.metrics.CacheLookup(metrics.TierMemory, "hit")
	return e
}

// peek is memoryGet without metrics or eviction.
func (m *Manager) peek(fingerprint string) *model.CacheEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.entries[fingerprint]; ok && !e.Expired(m.now()) {
		return e
	}
	return nil
}

func (m *Manager) memoryPut(e *model.CacheEntry) {
	m.mu.Lock()
	m.entries[e.Fingerprint] = e
	m.mu.Unlock()
}

func (m *Manager) durableGet(ctx context.Context, fingerprint string) *model.CacheEntry {
	if m.durable == nil {
		return nil
	}
	e, err := resilience.CallVal(ctx, m.breaker, func(ctx context.Context) (*model.CacheEntry, error) {
		return resilience.DoVal(ctx, m.retry, func(ctx context.Context) (*model.CacheEntry, error) {
			return m.durable.GetEntry(ctx, fingerprint)
		})
	})
	if err != nil {
		m.durableFailed("get", fingerprint, err)
		return nil
	}
	if e == nil || e.Result == nil {
		m.metrics.CacheLookup(metrics.TierDurable, "miss")
		return nil
	}
	if e.Expired(m.now()) {
		m.metrics.CacheLookup(metrics.TierDurable, "expired")
		if err := m.durable.DeleteEntry(ctx, fingerprint); err != nil {
			m.durableFailed("delete", fingerprint, err)
		}
		return nil
	}
	m.metrics.CacheLookup(metrics.TierDurable, "hit")
	return e
}

func (m *Manager) durablePut(ctx context.Context, e *model.CacheEntry) {
	if m.durable == nil {
		return
	}
	err := m.breaker.Call(ctx, func(ctx context.Context) error {
		return resilience.Do(ctx, m.retry, func(ctx context.Context) error {
			return m.durable.PutEntry(ctx, e)
		})
	})
	if err != nil {
		m.durableFailed("put", e.Fingerprint, err)
	}
}

func (m *Manager) durableFailed(op, fingerprint string, err error) {
	m.metrics.DurableError(op)
	level := zap.WarnLevel
	if errors.Is(err, resilience.ErrBreakerOpen) || errors.Is(err, context.Canceled) {
		level = zap.DebugLevel
	}
	zap.L().Check(level, "cache: durable tier "+op+" failed").Write(
		zap.String("fingerprint", short(fingerprint)),
		zap.Error(err),
	)
}

// Invalidate drops fingerprint from both tiers.
func (m *Manager) Invalidate(ctx context.Context, fingerprint string) error {
	m.mu.Lock()
	delete(m.entries, fingerprint)
	m.mu.Unlock()
	if m.durable == nil {
		return nil
	}
	return eris.Wrap(m.durable.DeleteEntry(ctx, fingerprint), "cache: invalidate")
}

// Len returns the number of entries held in memory, expired or not.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Inflight returns the number of builds currently registered.
func (m *Manager) Inflight() int {
	m.flightMu.Lock()
	defer m.flightMu.Unlock()
	return len(m.flights)
}

func short(fingerprint string) string {
	if len(fingerprint) > 12 {
		return fingerprint[:12]
	}
	return fingerprint
}
