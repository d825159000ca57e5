package resilience

import (
	"time"

	"github.com/sells-group/catalog-ingest/internal/config"
)

// ForCache builds the retry policy and breaker settings for the durable
// cache tier. Durable tier calls are short, so waits start small.
func ForCache(cfg config.CacheConfig) (RetryPolicy, BreakerConfig) {
	p := DefaultRetryPolicy()
	p.Attempts = cfg.DurableRetries + 1
	p.BaseDelay = 50 * time.Millisecond
	p.MaxDelay = time.Second

	b := DefaultBreakerConfig()
	if cfg.BreakerThreshold > 0 {
		b.Threshold = cfg.BreakerThreshold
	}
	if cfg.BreakerResetSecs > 0 {
		b.Cooldown = time.Duration(cfg.BreakerResetSecs) * time.Second
	}
	return p, b
}

// ForFetch builds the retry policy for remote source downloads.
func ForFetch(cfg config.FetchConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.MaxRetries >= 0 {
		p.Attempts = cfg.MaxRetries + 1
	}
	p.BaseDelay = 500 * time.Millisecond
	p.MaxDelay = 30 * time.Second
	return p
}
