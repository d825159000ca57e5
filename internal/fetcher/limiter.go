package fetcher

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	speedupFactor = 1.2
	backoffFactor = 0.5
)

// hostLimiter paces requests to one host. The rate climbs after each
// successful download and halves on 429, staying between a quarter and
// twice the configured rate.
type hostLimiter struct {
	host string
	lim  *rate.Limiter

	mu      sync.Mutex
	cur     rate.Limit
	floor   rate.Limit
	ceiling rate.Limit
}

func newHostLimiter(host string, perSec float64) *hostLimiter {
	burst := max(int(perSec), 1)
	r := rate.Limit(perSec)
	return &hostLimiter{
		host:    host,
		lim:     rate.NewLimiter(r, burst),
		cur:     r,
		floor:   r / 4,
		ceiling: r * 2,
	}
}

func (h *hostLimiter) wait(ctx context.Context) error {
	return h.lim.Wait(ctx)
}

func (h *hostLimiter) speedUp() {
	h.scale(speedupFactor)
}

func (h *hostLimiter) backOff() {
	r := h.scale(backoffFactor)
	zap.L().Warn("fetcher: host rate limited, slowing down",
		zap.String("host", h.host),
		zap.Float64("per_sec", float64(r)),
	)
}

func (h *hostLimiter) scale(f float64) rate.Limit {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cur = min(max(h.cur*rate.Limit(f), h.floor), h.ceiling)
	h.lim.SetLimit(h.cur)
	return h.cur
}

func (h *hostLimiter) limit() rate.Limit {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cur
}
