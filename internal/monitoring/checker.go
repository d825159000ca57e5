package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker periodically collects run stats and delivers alerts. An alert
// type that was delivered is not sent again until the cooldown passes,
// which is the lookback window (one hour when the window is unbounded).
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	lastSent map[AlertType]time.Time
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	cooldown := time.Duration(cfg.LookbackWindowHours) * time.Hour
	if cooldown <= 0 {
		cooldown = time.Hour
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		lookback:  cfg.LookbackWindowHours,
		cooldown:  cooldown,
		now:       time.Now,
		lastSent:  make(map[AlertType]time.Time),
	}
}

// Run checks on every tick until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("monitoring: checker started",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("monitoring: checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check runs one collection and returns the alerts it delivered.
func (c *Checker) Check(ctx context.Context) []Alert {
	stats, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		zap.L().Error("monitoring: collect run stats", zap.Error(err))
		return nil
	}

	fired := c.alerter.Evaluate(stats)
	pending := c.unsuppressed(fired)
	if len(pending) == 0 {
		zap.L().Debug("monitoring: nothing to send",
			zap.Int("fired", len(fired)),
			zap.Int("runs", stats.RunsTotal),
		)
		return nil
	}

	delivered := c.alerter.SendAlerts(ctx, pending)
	c.markSent(delivered)
	zap.L().Info("monitoring: check complete",
		zap.Int("fired", len(fired)),
		zap.Int("delivered", len(delivered)),
	)
	return delivered
}

func (c *Checker) unsuppressed(alerts []Alert) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	var out []Alert
	for _, a := range alerts {
		if last, ok := c.lastSent[a.Type]; ok && now.Sub(last) < c.cooldown {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (c *Checker) markSent(alerts []Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for _, a := range alerts {
		c.lastSent[a.Type] = now
	}
}
