package tiered

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultCleanupInterval is how often the Janitor sweeps by default.
const DefaultCleanupInterval = 10 * time.Minute

// Janitor periodically removes expired entries from a Cache.
type Janitor struct {
	cache    *Cache
	interval time.Duration
	logger   *zap.Logger
}

// NewJanitor creates a Janitor for cache. A non-positive interval uses DefaultCleanupInterval.
func NewJanitor(cache *Cache, interval time.Duration, logger *zap.Logger) *Janitor {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{cache: cache, interval: interval, logger: logger}
}

// Run sweeps on every tick until ctx is canceled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			res := j.cache.Cleanup(ctx)
			j.logger.Debug("Cache cleanup finished",
				zap.Int("fast_removed", res.Fast),
				zap.Int("durable_removed", res.Durable),
			)
		case <-ctx.Done():
			j.logger.Info("Stopping cache janitor due to context cancellation")
			return
		}
	}
}
