// Package tiered composes a fast in-memory tier and a durable tier into one cache.
package tiered

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"goflare.io/encore/internal/cache/persistent"
	"goflare.io/encore/internal/models"
)

// DefaultPromoteTTL caps how long a value lives in the fast tier.
const DefaultPromoteTTL = 5 * time.Minute

// FastTier is the in-memory tier. memory.Cache and memory.Ristretto implement it.
type FastTier interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration)
	Delete(key string) bool
	Clear()
	Cleanup() int
}

// DurableTier is the persistent tier. persistent.Store implements it.
type DurableTier interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool
	Delete(ctx context.Context, key string)
	Clear(ctx context.Context)
	Cleanup(ctx context.Context) int
	Stats() persistent.Stats
}

// Stats combines the hit/miss counters with the durable tier's view.
type Stats struct {
	models.Stats
	HitRate float64          `json:"hitRate"`
	Durable persistent.Stats `json:"durable"`
}

// CleanupResult reports how many expired entries each tier dropped.
type CleanupResult struct {
	Fast    int
	Durable int
}

// Option configures a Cache.
type Option func(*Cache)

// WithPromoteTTL overrides DefaultPromoteTTL.
func WithPromoteTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.promoteTTL = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver sets the diagnostics observer.
func WithObserver(o models.Observer) Option {
	return func(c *Cache) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithTracer replaces the global otel tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Cache) {
		if t != nil {
			c.tracer = t
		}
	}
}

// Cache is the tiered cache. Lookups try the fast tier first and promote durable hits
// into it; writes go to both tiers. Counters are updated atomically, so a Cache is
// safe for concurrent use as long as its tiers are.
type Cache struct {
	fast       FastTier
	durable    DurableTier
	promoteTTL time.Duration
	metrics    *models.Metrics

	tracer   trace.Tracer
	logger   *zap.Logger
	observer models.Observer
}

// New creates a Cache over the given tiers.
func New(fast FastTier, durable DurableTier, opts ...Option) *Cache {
	c := &Cache{
		fast:       fast,
		durable:    durable,
		promoteTTL: DefaultPromoteTTL,
		metrics:    models.NewMetrics(),
		tracer:     otel.Tracer("goflare.io/encore/tiered"),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.observer == nil {
		c.observer = models.NewLogObserver(c.logger)
	}
	return c
}

// Get returns the value for key from whichever tier holds it.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, span := c.tracer.Start(ctx, "TieredCache.Get", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	if v, ok := c.fast.Get(key); ok {
		c.metrics.Hits.Inc()
		span.SetAttributes(attribute.String("tier", "fast"))
		return v, true
	}

	if v, ok := c.durable.Get(ctx, key); ok {
		c.fast.Set(key, v, c.promoteTTL)
		c.metrics.Hits.Inc()
		span.SetAttributes(attribute.String("tier", "durable"))
		c.observer.Observe(models.Event{
			Kind:     models.EventCachePromoted,
			At:       time.Now(),
			Resource: "tiered",
			Key:      key,
		})
		return v, true
	}

	c.metrics.Misses.Inc()
	span.SetAttributes(attribute.String("tier", "none"))
	return nil, false
}

// Set writes value to the fast tier for at most the promotion cap and to the durable
// tier for the full ttl. A ttl of zero or less never expires in the durable tier.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	ctx, span := c.tracer.Start(ctx, "TieredCache.Set", trace.WithAttributes(
		attribute.String("key", key),
		attribute.Int64("ttl_ms", ttl.Milliseconds()),
	))
	defer span.End()

	c.fast.Set(key, value, c.fastTTL(ttl))
	if !c.durable.Set(ctx, key, value, ttl) {
		span.SetAttributes(attribute.Bool("durable_dropped", true))
	}
	c.metrics.Sets.Inc()
}

func (c *Cache) fastTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > c.promoteTTL {
		return c.promoteTTL
	}
	return ttl
}

// Delete removes key from both tiers.
func (c *Cache) Delete(ctx context.Context, key string) {
	ctx, span := c.tracer.Start(ctx, "TieredCache.Delete", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	c.fast.Delete(key)
	c.durable.Delete(ctx, key)
}

// Clear empties both tiers and resets the statistics.
func (c *Cache) Clear(ctx context.Context) {
	ctx, span := c.tracer.Start(ctx, "TieredCache.Clear")
	defer span.End()

	c.fast.Clear()
	c.durable.Clear(ctx)
	c.metrics.Reset()
	c.logger.Info("Cleared tiered cache")
}

// Cleanup removes expired entries from both tiers.
func (c *Cache) Cleanup(ctx context.Context) CleanupResult {
	ctx, span := c.tracer.Start(ctx, "TieredCache.Cleanup")
	defer span.End()

	res := CleanupResult{
		Fast:    c.fast.Cleanup(),
		Durable: c.durable.Cleanup(ctx),
	}
	span.SetAttributes(attribute.Int("fast_removed", res.Fast), attribute.Int("durable_removed", res.Durable))
	return res
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	s := c.metrics.Snapshot()
	return Stats{
		Stats:   s,
		HitRate: s.HitRate(),
		Durable: c.durable.Stats(),
	}
}

// Warmup promotes keys that are already in the durable tier into the fast tier and
// returns how many were found. It does not touch the hit/miss counters.
func (c *Cache) Warmup(ctx context.Context, keys []string) int {
	warmed := 0
	for _, key := range keys {
		if ctx.Err() != nil {
			break
		}
		if _, ok := c.fast.Get(key); ok {
			warmed++
			continue
		}
		v, ok := c.durable.Get(ctx, key)
		if !ok {
			c.logger.Debug("Warmup key not in durable tier", zap.String("key", key))
			continue
		}
		c.fast.Set(key, v, c.promoteTTL)
		warmed++
	}
	c.logger.Info("Warmed up fast tier", zap.Int("requested", len(keys)), zap.Int("warmed", warmed))
	return warmed
}

// Fast returns the fast tier.
func (c *Cache) Fast() FastTier {
	return c.fast
}

// Durable returns the durable tier.
func (c *Cache) Durable() DurableTier {
	return c.durable
}
