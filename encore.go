// Package encore wires the resilience and caching layers of a music catalog client.
//
// An Encore owns a tiered cache (a bounded in-memory tier over a durable, quota-aware
// store), one circuit breaker per remote resource, a retrier, and a catalog service that
// composes all of them. Cached and Protect expose the same composition for arbitrary
// operations.
package encore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"goflare.io/encore/internal/breaker"
	"goflare.io/encore/internal/cache/memory"
	"goflare.io/encore/internal/cache/persistent"
	"goflare.io/encore/internal/cache/tiered"
	"goflare.io/encore/internal/catalog"
	"goflare.io/encore/internal/config"
	"goflare.io/encore/internal/memoize"
	"goflare.io/encore/internal/models"
	"goflare.io/encore/internal/resilience"
	"goflare.io/encore/internal/retrier"
	"goflare.io/encore/pkg/serialization"
)

// Option configures an Encore.
type Option func(*config.Config) error

// WithLogger sets a custom logger.
func WithLogger(logger *zap.Logger) Option {
	return Option(config.WithLogger(logger))
}

// WithObserver receives every diagnostics event in addition to the log.
func WithObserver(o models.Observer) Option {
	return Option(config.WithObserver(o))
}

// WithRetryPolicy sets the retry attempts and backoff curve for remote calls.
func WithRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration, backoffFactor float64) Option {
	return Option(config.WithRetryPolicy(maxAttempts, baseDelay, maxDelay, backoffFactor))
}

// WithBreaker sets the circuit breaker thresholds shared by all remote resources.
func WithBreaker(failureThreshold int, resetTimeout time.Duration, halfOpenSuccesses int) Option {
	return Option(config.WithBreaker(failureThreshold, resetTimeout, halfOpenSuccesses))
}

// WithMemorySize sets the fast tier capacity in entries.
func WithMemorySize(maxSize int) Option {
	return Option(config.WithMemorySize(maxSize))
}

// WithMemoryBackend selects the fast tier implementation: "lru" or "ristretto".
func WithMemoryBackend(backend string) Option {
	return Option(config.WithMemoryBackend(backend))
}

// WithSQLite stores the durable tier in the SQLite database at path.
func WithSQLite(path string) Option {
	return Option(config.WithSQLite(path))
}

// WithRedis stores the durable tier in Redis.
func WithRedis(addr, password string, db int) Option {
	return Option(config.WithRedis(addr, password, db))
}

// WithDurableLimits bounds the durable tier by entry count and bytes.
func WithDurableLimits(maxEntries, maxSizeBytes int) Option {
	return Option(config.WithDurableLimits(maxEntries, maxSizeBytes))
}

// WithCategoryTTL sets the TTL for one catalog category.
func WithCategoryTTL(category string, ttl time.Duration) Option {
	return Option(config.WithCategoryTTL(category, ttl))
}

// WithCleanupInterval sets how often expired entries are swept.
func WithCleanupInterval(d time.Duration) Option {
	return Option(config.WithCleanupInterval(d))
}

// WithCoalesceMisses toggles collapsing of concurrent misses for the same key.
func WithCoalesceMisses(enabled bool) Option {
	return Option(config.WithCoalesceMisses(enabled))
}

// WithWarmupKeys promotes keys from the durable tier at start.
func WithWarmupKeys(keys ...string) Option {
	return Option(config.WithWarmupKeys(keys...))
}

// WithSerialization selects the codec for cached values: "json" or "gob".
func WithSerialization(typ string) Option {
	return Option(config.WithSerialization(typ))
}

// WithCatalog points the catalog client at baseURL.
func WithCatalog(baseURL string, timeout time.Duration) Option {
	return Option(config.WithCatalog(baseURL, timeout))
}

// WithTokenSource authorizes catalog requests with bearer tokens from ts.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return Option(config.WithTokenSource(ts))
}

// Encore is the composition root. It is safe for concurrent use.
type Encore struct {
	cfg      *config.Config
	logger   *zap.Logger
	observer models.Observer

	cache      *tiered.Cache
	closeFast  func()
	durable    *persistent.Store
	breakers   *breaker.Registry
	resilience *resilience.Resilience
	catalog    *catalog.Service

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// New builds an Encore from the defaults and opts.
func New(ctx context.Context, opts ...Option) (*Encore, error) {
	options := make([]config.Option, len(opts))
	for i, opt := range opts {
		options[i] = config.Option(opt)
	}
	cfg, err := config.NewConfig(options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create config: %w", err)
	}
	return NewWithConfig(ctx, cfg)
}

// NewWithConfig builds an Encore from a complete configuration, such as one returned by
// config.LoadFile. It opens the durable medium, starts the cleanup janitor and runs the
// configured warmup before returning.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Encore, error) {
	if cfg == nil {
		return nil, errors.New("encore: nil config")
	}
	if cfg.Logger == nil {
		logger, err := zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize default logger: %w", err)
		}
		cfg.Logger = logger
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Encore{cfg: cfg, logger: cfg.Logger}
	e.observer = models.NewLogObserver(e.logger)
	if cfg.Observer != nil {
		e.observer = models.MultiObserver{e.observer, cfg.Observer}
	}

	medium, err := newMedium(ctx, cfg)
	if err != nil {
		return nil, err
	}

	e.durable, err = persistent.New(ctx, medium, persistent.Config{
		KeyPrefix:              cfg.Persistent.KeyPrefix,
		MetadataKey:            cfg.Persistent.MetadataKey,
		MaxEntries:             cfg.Persistent.MaxEntries,
		BloomExpectedItems:     cfg.BloomFilter.ExpectedItems,
		BloomFalsePositiveRate: cfg.BloomFilter.FalsePositiveRate,
	}, persistent.WithLogger(e.logger), persistent.WithObserver(e.observer))
	if err != nil {
		_ = medium.Close()
		return nil, fmt.Errorf("failed to open durable cache: %w", err)
	}

	fast, closeFast, err := newFastTier(cfg)
	if err != nil {
		_ = e.durable.Close()
		return nil, err
	}
	e.closeFast = closeFast

	e.cache = tiered.New(fast, e.durable,
		tiered.WithPromoteTTL(cfg.Memory.PromoteTTL),
		tiered.WithLogger(e.logger),
		tiered.WithObserver(e.observer),
	)

	defaults, overrides := cfg.BreakerSettings()
	e.breakers = breaker.NewRegistry(defaults, overrides, e.logger, e.observer)
	e.resilience = resilience.New(
		retrier.NewRetrier(retrier.WithLogger(e.logger), retrier.WithObserver(cfg.Observer)),
		cfg.RetryPolicy(),
		e.breakers,
	)

	client := catalog.NewClient(cfg.Catalog.BaseURL,
		catalog.WithTimeout(cfg.Catalog.Timeout),
		catalog.WithRateLimit(cfg.Catalog.RequestsPerSecond, cfg.Catalog.Burst),
		catalog.WithTokenSource(cfg.Catalog.TokenSource),
		catalog.WithClientLogger(e.logger),
	)
	e.catalog, err = catalog.NewService(client, e.cache, e.resilience,
		catalog.WithTTLs(cfg.CategoryTTLs),
		catalog.WithSerialization(cfg.Serialization.Type),
		catalog.WithCoalescing(cfg.CoalesceMisses),
		catalog.WithLogger(e.logger),
	)
	if err != nil {
		e.closeFast()
		_ = e.durable.Close()
		return nil, err
	}

	if len(cfg.WarmupKeys) > 0 {
		e.cache.Warmup(ctx, cfg.WarmupKeys)
	}

	janitorCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	janitor := tiered.NewJanitor(e.cache, cfg.CleanupInterval, e.logger)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		janitor.Run(janitorCtx)
	}()

	e.logger.Info("Encore initialized",
		zap.String("medium", cfg.Persistent.Medium),
		zap.String("backend", cfg.Memory.Backend),
		zap.Int("durable_entries", e.durable.Len()),
	)
	return e, nil
}

func newMedium(ctx context.Context, cfg *config.Config) (persistent.Medium, error) {
	p := cfg.Persistent
	switch p.Medium {
	case config.MediumMemory:
		return persistent.NewMemoryMedium(p.MaxSizeBytes), nil
	case config.MediumSQLite:
		m, err := persistent.NewSQLiteMedium(p.SQLitePath, p.MaxSizeBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite cache: %w", err)
		}
		return m, nil
	case config.MediumRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     p.Redis.Addr,
			Password: p.Redis.Password,
			DB:       p.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		return persistent.NewRedisMedium(client, p.MetadataKey+"_sizes", p.MaxSizeBytes), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownMedium, p.Medium)
	}
}

func newFastTier(cfg *config.Config) (tiered.FastTier, func(), error) {
	switch cfg.Memory.Backend {
	case config.BackendRistretto:
		r, err := memory.NewRistretto[[]byte](cfg.Memory.MaxSize, cfg.Logger)
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	default:
		return memory.New[[]byte](cfg.Memory.MaxSize), func() {}, nil
	}
}

// Catalog returns the cached, resilient catalog service.
func (e *Encore) Catalog() *catalog.Service {
	return e.catalog
}

// Cache returns the tiered cache.
func (e *Encore) Cache() *tiered.Cache {
	return e.cache
}

// Config returns the effective configuration.
func (e *Encore) Config() *config.Config {
	return e.cfg
}

// TTL returns the configured TTL for a catalog category.
func (e *Encore) TTL(category string) time.Duration {
	return e.cfg.TTL(category)
}

// Stats returns the cache counters.
func (e *Encore) Stats() tiered.Stats {
	return e.cache.Stats()
}

// Breakers returns the state of every circuit breaker used so far.
func (e *Encore) Breakers() []breaker.Snapshot {
	return e.breakers.Snapshots()
}

// Cleanup removes expired entries from both tiers now.
func (e *Encore) Cleanup(ctx context.Context) tiered.CleanupResult {
	return e.cache.Cleanup(ctx)
}

// Clear removes every entry from both tiers and resets the counters.
func (e *Encore) Clear(ctx context.Context) {
	e.cache.Clear(ctx)
}

// Close stops the janitor and releases both tiers. It is safe to call more than once.
func (e *Encore) Close() error {
	e.closeOnce.Do(func() {
		e.cancel()
		e.wg.Wait()
		e.closeFast()
		e.closeErr = e.durable.Close()
	})
	return e.closeErr
}

// Cached wraps op with the tiered cache: results are stored under key(arg) for the TTL
// of category, and errors are never cached. Concurrent misses are collapsed when the
// configuration enables coalescing.
func Cached[A, T any](e *Encore, category string, op func(ctx context.Context, arg A) (T, error), key func(A) string) (func(ctx context.Context, arg A) (T, error), error) {
	codec, err := serialization.For[T](e.cfg.Serialization.Type)
	if err != nil {
		return nil, err
	}
	opts := []memoize.Option{memoize.WithLogger(e.logger)}
	if e.cfg.CoalesceMisses {
		opts = append(opts, memoize.WithSingleflight(&singleflight.Group{}))
	}
	return memoize.WithCache(e.cache, op, key, e.cfg.TTL(category), codec, opts...), nil
}

// Resilient runs op under the retry policy, guarded by the circuit breaker for resource.
func Resilient[T any](ctx context.Context, e *Encore, resource string, op func(ctx context.Context) (T, error)) (T, error) {
	return resilience.Call(ctx, e.resilience, resource, op)
}

// Protect returns op with Resilient applied to every call.
func Protect[A, T any](e *Encore, resource string, op func(ctx context.Context, arg A) (T, error)) func(ctx context.Context, arg A) (T, error) {
	return resilience.Wrap(e.resilience, resource, op)
}
