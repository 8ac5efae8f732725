package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"goflare.io/encore/internal/breaker"
	"goflare.io/encore/internal/models"
	"goflare.io/encore/internal/retrier"
	"goflare.io/encore/internal/utils"
	"goflare.io/encore/pkg/serialization"
)

// Fast tier backends.
const (
	BackendLRU       = "lru"
	BackendRistretto = "ristretto"
)

// Durable media.
const (
	MediumMemory = "memory"
	MediumSQLite = "sqlite"
	MediumRedis  = "redis"
)

// Catalog categories with their own TTL.
const (
	CategorySearch   = "search"
	CategoryTrack    = "track"
	CategoryAlbum    = "album"
	CategoryArtist   = "artist"
	CategoryPlaylist = "playlist"
	CategoryUser     = "user"
)

// DefaultTTL applies to categories without a configured TTL.
const DefaultTTL = 5 * time.Minute

var (
	ErrInvalidRetry      = errors.New("invalid retry configuration")
	ErrInvalidBreaker    = errors.New("invalid breaker configuration")
	ErrInvalidCapacity   = errors.New("cache capacities must be positive")
	ErrUnknownBackend    = errors.New("unknown fast tier backend")
	ErrUnknownMedium     = errors.New("unknown durable medium")
	ErrInvalidBloom      = errors.New("invalid bloom filter configuration")
	ErrInvalidRateLimit  = errors.New("catalog rate limit must be positive")
	ErrUnknownConfigKeys = errors.New("unknown configuration keys")
)

// Config holds every tunable of the cache and resilience layers.
type Config struct {
	Retry       RetryConfig       `toml:"retry"`
	Breaker     BreakerConfig     `toml:"breaker"`
	Memory      MemoryConfig      `toml:"memory"`
	Persistent  PersistentConfig  `toml:"persistent"`
	BloomFilter BloomFilterConfig `toml:"bloom_filter"`

	CleanupInterval time.Duration            `toml:"cleanup_interval"`
	CoalesceMisses  bool                     `toml:"coalesce_misses"`
	WarmupKeys      []string                 `toml:"warmup_keys"`
	CategoryTTLs    map[string]time.Duration `toml:"category_ttls"`

	Serialization SerializationConfig `toml:"serialization"`
	Catalog       CatalogConfig       `toml:"catalog"`

	Logger   *zap.Logger     `toml:"-"`
	Observer models.Observer `toml:"-"`
}

// RetryConfig is the retry policy applied to remote calls.
type RetryConfig struct {
	MaxAttempts   int           `toml:"max_attempts"`
	BaseDelay     time.Duration `toml:"base_delay"`
	MaxDelay      time.Duration `toml:"max_delay"`
	BackoffFactor float64       `toml:"backoff_factor"`
	JitterFactor  float64       `toml:"jitter_factor"`
}

// BreakerConfig configures circuit breakers. Overrides apply per protected resource;
// zero fields in an override fall back to the top-level values.
type BreakerConfig struct {
	FailureThreshold         int                      `toml:"failure_threshold"`
	ResetTimeout             time.Duration            `toml:"reset_timeout"`
	HalfOpenSuccessThreshold int                      `toml:"half_open_success_threshold"`
	Overrides                map[string]BreakerConfig `toml:"overrides"`
}

// MemoryConfig configures the fast tier.
type MemoryConfig struct {
	MaxSize    int           `toml:"max_size"`
	Backend    string        `toml:"backend"`
	PromoteTTL time.Duration `toml:"promote_ttl"`
}

// PersistentConfig configures the durable tier.
type PersistentConfig struct {
	Medium       string      `toml:"medium"`
	MaxEntries   int         `toml:"max_entries"`
	MaxSizeBytes int         `toml:"max_size_bytes"`
	KeyPrefix    string      `toml:"key_prefix"`
	MetadataKey  string      `toml:"metadata_key"`
	SQLitePath   string      `toml:"sqlite_path"`
	Redis        RedisConfig `toml:"redis"`
}

// RedisConfig holds connection settings for the Redis medium.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// BloomFilterConfig sizes the durable tier's key filter.
type BloomFilterConfig struct {
	ExpectedItems     uint    `toml:"expected_items"`
	FalsePositiveRate float64 `toml:"false_positive_rate"`
}

// SerializationConfig selects the value codec.
type SerializationConfig struct {
	Type string `toml:"type"`
}

// CatalogConfig configures the music catalog client.
type CatalogConfig struct {
	BaseURL           string        `toml:"base_url"`
	RequestsPerSecond float64       `toml:"requests_per_second"`
	Burst             int           `toml:"burst"`
	Timeout           time.Duration `toml:"timeout"`

	TokenSource oauth2.TokenSource `toml:"-"`
}

// Option is a function type for configuring Config.
type Option func(*Config) error

// Default returns the default configuration without a logger.
func Default() *Config {
	return &Config{
		Retry: RetryConfig{
			MaxAttempts:   3,
			BaseDelay:     time.Second,
			MaxDelay:      10 * time.Second,
			BackoffFactor: 2,
			JitterFactor:  retrier.DefaultJitterFactor,
		},
		Breaker: BreakerConfig{
			FailureThreshold:         5,
			ResetTimeout:             time.Minute,
			HalfOpenSuccessThreshold: 3,
		},
		Memory: MemoryConfig{
			MaxSize:    100,
			Backend:    BackendLRU,
			PromoteTTL: 5 * time.Minute,
		},
		Persistent: PersistentConfig{
			Medium:       MediumMemory,
			MaxEntries:   500,
			MaxSizeBytes: 5 * 1024 * 1024,
			KeyPrefix:    "encore_cache_",
			MetadataKey:  "encore_cache_metadata",
			SQLitePath:   "encore_cache.db",
			Redis:        RedisConfig{Addr: "localhost:6379"},
		},
		BloomFilter: BloomFilterConfig{
			ExpectedItems:     1000,
			FalsePositiveRate: 0.01,
		},
		CleanupInterval: 10 * time.Minute,
		CoalesceMisses:  true,
		CategoryTTLs: map[string]time.Duration{
			CategorySearch:   5 * time.Minute,
			CategoryTrack:    time.Hour,
			CategoryAlbum:    24 * time.Hour,
			CategoryArtist:   24 * time.Hour,
			CategoryPlaylist: 10 * time.Minute,
			CategoryUser:     30 * time.Minute,
		},
		Serialization: SerializationConfig{Type: serialization.JSONType},
		Catalog: CatalogConfig{
			BaseURL:           "https://api.spotify.com/v1",
			RequestsPerSecond: 10,
			Burst:             5,
			Timeout:           10 * time.Second,
		},
	}
}

// NewConfig creates a default Config, applies options and validates the result.
func NewConfig(options ...Option) (*Config, error) {
	return build(Default(), options)
}

// LoadFile overlays the TOML file at path onto the defaults, then applies options.
// Durations are written as strings such as "250ms" or "24h".
func LoadFile(path string, options ...Option) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("%w: %s", ErrUnknownConfigKeys, strings.Join(keys, ", "))
	}
	return build(cfg, options)
}

func build(cfg *Config, options []Option) (*Config, error) {
	for _, option := range options {
		if err := option(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.Logger == nil {
		logger, err := zap.NewProduction()
		if err != nil {
			return nil, err
		}
		cfg.Logger = logger
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the components cannot work with.
func (c *Config) Validate() error {
	if err := c.RetryPolicy().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRetry, err)
	}
	if err := c.Breaker.validate("default"); err != nil {
		return err
	}
	for name, o := range c.Breaker.Overrides {
		if err := o.validate(name); err != nil {
			return err
		}
	}

	if c.Memory.MaxSize < 1 || c.Persistent.MaxEntries < 1 || c.Persistent.MaxSizeBytes < 1 {
		return ErrInvalidCapacity
	}
	switch c.Memory.Backend {
	case BackendLRU, BackendRistretto:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Memory.Backend)
	}
	switch c.Persistent.Medium {
	case MediumMemory, MediumSQLite, MediumRedis:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMedium, c.Persistent.Medium)
	}
	if c.BloomFilter.ExpectedItems == 0 || c.BloomFilter.FalsePositiveRate <= 0 || c.BloomFilter.FalsePositiveRate >= 1 {
		return ErrInvalidBloom
	}
	if _, err := serialization.For[any](c.Serialization.Type); err != nil {
		return err
	}
	if c.Catalog.RequestsPerSecond <= 0 || c.Catalog.Burst < 1 {
		return ErrInvalidRateLimit
	}
	return nil
}

func (b BreakerConfig) validate(name string) error {
	if b.FailureThreshold < 0 || b.ResetTimeout < 0 || b.HalfOpenSuccessThreshold < 0 {
		return fmt.Errorf("%w: breaker %s has negative values", ErrInvalidBreaker, name)
	}
	return nil
}

// RetryPolicy returns the configured retry policy with the default retry predicate.
func (c *Config) RetryPolicy() retrier.Policy {
	return retrier.Policy{
		MaxAttempts:   c.Retry.MaxAttempts,
		BaseDelay:     c.Retry.BaseDelay,
		MaxDelay:      c.Retry.MaxDelay,
		BackoffFactor: c.Retry.BackoffFactor,
		JitterFactor:  c.Retry.JitterFactor,
		Strategy:      retrier.ExponentialBackoff,
	}
}

// BreakerSettings returns the default breaker settings and the per-resource overrides.
func (c *Config) BreakerSettings() (breaker.Settings, map[string]breaker.Settings) {
	defaults := c.Breaker.settings("")
	overrides := make(map[string]breaker.Settings, len(c.Breaker.Overrides))
	for name, o := range c.Breaker.Overrides {
		s := o.settings(name)
		if s.FailureThreshold == 0 {
			s.FailureThreshold = defaults.FailureThreshold
		}
		if s.ResetTimeout == 0 {
			s.ResetTimeout = defaults.ResetTimeout
		}
		if s.HalfOpenSuccessThreshold == 0 {
			s.HalfOpenSuccessThreshold = defaults.HalfOpenSuccessThreshold
		}
		overrides[name] = s
	}
	return defaults, overrides
}

func (b BreakerConfig) settings(name string) breaker.Settings {
	return breaker.Settings{
		Name:                     name,
		FailureThreshold:         b.FailureThreshold,
		ResetTimeout:             b.ResetTimeout,
		HalfOpenSuccessThreshold: b.HalfOpenSuccessThreshold,
	}
}

// TTL returns the TTL for a catalog category.
func (c *Config) TTL(category string) time.Duration {
	return utils.ResolveTTL(c.CategoryTTLs, category, DefaultTTL)
}

// WithLogger sets a custom logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) error {
		if logger != nil {
			c.Logger = logger
		}
		return nil
	}
}

// WithRetryPolicy sets the retry attempts and backoff curve.
func WithRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration, backoffFactor float64) Option {
	return func(c *Config) error {
		c.Retry.MaxAttempts = maxAttempts
		c.Retry.BaseDelay = baseDelay
		c.Retry.MaxDelay = maxDelay
		c.Retry.BackoffFactor = backoffFactor
		return nil
	}
}

// WithJitterFactor sets the additive jitter factor.
func WithJitterFactor(f float64) Option {
	return func(c *Config) error {
		c.Retry.JitterFactor = f
		return nil
	}
}

// WithBreaker sets the default breaker thresholds.
func WithBreaker(failureThreshold int, resetTimeout time.Duration, halfOpenSuccesses int) Option {
	return func(c *Config) error {
		if failureThreshold < 1 || resetTimeout <= 0 || halfOpenSuccesses < 1 {
			return fmt.Errorf("%w: thresholds and timeout must be positive", ErrInvalidBreaker)
		}
		c.Breaker.FailureThreshold = failureThreshold
		c.Breaker.ResetTimeout = resetTimeout
		c.Breaker.HalfOpenSuccessThreshold = halfOpenSuccesses
		return nil
	}
}

// WithBreakerOverride sets breaker thresholds for one protected resource.
func WithBreakerOverride(resource string, b BreakerConfig) Option {
	return func(c *Config) error {
		if resource == "" {
			return fmt.Errorf("%w: override needs a resource name", ErrInvalidBreaker)
		}
		if c.Breaker.Overrides == nil {
			c.Breaker.Overrides = make(map[string]BreakerConfig)
		}
		b.Overrides = nil
		c.Breaker.Overrides[resource] = b
		return nil
	}
}

// WithMemorySize sets the fast tier capacity in entries.
func WithMemorySize(maxSize int) Option {
	return func(c *Config) error {
		if maxSize < 1 {
			return ErrInvalidCapacity
		}
		c.Memory.MaxSize = maxSize
		return nil
	}
}

// WithMemoryBackend selects BackendLRU or BackendRistretto.
func WithMemoryBackend(backend string) Option {
	return func(c *Config) error {
		c.Memory.Backend = backend
		return nil
	}
}

// WithPromoteTTL sets the fast tier TTL cap.
func WithPromoteTTL(d time.Duration) Option {
	return func(c *Config) error {
		c.Memory.PromoteTTL = d
		return nil
	}
}

// WithMemoryMedium keeps the durable tier in process memory.
func WithMemoryMedium() Option {
	return func(c *Config) error {
		c.Persistent.Medium = MediumMemory
		return nil
	}
}

// WithSQLite stores the durable tier in the SQLite database at path.
func WithSQLite(path string) Option {
	return func(c *Config) error {
		if path == "" {
			return errors.New("sqlite path must not be empty")
		}
		c.Persistent.Medium = MediumSQLite
		c.Persistent.SQLitePath = path
		return nil
	}
}

// WithRedis stores the durable tier in Redis.
func WithRedis(addr, password string, db int) Option {
	return func(c *Config) error {
		if addr == "" {
			return errors.New("redis address must not be empty")
		}
		c.Persistent.Medium = MediumRedis
		c.Persistent.Redis = RedisConfig{Addr: addr, Password: password, DB: db}
		return nil
	}
}

// WithDurableLimits sets the durable tier's entry and byte limits.
func WithDurableLimits(maxEntries, maxSizeBytes int) Option {
	return func(c *Config) error {
		if maxEntries < 1 || maxSizeBytes < 1 {
			return ErrInvalidCapacity
		}
		c.Persistent.MaxEntries = maxEntries
		c.Persistent.MaxSizeBytes = maxSizeBytes
		return nil
	}
}

// WithBloomFilter sizes the durable tier's key filter.
func WithBloomFilter(expectedItems uint, falsePositiveRate float64) Option {
	return func(c *Config) error {
		c.BloomFilter.ExpectedItems = expectedItems
		c.BloomFilter.FalsePositiveRate = falsePositiveRate
		return nil
	}
}

// WithCategoryTTL sets the TTL for one catalog category.
func WithCategoryTTL(category string, ttl time.Duration) Option {
	return func(c *Config) error {
		if ttl <= 0 {
			return fmt.Errorf("ttl for %s must be positive", category)
		}
		if c.CategoryTTLs == nil {
			c.CategoryTTLs = make(map[string]time.Duration)
		}
		c.CategoryTTLs[category] = ttl
		return nil
	}
}

// WithCleanupInterval sets how often expired entries are swept.
func WithCleanupInterval(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return errors.New("cleanup interval must be positive")
		}
		c.CleanupInterval = d
		return nil
	}
}

// WithCoalesceMisses toggles singleflight coalescing of concurrent misses.
func WithCoalesceMisses(enabled bool) Option {
	return func(c *Config) error {
		c.CoalesceMisses = enabled
		return nil
	}
}

// WithWarmupKeys sets keys promoted into the fast tier at start.
func WithWarmupKeys(keys ...string) Option {
	return func(c *Config) error {
		c.WarmupKeys = append([]string(nil), keys...)
		return nil
	}
}

// WithSerialization selects the value codec.
func WithSerialization(typ string) Option {
	return func(c *Config) error {
		if _, err := serialization.For[any](typ); err != nil {
			return err
		}
		c.Serialization.Type = typ
		return nil
	}
}

// WithCatalog sets the catalog base URL and request timeout.
func WithCatalog(baseURL string, timeout time.Duration) Option {
	return func(c *Config) error {
		if baseURL == "" {
			return errors.New("catalog base url must not be empty")
		}
		c.Catalog.BaseURL = strings.TrimRight(baseURL, "/")
		if timeout > 0 {
			c.Catalog.Timeout = timeout
		}
		return nil
	}
}

// WithRateLimit sets the catalog client's request rate.
func WithRateLimit(requestsPerSecond float64, burst int) Option {
	return func(c *Config) error {
		if requestsPerSecond <= 0 || burst < 1 {
			return ErrInvalidRateLimit
		}
		c.Catalog.RequestsPerSecond = requestsPerSecond
		c.Catalog.Burst = burst
		return nil
	}
}

// WithTokenSource authorizes catalog requests with bearer tokens from ts.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Config) error {
		c.Catalog.TokenSource = ts
		return nil
	}
}

// WithObserver receives diagnostics events from every component, in addition to the log.
func WithObserver(o models.Observer) Option {
	return func(c *Config) error {
		c.Observer = o
		return nil
	}
}
