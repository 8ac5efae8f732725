package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"goflare.io/encore/internal/retrier"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg, err := NewConfig(WithLogger(zap.NewNop()))
	require.NoError(t, err)

	p := cfg.RetryPolicy()
	require.Equal(t, 3, p.MaxAttempts)
	require.Equal(t, time.Second, p.BaseDelay)
	require.Equal(t, 10*time.Second, p.MaxDelay)
	require.Equal(t, 2.0, p.BackoffFactor)
	require.Equal(t, retrier.DefaultJitterFactor, p.JitterFactor)

	defaults, overrides := cfg.BreakerSettings()
	require.Equal(t, 5, defaults.FailureThreshold)
	require.Equal(t, time.Minute, defaults.ResetTimeout)
	require.Equal(t, 3, defaults.HalfOpenSuccessThreshold)
	require.Empty(t, overrides)

	require.Equal(t, 100, cfg.Memory.MaxSize)
	require.Equal(t, 500, cfg.Persistent.MaxEntries)
	require.Equal(t, 5*1024*1024, cfg.Persistent.MaxSizeBytes)
	require.Equal(t, 10*time.Minute, cfg.CleanupInterval)
	require.True(t, cfg.CoalesceMisses)

	require.Equal(t, 5*time.Minute, cfg.TTL(CategorySearch))
	require.Equal(t, time.Hour, cfg.TTL(CategoryTrack))
	require.Equal(t, 24*time.Hour, cfg.TTL(CategoryAlbum))
	require.Equal(t, 10*time.Minute, cfg.TTL(CategoryPlaylist))
	require.Equal(t, DefaultTTL, cfg.TTL("podcast"))
}

func TestOptions(t *testing.T) {
	cfg, err := NewConfig(
		WithLogger(zap.NewNop()),
		WithRetryPolicy(5, 100*time.Millisecond, time.Second, 3),
		WithBreaker(2, 30*time.Second, 1),
		WithBreakerOverride("search", BreakerConfig{FailureThreshold: 10}),
		WithSQLite("/tmp/encore.db"),
		WithMemoryBackend(BackendRistretto),
		WithCategoryTTL(CategorySearch, time.Minute),
		WithWarmupKeys("track:1", "album:2"),
		WithRateLimit(2, 1),
	)
	require.NoError(t, err)

	require.Equal(t, 5, cfg.RetryPolicy().MaxAttempts)
	require.Equal(t, MediumSQLite, cfg.Persistent.Medium)
	require.Equal(t, "/tmp/encore.db", cfg.Persistent.SQLitePath)
	require.Equal(t, time.Minute, cfg.TTL(CategorySearch))
	require.Equal(t, []string{"track:1", "album:2"}, cfg.WarmupKeys)

	defaults, overrides := cfg.BreakerSettings()
	require.Equal(t, 2, defaults.FailureThreshold)
	search := overrides["search"]
	require.Equal(t, "search", search.Name)
	require.Equal(t, 10, search.FailureThreshold)
	require.Equal(t, 30*time.Second, search.ResetTimeout, "zero override fields inherit the defaults")
	require.Equal(t, 1, search.HalfOpenSuccessThreshold)
}

func TestOptionErrors(t *testing.T) {
	tests := []struct {
		name   string
		option Option
		want   error
	}{
		{name: "zero attempts", option: WithRetryPolicy(0, time.Second, time.Second, 2), want: ErrInvalidRetry},
		{name: "shrinking backoff", option: WithRetryPolicy(3, time.Second, 10*time.Second, 0.5), want: ErrInvalidRetry},
		{name: "jitter above one", option: WithJitterFactor(2), want: ErrInvalidRetry},
		{name: "breaker threshold", option: WithBreaker(0, time.Second, 1), want: ErrInvalidBreaker},
		{name: "memory size", option: WithMemorySize(0), want: ErrInvalidCapacity},
		{name: "durable limits", option: WithDurableLimits(10, 0), want: ErrInvalidCapacity},
		{name: "backend", option: WithMemoryBackend("arc"), want: ErrUnknownBackend},
		{name: "bloom", option: WithBloomFilter(0, 0.01), want: ErrInvalidBloom},
		{name: "rate limit", option: WithRateLimit(0, 1), want: ErrInvalidRateLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConfig(WithLogger(zap.NewNop()), tt.option)
			require.ErrorIs(t, err, tt.want)
		})
	}

	_, err := NewConfig(WithSerialization("msgpack"))
	require.ErrorContains(t, err, "msgpack")
}

func TestLoadFile(t *testing.T) {
	t.Run("overlays defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "encore.toml")
		require.NoError(t, os.WriteFile(path, []byte(`
coalesce_misses = false
warmup_keys = ["search:miles davis"]

[retry]
max_attempts = 4
base_delay = "250ms"

[breaker.overrides.tracks]
failure_threshold = 2

[persistent]
medium = "sqlite"
sqlite_path = "cache.db"

[category_ttls]
search = "90s"
`), 0o644))

		cfg, err := LoadFile(path, WithLogger(zap.NewNop()))
		require.NoError(t, err)

		require.Equal(t, 4, cfg.Retry.MaxAttempts)
		require.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
		require.Equal(t, 10*time.Second, cfg.Retry.MaxDelay, "unset keys keep their defaults")
		require.False(t, cfg.CoalesceMisses)
		require.Equal(t, []string{"search:miles davis"}, cfg.WarmupKeys)
		require.Equal(t, MediumSQLite, cfg.Persistent.Medium)
		require.Equal(t, "cache.db", cfg.Persistent.SQLitePath)
		require.Equal(t, 90*time.Second, cfg.TTL(CategorySearch))
		require.Equal(t, time.Hour, cfg.TTL(CategoryTrack))

		_, overrides := cfg.BreakerSettings()
		require.Equal(t, 2, overrides["tracks"].FailureThreshold)
	})

	t.Run("rejects unknown keys", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "encore.toml")
		require.NoError(t, os.WriteFile(path, []byte("[retry]\nmax_retries = 4\n"), 0o644))

		_, err := LoadFile(path, WithLogger(zap.NewNop()))
		require.ErrorIs(t, err, ErrUnknownConfigKeys)
		require.ErrorContains(t, err, "retry.max_retries")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "nope.toml"))
		require.Error(t, err)
	})

	t.Run("invalid values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "encore.toml")
		require.NoError(t, os.WriteFile(path, []byte("[persistent]\nmedium = \"s3\"\n"), 0o644))

		_, err := LoadFile(path, WithLogger(zap.NewNop()))
		require.ErrorIs(t, err, ErrUnknownMedium)
	})
}
