package tiered

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goflare.io/encore/internal/cache/memory"
	"goflare.io/encore/internal/cache/persistent"
	"goflare.io/encore/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	cache   *Cache
	fast    *memory.Cache[[]byte]
	durable *persistent.Store
	clock   *fakeClock
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	fast := memory.New[[]byte](10, memory.WithClock(clock.Now))
	durable, err := persistent.New(context.Background(), persistent.NewMemoryMedium(0),
		persistent.DefaultConfig(), persistent.WithClock(clock.Now))
	require.NoError(t, err)

	return fixture{
		cache:   New(fast, durable, opts...),
		fast:    fast,
		durable: durable,
		clock:   clock,
	}
}

func TestCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.cache.Set(ctx, "track:1", []byte(`"So What"`), time.Hour)

	got, ok := f.cache.Get(ctx, "track:1")
	require.True(t, ok)
	require.Equal(t, []byte(`"So What"`), got)

	_, ok = f.fast.Get("track:1")
	require.True(t, ok)
	_, ok = f.durable.Get(ctx, "track:1")
	require.True(t, ok)
}

func TestCachePromotesDurableHits(t *testing.T) {
	ctx := context.Background()
	events := &eventLog{}
	f := newFixture(t, WithObserver(events))

	require.True(t, f.durable.Set(ctx, "album:1", []byte(`{"name":"Kind of Blue"}`), 24*time.Hour))
	_, ok := f.fast.Get("album:1")
	require.False(t, ok)

	got, ok := f.cache.Get(ctx, "album:1")
	require.True(t, ok)
	require.Equal(t, []byte(`{"name":"Kind of Blue"}`), got)

	promoted, ok := f.fast.Get("album:1")
	require.True(t, ok, "durable hit is copied into the fast tier")
	require.Equal(t, got, promoted)
	require.Equal(t, []models.EventKind{models.EventCachePromoted}, events.kinds())

	f.clock.Advance(DefaultPromoteTTL + time.Second)
	_, ok = f.fast.Get("album:1")
	require.False(t, ok, "promoted copies live at most the promotion cap")
}

func TestCacheFastTierTTLIsCapped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.cache.Set(ctx, "artist:1", []byte(`1`), 24*time.Hour)
	f.cache.Set(ctx, "search:x", []byte(`2`), time.Minute)

	f.clock.Advance(2 * time.Minute)
	_, ok := f.fast.Get("search:x")
	require.False(t, ok, "short ttl is kept in the fast tier")
	_, ok = f.cache.Get(ctx, "search:x")
	require.False(t, ok)

	f.clock.Advance(4 * time.Minute)
	_, ok = f.fast.Get("artist:1")
	require.False(t, ok)
	_, ok = f.durable.Get(ctx, "artist:1")
	require.True(t, ok, "durable tier keeps the full ttl")

	_, ok = f.cache.Get(ctx, "artist:1")
	require.True(t, ok)
}

func TestCacheStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.cache.Set(ctx, "a", []byte(`1`), time.Hour)
	f.cache.Set(ctx, "b", []byte(`2`), time.Hour)
	f.cache.Get(ctx, "a")
	f.cache.Get(ctx, "b")
	f.cache.Get(ctx, "a")
	f.cache.Get(ctx, "missing")

	st := f.cache.Stats()
	require.EqualValues(t, 3, st.Hits)
	require.EqualValues(t, 1, st.Misses)
	require.EqualValues(t, 2, st.Sets)
	require.InDelta(t, 0.75, st.HitRate, 1e-9)
	require.Equal(t, 2, st.Durable.Entries)

	f.cache.Clear(ctx)
	st = f.cache.Stats()
	require.Zero(t, st.Hits)
	require.Zero(t, st.Misses)
	require.Zero(t, st.Sets)
	require.Zero(t, st.HitRate)
	require.Zero(t, st.Durable.Entries)

	_, ok := f.cache.Get(ctx, "a")
	require.False(t, ok)
}

func TestCacheDeleteAndCleanup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.cache.Set(ctx, "a", []byte(`1`), time.Hour)
	f.cache.Delete(ctx, "a")
	_, ok := f.fast.Get("a")
	require.False(t, ok)
	_, ok = f.durable.Get(ctx, "a")
	require.False(t, ok)

	f.cache.Set(ctx, "short", []byte(`1`), time.Second)
	f.cache.Set(ctx, "long", []byte(`1`), time.Hour)
	f.clock.Advance(2 * time.Second)

	res := f.cache.Cleanup(ctx)
	require.Equal(t, CleanupResult{Fast: 1, Durable: 1}, res)
	require.Equal(t, 1, f.fast.Len())
	require.Equal(t, 1, f.durable.Len())
}

func TestCacheWarmup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.True(t, f.durable.Set(ctx, "playlist:1", []byte(`[]`), time.Hour))
	require.True(t, f.durable.Set(ctx, "playlist:2", []byte(`[]`), time.Hour))

	require.Equal(t, 2, f.cache.Warmup(ctx, []string{"playlist:1", "playlist:2", "playlist:3"}))
	require.Equal(t, 2, f.fast.Len())
	require.Zero(t, f.cache.Stats().Hits)
}

func TestCacheWithRistrettoFastTier(t *testing.T) {
	ctx := context.Background()
	fast, err := memory.NewRistretto[[]byte](100, nil)
	require.NoError(t, err)
	defer fast.Close()
	durable, err := persistent.New(ctx, persistent.NewMemoryMedium(0), persistent.DefaultConfig())
	require.NoError(t, err)

	c := New(fast, durable)
	require.True(t, durable.Set(ctx, "k", []byte(`"v"`), time.Hour))

	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	require.Equal(t, []byte(`"v"`), got)

	got, ok = fast.Get("k")
	require.True(t, ok)
	require.Equal(t, []byte(`"v"`), got)
}

func TestCacheConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("k%d", i%25)
				if i%3 == 0 {
					f.cache.Set(ctx, key, []byte(`1`), time.Hour)
				} else {
					f.cache.Get(ctx, key)
				}
			}
		}(w)
	}
	wg.Wait()

	st := f.cache.Stats()
	require.EqualValues(t, 8*34, st.Sets)
	require.EqualValues(t, 8*66, st.Hits+st.Misses)
}

func TestJanitor(t *testing.T) {
	fast := memory.New[[]byte](10)
	durable, err := persistent.New(context.Background(), persistent.NewMemoryMedium(0), persistent.DefaultConfig())
	require.NoError(t, err)
	c := New(fast, durable)

	ctx, cancel := context.WithCancel(context.Background())
	c.Set(ctx, "gone", []byte(`1`), 5*time.Millisecond)
	c.Set(ctx, "kept", []byte(`1`), time.Hour)

	done := make(chan struct{})
	go func() {
		NewJanitor(c, 10*time.Millisecond, nil).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return fast.Len() == 1 && durable.Len() == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop after cancellation")
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []models.Event
}

func (l *eventLog) Observe(e models.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) kinds() []models.EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.EventKind
	for _, e := range l.events {
		out = append(out, e.Kind)
	}
	return out
}
