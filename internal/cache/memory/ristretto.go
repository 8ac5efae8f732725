package memory

import (
	"fmt"
	"math"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

// Ristretto is a fast tier backed by ristretto. Admission is TinyLFU based, so it offers
// no exact LRU guarantee; use Cache when eviction order matters.
type Ristretto[V any] struct {
	cache  *ristretto.Cache
	logger *zap.Logger
}

// NewRistretto creates a Ristretto tier sized for maxSize entries of unit cost.
func NewRistretto[V any](maxSize int, logger *zap.Logger) (*Ristretto[V], error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxSize < 1 {
		maxSize = 1
	}
	numCounters := int64(math.Min(float64(10*maxSize), float64(math.MaxInt64)))

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     int64(maxSize),
		BufferItems: 64,

		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Ristretto cache: %w", err)
	}

	return &Ristretto[V]{cache: c, logger: logger}, nil
}

// Get returns the value for key.
func (r *Ristretto[V]) Get(key string) (V, bool) {
	var zero V
	value, found := r.cache.Get(key)
	if !found {
		return zero, false
	}
	v, ok := value.(V)
	if !ok {
		r.logger.Error("Invalid cache entry type", zap.String("key", key))
		r.cache.Del(key)
		return zero, false
	}
	return v, true
}

// Set stores value for ttl. A ttl of zero or less never expires. The write is visible
// to Get once Set returns, unless ristretto's admission policy dropped it.
func (r *Ristretto[V]) Set(key string, value V, ttl time.Duration) {
	if ttl < 0 {
		ttl = 0
	}
	if !r.cache.SetWithTTL(key, value, 1, ttl) {
		r.logger.Debug("Ristretto SetWithTTL dropped", zap.String("key", key))
		return
	}
	r.cache.Wait()
}

// Delete removes key. Ristretto cannot report presence, so the result is always true.
func (r *Ristretto[V]) Delete(key string) bool {
	r.cache.Del(key)
	return true
}

// Clear removes every entry.
func (r *Ristretto[V]) Clear() {
	r.cache.Clear()
}

// Cleanup is a no-op: ristretto expires entries on its own schedule.
func (r *Ristretto[V]) Cleanup() int {
	return 0
}

// Close stops ristretto's background goroutines.
func (r *Ristretto[V]) Close() {
	r.cache.Close()
}
