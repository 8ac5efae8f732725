package models

import "go.uber.org/atomic"

// Metrics stores tiered cache statistics.
type Metrics struct {
	Hits   *atomic.Int64
	Misses *atomic.Int64
	Sets   *atomic.Int64
}

// NewMetrics creates zeroed Metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Hits:   atomic.NewInt64(0),
		Misses: atomic.NewInt64(0),
		Sets:   atomic.NewInt64(0),
	}
}

// Reset zeroes every counter.
func (m *Metrics) Reset() {
	m.Hits.Store(0)
	m.Misses.Store(0)
	m.Sets.Store(0)
}

// Snapshot returns a point-in-time copy of the counters.
func (m *Metrics) Snapshot() Stats {
	return Stats{
		Hits:   m.Hits.Load(),
		Misses: m.Misses.Load(),
		Sets:   m.Sets.Load(),
	}
}

// Stats is a snapshot of Metrics.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
}

// HitRate returns hits/(hits+misses), or 0 when nothing was looked up yet.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
