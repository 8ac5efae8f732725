package models

import (
	"time"

	"go.uber.org/atomic"
)

// Entry represents a value held by a cache tier.
type Entry[V any] struct {
	Key         string
	Value       V
	CreatedAt   time.Time
	ExpiresAt   time.Time
	AccessCount *atomic.Int64
}

// NewEntry creates a new Entry that expires ttl after now.
func NewEntry[V any](key string, value V, now time.Time, ttl time.Duration) *Entry[V] {
	return &Entry[V]{
		Key:         key,
		Value:       value,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		AccessCount: atomic.NewInt64(0),
	}
}

// ExpiredAt reports whether the entry is past its expiry at the given instant.
func (e *Entry[V]) ExpiredAt(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// MetadataRecord is the side-index record kept for every durable cache key.
type MetadataRecord struct {
	ExpiresAt       int64 `json:"expiresAt"`
	ApproxSizeBytes int   `json:"approxSizeBytes"`
}

// Expired reports whether the record expired before now.
func (r MetadataRecord) Expired(now time.Time) bool {
	return r.ExpiresAt < now.UnixMilli()
}
