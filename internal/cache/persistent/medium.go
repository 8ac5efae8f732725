package persistent

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrNotFound is returned by a Medium when no value is stored under a key.
	ErrNotFound = errors.New("persistent: key not found")
	// ErrQuotaExceeded is returned by a Medium when a write would exceed its byte quota.
	ErrQuotaExceeded = errors.New("persistent: storage quota exceeded")
)

// Medium is a durable byte store with a hard capacity limit.
type Medium interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Scanner is implemented by media that can enumerate their keys.
type Scanner interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// MemoryMedium keeps values in process memory. It is the default medium and the one
// used by tests; nothing survives a restart.
type MemoryMedium struct {
	mu       sync.Mutex
	maxBytes int
	used     int
	data     map[string][]byte
}

// NewMemoryMedium creates a MemoryMedium holding at most maxBytes of keys and values.
// A maxBytes of zero or less disables the quota.
func NewMemoryMedium(maxBytes int) *MemoryMedium {
	return &MemoryMedium{
		maxBytes: maxBytes,
		data:     make(map[string][]byte),
	}
}

func (m *MemoryMedium) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryMedium) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	size := len(key) + len(value)
	old, exists := m.data[key]
	used := m.used
	if exists {
		used -= len(key) + len(old)
	}
	if m.maxBytes > 0 && used+size > m.maxBytes {
		return ErrQuotaExceeded
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	m.data[key] = stored
	m.used = used + size
	return nil
}

func (m *MemoryMedium) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.data[key]; ok {
		m.used -= len(key) + len(old)
		delete(m.data, key)
	}
	return nil
}

// Keys returns the stored keys starting with prefix, sorted.
func (m *MemoryMedium) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Used returns the bytes currently accounted against the quota.
func (m *MemoryMedium) Used() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}

func (m *MemoryMedium) Close() error {
	return nil
}
