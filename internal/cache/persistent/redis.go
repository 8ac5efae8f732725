package persistent

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisMedium stores each value as a Redis string. Value sizes are mirrored in a hash
// under sizesKey so the quota can be checked without reading values back.
type RedisMedium struct {
	client   redis.Cmdable
	sizesKey string
	maxBytes int
}

// NewRedisMedium wraps client. sizesKey names the hash used for quota accounting.
func NewRedisMedium(client redis.Cmdable, sizesKey string, maxBytes int) *RedisMedium {
	return &RedisMedium{client: client, sizesKey: sizesKey, maxBytes: maxBytes}
}

func (m *RedisMedium) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := m.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s from redis: %w", key, err)
	}
	return value, nil
}

func (m *RedisMedium) Set(ctx context.Context, key string, value []byte) error {
	size := len(key) + len(value)

	if m.maxBytes > 0 {
		sizes, err := m.client.HGetAll(ctx, m.sizesKey).Result()
		if err != nil {
			return fmt.Errorf("failed to read redis cache sizes: %w", err)
		}
		used := 0
		for k, v := range sizes {
			if k == key {
				continue
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				continue
			}
			used += n
		}
		if used+size > m.maxBytes {
			return ErrQuotaExceeded
		}
	}

	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, value, 0)
		pipe.HSet(ctx, m.sizesKey, key, size)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set key %s in redis: %w", key, err)
	}
	return nil
}

func (m *RedisMedium) Delete(ctx context.Context, key string) error {
	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HDel(ctx, m.sizesKey, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete key %s from redis: %w", key, err)
	}
	return nil
}

// Keys scans for keys starting with prefix.
func (m *RedisMedium) Keys(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := m.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan redis keys: %w", err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

// Close closes the underlying client when it owns a connection pool.
func (m *RedisMedium) Close() error {
	if closer, ok := m.client.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
