// Package memoize wraps an operation so that its successful results are served from a
// cache until they expire.
package memoize

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"goflare.io/encore/pkg/serialization"
)

// Cacher is the cache a memoized operation reads from and writes to. tiered.Cache
// implements it.
type Cacher interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// Func is an operation taking one argument.
type Func[A, T any] func(ctx context.Context, arg A) (T, error)

type options struct {
	group  *singleflight.Group
	logger *zap.Logger
	tracer trace.Tracer
}

// Option configures WithCache.
type Option func(*options)

// WithSingleflight collapses concurrent misses for the same key into one invocation of
// the operation. Callers that join an in-flight call share its result, including the
// first caller's cancellation.
func WithSingleflight(g *singleflight.Group) Option {
	return func(o *options) {
		o.group = g
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTracer replaces the global otel tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithCache returns op wrapped with cache. The key for each call is key(arg). A cached
// value is returned without invoking op; otherwise op runs and, if it succeeds, its
// result is stored for ttl. Errors are returned unchanged and never cached, and a
// cached value that fails to decode counts as a miss.
func WithCache[A, T any](
	cache Cacher,
	op func(ctx context.Context, arg A) (T, error),
	key func(A) string,
	ttl time.Duration,
	codec serialization.Codec[T],
	opts ...Option,
) Func[A, T] {
	o := options{
		logger: zap.NewNop(),
		tracer: otel.Tracer("goflare.io/encore/memoize"),
	}
	for _, opt := range opts {
		opt(&o)
	}

	m := &memoized[A, T]{cache: cache, op: op, ttl: ttl, codec: codec, options: o}

	return func(ctx context.Context, arg A) (T, error) {
		k := key(arg)
		ctx, span := o.tracer.Start(ctx, "memoize.Call", trace.WithAttributes(attribute.String("key", k)))
		defer span.End()

		if v, ok := m.lookup(ctx, k); ok {
			span.SetAttributes(attribute.Bool("cache_hit", true))
			return v, nil
		}
		span.SetAttributes(attribute.Bool("cache_hit", false))

		if o.group == nil {
			return m.compute(ctx, k, arg)
		}

		res, err, shared := o.group.Do(k, func() (any, error) {
			return m.compute(ctx, k, arg)
		})
		span.SetAttributes(attribute.Bool("shared", shared))
		if err != nil {
			var zero T
			return zero, err
		}
		v, ok := res.(T)
		if !ok {
			var zero T
			return zero, fmt.Errorf("memoize: unexpected result type %T for key %s", res, k)
		}
		return v, nil
	}
}

type memoized[A, T any] struct {
	cache Cacher
	op    Func[A, T]
	ttl   time.Duration
	codec serialization.Codec[T]
	options
}

func (m *memoized[A, T]) lookup(ctx context.Context, key string) (T, bool) {
	var zero T
	data, ok := m.cache.Get(ctx, key)
	if !ok {
		return zero, false
	}
	v, err := m.codec.Decode(data)
	if err != nil {
		m.logger.Debug("Treating undecodable cached value as a miss", zap.String("key", key), zap.Error(err))
		return zero, false
	}
	return v, true
}

func (m *memoized[A, T]) compute(ctx context.Context, key string, arg A) (T, error) {
	v, err := m.op(ctx, arg)
	if err != nil {
		return v, err
	}

	data, err := m.codec.Encode(v)
	if err != nil {
		m.logger.Warn("Failed to encode result for caching", zap.String("key", key), zap.Error(err))
		return v, nil
	}
	m.cache.Set(ctx, key, data, m.ttl)
	return v, nil
}
