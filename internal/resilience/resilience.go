// Package resilience composes retries and circuit breaking around remote calls.
package resilience

import (
	"context"
	"errors"

	"goflare.io/encore/internal/breaker"
	"goflare.io/encore/internal/retrier"
)

// Resilience runs operations under a retry policy, gating every attempt through the
// circuit breaker of the resource it calls.
type Resilience struct {
	retrier  *retrier.Retrier
	policy   retrier.Policy
	breakers *breaker.Registry
}

// New creates a Resilience. breakers may be nil, in which case calls are only retried.
func New(r *retrier.Retrier, policy retrier.Policy, breakers *breaker.Registry) *Resilience {
	if r == nil {
		r = retrier.NewRetrier()
	}
	return &Resilience{retrier: r, policy: policy, breakers: breakers}
}

// Policy returns the retry policy.
func (r *Resilience) Policy() retrier.Policy {
	return r.policy
}

// Breakers returns the breaker registry, which may be nil.
func (r *Resilience) Breakers() *breaker.Registry {
	return r.breakers
}

// Call runs op against resource. An open breaker rejects an attempt without calling op;
// that rejection is not retryable, so the sequence stops there.
func Call[T any](ctx context.Context, r *Resilience, resource string, op func(ctx context.Context) (T, error)) (T, error) {
	if r.breakers == nil {
		return retrier.Do(ctx, r.retrier, r.policy, op)
	}

	b := r.breakers.Get(resource)
	return retrier.Do(ctx, r.retrier, r.policy, func(ctx context.Context) (T, error) {
		v, err := breaker.Execute(b, func() (T, error) {
			return op(ctx)
		})
		if errors.Is(err, breaker.ErrOpen) {
			return v, retrier.Permanent(err)
		}
		return v, err
	})
}

// Wrap returns op with Call applied to every invocation.
func Wrap[A, T any](r *Resilience, resource string, op func(ctx context.Context, arg A) (T, error)) func(ctx context.Context, arg A) (T, error) {
	return func(ctx context.Context, arg A) (T, error) {
		return Call(ctx, r, resource, func(ctx context.Context) (T, error) {
			return op(ctx, arg)
		})
	}
}
