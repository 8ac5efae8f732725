package retrier

import (
	"math"
	"math/rand/v2"
	"time"
)

// ExponentialBackoff multiplies the base delay by factor^attempt.
// LinearBackoff grows the delay by one base delay per attempt.
// FibonacciBackoff follows the Fibonacci sequence in units of the base delay.
const (
	ExponentialBackoff BackoffStrategy = iota
	LinearBackoff
	FibonacciBackoff
)

// DefaultJitterFactor is the fraction of a delay that may be added as jitter.
const DefaultJitterFactor = 0.1

// BackoffStrategy defines the strategy used for calculating backoff intervals.
type BackoffStrategy int

// Delay returns min(base * factor^attempt, maxDelay) for a 0-based attempt.
func Delay(attempt int, base time.Duration, factor float64, maxDelay time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(base) * math.Pow(factor, float64(attempt))
	return capDelay(d, maxDelay)
}

// WithJitter adds a uniformly random share of d, at most d*factor, to d.
// The result is never below d.
func WithJitter(d time.Duration, factor float64) time.Duration {
	return jitter(d, factor, rand.Float64())
}

func jitter(d time.Duration, factor, r float64) time.Duration {
	if d <= 0 || factor <= 0 {
		return d
	}
	return d + time.Duration(float64(d)*factor*r)
}

// backoff computes the un-jittered delay for a 0-based attempt under the policy's strategy.
func (p Policy) backoff(attempt int) time.Duration {
	switch p.Strategy {
	case LinearBackoff:
		return capDelay(float64(p.BaseDelay)*float64(attempt+1), p.MaxDelay)
	case FibonacciBackoff:
		prev, cur := 0.0, 1.0
		for range attempt {
			prev, cur = cur, prev+cur
		}
		return capDelay(float64(p.BaseDelay)*cur, p.MaxDelay)
	default:
		return Delay(attempt, p.BaseDelay, p.BackoffFactor, p.MaxDelay)
	}
}

func capDelay(d float64, maxDelay time.Duration) time.Duration {
	if math.IsNaN(d) || d >= float64(maxDelay) {
		return maxDelay
	}
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}
