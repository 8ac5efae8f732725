package retrier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDelay(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		base    time.Duration
		factor  float64
		max     time.Duration
		want    time.Duration
	}{
		{name: "first attempt is the base delay", attempt: 0, base: 100 * time.Millisecond, factor: 2, max: time.Second, want: 100 * time.Millisecond},
		{name: "second attempt doubles", attempt: 1, base: 100 * time.Millisecond, factor: 2, max: time.Second, want: 200 * time.Millisecond},
		{name: "third attempt quadruples", attempt: 2, base: 100 * time.Millisecond, factor: 2, max: time.Second, want: 400 * time.Millisecond},
		{name: "capped at max delay", attempt: 4, base: 100 * time.Millisecond, factor: 2, max: time.Second, want: time.Second},
		{name: "factor of one is constant", attempt: 5, base: 50 * time.Millisecond, factor: 1, max: time.Second, want: 50 * time.Millisecond},
		{name: "huge attempt does not overflow", attempt: 5000, base: time.Second, factor: 3, max: time.Minute, want: time.Minute},
		{name: "negative attempt treated as zero", attempt: -3, base: 10 * time.Millisecond, factor: 2, max: time.Second, want: 10 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Delay(tt.attempt, tt.base, tt.factor, tt.max))
		})
	}
}

func TestWithJitter(t *testing.T) {
	t.Run("stays within [d, d*1.1) for the default factor", func(t *testing.T) {
		d := 200 * time.Millisecond
		upper := d + time.Duration(float64(d)*DefaultJitterFactor)
		for range 1000 {
			got := WithJitter(d, DefaultJitterFactor)
			require.GreaterOrEqual(t, got, d)
			require.Less(t, got, upper)
		}
	})

	t.Run("bounds of the random draw", func(t *testing.T) {
		d := time.Second
		require.Equal(t, d, jitter(d, 0.1, 0))
		require.Equal(t, d+50*time.Millisecond, jitter(d, 0.1, 0.5))
	})

	t.Run("zero factor or zero delay is unchanged", func(t *testing.T) {
		require.Equal(t, time.Second, WithJitter(time.Second, 0))
		require.Equal(t, time.Duration(0), WithJitter(0, 0.1))
	})
}

func TestPolicyBackoffStrategies(t *testing.T) {
	base := Policy{BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2}

	t.Run("linear", func(t *testing.T) {
		p := base
		p.Strategy = LinearBackoff
		require.Equal(t, 10*time.Millisecond, p.backoff(0))
		require.Equal(t, 30*time.Millisecond, p.backoff(2))
	})

	t.Run("fibonacci", func(t *testing.T) {
		p := base
		p.Strategy = FibonacciBackoff
		got := make([]time.Duration, 0, 6)
		for i := range 6 {
			got = append(got, p.backoff(i))
		}
		require.Equal(t, []time.Duration{
			10 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond,
			30 * time.Millisecond, 50 * time.Millisecond, 80 * time.Millisecond,
		}, got)
	})

	t.Run("exponential is the default", func(t *testing.T) {
		require.Equal(t, 40*time.Millisecond, base.backoff(2))
	})
}
