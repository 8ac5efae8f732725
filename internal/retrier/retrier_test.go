package retrier

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"goflare.io/encore/internal/models"
)

var errNetwork = errors.New("connection reset by peer")

// recordingSleeper captures requested delays without waiting.
type recordingSleeper struct {
	delays []time.Duration
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func fastPolicy() Policy {
	return Policy{
		MaxAttempts:   3,
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2,
		JitterFactor:  DefaultJitterFactor,
	}
}

func failing(errs ...error) (func(ctx context.Context) (string, error), *int) {
	calls := 0
	return func(ctx context.Context) (string, error) {
		calls++
		if calls <= len(errs) {
			return "", errs[calls-1]
		}
		return "ok", nil
	}, &calls
}

func TestDo(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		s := &recordingSleeper{}
		r := NewRetrier(WithSleeper(s.sleep))
		op, calls := failing(&HTTPError{StatusCode: http.StatusServiceUnavailable}, errNetwork)

		got, err := Do(context.Background(), r, fastPolicy(), op)
		require.NoError(t, err)
		require.Equal(t, "ok", got)
		require.Equal(t, 3, *calls)
		require.Len(t, s.delays, 2)
		require.GreaterOrEqual(t, s.delays[0], 100*time.Millisecond)
		require.Less(t, s.delays[0], 110*time.Millisecond)
		require.GreaterOrEqual(t, s.delays[1], 200*time.Millisecond)
		require.Less(t, s.delays[1], 220*time.Millisecond)
	})

	t.Run("non-retryable error short-circuits", func(t *testing.T) {
		s := &recordingSleeper{}
		r := NewRetrier(WithSleeper(s.sleep))
		notFound := &HTTPError{StatusCode: http.StatusNotFound}
		op, calls := failing(notFound, notFound, notFound)

		_, err := Do(context.Background(), r, fastPolicy(), op)
		require.Error(t, err)
		require.Equal(t, 1, *calls)
		require.Empty(t, s.delays)

		var retryErr *Error
		require.ErrorAs(t, err, &retryErr)
		require.Equal(t, 1, retryErr.Attempts)
		require.False(t, retryErr.Retryable)
		require.ErrorIs(t, err, notFound)
	})

	t.Run("propagates the last error when exhausted", func(t *testing.T) {
		s := &recordingSleeper{}
		r := NewRetrier(WithSleeper(s.sleep))
		first := &HTTPError{StatusCode: http.StatusBadGateway}
		last := &HTTPError{StatusCode: http.StatusTooManyRequests}
		op, calls := failing(first, errNetwork, last)

		_, err := Do(context.Background(), r, fastPolicy(), op)
		require.Equal(t, 3, *calls)
		require.ErrorIs(t, err, last)
		require.NotErrorIs(t, err, first)

		var retryErr *Error
		require.ErrorAs(t, err, &retryErr)
		require.Equal(t, 3, retryErr.Attempts)
		require.True(t, retryErr.Retryable)
	})

	t.Run("single attempt policy never waits", func(t *testing.T) {
		s := &recordingSleeper{}
		r := NewRetrier(WithSleeper(s.sleep))
		p := fastPolicy()
		p.MaxAttempts = 1
		op, calls := failing(errNetwork)

		_, err := Do(context.Background(), r, p, op)
		require.ErrorIs(t, err, errNetwork)
		require.Equal(t, 1, *calls)
		require.Empty(t, s.delays)
	})

	t.Run("custom predicate", func(t *testing.T) {
		s := &recordingSleeper{}
		r := NewRetrier(WithSleeper(s.sleep))
		p := fastPolicy()
		p.RetryIf = func(err error) bool { return false }
		op, calls := failing(errNetwork)

		_, err := Do(context.Background(), r, p, op)
		require.Error(t, err)
		require.Equal(t, 1, *calls)
	})

	t.Run("retry-after raises the delay", func(t *testing.T) {
		s := &recordingSleeper{}
		r := NewRetrier(WithSleeper(s.sleep))
		op, _ := failing(&HTTPError{StatusCode: http.StatusTooManyRequests, RetryAfter: 700 * time.Millisecond})

		_, err := Do(context.Background(), r, fastPolicy(), op)
		require.NoError(t, err)
		require.Equal(t, []time.Duration{700 * time.Millisecond}, s.delays)
	})

	t.Run("invalid policy", func(t *testing.T) {
		p := fastPolicy()
		p.MaxAttempts = 0
		op, calls := failing()
		_, err := Do(context.Background(), NewRetrier(), p, op)
		require.ErrorIs(t, err, ErrInvalidMaxAttempts)
		require.Equal(t, 0, *calls)
	})
}

func TestDoCancellation(t *testing.T) {
	t.Run("canceled before the first attempt", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		op, calls := failing()

		_, err := Do(ctx, NewRetrier(), fastPolicy(), op)
		require.ErrorIs(t, err, ErrCanceled)
		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, 0, *calls)
	})

	t.Run("canceled during backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		r := NewRetrier(WithSleeper(func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		}))
		op, calls := failing(errNetwork, errNetwork)

		_, err := Do(ctx, r, fastPolicy(), op)
		require.ErrorIs(t, err, ErrCanceled)
		require.Equal(t, 1, *calls)
	})

	t.Run("keeps the last attempt's error", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		r := NewRetrier(WithSleeper(func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		}))
		op, _ := failing(&HTTPError{StatusCode: http.StatusServiceUnavailable})

		_, err := Do(ctx, r, fastPolicy(), op)
		require.ErrorIs(t, err, ErrCanceled)
		require.ErrorIs(t, err, context.Canceled)

		var he *HTTPError
		require.ErrorAs(t, err, &he)
		require.Equal(t, http.StatusServiceUnavailable, he.StatusCode)
		require.Equal(t, http.StatusServiceUnavailable, StatusOf(err))
	})

	t.Run("deadline during a real sleep", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		op, _ := failing(errNetwork, errNetwork)

		start := time.Now()
		_, err := Do(ctx, NewRetrier(), fastPolicy(), op)
		require.ErrorIs(t, err, ErrCanceled)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		require.Less(t, time.Since(start), 100*time.Millisecond)
	})
}

func TestDoTiming(t *testing.T) {
	t.Run("two transient failures wait at least 300ms", func(t *testing.T) {
		op, calls := failing(errNetwork, errNetwork)

		start := time.Now()
		got, err := Do(context.Background(), NewRetrier(), fastPolicy(), op)
		elapsed := time.Since(start)

		require.NoError(t, err)
		require.Equal(t, "ok", got)
		require.Equal(t, 3, *calls)
		require.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	})

	t.Run("permanent failure incurs no delay", func(t *testing.T) {
		op, calls := failing(&HTTPError{StatusCode: http.StatusBadRequest})

		start := time.Now()
		_, err := Do(context.Background(), NewRetrier(), fastPolicy(), op)
		require.Error(t, err)
		require.Equal(t, 1, *calls)
		require.Less(t, time.Since(start), 50*time.Millisecond)
	})
}

func TestRetryEvents(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	var events []models.Event
	s := &recordingSleeper{}
	r := NewRetrier(
		WithLogger(zap.New(core)),
		WithSleeper(s.sleep),
		WithObserver(models.ObserverFunc(func(e models.Event) { events = append(events, e) })),
	)

	err := r.Run(context.Background(), fastPolicy(), func(ctx context.Context) error { return errNetwork })
	require.Error(t, err)

	require.Len(t, events, 3)
	require.Equal(t, models.EventRetry, events[0].Kind)
	require.Equal(t, 1, events[0].Attempt)
	require.Equal(t, models.EventRetry, events[1].Kind)
	require.Equal(t, 2, events[1].Attempt)
	require.Equal(t, models.EventRetryExhausted, events[2].Kind)
	require.NotEmpty(t, events[0].SequenceID)
	require.Equal(t, events[0].SequenceID, events[2].SequenceID)
	require.Equal(t, s.delays[0], events[0].Delay)

	require.Equal(t, 3, logs.FilterField(zap.String("sequence_id", events[0].SequenceID)).Len())
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Policy)
		want   error
	}{
		{name: "valid", mutate: func(p *Policy) {}},
		{name: "zero attempts", mutate: func(p *Policy) { p.MaxAttempts = 0 }, want: ErrInvalidMaxAttempts},
		{name: "sub-millisecond base", mutate: func(p *Policy) { p.BaseDelay = time.Microsecond }, want: ErrInvalidBaseDelay},
		{name: "max below base", mutate: func(p *Policy) { p.MaxDelay = time.Millisecond }, want: ErrInvalidMaxDelay},
		{name: "shrinking factor", mutate: func(p *Policy) { p.BackoffFactor = 0.5 }, want: ErrInvalidFactor},
		{name: "jitter above one", mutate: func(p *Policy) { p.JitterFactor = 1.5 }, want: ErrInvalidJitter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			err := p.Validate()
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
		})
	}
}
