package retrier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"goflare.io/encore/internal/models"
)

const (
	minMaxAttempts = 1
	minBaseDelay   = time.Millisecond
	minFactor      = 1.0
	maxJitter      = 1.0
)

var (
	// ErrInvalidMaxAttempts is returned when the max attempts parameter is invalid.
	ErrInvalidMaxAttempts = errors.New("max attempts must be at least 1")
	// ErrInvalidBaseDelay is returned when the base delay parameter is invalid.
	ErrInvalidBaseDelay = errors.New("base delay must be at least 1ms")
	// ErrInvalidMaxDelay is returned when the max delay is below the base delay.
	ErrInvalidMaxDelay = errors.New("max delay must not be below base delay")
	// ErrInvalidFactor is returned when the factor parameter is invalid.
	ErrInvalidFactor = errors.New("factor must be at least 1.0")
	// ErrInvalidJitter is returned when the jitter parameter is invalid.
	ErrInvalidJitter = errors.New("jitter must be between 0 and 1")
	// ErrCanceled is returned when the context ends before the retry sequence completes.
	ErrCanceled = errors.New("retry canceled")
)

// Policy configures one retry sequence. It is a value type; call sites pass it by value.
type Policy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterFactor  float64
	Strategy      BackoffStrategy
	// RetryIf decides whether a failed attempt is retried. Nil means IsRetryable.
	RetryIf func(error) bool
}

// DefaultPolicy returns three attempts with 1s exponential backoff capped at 10s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   3,
		BaseDelay:     time.Second,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2,
		JitterFactor:  DefaultJitterFactor,
		Strategy:      ExponentialBackoff,
	}
}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	if p.MaxAttempts < minMaxAttempts {
		return ErrInvalidMaxAttempts
	}
	if p.BaseDelay < minBaseDelay {
		return ErrInvalidBaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		return ErrInvalidMaxDelay
	}
	if p.BackoffFactor < minFactor {
		return ErrInvalidFactor
	}
	if p.JitterFactor < 0 || p.JitterFactor > maxJitter {
		return ErrInvalidJitter
	}
	return nil
}

func (p Policy) shouldRetry(err error) bool {
	if p.RetryIf != nil {
		return p.RetryIf(err)
	}
	return IsRetryable(err)
}

// Error is returned once a retry sequence gives up. It wraps the last observed error.
type Error struct {
	Attempts  int
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Retryable {
		return fmt.Sprintf("max retry attempts reached (%d): %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("non-retryable error after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retrier executes operations under a Policy and reports every retry to its observer.
type Retrier struct {
	logger   *zap.Logger
	observer models.Observer
	sleep    func(ctx context.Context, d time.Duration) error
	jitter   func(d time.Duration, factor float64) time.Duration
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithLogger sets the logger used for retry events.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Retrier) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithObserver adds an observer that receives retry events in addition to the log.
func WithObserver(o models.Observer) Option {
	return func(r *Retrier) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithSleeper replaces the inter-attempt wait.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Retrier) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// NewRetrier creates a Retrier.
func NewRetrier(opts ...Option) *Retrier {
	r := &Retrier{
		logger: zap.NewNop(),
		sleep:  sleepContext,
		jitter: WithJitter,
	}
	for _, opt := range opts {
		opt(r)
	}
	log := models.NewLogObserver(r.logger)
	if r.observer == nil {
		r.observer = log
	} else {
		r.observer = models.MultiObserver{log, r.observer}
	}
	return r
}

// Run executes fn with retries according to the policy.
func (r *Retrier) Run(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, r, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do attempts op up to p.MaxAttempts times, sequentially, waiting a jittered backoff
// between attempts. The context is checked before every attempt and every wait.
func Do[T any](ctx context.Context, r *Retrier, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := p.Validate(); err != nil {
		return zero, err
	}
	if r == nil {
		r = NewRetrier()
	}

	sequence := uuid.NewString()
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, canceled(attempt-1, lastErr, err)
		}

		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, canceled(attempt, lastErr, ctxErr)
		}

		retryable := p.shouldRetry(err)
		if attempt == p.MaxAttempts || !retryable {
			if retryable {
				r.observer.Observe(models.Event{
					Kind:       models.EventRetryExhausted,
					At:         time.Now(),
					SequenceID: sequence,
					Attempt:    attempt,
					Err:        err,
				})
			}
			return zero, &Error{Attempts: attempt, Retryable: retryable, Err: err}
		}

		delay := r.delayFor(p, attempt-1, err)
		r.observer.Observe(models.Event{
			Kind:       models.EventRetry,
			At:         time.Now(),
			SequenceID: sequence,
			Attempt:    attempt,
			Delay:      delay,
			Err:        err,
		})

		if err := r.sleep(ctx, delay); err != nil {
			return zero, canceled(attempt, lastErr, err)
		}
	}
	return zero, &Error{Attempts: p.MaxAttempts, Retryable: true, Err: lastErr}
}

// delayFor returns the jittered delay after a failed 0-based attempt, raised to the
// server's Retry-After hint when one was given.
func (r *Retrier) delayFor(p Policy, attempt int, err error) time.Duration {
	delay := r.jitter(p.backoff(attempt), p.JitterFactor)
	if hint := retryAfterOf(err); hint > delay {
		delay = max(delay, min(hint, p.MaxDelay))
	}
	return delay
}

func canceled(attempts int, last, cause error) error {
	if last != nil {
		return fmt.Errorf("%w after %d attempt(s) (last error: %w): %w", ErrCanceled, attempts, last, cause)
	}
	return fmt.Errorf("%w after %d attempt(s): %w", ErrCanceled, attempts, cause)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
