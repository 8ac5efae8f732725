// Package breaker gates calls to an unreliable remote resource.
//
// A Breaker starts CLOSED and lets calls through. After FailureThreshold consecutive
// failures it opens and rejects calls with ErrOpen without invoking them. Once
// ResetTimeout has passed since the last failure it moves to HALF_OPEN and lets calls
// through again; HalfOpenSuccessThreshold consecutive successes close it, and any
// failure opens it again.
//
// The state machine runs on github.com/sony/gobreaker; one Breaker exists per protected
// resource and is shared by every caller of that resource (see Registry).
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"goflare.io/encore/internal/models"
)

// ErrOpen is the synthetic rejection returned while the breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// OpenError reports which breaker rejected the call.
type OpenError struct {
	Name  string
	State State
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", ErrOpen.Error(), e.Name, e.State)
}

func (e *OpenError) Unwrap() error { return ErrOpen }

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}

// Settings configures a Breaker.
type Settings struct {
	Name                     string
	FailureThreshold         int
	ResetTimeout             time.Duration
	HalfOpenSuccessThreshold int
}

// DefaultSettings returns threshold 5, a one minute reset timeout and 3 half-open successes.
func DefaultSettings(name string) Settings {
	return Settings{
		Name:                     name,
		FailureThreshold:         5,
		ResetTimeout:             time.Minute,
		HalfOpenSuccessThreshold: 3,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings(s.Name)
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = d.FailureThreshold
	}
	if s.ResetTimeout <= 0 {
		s.ResetTimeout = d.ResetTimeout
	}
	if s.HalfOpenSuccessThreshold <= 0 {
		s.HalfOpenSuccessThreshold = d.HalfOpenSuccessThreshold
	}
	return s
}

// Snapshot is a consistent view of a breaker. Counts restart whenever the state changes.
type Snapshot struct {
	Name          string
	State         State
	FailureCount  int
	SuccessCount  int
	LastFailureAt time.Time
}

// Breaker is a circuit breaker for one remote resource. It is safe for concurrent use.
type Breaker struct {
	cb       *gobreaker.TwoStepCircuitBreaker
	settings Settings
	logger   *zap.Logger
	observer models.Observer

	mu            sync.Mutex
	lastFailureAt time.Time
}

// New creates a Breaker. Zero settings fall back to DefaultSettings.
func New(s Settings, logger *zap.Logger, observer models.Observer) *Breaker {
	s = s.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if observer == nil {
		observer = models.NewLogObserver(logger)
	}

	b := &Breaker{
		settings: s,
		logger:   logger.With(zap.String("breaker", s.Name)),
		observer: observer,
	}
	b.cb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: uint32(s.HalfOpenSuccessThreshold),
		Timeout:     s.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(s.FailureThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.observer.Observe(models.Event{
				Kind:     models.EventBreakerStateChange,
				At:       time.Now(),
				Resource: name,
				From:     fromGobreaker(from).String(),
				To:       fromGobreaker(to).String(),
			})
		},
	})
	return b
}

// Name returns the protected resource name.
func (b *Breaker) Name() string {
	return b.settings.Name
}

// Settings returns the effective settings.
func (b *Breaker) Settings() Settings {
	return b.settings
}

// State returns the current state, applying any due OPEN to HALF_OPEN transition.
func (b *Breaker) State() State {
	return fromGobreaker(b.cb.State())
}

// Snapshot returns the current state and counters.
func (b *Breaker) Snapshot() Snapshot {
	state := b.State()
	counts := b.cb.Counts()
	b.mu.Lock()
	last := b.lastFailureAt
	b.mu.Unlock()
	return Snapshot{
		Name:          b.settings.Name,
		State:         state,
		FailureCount:  int(counts.ConsecutiveFailures),
		SuccessCount:  int(counts.ConsecutiveSuccesses),
		LastFailureAt: last,
	}
}

// Execute runs op unless the breaker is open. The operation's own error is returned
// unchanged; a rejection is an *OpenError.
func (b *Breaker) Execute(op func() error) error {
	_, err := Execute(b, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}

// Execute runs op through b and returns its typed result.
//
// A call canceled by its caller counts as neither success nor failure while CLOSED;
// a canceled half-open trial counts as a failure. A panic counts as a failure and is
// re-raised.
func Execute[T any](b *Breaker, op func() (T, error)) (res T, err error) {
	done, err := b.cb.Allow()
	if err != nil {
		state := b.State()
		b.observer.Observe(models.Event{
			Kind:     models.EventBreakerRejected,
			At:       time.Now(),
			Resource: b.settings.Name,
			To:       state.String(),
		})
		return res, &OpenError{Name: b.settings.Name, State: state}
	}

	defer func() {
		if e := recover(); e != nil {
			done(false)
			panic(e)
		}
	}()

	res, err = op()
	switch {
	case err == nil:
		done(true)
	case errors.Is(err, context.Canceled) && b.cb.State() == gobreaker.StateClosed:
	default:
		b.mu.Lock()
		b.lastFailureAt = time.Now()
		b.mu.Unlock()
		done(false)
	}
	return res, err
}
