package encore

import (
	"context"
	"errors"

	"goflare.io/encore/internal/breaker"
	"goflare.io/encore/internal/retrier"
)

var (
	// ErrBreakerOpen matches errors returned while a circuit breaker rejects calls.
	ErrBreakerOpen = breaker.ErrOpen
	// ErrCanceled matches retry sequences ended by their context.
	ErrCanceled = retrier.ErrCanceled
)

// Class is the coarse category of a failed remote call.
type Class int

const (
	ClassNone Class = iota
	ClassTransient
	ClassPermanent
	ClassBreakerOpen
	ClassCanceled
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	case ClassBreakerOpen:
		return "breaker_open"
	case ClassCanceled:
		return "canceled"
	default:
		return "none"
	}
}

// Classify reports what kind of failure err is. Cancellation and breaker rejections are
// checked first; anything else is transient if the default retry predicate would retry it.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, retrier.ErrCanceled),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return ClassCanceled
	case errors.Is(err, breaker.ErrOpen):
		return ClassBreakerOpen
	case retrier.IsRetryable(err):
		return ClassTransient
	default:
		return ClassPermanent
	}
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	return retrier.StatusOf(err)
}
