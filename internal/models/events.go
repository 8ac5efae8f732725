package models

import (
	"time"

	"go.uber.org/zap"
)

// EventKind identifies a diagnostics event.
type EventKind string

const (
	EventRetry              EventKind = "retry"
	EventRetryExhausted     EventKind = "retry_exhausted"
	EventBreakerStateChange EventKind = "breaker_state_change"
	EventBreakerRejected    EventKind = "breaker_rejected"
	EventCacheWriteDropped  EventKind = "cache_write_dropped"
	EventCacheReadFailed    EventKind = "cache_read_failed"
	EventCachePromoted      EventKind = "cache_promoted"
	EventCacheEvicted       EventKind = "cache_evicted"
)

// Event is a structured diagnostics record. Fields that do not apply to a kind are zero.
type Event struct {
	Kind       EventKind
	At         time.Time
	Resource   string
	Key        string
	SequenceID string
	Attempt    int
	Delay      time.Duration
	Err        error
	From       string
	To         string
	Count      int
}

// Observer receives diagnostics events. Observers are called synchronously and must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe calls f(e).
func (f ObserverFunc) Observe(e Event) {
	f(e)
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) Observe(Event) {}

// MultiObserver fans an event out to every observer in order.
type MultiObserver []Observer

func (m MultiObserver) Observe(e Event) {
	for _, o := range m {
		if o != nil {
			o.Observe(e)
		}
	}
}

// LogObserver writes events to a zap logger.
type LogObserver struct {
	logger *zap.Logger
}

// NewLogObserver creates a LogObserver. A nil logger discards output.
func NewLogObserver(logger *zap.Logger) *LogObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogObserver{logger: logger}
}

// Observe logs the event with a level that matches its severity.
func (o *LogObserver) Observe(e Event) {
	fields := make([]zap.Field, 0, 8)
	fields = append(fields, zap.String("event", string(e.Kind)))
	if e.Resource != "" {
		fields = append(fields, zap.String("resource", e.Resource))
	}
	if e.Key != "" {
		fields = append(fields, zap.String("key", e.Key))
	}
	if e.SequenceID != "" {
		fields = append(fields, zap.String("sequence_id", e.SequenceID))
	}
	if e.Attempt > 0 {
		fields = append(fields, zap.Int("attempt", e.Attempt))
	}
	if e.Delay > 0 {
		fields = append(fields, zap.Duration("delay", e.Delay))
	}
	if e.From != "" || e.To != "" {
		fields = append(fields, zap.String("from", e.From), zap.String("to", e.To))
	}
	if e.Count > 0 {
		fields = append(fields, zap.Int("count", e.Count))
	}
	if e.Err != nil {
		fields = append(fields, zap.Error(e.Err))
	}

	switch e.Kind {
	case EventRetry, EventRetryExhausted, EventCacheWriteDropped, EventBreakerRejected:
		o.logger.Warn("Resilience event", fields...)
	case EventBreakerStateChange:
		o.logger.Info("Circuit breaker state changed", fields...)
	default:
		o.logger.Debug("Cache event", fields...)
	}
}
