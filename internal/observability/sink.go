package observability

import (
	"log/slog"
	"time"
)

// Event is one diagnostics emission from the control loop.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Session   string         `json:"session"`
	Type      string         `json:"type"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Event types emitted by the FAB core.
const (
	EventTickStart      = "fab.tick.start"
	EventFill           = "fab.fill"
	EventModeTransition = "fab.mode.transition"
	EventEnvelopeChange = "fab.envelope.change"
	EventBreakerOpen    = "fab.breaker.open"
	EventStep           = "fab.step"
)

// Sink receives events and may fail. The control loop treats emission as
// best-effort: every call site is expected to discard the error
// deliberately through EmitIgnored, never to let a metrics failure
// disturb a tick.
type Sink interface {
	Emit(ev Event) error
}

// NopSink discards everything.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(Event) error { return nil }

// SlogSink writes events through a structured logger at debug level.
type SlogSink struct {
	Logger *slog.Logger
}

// Emit implements Sink.
func (s SlogSink) Emit(ev Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug(ev.Type, "session", ev.Session, "fields", ev.Fields)
	return nil
}

// EmitIgnored sends an event and deliberately drops any sink error,
// logging it at debug level so outages remain visible without affecting
// the caller. This is the ignore-errors policy in one place instead of
// scattered blank assignments.
func EmitIgnored(sink Sink, logger *slog.Logger, ev Event) {
	if sink == nil {
		return
	}
	if err := sink.Emit(ev); err != nil && logger != nil {
		logger.Debug("metrics emission failed", "type", ev.Type, "error", err)
	}
}
