// Package event carries lifecycle notifications out of the interposition
// layer for observability. Sinks are optional: publishing to a nil or failing
// sink never changes interception or evaluation behavior.
package event

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Type names a lifecycle notification.
type Type string

const (
	TypeToolCallStart Type = "tool_call_start"
	TypeIntercept     Type = "intercept"
	TypeToolCallEnd   Type = "tool_call_end"
	TypeEvaluateStart Type = "evaluate_start"
	TypeEvaluateEnd   Type = "evaluate_end"
)

// Event is one notification. Seq is per run, starts at 0 and increases by
// one for every event of that run.
type Event struct {
	Type    Type           `json:"type"`
	Seq     uint64         `json:"seq"`
	RunID   string         `json:"run_id"`
	Time    time.Time      `json:"time"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Sink receives events.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, e Event) error

// Publish calls f(ctx, e).
func (f SinkFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }

// Nop discards every event.
var Nop Sink = SinkFunc(func(context.Context, Event) error { return nil })

// Recorder captures events in memory.
type Recorder struct {
	mu     sync.RWMutex
	events []Event
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, clone(e))
	return nil
}

// Events returns a snapshot of recorded events.
func (r *Recorder) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Event, len(r.events))
	for i := range r.events {
		out[i] = clone(r.events[i])
	}
	return out
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// LogSink writes every event to a slog.Logger at debug level.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Publish(ctx context.Context, e Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.DebugContext(ctx, "gauntlet event",
		"type", e.Type,
		"seq", e.Seq,
		"run_id", e.RunID,
		"payload", e.Payload)
	return nil
}

// Multi fans an event out to several sinks and joins their errors.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func clone(e Event) Event {
	if e.Payload == nil {
		return e
	}
	p := make(map[string]any, len(e.Payload))
	for k, v := range e.Payload {
		p[k] = v
	}
	e.Payload = p
	return e
}
