package gauntlet

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/zero-day-ai/gauntlet/event"
	"github.com/zero-day-ai/gauntlet/hypothesis"
	"github.com/zero-day-ai/gauntlet/intercept"
	"github.com/zero-day-ai/gauntlet/registry"
	"github.com/zero-day-ai/gauntlet/toolbox"
)

// Option configures a Gauntlet.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	agentID    string
	sink       event.Sink
	enabled    *bool
	policy     string
	tracer     trace.Tracer
	meter      metric.Meter
	candidates int
	toolbox    *toolbox.Toolbox
	announcer  *registry.Announcer
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithAgentID selects the oracle persona to converse with.
func WithAgentID(id string) Option {
	return func(o *options) { o.agentID = id }
}

// WithSink sets the lifecycle event sink.
func WithSink(s event.Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithEnabled overrides the GAUNTLET_MODE environment switch.
func WithEnabled(on bool) Option {
	return func(o *options) { o.enabled = &on }
}

// WithPolicy sets a CEL eligibility expression over tool, kind and args.
// Calls it rejects pass through untouched.
func WithPolicy(expr string) Option {
	return func(o *options) { o.policy = expr }
}

// WithTracer sets the tracer for interception spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithMeter sets the meter for interception counters.
func WithMeter(m metric.Meter) Option {
	return func(o *options) { o.meter = m }
}

// WithCandidates sets how many hypotheses compete per run.
func WithCandidates(n int) Option {
	return func(o *options) { o.candidates = n }
}

// WithToolbox sets the toolbox used to commit store-bug invocations that
// the oracle did not execute itself.
func WithToolbox(tb *toolbox.Toolbox) Option {
	return func(o *options) { o.toolbox = tb }
}

// WithAnnouncer publishes each run to a service registry.
func WithAnnouncer(a *registry.Announcer) Option {
	return func(o *options) { o.announcer = a }
}

func (o *options) interceptOptions() []intercept.Option {
	opts := []intercept.Option{intercept.WithLogger(o.logger)}
	if o.tracer != nil {
		opts = append(opts, intercept.WithTracer(o.tracer))
	}
	if o.meter != nil {
		opts = append(opts, intercept.WithMeter(o.meter))
	}
	return opts
}

func (o *options) hypothesisOptions() []hypothesis.Option {
	opts := []hypothesis.Option{hypothesis.WithLogger(o.logger)}
	if o.candidates > 0 {
		opts = append(opts, hypothesis.WithCandidates(o.candidates))
	}
	return opts
}
