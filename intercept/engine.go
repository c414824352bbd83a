// Package intercept implements the per-call interposition protocol.
//
// Every instrumented tool call runs the real function first. When
// interception is enabled and a session is open, the original result is
// shown to the decision oracle together with the run's hypothesis; the
// oracle replies with a decision to pass the result through or to rewrite
// it. The engine commits the outcome to memory and returns what the agent
// under test will see:
//
//	mutated:     STM mutation record + LTM query record, mutated result
//	not mutated: LTM query record, original result
//	unparseable: LTM query record, original result
//
// Within one run, decisions are strictly sequential so each one can read the
// mutations committed before it.
package intercept

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/zero-day-ai/gauntlet/event"
	"github.com/zero-day-ai/gauntlet/memory"
	"github.com/zero-day-ai/gauntlet/session"
	"github.com/zero-day-ai/gauntlet/tool"
)

// ModeEnv is the environment variable that switches interception on.
const ModeEnv = "GAUNTLET_MODE"

// EnabledFromEnv reports whether GAUNTLET_MODE is "ON" (case-insensitive).
func EnabledFromEnv() bool {
	return strings.EqualFold(os.Getenv(ModeEnv), "ON")
}

// Config holds the engine settings that come from configuration.
type Config struct {
	// Enabled switches interception on. When false every call is passed
	// through untouched.
	Enabled bool

	// Policy is an optional CEL eligibility expression. See Policy.
	Policy string
}

// Engine decides tool calls.
type Engine struct {
	store   memory.Store
	enabled atomic.Bool
	policy  *Policy

	logger  *slog.Logger
	tracer  trace.Tracer
	meter   metric.Meter
	metrics *engineMetrics
	now     func() time.Time
	newID   func() string
}

type engineMetrics struct {
	calls       metric.Int64Counter
	mutations   metric.Int64Counter
	unparseable metric.Int64Counter
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTracer sets the tracer used for the gauntlet.intercept span.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithMeter sets the meter the engine counters are created on.
func WithMeter(m metric.Meter) Option {
	return func(e *Engine) { e.meter = m }
}

// WithClock overrides the record timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New returns an Engine writing to store.
func New(store memory.Store, cfg Config, opts ...Option) (*Engine, error) {
	policy, err := CompilePolicy(cfg.Policy)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		store:  store,
		policy: policy,
		logger: slog.Default(),
		tracer: tracenoop.NewTracerProvider().Tracer("gauntlet/intercept"),
		meter:  metricnoop.NewMeterProvider().Meter("gauntlet/intercept"),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.enabled.Store(cfg.Enabled)

	if e.metrics, err = newEngineMetrics(e.meter); err != nil {
		return nil, err
	}
	return e, nil
}

func newEngineMetrics(m metric.Meter) (*engineMetrics, error) {
	var (
		em  engineMetrics
		err error
	)
	em.calls, err = m.Int64Counter("gauntlet.intercept.calls",
		metric.WithDescription("Tool calls decided by the oracle"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, fmt.Errorf("create calls counter: %w", err)
	}
	em.mutations, err = m.Int64Counter("gauntlet.intercept.mutations",
		metric.WithDescription("Tool results rewritten before the agent saw them"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, fmt.Errorf("create mutations counter: %w", err)
	}
	em.unparseable, err = m.Int64Counter("gauntlet.intercept.unparseable",
		metric.WithDescription("Oracle decision replies that could not be parsed"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, fmt.Errorf("create unparseable counter: %w", err)
	}
	return &em, nil
}

// Enabled reports whether interception is on.
func (e *Engine) Enabled() bool { return e.enabled.Load() }

// SetEnabled switches interception on or off for subsequent calls.
func (e *Engine) SetEnabled(on bool) { e.enabled.Store(on) }

// Policy returns the eligibility policy, or nil.
func (e *Engine) Policy() *Policy { return e.policy }

// Wrap binds fn to the engine and sess.
func (e *Engine) Wrap(sess *session.Session, t tool.Tool, fn tool.Func) tool.Func {
	return func(ctx context.Context, args tool.Args) (string, error) {
		return e.Intercept(ctx, sess, t, args, fn)
	}
}

// Intercept runs call and, when the call is eligible, lets the oracle decide
// what the caller receives. Errors from call, the oracle and the store are
// returned; an unparseable decision is not an error.
func (e *Engine) Intercept(ctx context.Context, sess *session.Session, t tool.Tool, args tool.Args, call tool.Func) (string, error) {
	original, err := call(ctx, args)
	if err != nil {
		return "", err
	}

	if !e.Enabled() || session.Require(sess) != nil {
		return original, nil
	}

	allowed, err := e.policy.Allow(t, args)
	if err != nil {
		return "", fmt.Errorf("intercept %s: %w", t.Name, err)
	}
	if !allowed {
		e.logger.DebugContext(ctx, "call not eligible for interception", "tool", t.Name, "policy", e.policy.String())
		return original, nil
	}

	return e.decide(ctx, sess, t, args, original)
}

func (e *Engine) decide(ctx context.Context, sess *session.Session, t tool.Tool, args tool.Args, original string) (string, error) {
	unlock := sess.LockIntercept()
	defer unlock()

	ctx, span := e.tracer.Start(ctx, "gauntlet.intercept", trace.WithAttributes(
		attribute.String("gauntlet.run_id", sess.RunID()),
		attribute.String("gauntlet.tool", t.Name),
		attribute.String("gauntlet.tool_kind", string(t.Kind)),
	))
	defer span.End()

	toolAttr := metric.WithAttributes(attribute.String("tool", t.Name))
	e.metrics.calls.Add(ctx, 1, toolAttr)

	logger := sess.Logger().With("tool", t.Name)
	callDesc := args.Describe()
	hypothesis := sess.Hypothesis()

	sess.Emit(ctx, event.TypeToolCallStart, map[string]any{
		"tool_name": t.Name,
		"kind":      string(t.Kind),
		"args":      args.Stringified(),
	})

	reply, err := sess.Converse(ctx, Prompt(Call{
		RunID:          sess.RunID(),
		Tool:           t,
		Arguments:      callDesc,
		OriginalResult: original,
		Hypothesis:     hypothesis,
	}))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "oracle exchange failed")
		return "", fmt.Errorf("intercept %s: oracle: %w", t.Name, err)
	}

	var (
		mutated     bool
		result      = original
		description string
		parsed      = true
	)
	switch r := ParseDecision(reply.Message).(type) {
	case Decision:
		mutated = r.Mutated
		description = r.Description
		if r.Mutated {
			result = r.Result
		}
	case Unparseable:
		parsed = false
		e.metrics.unparseable.Add(ctx, 1, toolAttr)
		logger.WarnContext(ctx, "unparseable decision, returning original result", "reason", r.Reason)
	}

	sess.Emit(ctx, event.TypeIntercept, map[string]any{
		"tool_name":   t.Name,
		"mutated":     mutated,
		"parsed":      parsed,
		"result":      result,
		"description": description,
	})

	now := sess.Stamp(e.now())
	if mutated {
		err := e.store.ShortTerm().AppendMutation(ctx, memory.MutationRecord{
			RunID:               sess.RunID(),
			Timestamp:           now,
			ToolName:            t.Name,
			CallDescription:     callDesc,
			OriginalResult:      original,
			MutatedResult:       result,
			MutationDescription: description,
			HypothesisID:        hypothesis,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "append mutation failed")
			return "", fmt.Errorf("intercept %s: %w", t.Name, err)
		}
		e.metrics.mutations.Add(ctx, 1, toolAttr)
	}

	err = e.store.LongTerm().AppendQuery(ctx, memory.QueryRecord{
		QueryID:          e.newID(),
		Timestamp:        now,
		RunID:            sess.RunID(),
		ToolName:         t.Name,
		QueryDescription: callDesc,
		QueryParams:      callDesc,
		Result:           result,
		WasMutated:       mutated,
		MutationApplied:  description,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append query failed")
		return "", fmt.Errorf("intercept %s: %w", t.Name, err)
	}

	sess.Emit(ctx, event.TypeToolCallEnd, map[string]any{"tool_name": t.Name, "mutated": mutated})

	span.SetAttributes(attribute.Bool("gauntlet.mutated", mutated), attribute.Bool("gauntlet.parsed", parsed))
	span.SetStatus(codes.Ok, "")
	if mutated {
		logger.InfoContext(ctx, "tool result mutated", "description", description)
	} else {
		logger.DebugContext(ctx, "tool result passed through", "parsed", parsed)
	}
	return result, nil
}
