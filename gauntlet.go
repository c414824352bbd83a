// Package gauntlet is an adversarial interposition layer for fuzz-testing
// tool-using AI agents.
//
// Gauntlet sits between an agent under test and the tools it calls. Guided by
// a hypothesis about a specific failure mode, it lets a decision oracle
// rewrite tool results, keeps those rewrites consistent within a run
// (short-term memory) and grounded in past behavior (long-term memory), and
// at the end of the run asks the oracle to confirm bugs through an explicit,
// structured store-bug invocation.
//
// A typical run:
//
//	g, err := gauntlet.New(store, oracle)
//	searchEmails := g.Query("search_emails", "Search emails in a folder.", searchEmailsImpl)
//	if err := g.Init(ctx); err != nil { ... }
//
//	err = g.Run(ctx, func(ctx context.Context, sess *session.Session) error {
//		if _, err := g.Hypothesize(ctx, sess); err != nil {
//			return err
//		}
//		task, err := g.Input(ctx, sess)
//		...
//		output := runAgent(ctx, task) // calls searchEmails
//		_, err = g.Evaluate(ctx, sess, output)
//		return err
//	})
//
// Interception is active only when GAUNTLET_MODE=ON (or WithEnabled(true))
// and a session is open; otherwise wrapped tools return their real results.
package gauntlet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zero-day-ai/gauntlet/bugs"
	"github.com/zero-day-ai/gauntlet/event"
	"github.com/zero-day-ai/gauntlet/hypothesis"
	"github.com/zero-day-ai/gauntlet/intercept"
	"github.com/zero-day-ai/gauntlet/memory"
	"github.com/zero-day-ai/gauntlet/oracle"
	"github.com/zero-day-ai/gauntlet/registry"
	"github.com/zero-day-ai/gauntlet/session"
	"github.com/zero-day-ai/gauntlet/tool"
)

// Gauntlet wires the tool registry, session manager, interception engine,
// hypothesis engine and bug recorder over one memory store and one oracle.
type Gauntlet struct {
	store      memory.Store
	tools      *tool.Registry
	sessions   *session.Manager
	engine     *intercept.Engine
	hypotheses *hypothesis.Engine
	recorder   *bugs.Recorder
	announcer  *registry.Announcer
	logger     *slog.Logger
}

// New returns a Gauntlet. Interception is enabled from GAUNTLET_MODE unless
// WithEnabled is given.
func New(store memory.Store, o oracle.Oracle, opts ...Option) (*Gauntlet, error) {
	const op = "New"
	if store == nil {
		return nil, &Error{Op: op, Kind: KindConfiguration, Err: errors.New("memory store is required")}
	}
	if o == nil {
		return nil, &Error{Op: op, Kind: KindConfiguration, Err: errors.New("oracle is required")}
	}

	cfg := options{logger: slog.Default(), sink: event.Nop}
	for _, opt := range opts {
		opt(&cfg)
	}

	enabled := intercept.EnabledFromEnv()
	if cfg.enabled != nil {
		enabled = *cfg.enabled
	}
	if _, err := intercept.CompilePolicy(cfg.policy); err != nil {
		return nil, &Error{Op: op, Kind: KindConfiguration, Err: err}
	}
	engine, err := intercept.New(store, intercept.Config{Enabled: enabled, Policy: cfg.policy}, cfg.interceptOptions()...)
	if err != nil {
		return nil, &Error{Op: op, Kind: KindInternal, Err: err}
	}

	sessOpts := []session.Option{session.WithSink(cfg.sink), session.WithLogger(cfg.logger)}
	if cfg.agentID != "" {
		sessOpts = append(sessOpts, session.WithAgentID(cfg.agentID))
	}
	recOpts := []bugs.Option{bugs.WithLogger(cfg.logger)}
	if cfg.toolbox != nil {
		recOpts = append(recOpts, bugs.WithToolbox(cfg.toolbox))
	}

	return &Gauntlet{
		store:      store,
		tools:      tool.NewRegistry(),
		sessions:   session.NewManager(o, sessOpts...),
		engine:     engine,
		hypotheses: hypothesis.New(cfg.hypothesisOptions()...),
		recorder:   bugs.NewRecorder(store, recOpts...),
		announcer:  cfg.announcer,
		logger:     cfg.logger,
	}, nil
}

// Tools returns the tool registry.
func (g *Gauntlet) Tools() *tool.Registry { return g.tools }

// Engine returns the interception engine, e.g. to toggle it at runtime.
func (g *Gauntlet) Engine() *intercept.Engine { return g.engine }

// Store returns the memory store.
func (g *Gauntlet) Store() memory.Store { return g.store }

// Register adds t to the registry and returns fn wrapped for interception.
// The wrapper resolves the open session at call time, so it may be created
// before any run starts.
func (g *Gauntlet) Register(t tool.Tool, fn tool.Func) tool.Func {
	g.tools.Register(t, fn)
	return g.intercepting(t, fn)
}

func (g *Gauntlet) intercepting(t tool.Tool, fn tool.Func) tool.Func {
	return func(ctx context.Context, args tool.Args) (string, error) {
		return g.engine.Intercept(ctx, g.sessions.Active(), t, args, fn)
	}
}

// Query registers a read-only tool.
func (g *Gauntlet) Query(name, description string, fn tool.Func) tool.Func {
	return g.Register(tool.Tool{Name: name, Kind: tool.KindQuery, Description: description}, fn)
}

// Mutation registers a side-effecting tool.
func (g *Gauntlet) Mutation(name, description string, fn tool.Func) tool.Func {
	return g.Register(tool.Tool{Name: name, Kind: tool.KindMutation, Description: description}, fn)
}

// Wrapped returns every registered tool wrapped for interception, keyed by
// name.
func (g *Gauntlet) Wrapped() map[string]tool.Func {
	out := make(map[string]tool.Func, g.tools.Len())
	for _, e := range g.tools.Entries() {
		out[e.Tool.Name] = g.intercepting(e.Tool, e.Func)
	}
	return out
}

// Init indexes every registered tool into long-term memory so the oracle
// can reason about implementations before any bug exists.
func (g *Gauntlet) Init(ctx context.Context) error {
	for _, d := range g.tools.Export() {
		if err := g.store.LongTerm().PutTool(ctx, memory.DescriptorFromTool(d)); err != nil {
			return wrap("Init", fmt.Errorf("index tool %s: %w", d.Name, err))
		}
	}
	g.logger.Info("tools indexed", "count", g.tools.Len())
	return nil
}

// Start opens a session. Only one session may be open at a time.
func (g *Gauntlet) Start(ctx context.Context) (*session.Session, error) {
	sess, err := g.sessions.Start(ctx)
	if err != nil {
		return nil, wrap("Start", err)
	}
	g.announcer.Announce(ctx, sess.RunID(), sess.AgentID(), "")
	return sess, nil
}

// End closes sess and withdraws its announcement.
func (g *Gauntlet) End(ctx context.Context, sess *session.Session) {
	if sess == nil {
		return
	}
	sess.End()
	g.announcer.Withdraw(ctx)
}

// Run opens a session, calls fn and closes the session however fn returns.
func (g *Gauntlet) Run(ctx context.Context, fn func(ctx context.Context, sess *session.Session) error) error {
	sess, err := g.Start(ctx)
	if err != nil {
		return err
	}
	defer g.End(context.WithoutCancel(ctx), sess)
	return fn(ctx, sess)
}

// Hypothesize drafts candidate hypotheses, lets the oracle pick the most
// novel and stores it on sess.
func (g *Gauntlet) Hypothesize(ctx context.Context, sess *session.Session) (string, error) {
	h, err := g.hypotheses.Hypothesize(ctx, sess)
	if err != nil {
		return "", wrap("Hypothesize", err)
	}
	g.announcer.Announce(ctx, sess.RunID(), sess.AgentID(), h)
	return h, nil
}

// SetHypothesis stores a fixed hypothesis on sess instead of generating one.
func (g *Gauntlet) SetHypothesis(ctx context.Context, sess *session.Session, h string) error {
	if err := session.Require(sess); err != nil {
		return wrap("SetHypothesis", err)
	}
	sess.SetHypothesis(h, nil)
	g.announcer.Announce(ctx, sess.RunID(), sess.AgentID(), h)
	return nil
}

// Input asks the oracle for a task that gives the agent under test a
// chance to exhibit the run's hypothesis.
func (g *Gauntlet) Input(ctx context.Context, sess *session.Session) (string, error) {
	task, err := g.hypotheses.Input(ctx, sess)
	if err != nil {
		return "", wrap("Input", err)
	}
	return task, nil
}

// Evaluate asks the oracle to review the run's mutations against the
// agent's final output and surfaces any bugs it recorded.
func (g *Gauntlet) Evaluate(ctx context.Context, sess *session.Session, finalOutput string) (bugs.Evaluation, error) {
	ev, err := g.recorder.Evaluate(ctx, sess, finalOutput)
	if err != nil {
		return bugs.Evaluation{}, wrap("Evaluate", err)
	}
	return ev, nil
}
