// Package session scopes one test run: its run id, the oracle conversation,
// the active hypothesis and the per-run event sequence.
//
// A Manager allows at most one open session at a time. The session value is
// passed explicitly to every operation that needs it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zero-day-ai/gauntlet/event"
	"github.com/zero-day-ai/gauntlet/oracle"
)

var (
	// ErrNoSession is returned by operations that need an open session and
	// were given none.
	ErrNoSession = errors.New("session: no open session")

	// ErrSessionActive is returned when starting a session while another one
	// is still open.
	ErrSessionActive = errors.New("session: another session is active")

	// ErrSessionClosed is returned when using a session after End.
	ErrSessionClosed = errors.New("session: session closed")
)

// DefaultAgentID is the oracle agent used when none is configured.
const DefaultAgentID = "gauntlet-mock-agent"

// Manager creates sessions bound to one oracle.
type Manager struct {
	oracle  oracle.Oracle
	agentID string
	sink    event.Sink
	logger  *slog.Logger

	mu     sync.Mutex
	active *Session
}

// Option configures a Manager.
type Option func(*Manager)

// WithAgentID sets the oracle agent id.
func WithAgentID(id string) Option {
	return func(m *Manager) { m.agentID = id }
}

// WithSink sets the event sink shared by every session.
func WithSink(s event.Sink) Option {
	return func(m *Manager) { m.sink = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager returns a Manager for o.
func NewManager(o oracle.Oracle, opts ...Option) *Manager {
	m := &Manager{
		oracle:  o,
		agentID: DefaultAgentID,
		sink:    event.Nop,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start opens a new session with a fresh run id and no conversation.
func (m *Manager) Start(ctx context.Context) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil && !m.active.Ended() {
		return nil, fmt.Errorf("%w: run %s", ErrSessionActive, m.active.RunID())
	}

	s := &Session{
		runID:   uuid.NewString(),
		agentID: m.agentID,
		started: time.Now().UTC(),
		oracle:  m.oracle,
		sink:    m.sink,
		logger:  m.logger,
		manager: m,
	}
	m.active = s
	m.logger.Info("session started", "run_id", s.runID, "agent_id", s.agentID)
	return s, nil
}

// Active returns the open session, or nil.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil || m.active.Ended() {
		return nil
	}
	return m.active
}

func (m *Manager) release(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == s {
		m.active = nil
	}
}

// Session is one test run.
type Session struct {
	runID   string
	agentID string
	started time.Time

	oracle  oracle.Oracle
	sink    event.Sink
	logger  *slog.Logger
	manager *Manager

	// intercept serializes interception within the run.
	intercept sync.Mutex

	mu                  sync.Mutex
	conversationID      string
	hypothesis          string
	hypothesisEmbedding []float32
	seq                 uint64
	lastStamp           time.Time
	ended               bool
}

// New returns a standalone session not tracked by any Manager.
func New(o oracle.Oracle, agentID string, sink event.Sink) *Session {
	if agentID == "" {
		agentID = DefaultAgentID
	}
	if sink == nil {
		sink = event.Nop
	}
	return &Session{
		runID:   uuid.NewString(),
		agentID: agentID,
		started: time.Now().UTC(),
		oracle:  o,
		sink:    sink,
		logger:  slog.Default(),
	}
}

// RunID returns the run identifier.
func (s *Session) RunID() string { return s.runID }

// AgentID returns the oracle agent id.
func (s *Session) AgentID() string { return s.agentID }

// Started returns when the session was opened.
func (s *Session) Started() time.Time { return s.started }

// Logger returns the session logger tagged with the run id.
func (s *Session) Logger() *slog.Logger { return s.logger.With("run_id", s.runID) }

// ConversationID returns the current oracle continuation id.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Hypothesis returns the active hypothesis text.
func (s *Session) Hypothesis() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hypothesis
}

// HypothesisEmbedding returns the active hypothesis embedding, if known.
func (s *Session) HypothesisEmbedding() []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float32(nil), s.hypothesisEmbedding...)
}

// SetHypothesis records the hypothesis driving the run.
func (s *Session) SetHypothesis(text string, embedding []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hypothesis = text
	s.hypothesisEmbedding = append([]float32(nil), embedding...)
}

// Converse sends message within the session's conversation and stores the
// returned continuation id.
func (s *Session) Converse(ctx context.Context, message string) (*oracle.Reply, error) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	req := oracle.Request{Message: message, AgentID: s.agentID, ConversationID: s.conversationID}
	s.mu.Unlock()

	reply, err := s.oracle.Converse(ctx, req)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if reply.ConversationID != "" {
		s.conversationID = reply.ConversationID
	}
	s.mu.Unlock()
	return reply, nil
}

// ConverseFresh sends message in a new, independent conversation. The
// session's continuation id is left untouched.
func (s *Session) ConverseFresh(ctx context.Context, message string) (*oracle.Reply, error) {
	if s.Ended() {
		return nil, ErrSessionClosed
	}
	return s.oracle.Converse(ctx, oracle.Request{Message: message, AgentID: s.agentID})
}

// Emit publishes an event tagged with the next sequence number of the run.
// Sink failures are logged and otherwise ignored.
func (s *Session) Emit(ctx context.Context, t event.Type, payload map[string]any) {
	s.mu.Lock()
	seq := s.seq
	s.seq++
	s.mu.Unlock()

	e := event.Event{Type: t, Seq: seq, RunID: s.runID, Time: time.Now().UTC(), Payload: payload}
	if err := s.sink.Publish(ctx, e); err != nil {
		s.Logger().Warn("event sink failed", "type", t, "seq", seq, "error", err)
	}
}

// Stamp returns t, or the previous stamp when t is earlier, so records
// written during the run never go back in time if the wall clock steps back.
func (s *Session) Stamp(t time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Before(s.lastStamp) {
		t = s.lastStamp
	}
	s.lastStamp = t
	return t
}

// LockIntercept serializes interception within the run. The returned
// function releases the lock.
func (s *Session) LockIntercept() func() {
	s.intercept.Lock()
	return s.intercept.Unlock
}

// End closes the session. Later Converse calls fail with ErrSessionClosed.
func (s *Session) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.mu.Unlock()

	if s.manager != nil {
		s.manager.release(s)
	}
	s.Logger().Info("session ended", "duration", time.Since(s.started))
}

// Ended reports whether End was called.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Require returns ErrNoSession when s is nil or ended.
func Require(s *Session) error {
	if s == nil {
		return ErrNoSession
	}
	if s.Ended() {
		return fmt.Errorf("%w: run %s ended", ErrNoSession, s.runID)
	}
	return nil
}
