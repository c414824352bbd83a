// Package hypothesis drafts the failure mode a run tries to provoke.
//
// Candidates come from consecutive, independent oracle exchanges. The final
// choice is delegated to the oracle in a single message that shows
// every candidate; whatever the oracle answers is resolved back to exactly
// one of the inputs.
package hypothesis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zero-day-ai/gauntlet/oracle"
	"github.com/zero-day-ai/gauntlet/session"
	"github.com/zero-day-ai/gauntlet/toolbox"
)

// DefaultCandidates is the number of candidates drafted per run.
const DefaultCandidates = 3

// ErrEmptyCandidate is returned when an oracle exchange yields no text.
var ErrEmptyCandidate = errors.New("hypothesis: empty candidate")

// Candidate is one drafted hypothesis.
type Candidate struct {
	Text      string    `json:"hypothesis"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// Engine drafts and selects hypotheses.
type Engine struct {
	candidates int
	logger     *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithCandidates sets how many candidates Hypothesize drafts.
func WithCandidates(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.candidates = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New returns an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{candidates: DefaultCandidates, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

const generatePrompt = "Call generate-hypothesis to produce a novel bug hypothesis. " +
	"Sample the known bugs, draft one new hypothesis that is grounded in them but distinct from all of them. " +
	`Return JSON: {"hypothesis": "<text>", "embedding": [<numbers>]}. Omit the embedding if you do not have one.`

// GenerateCandidates drafts n candidates one after another, each in its own
// conversation. The first failed exchange fails the whole call; no partial
// result is returned.
func (e *Engine) GenerateCandidates(ctx context.Context, sess *session.Session, n int) ([]Candidate, error) {
	if err := session.Require(sess); err != nil {
		return nil, fmt.Errorf("generate candidates: %w", err)
	}
	if n <= 0 {
		n = DefaultCandidates
	}

	out := make([]Candidate, 0, n)
	for i := range n {
		reply, err := sess.ConverseFresh(ctx, generatePrompt)
		if err != nil {
			return nil, fmt.Errorf("candidate %d: %w", i+1, err)
		}
		c, err := parseCandidate(reply)
		if err != nil {
			return nil, fmt.Errorf("candidate %d: %w", i+1, err)
		}
		out = append(out, c)
	}

	sess.Logger().Debug("hypothesis candidates drafted", "count", n)
	return out, nil
}

func parseCandidate(reply *oracle.Reply) (Candidate, error) {
	text := strings.TrimSpace(reply.Message)

	if raw, ok := oracle.ExtractJSON(oracle.StripFences(text)); ok {
		var c Candidate
		if err := json.Unmarshal([]byte(raw), &c); err == nil && strings.TrimSpace(c.Text) != "" {
			c.Text = strings.TrimSpace(c.Text)
			return c, nil
		}
	}
	if text == "" {
		return Candidate{}, ErrEmptyCandidate
	}

	c := Candidate{Text: text}
	// An oracle that ran generate-hypothesis itself reports the embedding in
	// the tool result even when its message is plain text.
	if calls := reply.Calls(toolbox.GenerateHypothesis); len(calls) == 1 && calls[0].Executed {
		var h toolbox.Hypothesis
		if err := json.Unmarshal([]byte(calls[0].Result), &h); err == nil {
			c.Embedding = h.Embedding
		}
	}
	return c, nil
}

// SelectPrompt renders the selection instruction.
func SelectPrompt(candidates []Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You generated %d candidate hypotheses:\n", len(candidates))
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c.Text)
	}
	b.WriteString("\nPick the one that is most novel, furthest from known bugs. ")
	b.WriteString("Return ONLY the selected hypothesis text, verbatim, nothing else.")
	return b.String()
}

// Select asks the oracle to choose among candidates within the session
// conversation. The returned candidate is always one of the inputs.
func (e *Engine) Select(ctx context.Context, sess *session.Session, candidates []Candidate) (Candidate, error) {
	if err := session.Require(sess); err != nil {
		return Candidate{}, fmt.Errorf("select hypothesis: %w", err)
	}
	if len(candidates) == 0 {
		return Candidate{}, fmt.Errorf("select hypothesis: %w", ErrEmptyCandidate)
	}

	reply, err := sess.Converse(ctx, SelectPrompt(candidates))
	if err != nil {
		return Candidate{}, fmt.Errorf("select hypothesis: %w", err)
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Text
	}
	idx, how := Resolve(reply.Message, texts)
	sess.Logger().Debug("hypothesis selected", "index", idx, "match", how)
	return candidates[idx], nil
}

// Hypothesize drafts candidates, selects one and stores it on the session.
func (e *Engine) Hypothesize(ctx context.Context, sess *session.Session) (string, error) {
	candidates, err := e.GenerateCandidates(ctx, sess, e.candidates)
	if err != nil {
		return "", err
	}
	chosen, err := e.Select(ctx, sess, candidates)
	if err != nil {
		return "", err
	}
	sess.SetHypothesis(chosen.Text, chosen.Embedding)
	e.logger.Info("hypothesis chosen", "run_id", sess.RunID(), "hypothesis", chosen.Text)
	return chosen.Text, nil
}

// Input asks the oracle for a user task that exercises the session's
// hypothesis.
func (e *Engine) Input(ctx context.Context, sess *session.Session) (string, error) {
	if err := session.Require(sess); err != nil {
		return "", fmt.Errorf("input: %w", err)
	}
	reply, err := sess.Converse(ctx, fmt.Sprintf(
		"The hypothesis for this test run is:\n%s\n\n"+
			"Generate a natural-language task/input that an agent would receive from a user "+
			"that would exercise the tools in a way that could trigger this hypothesis. "+
			"Return ONLY the task description, as if a user is asking the agent to do something.",
		sess.Hypothesis()))
	if err != nil {
		return "", fmt.Errorf("input: %w", err)
	}
	return strings.TrimSpace(reply.Message), nil
}
