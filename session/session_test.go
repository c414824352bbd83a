package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/gauntlet/event"
	"github.com/zero-day-ai/gauntlet/oracle"
	"github.com/zero-day-ai/gauntlet/oracle/scripted"
)

func TestManagerSingleActiveSession(t *testing.T) {
	ctx := context.Background()
	m := NewManager(scripted.New(), WithAgentID("agent-x"))

	s, err := m.Start(ctx)
	require.NoError(t, err)
	_, err = uuid.Parse(s.RunID())
	assert.NoError(t, err)
	assert.Equal(t, "agent-x", s.AgentID())
	assert.Empty(t, s.ConversationID())
	assert.Same(t, s, m.Active())

	_, err = m.Start(ctx)
	assert.ErrorIs(t, err, ErrSessionActive)

	s.End()
	assert.Nil(t, m.Active())

	s2, err := m.Start(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, s.RunID(), s2.RunID())
}

func TestConverseStoresContinuation(t *testing.T) {
	ctx := context.Background()
	o := scripted.New(
		scripted.Response{Message: "one"},
		scripted.Response{Message: "two"},
		scripted.Response{Message: "fresh"},
	)
	s := New(o, "", nil)

	_, err := s.Converse(ctx, "first")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", s.ConversationID())

	_, err = s.Converse(ctx, "second")
	require.NoError(t, err)

	// a fresh exchange does not disturb the continuation id
	r, err := s.ConverseFresh(ctx, "side")
	require.NoError(t, err)
	assert.Equal(t, "conv-2", r.ConversationID)
	assert.Equal(t, "conv-1", s.ConversationID())

	reqs := o.Requests()
	require.Len(t, reqs, 3)
	assert.Empty(t, reqs[0].ConversationID)
	assert.Equal(t, "conv-1", reqs[1].ConversationID)
	assert.Empty(t, reqs[2].ConversationID)
	assert.Equal(t, DefaultAgentID, reqs[0].AgentID)
}

func TestEndedSession(t *testing.T) {
	s := New(scripted.New(scripted.Response{Message: "x"}), "a", nil)
	require.NoError(t, Require(s))

	s.End()
	s.End()
	assert.True(t, s.Ended())

	_, err := s.Converse(context.Background(), "m")
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = s.ConverseFresh(context.Background(), "m")
	assert.ErrorIs(t, err, ErrSessionClosed)

	assert.ErrorIs(t, Require(s), ErrNoSession)
	assert.ErrorIs(t, Require(nil), ErrNoSession)
}

func TestOracleErrorKeepsConversation(t *testing.T) {
	o := scripted.New(
		scripted.Response{Message: "ok"},
		scripted.Response{Err: oracle.ErrTransport},
	)
	s := New(o, "a", nil)
	_, err := s.Converse(context.Background(), "m")
	require.NoError(t, err)

	_, err = s.Converse(context.Background(), "m")
	assert.ErrorIs(t, err, oracle.ErrTransport)
	assert.Equal(t, "conv-1", s.ConversationID())
}

func TestEmitSequence(t *testing.T) {
	rec := event.NewRecorder()
	m := NewManager(scripted.New(), WithSink(rec))
	s, err := m.Start(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Emit(context.Background(), event.TypeIntercept, nil)
		}()
	}
	wg.Wait()

	seen := make(map[uint64]bool)
	for _, e := range rec.Events() {
		assert.Equal(t, s.RunID(), e.RunID)
		seen[e.Seq] = true
	}
	for i := uint64(0); i < 10; i++ {
		assert.True(t, seen[i], "missing seq %d", i)
	}

	// a new run starts again at 0
	s.End()
	s2, err := m.Start(context.Background())
	require.NoError(t, err)
	s2.Emit(context.Background(), event.TypeToolCallStart, nil)
	events := rec.Events()
	assert.Equal(t, uint64(0), events[len(events)-1].Seq)
}

func TestHypothesis(t *testing.T) {
	s := New(scripted.New(), "a", nil)
	emb := []float32{1, 2}
	s.SetHypothesis("agent trusts email bodies", emb)
	emb[0] = 9
	assert.Equal(t, "agent trusts email bodies", s.Hypothesis())
	assert.Equal(t, []float32{1, 2}, s.HypothesisEmbedding())
}

func TestStampNeverGoesBack(t *testing.T) {
	s := New(scripted.New(), "", nil)
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	assert.Equal(t, base, s.Stamp(base))
	assert.Equal(t, base, s.Stamp(base.Add(-time.Second)))
	assert.Equal(t, base.Add(time.Second), s.Stamp(base.Add(time.Second)))
}
