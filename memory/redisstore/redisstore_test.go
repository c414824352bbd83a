package redisstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/gauntlet/memory"
	"github.com/zero-day-ai/gauntlet/memory/memorytest"
	"github.com/zero-day-ai/gauntlet/tool"
)

// setupTestStore creates a miniredis instance and returns a connected Store.
func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	store, err := New(Options{
		URL:            fmt.Sprintf("redis://%s", mr.Addr()),
		ConnectTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return store, mr
}

func TestConformance(t *testing.T) {
	memorytest.Run(t, func(t *testing.T) memory.Store {
		s, _ := setupTestStore(t)
		return s
	})
}

func TestNew(t *testing.T) {
	t.Run("invalid url", func(t *testing.T) {
		_, err := New(Options{URL: "not-a-url://"})
		require.Error(t, err)
	})

	t.Run("unreachable server", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		_, err := New(Options{URL: "redis://" + addr, ConnectTimeout: 200 * time.Millisecond})
		require.Error(t, err)
		assert.ErrorIs(t, err, memory.ErrStorageFailed)
	})
}

func TestKeyLayout(t *testing.T) {
	s, mr := setupTestStore(t)
	defer s.Close()
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, s.AppendMutation(ctx, memory.MutationRecord{RunID: "run-1", ToolName: "search_emails", Timestamp: now}))
	require.NoError(t, s.PutTool(ctx, memory.ToolDescriptor{ToolName: "search_emails", ToolType: tool.KindQuery}))

	assert.True(t, mr.Exists("gauntlet:stm:run-1"))
	assert.Equal(t, "zset", mr.Type("gauntlet:stm:run-1"))
	assert.True(t, mr.Exists("gauntlet:ltm:func"))
	keys, err := mr.HKeys("gauntlet:ltm:func")
	require.NoError(t, err)
	assert.Equal(t, []string{"search_emails"}, keys)
}

func TestStorageFailure(t *testing.T) {
	s, mr := setupTestStore(t)
	defer s.Close()

	mr.SetError("READONLY injected")
	err := s.AppendQuery(context.Background(), memory.QueryRecord{QueryID: "q", ToolName: "t", Timestamp: time.Now()})
	assert.ErrorIs(t, err, memory.ErrStorageFailed)

	mr.SetError("")
	assert.NoError(t, s.Ping(context.Background()))
}

func TestAppendBugWritesNothingOnFailure(t *testing.T) {
	s, mr := setupTestStore(t)
	defer s.Close()
	ctx := context.Background()

	bug := memory.BugRecord{
		BugID:              "bug-1",
		Timestamp:          time.Now().UTC(),
		RunID:              "run-1",
		Hypothesis:         "email bodies are treated as instructions",
		BugDescription:     "forwarded credentials",
		BugPattern:         "prompt-injection",
		AssumptionViolated: "tool output is data",
		ToolsInvolved:      []string{"search_emails", "send_email"},
		Severity:           "critical",
	}

	// the order list cannot be written, so the hash must stay untouched
	require.NoError(t, mr.Set("gauntlet:ltm:bugs:order", "not a list"))
	err := s.AppendBug(ctx, bug)
	require.ErrorIs(t, err, memory.ErrStorageFailed)
	assert.False(t, mr.Exists("gauntlet:ltm:bugs"))

	mr.Del("gauntlet:ltm:bugs:order")
	require.NoError(t, s.AppendBug(ctx, bug))
	got, err := s.Bugs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "bug-1", got[0].BugID)

	assert.ErrorIs(t, s.AppendBug(ctx, bug), memory.ErrDuplicate)
	ids, err := mr.List("gauntlet:ltm:bugs:order")
	require.NoError(t, err)
	assert.Equal(t, []string{"bug-1"}, ids)
}

func TestQueriesReadOnlyTheNewest(t *testing.T) {
	s, mr := setupTestStore(t)
	defer s.Close()
	ctx := context.Background()

	base := time.Date(2026, 2, 27, 9, 0, 0, 0, time.UTC)
	for i := range 50 {
		require.NoError(t, s.AppendQuery(ctx, memory.QueryRecord{
			QueryID:   fmt.Sprintf("q%02d", i),
			ToolName:  "search_emails",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}
	assert.Equal(t, "zset", mr.Type("gauntlet:ltm:queries:search_emails"))

	got, err := s.Queries(ctx, "search_emails", 3)
	require.NoError(t, err)
	ids := make([]string, len(got))
	for i, q := range got {
		ids[i] = q.QueryID
	}
	assert.Equal(t, []string{"q49", "q48", "q47"}, ids)

	// identical payloads are kept as separate records
	rec := memory.MutationRecord{RunID: "run-1", ToolName: "search_emails", Timestamp: base}
	require.NoError(t, s.AppendMutation(ctx, rec))
	require.NoError(t, s.AppendMutation(ctx, rec))
	muts, err := s.Mutations(ctx, "run-1", 0)
	require.NoError(t, err)
	assert.Len(t, muts, 2)
}
