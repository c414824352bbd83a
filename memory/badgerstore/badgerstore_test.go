package badgerstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/gauntlet/finding"
	"github.com/zero-day-ai/gauntlet/memory"
	"github.com/zero-day-ai/gauntlet/memory/memorytest"
)

func TestConformance(t *testing.T) {
	memorytest.Run(t, func(t *testing.T) memory.Store {
		s, err := OpenInMemory()
		require.NoError(t, err)
		return s
	})
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
}

// TestPersistentReopen verifies records and their order survive a restart.
func TestPersistentReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s, err := Open(Config{Path: dir, SyncWrites: true})
	require.NoError(t, err)
	require.NoError(t, s.AppendQuery(ctx, memory.QueryRecord{QueryID: "q1", ToolName: "search_emails", Timestamp: ts}))
	require.NoError(t, s.AppendBug(ctx, memory.BugRecord{
		BugID: "bug-1", RunID: "run-1", Timestamp: ts, BugDescription: "leak", Severity: finding.SeverityHigh,
	}))
	require.NoError(t, s.Close())

	s, err = Open(Config{Path: dir})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.AppendQuery(ctx, memory.QueryRecord{QueryID: "q2", ToolName: "search_emails", Timestamp: ts}))

	got, err := s.Queries(ctx, "search_emails", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "q2", got[0].QueryID)

	err = s.AppendBug(ctx, memory.BugRecord{
		BugID: "bug-1", RunID: "run-2", Timestamp: ts, BugDescription: "again", Severity: finding.SeverityLow,
	})
	assert.ErrorIs(t, err, memory.ErrDuplicate)
}

// TestPrefixIsolation checks that a run id that prefixes another does not
// leak records across runs.
func TestPrefixIsolation(t *testing.T) {
	s, err := OpenInMemory()
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.AppendMutation(ctx, memory.MutationRecord{RunID: "run-1", ToolName: "t", Timestamp: now}))
	require.NoError(t, s.AppendMutation(ctx, memory.MutationRecord{RunID: "run-10", ToolName: "t", Timestamp: now}))

	got, err := s.Mutations(ctx, "run-1", 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
