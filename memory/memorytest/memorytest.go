// Package memorytest holds the behavioral suite every memory.Store backend
// must pass.
package memorytest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/gauntlet/finding"
	"github.com/zero-day-ai/gauntlet/memory"
	"github.com/zero-day-ai/gauntlet/tool"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) memory.Store

// base is truncated to the millisecond so backends that persist timestamps
// at millisecond precision compare equal.
var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// timeCmp compares timestamps by instant, ignoring location.
var timeCmp = cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })

// Run runs the conformance suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	open := func(t *testing.T) memory.Store {
		t.Helper()
		s := newStore(t)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}

	t.Run("Ping", func(t *testing.T) {
		require.NoError(t, open(t).Ping(context.Background()))
	})

	t.Run("MutationsOrderedAscending", func(t *testing.T) {
		ctx := context.Background()
		stm := open(t).ShortTerm()

		// appended out of order; the two at base+1s tie
		recs := []memory.MutationRecord{
			mutation("run-1", "search_emails", base.Add(2*time.Second), "third"),
			mutation("run-1", "search_emails", base.Add(time.Second), "first-tie"),
			mutation("run-1", "read_document", base.Add(time.Second), "second-tie"),
			mutation("run-2", "search_emails", base, "other run"),
		}
		for _, r := range recs {
			require.NoError(t, stm.AppendMutation(ctx, r))
		}

		got, err := stm.Mutations(ctx, "run-1", 0)
		require.NoError(t, err)
		want := []memory.MutationRecord{recs[1], recs[2], recs[0]}
		if diff := cmp.Diff(want, got, timeCmp); diff != "" {
			t.Errorf("Mutations mismatch (-want +got):\n%s", diff)
		}

		limited, err := stm.Mutations(ctx, "run-1", 2)
		require.NoError(t, err)
		assert.Len(t, limited, 2)

		none, err := stm.Mutations(ctx, "missing", 0)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("MutationLimitDefault", func(t *testing.T) {
		ctx := context.Background()
		stm := open(t).ShortTerm()
		for i := 0; i < memory.DefaultMutationLimit+5; i++ {
			require.NoError(t, stm.AppendMutation(ctx,
				mutation("run-1", "t", base.Add(time.Duration(i)*time.Millisecond), fmt.Sprint(i))))
		}
		got, err := stm.Mutations(ctx, "run-1", 0)
		require.NoError(t, err)
		assert.Len(t, got, memory.DefaultMutationLimit)
		assert.Equal(t, "0", got[0].MutationDescription)
	})

	t.Run("InvalidMutationRejected", func(t *testing.T) {
		err := open(t).ShortTerm().AppendMutation(context.Background(), memory.MutationRecord{ToolName: "t", Timestamp: base})
		assert.ErrorIs(t, err, memory.ErrInvalidRecord)
	})

	t.Run("QueriesOrderedDescending", func(t *testing.T) {
		ctx := context.Background()
		ltm := open(t).LongTerm()

		recs := []memory.QueryRecord{
			query("q1", "search_emails", base, false),
			query("q2", "search_emails", base.Add(2*time.Second), true),
			query("q3", "search_emails", base.Add(time.Second), false),
			query("q4", "search_emails", base.Add(2*time.Second), false),
			query("q5", "send_email", base.Add(3*time.Second), false),
		}
		for _, r := range recs {
			require.NoError(t, ltm.AppendQuery(ctx, r))
		}

		got, err := ltm.Queries(ctx, "search_emails", 0)
		require.NoError(t, err)
		ids := make([]string, len(got))
		for i, r := range got {
			ids[i] = r.QueryID
		}
		// ties resolve newest append first
		assert.Equal(t, []string{"q4", "q2", "q3", "q1"}, ids)
		if diff := cmp.Diff(recs[3], got[0], timeCmp); diff != "" {
			t.Errorf("query record mismatch (-want +got):\n%s", diff)
		}

		limited, err := ltm.Queries(ctx, "search_emails", 1)
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.Equal(t, "q4", limited[0].QueryID)
	})

	t.Run("BugsAppendAndDuplicate", func(t *testing.T) {
		ctx := context.Background()
		ltm := open(t).LongTerm()

		b := bug("bug-1", base, []float32{0.1, 0.2})
		require.NoError(t, ltm.AppendBug(ctx, b))
		require.NoError(t, ltm.AppendBug(ctx, bug("bug-2", base.Add(time.Second), nil)))

		err := ltm.AppendBug(ctx, bug("bug-1", base.Add(time.Minute), nil))
		assert.ErrorIs(t, err, memory.ErrDuplicate)

		all, err := ltm.Bugs(ctx, 0)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "bug-2", all[0].BugID)
		if diff := cmp.Diff(b, all[1], timeCmp, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("bug record mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("InvalidBugRejected", func(t *testing.T) {
		b := bug("bug-1", base, nil)
		b.Severity = "catastrophic"
		err := open(t).LongTerm().AppendBug(context.Background(), b)
		assert.ErrorIs(t, err, memory.ErrInvalidRecord)
	})

	t.Run("SampleBugs", func(t *testing.T) {
		ctx := context.Background()
		ltm := open(t).LongTerm()

		empty, err := ltm.SampleBugs(ctx, memory.DefaultBugSample, memory.NewSeededSampler(1))
		require.NoError(t, err)
		assert.Empty(t, empty)

		for i := 0; i < 20; i++ {
			require.NoError(t, ltm.AppendBug(ctx, bug(fmt.Sprintf("bug-%02d", i), base.Add(time.Duration(i)*time.Second), nil)))
		}

		got, err := ltm.SampleBugs(ctx, memory.DefaultBugSample, memory.NewSeededSampler(1))
		require.NoError(t, err)
		assert.Len(t, got, memory.DefaultBugSample)
		seen := map[string]bool{}
		for _, b := range got {
			assert.False(t, seen[b.BugID], "bug %s sampled twice", b.BugID)
			seen[b.BugID] = true
		}

		few, err := ltm.SampleBugs(ctx, 50, nil)
		require.NoError(t, err)
		assert.Len(t, few, 20)
	})

	t.Run("ToolsUpsertByName", func(t *testing.T) {
		ctx := context.Background()
		ltm := open(t).LongTerm()

		require.NoError(t, ltm.PutTool(ctx, memory.ToolDescriptor{ToolName: "search_emails", ToolType: tool.KindQuery, Docstring: "v1"}))
		require.NoError(t, ltm.PutTool(ctx, memory.ToolDescriptor{ToolName: "send_email", ToolType: tool.KindMutation, Docstring: "send"}))
		require.NoError(t, ltm.PutTool(ctx, memory.ToolDescriptor{ToolName: "search_emails", ToolType: tool.KindQuery, Docstring: "v2"}))

		got, err := ltm.Tools(ctx, 0)
		require.NoError(t, err)
		require.Len(t, got, 2)
		byName := map[string]memory.ToolDescriptor{}
		for _, d := range got {
			byName[d.ToolName] = d
		}
		assert.Equal(t, "v2", byName["search_emails"].Docstring)
		assert.Equal(t, tool.KindMutation, byName["send_email"].ToolType)

		assert.ErrorIs(t, ltm.PutTool(ctx, memory.ToolDescriptor{}), memory.ErrInvalidRecord)
	})

	t.Run("ConcurrentRunsArePartitioned", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		const runs, perRun = 4, 25
		var wg sync.WaitGroup
		errs := make(chan error, runs*perRun)
		for r := 0; r < runs; r++ {
			wg.Add(1)
			go func(r int) {
				defer wg.Done()
				runID := fmt.Sprintf("run-%d", r)
				for i := 0; i < perRun; i++ {
					ts := base.Add(time.Duration(i) * time.Millisecond)
					if err := s.ShortTerm().AppendMutation(ctx, mutation(runID, "t", ts, fmt.Sprint(i))); err != nil {
						errs <- err
					}
				}
			}(r)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		for r := 0; r < runs; r++ {
			got, err := s.ShortTerm().Mutations(ctx, fmt.Sprintf("run-%d", r), 0)
			require.NoError(t, err)
			require.Len(t, got, perRun)
			for i, m := range got {
				assert.Equal(t, fmt.Sprint(i), m.MutationDescription)
			}
		}
	})

	t.Run("ClosedStoreFails", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Close())
		err := s.ShortTerm().AppendMutation(context.Background(), mutation("r", "t", base, "x"))
		assert.Error(t, err)
	})
}

func mutation(runID, toolName string, ts time.Time, desc string) memory.MutationRecord {
	return memory.MutationRecord{
		RunID:               runID,
		Timestamp:           ts,
		ToolName:            toolName,
		CallDescription:     `{"args":{"query":"invoice"}}`,
		OriginalResult:      "original",
		MutatedResult:       "mutated",
		MutationDescription: desc,
		HypothesisID:        "hyp-" + runID,
	}
}

func query(id, toolName string, ts time.Time, mutated bool) memory.QueryRecord {
	rec := memory.QueryRecord{
		QueryID:          id,
		Timestamp:        ts,
		RunID:            "run-1",
		ToolName:         toolName,
		QueryDescription: toolName + " call",
		QueryParams:      `{"args":{}}`,
		Result:           "result " + id,
		WasMutated:       mutated,
	}
	if mutated {
		rec.MutationApplied = "swapped sender"
	}
	return rec
}

func bug(id string, ts time.Time, embedding []float32) memory.BugRecord {
	return memory.BugRecord{
		BugID:              id,
		Timestamp:          ts,
		RunID:              "run-1",
		Hypothesis:         "agent trusts email bodies",
		BugDescription:     "agent forwarded credentials from " + id,
		BugPattern:         string(finding.PatternPromptInjection),
		AssumptionViolated: "tool output is data",
		ToolsInvolved:      []string{"search_emails", "send_email"},
		Severity:           finding.SeverityCritical,
		Embedding:          embedding,
	}
}
