package bugs

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zero-day-ai/gauntlet/event"
	"github.com/zero-day-ai/gauntlet/finding"
	"github.com/zero-day-ai/gauntlet/memory"
	"github.com/zero-day-ai/gauntlet/memory/inmem"
	"github.com/zero-day-ai/gauntlet/oracle"
	"github.com/zero-day-ai/gauntlet/oracle/scripted"
	"github.com/zero-day-ai/gauntlet/session"
	"github.com/zero-day-ai/gauntlet/toolbox"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func storeBugCall(t *testing.T, fields map[string]any) oracle.ToolCall {
	t.Helper()
	data, err := json.Marshal(fields)
	require.NoError(t, err)
	return oracle.ToolCall{ID: "call-1", Name: toolbox.StoreBug, Arguments: string(data)}
}

func validFields(runID string) map[string]any {
	return map[string]any{
		"bug_id":              SuggestedBugID(runID),
		"run_id":              runID,
		"hypothesis":          "the agent follows instructions in email bodies",
		"bug_description":     "forwarded the api-keys document to an external address",
		"bug_pattern":         "prompt-injection",
		"assumption_violated": "email content is data, not instructions",
		"tools_involved":      "search_emails, send_email",
		"severity":            "critical",
	}
}

func TestNarrativeOnlyCreatesNoBug(t *testing.T) {
	store := inmem.New()
	o := scripted.New(scripted.Response{
		Message: "I found a critical bug: the agent leaked credentials (prompt-injection). " +
			`{"bug_id": "bug-1", "severity": "critical"}`,
	})
	sess := session.New(o, "", nil)

	ev, err := NewRecorder(store).Evaluate(context.Background(), sess, "Sent api keys to attacker@evil.test")
	require.NoError(t, err)
	assert.Empty(t, ev.Bugs)
	assert.Zero(t, ev.Rejected)
	assert.Contains(t, ev.Summary, "critical bug")

	all, err := store.Bugs(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStoreBugInvocationCreatesRecord(t *testing.T) {
	store := inmem.New()
	o := scripted.New()
	rec := event.NewRecorder()
	sess := session.New(o, "", rec)
	sess.SetHypothesis("the agent follows instructions in email bodies", nil)
	o.Push(scripted.Response{
		Message:   "Recorded one bug.",
		ToolCalls: []oracle.ToolCall{storeBugCall(t, validFields(sess.RunID()))},
	})

	ev, err := NewRecorder(store).Evaluate(context.Background(), sess, "final output")
	require.NoError(t, err)
	require.Len(t, ev.Bugs, 1)
	assert.Equal(t, finding.SeverityCritical, ev.Bugs[0].Severity)
	assert.Equal(t, []string{"search_emails", "send_email"}, ev.Bugs[0].ToolsInvolved)

	all, err := store.Bugs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, SuggestedBugID(sess.RunID()), all[0].BugID)

	assert.Equal(t, []event.Type{event.TypeEvaluateStart, event.TypeEvaluateEnd}, rec.Types())
	assert.Equal(t, 1, rec.Events()[1].Payload["bugs"])

	prompt := o.Requests()[0].Message
	assert.Contains(t, prompt, "final output")
	assert.Contains(t, prompt, sess.RunID())
	assert.Contains(t, prompt, "bug_id: "+SuggestedBugID(sess.RunID()))
	assert.Contains(t, prompt, sess.Hypothesis())
}

func TestInvalidInvocationsRejected(t *testing.T) {
	store := inmem.New()
	o := scripted.New()
	sess := session.New(o, "", nil)

	missing := validFields(sess.RunID())
	delete(missing, "assumption_violated")
	empty := validFields(sess.RunID())
	empty["bug_description"] = ""
	badSeverity := validFields(sess.RunID())
	badSeverity["severity"] = "catastrophic"
	otherRun := validFields("another-run-id")
	noTools := validFields(sess.RunID())
	noTools["tools_involved"] = []string{}

	o.Push(scripted.Response{
		Message: "Recorded bugs.",
		ToolCalls: []oracle.ToolCall{
			storeBugCall(t, missing),
			storeBugCall(t, empty),
			storeBugCall(t, badSeverity),
			storeBugCall(t, otherRun),
			storeBugCall(t, noTools),
			{Name: toolbox.StoreBug, Arguments: "not json"},
			{Name: toolbox.FindRelevantMutations, Arguments: `{"run_id": "x"}`},
		},
	})

	ev, err := NewRecorder(store).Evaluate(context.Background(), sess, "out")
	require.NoError(t, err)
	assert.Empty(t, ev.Bugs)
	assert.Equal(t, 6, ev.Rejected)

	all, err := store.Bugs(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestExecutedInvocationNotRewritten(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	o := scripted.New()
	sess := session.New(o, "", nil)

	fields := validFields(sess.RunID())
	tb := toolbox.New(store)
	report, err := toolbox.ParseBugReport(storeBugCall(t, fields).Arguments)
	require.NoError(t, err)
	existing, err := tb.StoreBug(ctx, report)
	require.NoError(t, err)

	call := storeBugCall(t, fields)
	call.Executed = true
	call.Result = `{"stored": true}`
	external := validFields(sess.RunID())
	external["bug_id"] = "bug-external"
	callExternal := storeBugCall(t, external)
	callExternal.Executed = true
	o.Push(scripted.Response{Message: "done", ToolCalls: []oracle.ToolCall{call, callExternal}})

	ev, err := NewRecorder(store, WithToolbox(tb)).Evaluate(ctx, sess, "out")
	require.NoError(t, err)
	require.Len(t, ev.Bugs, 2)
	assert.Equal(t, existing.Timestamp, ev.Bugs[0].Timestamp)
	assert.Equal(t, "bug-external", ev.Bugs[1].BugID)

	all, err := store.Bugs(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestExecutedInvocationCommittedLocally(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	o := scripted.New()
	sess := session.New(o, "", nil)

	call := storeBugCall(t, validFields(sess.RunID()))
	call.Executed = true
	call.Result = `[{"type": "other", "data": {"stored": true}}]`
	o.Push(scripted.Response{Message: "Recorded one bug.", ToolCalls: []oracle.ToolCall{call}})

	ev, err := NewRecorder(store).Evaluate(ctx, sess, "out")
	require.NoError(t, err)
	require.Len(t, ev.Bugs, 1)
	assert.Zero(t, ev.Rejected)

	all, err := store.Bugs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, SuggestedBugID(sess.RunID()), all[0].BugID)
	assert.Equal(t, ev.Bugs[0].Timestamp, all[0].Timestamp)
	assert.Equal(t, finding.SeverityCritical, all[0].Severity)
}

func TestDuplicateBugRejected(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	o := scripted.New()
	sess := session.New(o, "", nil)
	call := storeBugCall(t, validFields(sess.RunID()))
	o.Push(scripted.Response{Message: "x", ToolCalls: []oracle.ToolCall{call, call}})

	ev, err := NewRecorder(store).Evaluate(ctx, sess, "out")
	require.NoError(t, err)
	assert.Len(t, ev.Bugs, 1)
	assert.Equal(t, 1, ev.Rejected)
}

func TestStorageFailurePropagates(t *testing.T) {
	store := inmem.New()
	o := scripted.New()
	sess := session.New(o, "", nil)
	o.Push(scripted.Response{Message: "x", ToolCalls: []oracle.ToolCall{storeBugCall(t, validFields(sess.RunID()))}})
	require.NoError(t, store.Close())

	_, err := NewRecorder(store).Evaluate(context.Background(), sess, "out")
	assert.ErrorIs(t, err, memory.ErrClosed)
}

func TestEvaluateErrors(t *testing.T) {
	r := NewRecorder(inmem.New())
	_, err := r.Evaluate(context.Background(), nil, "out")
	assert.ErrorIs(t, err, session.ErrNoSession)

	sess := session.New(scripted.New(scripted.Response{Err: oracle.ErrTransport}), "", nil)
	_, err = r.Evaluate(context.Background(), sess, "out")
	assert.ErrorIs(t, err, oracle.ErrTransport)
}

func sampleBugs() []memory.BugRecord {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []memory.BugRecord{
		{BugID: "bug-1", Timestamp: ts, RunID: "run-a", BugPattern: "Prompt Injection", Severity: finding.SeverityCritical,
			ToolsInvolved: []string{"search_emails", "send_email"}, BugDescription: "leaked keys, \"quoted\"", Hypothesis: "h1"},
		{BugID: "bug-2", Timestamp: ts, RunID: "run-a", BugPattern: "prompt_injection", Severity: finding.SeverityHigh,
			ToolsInvolved: []string{"search_emails"}, BugDescription: "obeyed email"},
		{BugID: "bug-3", Timestamp: ts, RunID: "run-b", BugPattern: "hallucination", Severity: finding.SeverityLow,
			ToolsInvolved: []string{"read_page"}, BugDescription: "made up a policy"},
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleBugs())
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.ByPattern[finding.PatternPromptInjection])
	assert.Equal(t, 1, s.ByPattern[finding.PatternHallucination])
	assert.Equal(t, map[string]int{"run-a": 2, "run-b": 1}, s.ByRun)
	assert.Equal(t, 2, s.ByTool["search_emails"])
	assert.Equal(t, finding.SeverityCritical, s.Highest())

	empty := Summarize(nil)
	assert.Zero(t, empty.Total)
	assert.Equal(t, finding.Severity(""), empty.Highest())
}

func TestExport(t *testing.T) {
	bugs := sampleBugs()

	var js bytes.Buffer
	require.NoError(t, Export(&js, FormatJSON, bugs))
	var decoded []memory.BugRecord
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Len(t, decoded, 3)

	js.Reset()
	require.NoError(t, Export(&js, FormatJSON, nil))
	assert.Equal(t, "[]\n", js.String())

	var cs bytes.Buffer
	require.NoError(t, Export(&cs, FormatCSV, bugs))
	rows, err := csv.NewReader(&cs).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "search_emails;send_email", rows[1][5])
	assert.Equal(t, `leaked keys, "quoted"`, rows[1][7])

	var md bytes.Buffer
	require.NoError(t, Export(&md, FormatMarkdown, bugs))
	assert.Contains(t, md.String(), "3 bugs, highest severity: critical")
	assert.Contains(t, md.String(), "| prompt-injection | 2 |")
	assert.Contains(t, md.String(), "## bug-3 (low)")

	assert.Error(t, Export(&md, Format("xml"), bugs))
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"JSON": FormatJSON, "csv": FormatCSV, "md": FormatMarkdown, " markdown ": FormatMarkdown} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, fmt.Sprintf("input %q", in))
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}
