package monitor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/gauntlet/event"
	"github.com/zero-day-ai/gauntlet/finding"
	"github.com/zero-day-ai/gauntlet/memory"
	"github.com/zero-day-ai/gauntlet/memory/inmem"
	"github.com/zero-day-ai/gauntlet/registry"
	"github.com/zero-day-ai/gauntlet/telemetry"
)

type fixture struct {
	store  *inmem.Store
	broker *event.Broker
	reg    *registry.Memory
	srv    *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{store: inmem.New(), broker: event.NewBroker(8), reg: registry.NewMemory()}

	tp, err := telemetry.Setup(ctx, telemetry.Config{Metrics: true})
	require.NoError(t, err)
	t.Cleanup(func() { tp.Shutdown(ctx) })

	m, err := New(Options{Store: f.store, Broker: f.broker, Registry: f.reg, Metrics: tp.MetricsHandler()})
	require.NoError(t, err)
	f.srv = httptest.NewServer(m.Handler())
	t.Cleanup(f.srv.Close)
	t.Cleanup(f.broker.Close)
	return f
}

func (f *fixture) get(t *testing.T, path string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func seedBugs(t *testing.T, store memory.Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, sev := range []finding.Severity{finding.SeverityHigh, finding.SeverityLow} {
		require.NoError(t, store.LongTerm().AppendBug(ctx, memory.BugRecord{
			BugID:          "bug-" + string(rune('a'+i)),
			Timestamp:      base.Add(time.Duration(i) * time.Minute),
			RunID:          "run-1",
			BugDescription: "agent followed injected instruction",
			BugPattern:     "prompt-injection",
			ToolsInvolved:  []string{"read_email"},
			Severity:       sev,
		}))
	}
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp := f.get(t, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, f.store.Close())
	resp = f.get(t, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestBugs(t *testing.T) {
	f := newFixture(t)

	var empty BugsResponse
	f.get(t, "/api/bugs", &empty)
	assert.NotNil(t, empty.Bugs)
	assert.Zero(t, empty.Summary.Total)

	seedBugs(t, f.store)
	var got BugsResponse
	resp := f.get(t, "/api/bugs", &got)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, got.Bugs, 2)
	assert.Equal(t, "bug-b", got.Bugs[0].BugID)
	assert.Equal(t, 2, got.Summary.Total)
	assert.Equal(t, 2, got.Summary.ByPattern[finding.PatternPromptInjection])

	var limited BugsResponse
	f.get(t, "/api/bugs?limit=1", &limited)
	assert.Len(t, limited.Bugs, 1)
}

func TestBugsExportFormats(t *testing.T) {
	f := newFixture(t)
	seedBugs(t, f.store)

	resp := f.get(t, "/api/bugs?format=csv", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/csv")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(strings.TrimSpace(string(body)), "\n")+1)

	resp = f.get(t, "/api/bugs?format=md", nil)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/markdown")

	resp = f.get(t, "/api/bugs?format=xml", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMutationsAndQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, f.store.ShortTerm().AppendMutation(ctx, memory.MutationRecord{
		RunID: "run-1", Timestamp: now, ToolName: "read_email", MutatedResult: "x",
	}))
	require.NoError(t, f.store.LongTerm().AppendQuery(ctx, memory.QueryRecord{
		QueryID: "q1", Timestamp: now, RunID: "run-1", ToolName: "read_email", Result: "x",
	}))

	var muts MutationsResponse
	f.get(t, "/api/runs/run-1/mutations", &muts)
	assert.Equal(t, "run-1", muts.RunID)
	require.Len(t, muts.Mutations, 1)

	var none MutationsResponse
	f.get(t, "/api/runs/other/mutations", &none)
	assert.NotNil(t, none.Mutations)
	assert.Empty(t, none.Mutations)

	var qs QueriesResponse
	f.get(t, "/api/tools/read_email/queries", &qs)
	require.Len(t, qs.Queries, 1)
	assert.Equal(t, "q1", qs.Queries[0].QueryID)

	resp := f.get(t, "/api/tools/read_email/queries?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTools(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.LongTerm().PutTool(context.Background(), memory.ToolDescriptor{ToolName: "send_email", ToolType: "mutation"}))

	var got ToolsResponse
	f.get(t, "/api/tools", &got)
	require.Len(t, got.Tools, 1)
	assert.Equal(t, "send_email", got.Tools[0].ToolName)
}

func TestInstances(t *testing.T) {
	f := newFixture(t)
	a := registry.NewAnnouncer(f.reg, "pa-agent", "", nil)
	a.Announce(context.Background(), "run-1", "agent", "exfiltrate keys")

	var got InstancesResponse
	f.get(t, "/api/instances", &got)
	assert.True(t, got.Enabled)
	require.Len(t, got.Instances, 1)
	assert.Equal(t, "run-1", got.Instances[0].Metadata[registry.MetaRunID])
}

func TestInstancesWithoutRegistry(t *testing.T) {
	m, err := New(Options{Store: inmem.New()})
	require.NoError(t, err)
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/instances")
	require.NoError(t, err)
	defer resp.Body.Close()
	var got InstancesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.False(t, got.Enabled)

	resp2, err := http.Get(srv.URL + "/api/events")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)
	resp := f.get(t, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEventStream(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.broker.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, f.broker.Publish(context.Background(), event.Event{
		Type: event.TypeIntercept, Seq: 1, RunID: "run-1", Payload: map[string]any{"mutated": true},
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got event.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, event.TypeIntercept, got.Type)
	assert.Equal(t, uint64(1), got.Seq)
	assert.Equal(t, true, got.Payload["mutated"])
}
