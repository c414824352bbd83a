package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/gauntlet"
	"github.com/zero-day-ai/gauntlet/config"
	"github.com/zero-day-ai/gauntlet/demo"
	"github.com/zero-day-ai/gauntlet/finding"
	"github.com/zero-day-ai/gauntlet/memory"
	"github.com/zero-day-ai/gauntlet/memory/inmem"
	"github.com/zero-day-ai/gauntlet/memory/sqlitestore"
	"github.com/zero-day-ai/gauntlet/oracle"
	"github.com/zero-day-ai/gauntlet/oracle/scripted"
)

func writeConfig(t *testing.T, dbPath string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gauntlet.yaml")
	data := "mode: \"ON\"\n" +
		"store:\n  backend: sqlite\n  sqlite:\n    path: " + dbPath + "\n" +
		"oracle:\n  provider: kibana\n  kibana:\n    url: http://127.0.0.1:1\n" +
		"telemetry:\n  metrics: false\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSetupIndexesDemoTools(t *testing.T) {
	db := filepath.Join(t.TempDir(), "gauntlet.db")
	cfgPath := writeConfig(t, db)

	out, err := execute(t, "--config", cfgPath, "--log-level", "error", "setup")
	require.NoError(t, err)
	assert.Equal(t, "indexed 7 tools into sqlite memory\n", out)

	store, err := sqlitestore.Open(db)
	require.NoError(t, err)
	defer store.Close()
	tools, err := store.LongTerm().Tools(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, tools, 7)
}

func TestBugsListAndExport(t *testing.T) {
	ctx := context.Background()
	db := filepath.Join(t.TempDir(), "gauntlet.db")
	cfgPath := writeConfig(t, db)

	store, err := sqlitestore.Open(db)
	require.NoError(t, err)
	require.NoError(t, store.LongTerm().AppendBug(ctx, memory.BugRecord{
		BugID:              "bug-1234abcd",
		Timestamp:          time.Date(2026, 2, 27, 10, 0, 0, 0, time.UTC),
		RunID:              "1234abcd-0000-0000-0000-000000000000",
		Hypothesis:         demo.Hypothesis,
		BugDescription:     "credentials forwarded to an external address",
		BugPattern:         "prompt-injection",
		AssumptionViolated: "email bodies are data",
		ToolsInvolved:      []string{"search_emails", "send_email"},
		Severity:           finding.SeverityCritical,
	}))
	require.NoError(t, store.Close())

	out, err := execute(t, "-c", cfgPath, "bugs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "bug-1234abcd")
	assert.Contains(t, out, "1234abcd ")
	assert.Contains(t, out, "1 bug(s), highest severity critical")

	out, err = execute(t, "-c", cfgPath, "bugs", "export", "--format", "csv")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "bug_id,timestamp,run_id"))
	assert.Contains(t, lines[1], "search_emails;send_email")

	file := filepath.Join(t.TempDir(), "bugs.md")
	_, err = execute(t, "-c", cfgPath, "bugs", "export", "-f", "md", "-o", file)
	require.NoError(t, err)
	md, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(md), "bug-1234abcd")

	_, err = execute(t, "-c", cfgPath, "bugs", "export", "--format", "xml")
	assert.ErrorContains(t, err, "unknown export format")
}

func TestInvalidLogFlags(t *testing.T) {
	cfgPath := writeConfig(t, filepath.Join(t.TempDir(), "g.db"))

	_, err := execute(t, "-c", cfgPath, "--log-format", "yaml", "bugs", "list")
	assert.ErrorContains(t, err, "invalid log format")

	_, err = execute(t, "-c", cfgPath, "--log-level", "loud", "bugs", "list")
	assert.ErrorContains(t, err, "invalid log level")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "debug", "json")
	require.NoError(t, err)
	logger.Debug("hello", "run_id", "r1")
	assert.Contains(t, buf.String(), `"run_id":"r1"`)

	buf.Reset()
	logger, err = newLogger(&buf, "warn", "text")
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestOpenStoreBackends(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	cases := map[string]func(*config.Config){
		"memory": func(c *config.Config) {},
		"sqlite": func(c *config.Config) {
			c.Store.SQLite.Path = filepath.Join(t.TempDir(), "g.db")
		},
		"badger": func(c *config.Config) { c.Store.Badger.InMemory = true },
		"redis":  func(c *config.Config) { c.Store.Redis.URL = "redis://" + mr.Addr() },
	}
	for backend, mutate := range cases {
		t.Run(backend, func(t *testing.T) {
			cfg := config.Default()
			cfg.Store.Backend = backend
			mutate(cfg)

			store, err := openStore(cfg, discardLogger(t))
			require.NoError(t, err)
			defer store.Close()
			assert.NoError(t, store.Ping(ctx))
		})
	}

	cfg := config.Default()
	cfg.Store.Backend = "cassandra"
	_, err := openStore(cfg, discardLogger(t))
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestOpenOracle(t *testing.T) {
	store := inmem.New()
	defer store.Close()

	cfg := config.Default()
	_, _, err := openOracle(cfg, store, discardLogger(t))
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	cfg.Oracle.Kibana.URL = "http://127.0.0.1:1"
	o, tb, err := openOracle(cfg, store, discardLogger(t))
	require.NoError(t, err)
	assert.NotNil(t, o)
	assert.NotNil(t, tb)

	cfg.Oracle.Provider = "openai"
	_, _, err = openOracle(cfg, store, discardLogger(t))
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	seed := uint64(7)
	cfg.Oracle.OpenAI.APIKey = "sk-test"
	cfg.Hypothesis.Seed = &seed
	o, tb, err = openOracle(cfg, store, discardLogger(t))
	require.NoError(t, err)
	assert.NotNil(t, o)
	assert.NotEmpty(t, tb.Defs())
}

func TestRunDemoWithoutMutation(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	defer store.Close()

	o := scripted.NewHandler(func(_ context.Context, req oracle.Request) scripted.Response {
		if strings.Contains(req.Message, "has completed its task") {
			return scripted.Response{Message: "No bugs found"}
		}
		return scripted.Response{Message: `{"mutated": false, "result": "", "description": ""}`}
	})
	g, err := gauntlet.New(store, o, gauntlet.WithEnabled(true), gauntlet.WithLogger(discardLogger(t)))
	require.NoError(t, err)

	rt := &runtime{cfg: config.Default(), logger: discardLogger(t), store: store, oracle: o, gauntlet: g, data: demo.DefaultData()}
	for _, e := range demo.Tools(rt.data) {
		g.Register(e.Tool, e.Func)
	}

	var out bytes.Buffer
	opts := &demoOptions{rootOptions: &rootOptions{}, Hypothesis: demo.Hypothesis, Task: demo.Task}
	require.NoError(t, runDemo(ctx, rt, opts, &out))

	assert.Contains(t, out.String(), "I checked your inbox: 3 unread email(s).")
	assert.Contains(t, out.String(), "No bugs found")
	assert.Contains(t, out.String(), "no bugs recorded")

	tools, err := store.LongTerm().Tools(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, tools, 7)
	qs, err := store.LongTerm().Queries(ctx, demo.SearchEmails, 0)
	require.NoError(t, err)
	assert.Len(t, qs, 1)
}

func discardLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.DiscardHandler)
}

func TestNewRuntimeWiresEventBus(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	cfg := config.Default()
	cfg.Oracle.Kibana.URL = "http://127.0.0.1:1"
	cfg.Telemetry.Metrics = false
	cfg.Events.RedisURL = "redis://" + mr.Addr()

	rt, err := newRuntime(ctx, cfg, discardLogger(t), nil)
	require.NoError(t, err)
	require.NotNil(t, rt.bus)
	assert.Nil(t, rt.registry)
	assert.Equal(t, 7, rt.gauntlet.Tools().Len())
	assert.NoError(t, rt.Close(ctx))

	cfg.Events.RedisURL = ""
	cfg.Oracle.Kibana.URL = ""
	_, err = newRuntime(ctx, cfg, discardLogger(t), nil)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}
