package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
mode: "ON"
agent_id: pa-fuzzer
policy: kind == "query"
store:
  backend: redis
  redis:
    url: redis://localhost:6379/0
    prefix: fuzz
oracle:
  provider: openai
  openai:
    api_key: sk-test
    model: gpt-4o-mini
    requests_per_second: 2
hypothesis:
  candidates: 5
  seed: 42
registry:
  endpoints: [localhost:2379]
  ttl: 10
log:
  level: debug
  format: json
`

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"GAUNTLET_MODE", "GAUNTLET_AGENT_ID", "GAUNTLET_POLICY", "GAUNTLET_STORE",
		"GAUNTLET_REDIS_URL", "GAUNTLET_BADGER_PATH", "GAUNTLET_SQLITE_PATH",
		"GAUNTLET_ORACLE", "KIBANA_URL", "API_KEY", "OPENAI_API_KEY", "OPENAI_BASE_URL",
		"OPENAI_MODEL", "GAUNTLET_SEED", "GAUNTLET_REGISTRY_ENDPOINTS",
		"GAUNTLET_MONITOR_ADDR", "GAUNTLET_GRPC_ADDR", "GAUNTLET_LOG_LEVEL", "GAUNTLET_LOG_FORMAT",
		"GAUNTLET_EVENTS_REDIS_URL",
	} {
		t.Setenv(k, "")
	}
}

func TestParse(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.True(t, cfg.Enabled())
	assert.Equal(t, "pa-fuzzer", cfg.AgentID)
	assert.Equal(t, `kind == "query"`, cfg.Policy)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "fuzz", cfg.Store.Redis.Prefix)
	assert.Equal(t, "openai", cfg.Oracle.Provider)
	assert.Equal(t, 2.0, cfg.Oracle.OpenAI.RequestsPerSecond)
	assert.Equal(t, 5, cfg.GetCandidates())
	require.NotNil(t, cfg.Hypothesis.Seed)
	assert.Equal(t, uint64(42), *cfg.Hypothesis.Seed)
	assert.Equal(t, 10*time.Second, cfg.GetRegistryTTL())
	assert.Equal(t, "json", cfg.Log.Format)

	// defaults survive a partial file
	assert.Equal(t, "gauntlet", cfg.Telemetry.ServiceName)
	assert.Equal(t, ":8080", cfg.GetMonitorAddr())
	assert.Equal(t, ":9090", cfg.GetGRPCAddr())
	assert.Equal(t, 5*time.Minute, cfg.GetKibanaTimeout())
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("GAUNTLET_MODE", "off")
	t.Setenv("GAUNTLET_STORE", "sqlite")
	t.Setenv("GAUNTLET_SQLITE_PATH", "/tmp/gauntlet.db")
	t.Setenv("KIBANA_URL", "https://kb.example.com")
	t.Setenv("API_KEY", "secret")
	t.Setenv("GAUNTLET_SEED", "7")
	t.Setenv("GAUNTLET_REGISTRY_ENDPOINTS", "a:2379, b:2379,")
	t.Setenv("GAUNTLET_EVENTS_REDIS_URL", "redis://bus:6379")

	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.False(t, cfg.Enabled())
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "/tmp/gauntlet.db", cfg.Store.SQLite.Path)
	assert.Equal(t, "https://kb.example.com", cfg.Oracle.Kibana.URL)
	assert.Equal(t, "secret", cfg.Oracle.Kibana.APIKey)
	assert.Equal(t, uint64(7), *cfg.Hypothesis.Seed)
	assert.Equal(t, []string{"a:2379", "b:2379"}, cfg.Registry.Endpoints)
	assert.Equal(t, "redis://bus:6379", cfg.Events.RedisURL)
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name string
		yaml string
	}{
		{"bad backend", "store: {backend: mongo}"},
		{"redis without url", "store: {backend: redis}"},
		{"badger without path", "store: {backend: badger}"},
		{"sqlite without path", "store: {backend: sqlite}"},
		{"bad provider", "oracle: {provider: claude}"},
		{"bad mode", "mode: maybe"},
		{"bad kibana url", "oracle: {kibana: {url: 'not a url'}}"},
		{"negative rounds", "oracle: {openai: {max_tool_rounds: -1}}"},
		{"bad log level", "log: {level: loud}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := Parse([]byte("store: {backend: badger, badger: {in_memory: true}}"))
	assert.NoError(t, err)

	_, err = Parse([]byte("mode: [unclosed"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadFromDir(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "gauntlet.yml"), []byte("agent_id: from-file\n"), 0o644))

	cfg, err := LoadFromDir(nested)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.AgentID)

	cfg, err = Load(filepath.Join(root, "gauntlet.yml"))
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.AgentID)

	_, err = Load(filepath.Join(root, "missing.yaml"))
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "gauntlet.yaml"), []byte("store: {backend: nope}\n"), 0o644))
	_, err = LoadFromDir(nested)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.Enabled())
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 3, cfg.GetCandidates())
	assert.Equal(t, 30*time.Second, cfg.GetRegistryTTL())
}
