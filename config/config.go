// Package config provides loading and validation of gauntlet.yaml
// configuration files.
//
// Values are read from YAML first, then overridden by environment variables,
// then validated. A missing file is not an error for LoadFromDir callers that
// fall back to Default.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when a configuration fails validation.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// File names searched by LoadFromDir, in order.
var fileNames = []string{"gauntlet.yaml", "gauntlet.yml"}

// Config represents a gauntlet.yaml configuration file.
type Config struct {
	// Mode switches interception: "ON" or "OFF".
	Mode string `yaml:"mode" validate:"omitempty,oneof=ON OFF on off On Off"`

	// AgentID is the oracle agent the sessions converse with.
	AgentID string `yaml:"agent_id"`

	// Policy is an optional CEL expression selecting which calls are
	// intercepted.
	Policy string `yaml:"policy,omitempty"`

	Store      StoreConfig      `yaml:"store"`
	Oracle     OracleConfig     `yaml:"oracle"`
	Hypothesis HypothesisConfig `yaml:"hypothesis"`
	Registry   RegistryConfig   `yaml:"registry"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Events     EventsConfig     `yaml:"events"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Log        LogConfig        `yaml:"log"`
}

// StoreConfig selects and configures the memory backend.
type StoreConfig struct {
	// Backend is one of memory, redis, badger, sqlite. Default: memory.
	Backend string `yaml:"backend" validate:"omitempty,oneof=memory redis badger sqlite"`

	Redis  RedisConfig  `yaml:"redis"`
	Badger BadgerConfig `yaml:"badger"`
	SQLite SQLiteConfig `yaml:"sqlite"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix,omitempty"`
}

// BadgerConfig configures the badger backend.
type BadgerConfig struct {
	Path       string `yaml:"path"`
	InMemory   bool   `yaml:"in_memory,omitempty"`
	SyncWrites bool   `yaml:"sync_writes,omitempty"`
}

// SQLiteConfig configures the sqlite backend.
type SQLiteConfig struct {
	// Path is the database file. ":memory:" keeps it in memory.
	Path string `yaml:"path"`
}

// OracleConfig selects and configures the decision oracle.
type OracleConfig struct {
	// Provider is one of kibana, openai. Default: kibana.
	Provider string `yaml:"provider" validate:"omitempty,oneof=kibana openai"`

	Kibana KibanaConfig `yaml:"kibana"`
	OpenAI OpenAIConfig `yaml:"openai"`
}

// KibanaConfig configures the Agent Builder oracle.
type KibanaConfig struct {
	URL    string `yaml:"url" validate:"omitempty,url"`
	APIKey string `yaml:"api_key"`

	// Timeout bounds one converse round trip.
	// Format: Go duration string (e.g., "5m")
	// Default: 5m
	Timeout string `yaml:"timeout,omitempty"`
}

// OpenAIConfig configures the self-hosted oracle.
type OpenAIConfig struct {
	APIKey            string  `yaml:"api_key"`
	BaseURL           string  `yaml:"base_url,omitempty" validate:"omitempty,url"`
	Model             string  `yaml:"model,omitempty"`
	EmbeddingModel    string  `yaml:"embedding_model,omitempty"`
	MaxToolRounds     int     `yaml:"max_tool_rounds,omitempty" validate:"gte=0"`
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty" validate:"gte=0"`
	Burst             int     `yaml:"burst,omitempty" validate:"gte=0"`
}

// HypothesisConfig tunes hypothesis generation.
type HypothesisConfig struct {
	// Candidates drafted per run. Default: 3.
	Candidates int `yaml:"candidates,omitempty" validate:"gte=0,lte=16"`

	// Seed makes bug sampling deterministic when set.
	Seed *uint64 `yaml:"seed,omitempty"`
}

// RegistryConfig configures run announcement in etcd.
type RegistryConfig struct {
	Endpoints []string `yaml:"endpoints,omitempty" validate:"dive,required"`
	Namespace string   `yaml:"namespace,omitempty"`

	// TTL is the lease TTL in seconds. Default: 30.
	TTL int `yaml:"ttl,omitempty" validate:"gte=0"`
}

// MonitorConfig configures the monitor HTTP and gRPC listeners.
type MonitorConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	GRPCAddr string `yaml:"grpc_addr,omitempty"`
}

// EventsConfig configures the cross-process event bus. Events stay
// in-process when RedisURL is empty.
type EventsConfig struct {
	RedisURL string `yaml:"redis_url,omitempty"`
	Channel  string `yaml:"channel,omitempty"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name,omitempty"`
	Metrics     bool   `yaml:"metrics"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format,omitempty" validate:"omitempty,oneof=text json"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Mode:    "ON",
		AgentID: "gauntlet-mock-agent",
		Store:   StoreConfig{Backend: "memory"},
		Oracle:  OracleConfig{Provider: "kibana"},
		Telemetry: TelemetryConfig{
			ServiceName: "gauntlet",
			Metrics:     true,
		},
	}
}

// Enabled reports whether interception is on.
func (c *Config) Enabled() bool {
	return strings.EqualFold(c.Mode, "ON")
}

// GetKibanaTimeout parses the Kibana timeout string and returns a duration.
// Returns the default value if not set or invalid.
func (c *Config) GetKibanaTimeout() time.Duration {
	if c.Oracle.Kibana.Timeout == "" {
		return 5 * time.Minute
	}
	d, err := time.ParseDuration(c.Oracle.Kibana.Timeout)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// GetCandidates returns the configured candidate count or the default.
func (c *Config) GetCandidates() int {
	if c.Hypothesis.Candidates <= 0 {
		return 3
	}
	return c.Hypothesis.Candidates
}

// GetRegistryTTL returns the lease TTL or the default.
func (c *Config) GetRegistryTTL() time.Duration {
	if c.Registry.TTL <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Registry.TTL) * time.Second
}

// GetMonitorAddr returns the monitor HTTP address or the default.
func (c *Config) GetMonitorAddr() string {
	if c.Monitor.Addr == "" {
		return ":8080"
	}
	return c.Monitor.Addr
}

// GetGRPCAddr returns the gRPC health address or the default.
func (c *Config) GetGRPCAddr() string {
	if c.Monitor.GRPCAddr == "" {
		return ":9090"
	}
	return c.Monitor.GRPCAddr
}

// Load reads and parses a gauntlet.yaml file from the given path, applies
// environment overrides and validates the result. If the path is a
// directory, it looks for gauntlet.yaml or gauntlet.yml in that directory.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	configPath := path
	if info.IsDir() {
		configPath = ""
		for _, name := range fileNames {
			candidate := filepath.Join(path, name)
			if _, err := os.Stat(candidate); err == nil {
				configPath = candidate
				break
			}
		}
		if configPath == "" {
			return nil, fmt.Errorf("no gauntlet.yaml or gauntlet.yml found in %s: %w", path, os.ErrNotExist)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default, applies environment overrides and
// validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromDir searches for gauntlet.yaml starting from the given directory
// and walking up to parent directories. When none is found it returns
// Default with environment overrides applied.
func LoadFromDir(dir string) (*Config, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	for {
		cfg, err := Load(absDir)
		if err == nil {
			return cfg, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}

		parent := filepath.Dir(absDir)
		if parent == absDir {
			return FromEnv()
		}
		absDir = parent
	}
}

// FromEnv returns Default with environment overrides applied.
func FromEnv() (*Config, error) {
	cfg := Default()
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables looked up with
// lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("GAUNTLET_MODE", &c.Mode)
	str("GAUNTLET_AGENT_ID", &c.AgentID)
	str("GAUNTLET_POLICY", &c.Policy)

	str("GAUNTLET_STORE", &c.Store.Backend)
	str("GAUNTLET_REDIS_URL", &c.Store.Redis.URL)
	str("GAUNTLET_BADGER_PATH", &c.Store.Badger.Path)
	str("GAUNTLET_SQLITE_PATH", &c.Store.SQLite.Path)

	str("GAUNTLET_ORACLE", &c.Oracle.Provider)
	str("KIBANA_URL", &c.Oracle.Kibana.URL)
	str("API_KEY", &c.Oracle.Kibana.APIKey)
	str("OPENAI_API_KEY", &c.Oracle.OpenAI.APIKey)
	str("OPENAI_BASE_URL", &c.Oracle.OpenAI.BaseURL)
	str("OPENAI_MODEL", &c.Oracle.OpenAI.Model)

	if v, ok := lookup("GAUNTLET_SEED"); ok && v != "" {
		if seed, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.Hypothesis.Seed = &seed
		}
	}

	if v, ok := lookup("GAUNTLET_REGISTRY_ENDPOINTS"); ok && v != "" {
		var eps []string
		for _, ep := range strings.Split(v, ",") {
			if ep = strings.TrimSpace(ep); ep != "" {
				eps = append(eps, ep)
			}
		}
		c.Registry.Endpoints = eps
	}

	str("GAUNTLET_MONITOR_ADDR", &c.Monitor.Addr)
	str("GAUNTLET_GRPC_ADDR", &c.Monitor.GRPCAddr)
	str("GAUNTLET_EVENTS_REDIS_URL", &c.Events.RedisURL)
	str("GAUNTLET_LOG_LEVEL", &c.Log.Level)
	str("GAUNTLET_LOG_FORMAT", &c.Log.Format)
}

var configValidate = validator.New()

// Validate checks field rules and cross-field requirements of the selected
// backend and oracle.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	switch c.Store.Backend {
	case "redis":
		if c.Store.Redis.URL == "" {
			return fmt.Errorf("%w: store.redis.url is required", ErrInvalidConfig)
		}
	case "badger":
		if c.Store.Badger.Path == "" && !c.Store.Badger.InMemory {
			return fmt.Errorf("%w: store.badger.path is required", ErrInvalidConfig)
		}
	case "sqlite":
		if c.Store.SQLite.Path == "" {
			return fmt.Errorf("%w: store.sqlite.path is required", ErrInvalidConfig)
		}
	}
	return nil
}
