package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zero-day-ai/gauntlet"
	"github.com/zero-day-ai/gauntlet/config"
	"github.com/zero-day-ai/gauntlet/demo"
	"github.com/zero-day-ai/gauntlet/event"
	"github.com/zero-day-ai/gauntlet/event/redisbus"
	"github.com/zero-day-ai/gauntlet/memory"
	"github.com/zero-day-ai/gauntlet/memory/badgerstore"
	"github.com/zero-day-ai/gauntlet/memory/inmem"
	"github.com/zero-day-ai/gauntlet/memory/redisstore"
	"github.com/zero-day-ai/gauntlet/memory/sqlitestore"
	"github.com/zero-day-ai/gauntlet/oracle"
	"github.com/zero-day-ai/gauntlet/oracle/kibana"
	"github.com/zero-day-ai/gauntlet/oracle/openai"
	"github.com/zero-day-ai/gauntlet/registry"
	"github.com/zero-day-ai/gauntlet/telemetry"
	"github.com/zero-day-ai/gauntlet/toolbox"
)

// openStore opens the configured memory backend.
func openStore(cfg *config.Config, logger *slog.Logger) (memory.Store, error) {
	switch cfg.Store.Backend {
	case "", "memory":
		return inmem.New(), nil
	case "redis":
		s, err := redisstore.New(redisstore.Options{URL: cfg.Store.Redis.URL, Prefix: cfg.Store.Redis.Prefix})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "badger":
		s, err := badgerstore.Open(badgerstore.Config{
			Path:       cfg.Store.Badger.Path,
			InMemory:   cfg.Store.Badger.InMemory,
			SyncWrites: cfg.Store.Badger.SyncWrites,
			Logger:     logger.With("component", "badger"),
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		s, err := sqlitestore.Open(cfg.Store.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w: unknown store backend %q", config.ErrInvalidConfig, cfg.Store.Backend)
}

// openOracle builds the configured oracle and the toolbox that commits
// store-bug invocations against store. The openai oracle executes the
// toolbox itself.
func openOracle(cfg *config.Config, store memory.Store, logger *slog.Logger) (oracle.Oracle, *toolbox.Toolbox, error) {
	tbOpts := []toolbox.Option{toolbox.WithLogger(logger)}
	if seed := cfg.Hypothesis.Seed; seed != nil {
		tbOpts = append(tbOpts, toolbox.WithSampler(memory.NewSeededSampler(*seed)))
	}

	switch cfg.Oracle.Provider {
	case "", "kibana":
		c, err := kibana.New(kibana.Options{
			BaseURL: cfg.Oracle.Kibana.URL,
			APIKey:  cfg.Oracle.Kibana.APIKey,
			Timeout: cfg.GetKibanaTimeout(),
			Logger:  logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
		}
		return c, toolbox.New(store, tbOpts...), nil
	case "openai":
		oc := cfg.Oracle.OpenAI
		o, err := openai.New(openai.Options{
			APIKey:            oc.APIKey,
			BaseURL:           oc.BaseURL,
			Model:             oc.Model,
			EmbeddingModel:    oc.EmbeddingModel,
			MaxToolRounds:     oc.MaxToolRounds,
			RequestsPerSecond: oc.RequestsPerSecond,
			Burst:             oc.Burst,
			Logger:            logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
		}
		tb := toolbox.New(store, append(tbOpts, toolbox.WithCompleter(o), toolbox.WithEmbedder(o))...)
		o.UseTools(tb)
		return o, tb, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown oracle provider %q", config.ErrInvalidConfig, cfg.Oracle.Provider)
}

// openRegistry connects to etcd when endpoints are configured. It returns
// nil, nil otherwise.
func openRegistry(cfg *config.Config) (*registry.Client, error) {
	if len(cfg.Registry.Endpoints) == 0 {
		return nil, nil
	}
	return registry.NewClient(registry.Config{
		Endpoints: cfg.Registry.Endpoints,
		Namespace: cfg.Registry.Namespace,
		TTL:       cfg.Registry.TTL,
	})
}

// runtime bundles everything a command needs for a run.
type runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     memory.Store
	oracle    oracle.Oracle
	telemetry *telemetry.Provider
	registry  *registry.Client
	bus       *redisbus.Bus
	gauntlet  *gauntlet.Gauntlet
	data      *demo.Data
}

// newRuntime opens the store, oracle, telemetry and registry from cfg and
// builds a Gauntlet with the demo toolset registered. Lifecycle events go
// to the log, to sink when non-nil and to the Redis event bus when one is
// configured.
func newRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, sink event.Sink) (_ *runtime, err error) {
	rt := &runtime{cfg: cfg, logger: logger, data: demo.DefaultData()}
	defer func() {
		if err != nil {
			rt.Close(context.WithoutCancel(ctx))
		}
	}()

	if rt.store, err = openStore(cfg, logger); err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	var tb *toolbox.Toolbox
	if rt.oracle, tb, err = openOracle(cfg, rt.store, logger); err != nil {
		return nil, fmt.Errorf("open oracle: %w", err)
	}
	if rt.telemetry, err = telemetry.Setup(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Metrics:     cfg.Telemetry.Metrics,
	}); err != nil {
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}
	if rt.registry, err = openRegistry(cfg); err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}

	sinks := event.Multi{event.LogSink{Logger: logger}}
	if sink != nil {
		sinks = append(sinks, sink)
	}
	if cfg.Events.RedisURL != "" {
		if rt.bus, err = redisbus.New(redisbus.Options{
			URL:     cfg.Events.RedisURL,
			Channel: cfg.Events.Channel,
			Logger:  logger,
		}); err != nil {
			return nil, fmt.Errorf("open event bus: %w", err)
		}
		sinks = append(sinks, rt.bus)
	}

	opts := []gauntlet.Option{
		gauntlet.WithLogger(logger),
		gauntlet.WithAgentID(cfg.AgentID),
		gauntlet.WithEnabled(cfg.Enabled()),
		gauntlet.WithPolicy(cfg.Policy),
		gauntlet.WithCandidates(cfg.GetCandidates()),
		gauntlet.WithToolbox(tb),
		gauntlet.WithSink(sinks),
		gauntlet.WithTracer(rt.telemetry.Tracer("github.com/zero-day-ai/gauntlet")),
		gauntlet.WithMeter(rt.telemetry.Meter("github.com/zero-day-ai/gauntlet")),
	}
	if rt.registry != nil {
		opts = append(opts, gauntlet.WithAnnouncer(registry.NewAnnouncer(rt.registry, "demo-agent", "", logger)))
	}

	if rt.gauntlet, err = gauntlet.New(rt.store, rt.oracle, opts...); err != nil {
		return nil, err
	}
	for _, e := range demo.Tools(rt.data) {
		rt.gauntlet.Register(e.Tool, e.Func)
	}
	return rt, nil
}

// Close releases everything newRuntime opened.
func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.bus != nil {
		errs = append(errs, rt.bus.Close())
	}
	if rt.registry != nil {
		errs = append(errs, rt.registry.Close())
	}
	if rt.telemetry != nil {
		errs = append(errs, rt.telemetry.Shutdown(ctx))
	}
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	return errors.Join(errs...)
}
