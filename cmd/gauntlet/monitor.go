package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zero-day-ai/gauntlet/demo"
	"github.com/zero-day-ai/gauntlet/event"
	"github.com/zero-day-ai/gauntlet/health"
	"github.com/zero-day-ai/gauntlet/monitor"
	"github.com/zero-day-ai/gauntlet/serve"
)

type monitorOptions struct {
	*rootOptions
	Addr     string
	GRPCAddr string
	RunDemo  bool
}

func newMonitorCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &monitorOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Serve the monitor API and gRPC health until interrupted",
		Long: `Serve the monitor HTTP API (bugs, mutations, queries, tools, active
instances, live events and metrics) and a gRPC health service that follows
the memory store.

With --demo one demo run is performed in-process once the servers are up,
so its events appear on /api/events.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMonitor(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "monitor HTTP listen address (default from config, :8080)")
	cmd.Flags().StringVar(&opts.GRPCAddr, "grpc-addr", "", "gRPC health listen address (default from config, :9090)")
	cmd.Flags().BoolVar(&opts.RunDemo, "demo", false, "perform one demo run after startup")

	return cmd
}

func runMonitor(ctx context.Context, opts *monitorOptions, out io.Writer) error {
	cfg, logger := opts.cfg, opts.logger
	if opts.Addr != "" {
		cfg.Monitor.Addr = opts.Addr
	}
	if opts.GRPCAddr != "" {
		cfg.Monitor.GRPCAddr = opts.GRPCAddr
	}

	broker := event.NewBroker(64)
	defer broker.Close()

	// With a bus configured, local runs reach the broker through it like
	// runs in other processes do.
	var local event.Sink = broker
	if cfg.Events.RedisURL != "" {
		local = nil
	}
	rt, err := newRuntime(ctx, cfg, logger, local)
	if err != nil {
		return err
	}
	defer rt.Close(context.WithoutCancel(ctx))

	checks := []health.Check{health.StoreCheck(rt.store)}
	if u := cfg.Oracle.Kibana.URL; u != "" && cfg.Oracle.Provider != "openai" {
		checks = append(checks, health.EndpointCheck("oracle", u))
	}

	mopts := monitor.Options{
		Store:   rt.store,
		Broker:  broker,
		Metrics: rt.telemetry.MetricsHandler(),
		Checks:  checks,
		Logger:  logger,
	}
	if rt.registry != nil {
		mopts.Registry = rt.registry
	}
	mon, err := monitor.New(mopts)
	if err != nil {
		return err
	}

	scfg := serve.DefaultConfig()
	scfg.Addr = cfg.GetGRPCAddr()
	scfg.Logger = logger
	grpcSrv, err := serve.NewServer(scfg, checks...)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mon.ListenAndServe(gctx, cfg.GetMonitorAddr()) })
	g.Go(func() error { return grpcSrv.Serve(gctx) })
	if rt.bus != nil {
		g.Go(func() error { return rt.bus.Forward(gctx, broker) })
	}
	if opts.RunDemo {
		g.Go(func() error {
			dopts := &demoOptions{rootOptions: opts.rootOptions, Hypothesis: demo.Hypothesis, Task: demo.Task}
			if err := runDemo(gctx, rt, dopts, out); err != nil {
				logger.Error("demo run failed", "error", err)
			}
			return nil
		})
	}

	logger.Info("monitor started",
		"http", cfg.GetMonitorAddr(),
		"grpc", grpcSrv.Addr(),
		"registry", rt.registry != nil,
		"event_bus", rt.bus != nil)
	if err := g.Wait(); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	return nil
}
