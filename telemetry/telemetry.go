// Package telemetry wires OpenTelemetry tracing and metrics for gauntlet.
//
// Metrics are exported through a Prometheus registry owned by the Provider,
// so several providers (one per test, say) never collide on the global
// registry.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config controls telemetry behavior.
type Config struct {
	// ServiceName identifies this process in traces and metrics.
	ServiceName string

	// Metrics enables the Prometheus-backed meter provider. When false the
	// meter is a no-op and MetricsHandler returns nil.
	Metrics bool

	// SpanProcessors receive every finished span. None by default.
	SpanProcessors []sdktrace.SpanProcessor
}

// Provider owns the tracer and meter providers.
type Provider struct {
	tp       *sdktrace.TracerProvider
	mp       *sdkmetric.MeterProvider
	registry *prometheus.Registry
	handler  http.Handler
}

// Setup builds a Provider for cfg. Call Shutdown on exit.
func Setup(_ context.Context, cfg Config) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "gauntlet"
	}
	res := resource.NewWithAttributes("",
		attribute.String("service.name", cfg.ServiceName),
	)

	topts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}
	for _, sp := range cfg.SpanProcessors {
		topts = append(topts, sdktrace.WithSpanProcessor(sp))
	}
	p := &Provider{tp: sdktrace.NewTracerProvider(topts...)}

	if cfg.Metrics {
		p.registry = prometheus.NewRegistry()
		exporter, err := promexporter.New(promexporter.WithRegisterer(p.registry))
		if err != nil {
			return nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		p.mp = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(exporter),
			sdkmetric.WithResource(res),
		)
		p.handler = promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
	}
	return p, nil
}

// Tracer returns a named tracer.
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tp.Tracer(name)
}

// Meter returns a named meter, or a no-op meter when metrics are disabled.
func (p *Provider) Meter(name string) metric.Meter {
	if p.mp == nil {
		return metricnoop.NewMeterProvider().Meter(name)
	}
	return p.mp.Meter(name)
}

// MetricsHandler returns the /metrics handler, or nil when metrics are
// disabled.
func (p *Provider) MetricsHandler() http.Handler {
	return p.handler
}

// Registry returns the Prometheus registry, or nil when metrics are
// disabled.
func (p *Provider) Registry() *prometheus.Registry {
	return p.registry
}

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if err := p.tp.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if p.mp != nil {
		if err := p.mp.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
