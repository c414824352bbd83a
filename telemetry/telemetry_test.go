package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestMetricsExposedOnHandler(t *testing.T) {
	ctx := context.Background()
	p, err := Setup(ctx, Config{ServiceName: "gauntlet-test", Metrics: true})
	require.NoError(t, err)
	defer func() { require.NoError(t, p.Shutdown(ctx)) }()

	counter, err := p.Meter("test").Int64Counter("gauntlet.intercept.calls", metric.WithUnit("1"))
	require.NoError(t, err)
	counter.Add(ctx, 3)

	require.NotNil(t, p.MetricsHandler())
	srv := httptest.NewServer(p.MetricsHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "gauntlet_intercept_calls")
}

func TestMetricsDisabled(t *testing.T) {
	ctx := context.Background()
	p, err := Setup(ctx, Config{})
	require.NoError(t, err)
	assert.Nil(t, p.MetricsHandler())
	assert.Nil(t, p.Registry())

	_, err = p.Meter("test").Int64Counter("noop")
	assert.NoError(t, err)
	assert.NoError(t, p.Shutdown(ctx))
}

func TestSpanProcessors(t *testing.T) {
	ctx := context.Background()
	rec := tracetest.NewSpanRecorder()
	p, err := Setup(ctx, Config{SpanProcessors: nil})
	require.NoError(t, err)
	require.NoError(t, p.Shutdown(ctx))

	p, err = Setup(ctx, Config{SpanProcessors: []sdktrace.SpanProcessor{rec}})
	require.NoError(t, err)
	defer p.Shutdown(ctx)

	_, span := p.Tracer("test").Start(ctx, "gauntlet.intercept")
	span.End()
	require.Len(t, rec.Ended(), 1)
	assert.Equal(t, "gauntlet.intercept", rec.Ended()[0].Name())
}
