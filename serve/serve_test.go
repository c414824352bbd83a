package serve

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/zero-day-ai/gauntlet/health"
	"github.com/zero-day-ai/gauntlet/memory/inmem"
)

func dial(t *testing.T, addr string) grpc_health_v1.HealthClient {
	t.Helper()
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return grpc_health_v1.NewHealthClient(conn)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
}

func TestHealthFollowsStorePing(t *testing.T) {
	store := inmem.New()
	srv, err := NewServer(Config{Addr: "127.0.0.1:0", PollInterval: 20 * time.Millisecond}, health.StoreCheck(store))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	client := dial(t, srv.Addr())
	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.GetStatus())

	require.NoError(t, store.Close())
	require.Eventually(t, func() bool {
		resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
		return err == nil && resp.GetStatus() == grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, srv.Last().IsUnhealthy())
}

func TestDegradedStillServes(t *testing.T) {
	degraded := func(context.Context) health.Status { return health.Degraded("oracle unreachable", nil) }
	srv, err := NewServer(Config{Addr: "127.0.0.1:0"}, degraded)
	require.NoError(t, err)
	defer srv.Stop()

	go srv.grpcServer.Serve(srv.listener)
	resp, err := dial(t, srv.Addr()).Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.GetStatus())
	assert.True(t, srv.Last().IsDegraded())
}

func TestRefreshRunsChecks(t *testing.T) {
	var calls atomic.Int32
	check := func(context.Context) health.Status {
		calls.Add(1)
		return health.Healthy("ok")
	}
	srv, err := NewServer(Config{Addr: "127.0.0.1:0"}, check)
	require.NoError(t, err)
	defer srv.Stop()

	assert.Equal(t, int32(1), calls.Load())
	srv.Refresh(context.Background())
	assert.Equal(t, int32(2), calls.Load())
}

func TestListenError(t *testing.T) {
	_, err := NewServer(Config{Addr: "not-an-address"})
	require.Error(t, err)
}

func TestTLSLoadError(t *testing.T) {
	_, err := NewServer(Config{Addr: "127.0.0.1:0", TLSCertFile: "missing.pem", TLSKeyFile: "missing.key"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TLS")
}
