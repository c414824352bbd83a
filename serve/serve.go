// Package serve runs gauntlet's gRPC health endpoint.
//
// The server exposes grpc.health.v1 for the overall service ("") and for
// ServiceName. A watcher re-runs the health checks every PollInterval and
// publishes SERVING while the combined status is not unhealthy.
package serve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	grpchealth "google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/zero-day-ai/gauntlet/health"
)

// ServiceName is the gRPC health service name gauntlet reports under.
const ServiceName = "gauntlet"

// Config holds server settings.
type Config struct {
	// Addr is the listen address. Default: ":9090".
	Addr string

	// PollInterval is how often checks run. Default: 10s.
	PollInterval time.Duration

	// GracefulTimeout bounds GracefulStop. Default: 10s.
	GracefulTimeout time.Duration

	// TLSCertFile and TLSKeyFile enable TLS when both are set.
	TLSCertFile string
	TLSKeyFile  string

	Logger *slog.Logger
}

// DefaultConfig returns local development defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            ":9090",
		PollInterval:    10 * time.Second,
		GracefulTimeout: 10 * time.Second,
	}
}

// Server is a gRPC server whose health follows a set of checks.
type Server struct {
	grpcServer   *grpc.Server
	listener     net.Listener
	healthServer *grpchealth.Server
	checks       []health.Check
	cfg          Config
	logger       *slog.Logger

	mu   sync.RWMutex
	last health.Status
}

// NewServer listens on cfg.Addr and registers the health service.
func NewServer(cfg Config, checks ...health.Check) (*Server, error) {
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = def.GracefulTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var opts []grpc.ServerOption
	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS credentials: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Addr, err)
	}

	grpcServer := grpc.NewServer(opts...)
	hs := grpchealth.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, hs)

	s := &Server{
		grpcServer:   grpcServer,
		listener:     listener,
		healthServer: hs,
		checks:       checks,
		cfg:          cfg,
		logger:       logger.With("component", "grpc-health"),
	}
	s.Refresh(context.Background())
	return s, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// GRPCServer returns the underlying server so callers can register more
// services before Serve.
func (s *Server) GRPCServer() *grpc.Server { return s.grpcServer }

// Last returns the most recent combined status.
func (s *Server) Last() health.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Refresh runs the checks once and publishes the result.
func (s *Server) Refresh(ctx context.Context) health.Status {
	st := health.Run(ctx, s.checks...)

	serving := grpc_health_v1.HealthCheckResponse_SERVING
	if st.IsUnhealthy() {
		serving = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	s.healthServer.SetServingStatus("", serving)
	s.healthServer.SetServingStatus(ServiceName, serving)

	s.mu.Lock()
	changed := s.last.Status != st.Status
	s.last = st
	s.mu.Unlock()
	if changed {
		s.logger.Info("health status changed", "status", st.Status, "message", st.Message)
	}
	return st
}

// Serve blocks until ctx is canceled or the server fails, then stops
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.grpcServer.Serve(s.listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("gRPC server error: %w", err)
		}
		close(errCh)
	}()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.GracefulStop()
			<-errCh
			return nil
		case err, ok := <-errCh:
			if !ok {
				return nil
			}
			return err
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

// GracefulStop marks the service NOT_SERVING, waits for in-flight RPCs up
// to GracefulTimeout and then forces the stop.
func (s *Server) GracefulStop() {
	s.healthServer.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.cfg.GracefulTimeout):
		s.logger.Warn("graceful shutdown timeout, forcing stop")
		s.grpcServer.Stop()
		<-done
	}
}

// Stop stops the server immediately.
func (s *Server) Stop() {
	s.grpcServer.Stop()
}
