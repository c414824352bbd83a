// Package monitor serves a read-only HTTP view of gauntlet's memory, its
// live event stream and its metrics.
//
// Routes:
//
//	GET /healthz                        combined health checks
//	GET /api/bugs                       confirmed bugs and their summary
//	GET /api/runs/:run_id/mutations     mutations of one run
//	GET /api/tools                      indexed tool descriptors
//	GET /api/tools/:tool_name/queries   recent queries of one tool
//	GET /api/instances                  announced gauntlet instances
//	GET /api/events                     websocket event stream
//	GET /metrics                        Prometheus metrics
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zero-day-ai/gauntlet/event"
	"github.com/zero-day-ai/gauntlet/health"
	"github.com/zero-day-ai/gauntlet/memory"
	"github.com/zero-day-ai/gauntlet/registry"
)

// Options configures a Server. Only Store is required.
type Options struct {
	Store    memory.Store
	Broker   *event.Broker
	Registry registry.Registry
	Metrics  http.Handler
	Checks   []health.Check
	Logger   *slog.Logger
}

// Server is the monitor HTTP server.
type Server struct {
	opts   Options
	logger *slog.Logger
	router *gin.Engine
}

// New builds the router. When no checks are given, the store ping is used.
func New(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.New("monitor: store is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if len(opts.Checks) == 0 {
		opts.Checks = []health.Check{health.StoreCheck(opts.Store)}
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		opts:   opts,
		logger: opts.Logger.With("component", "monitor"),
		router: gin.New(),
	}
	s.router.Use(gin.Recovery(), s.requestLogger())
	s.routes()
	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	s.router.GET("/healthz", s.handleHealth)
	if s.opts.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.opts.Metrics))
	}

	api := s.router.Group("/api")
	api.GET("/bugs", s.handleBugs)
	api.GET("/runs/:run_id/mutations", s.handleMutations)
	api.GET("/tools", s.handleTools)
	api.GET("/tools/:tool_name/queries", s.handleQueries)
	api.GET("/instances", s.handleInstances)
	api.GET("/events", s.handleEvents)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// ListenAndServe serves on addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("monitor listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("monitor server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("monitor shutdown: %w", err)
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}
