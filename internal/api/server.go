// Package api serves a JSON inspection and control API for a running policy
// manager, plus the prometheus scrape endpoint.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/audiopolicy/internal/datastore"
	"github.com/tphakala/audiopolicy/internal/errors"
	"github.com/tphakala/audiopolicy/internal/logging"
	"github.com/tphakala/audiopolicy/internal/observability"
	"github.com/tphakala/audiopolicy/internal/policy"
)

// ComponentAPI identifies errors of this package.
const ComponentAPI = "api"

const (
	defaultShutdownTimeout = 5 * time.Second
	readTimeout            = 10 * time.Second
	writeTimeout           = 30 * time.Second
	bodyLimit              = "64K"
)

// Server is the HTTP front of one policy manager.
type Server struct {
	echo    *echo.Echo
	manager *policy.Manager
	metrics *observability.Metrics
	store   datastore.Interface
	logger  *slog.Logger

	shutdownTimeout time.Duration
	startTime       time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithMetrics exposes the registry at /metrics.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithDataStore enables the routing history endpoint.
func WithDataStore(ds datastore.Interface) ServerOption {
	return func(s *Server) {
		s.store = ds
	}
}

// WithLogger overrides the server logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithShutdownTimeout bounds the graceful shutdown in Serve.
func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.shutdownTimeout = d
	}
}

// New creates the server and registers its routes.
func New(manager *policy.Manager, opts ...ServerOption) *Server {
	s := &Server{
		manager:         manager,
		shutdownTimeout: defaultShutdownTimeout,
		startTime:       time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.ForService("api")
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = readTimeout
	s.echo.Server.WriteTimeout = writeTimeout

	s.echo.Use(echomw.Recover())
	s.echo.Use(newRequestLogger(s.logger))
	s.echo.Use(echomw.BodyLimit(bodyLimit))

	s.setupRoutes()
	return s
}

// Echo returns the underlying Echo instance.
// This is useful for testing or advanced configuration.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "address", addr)
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return errors.New(err).
			Component(ComponentAPI).
			Category(errors.CategoryNetwork).
			Context("address", addr).
			Build()
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return errors.New(err).
			Component(ComponentAPI).
			Category(errors.CategoryNetwork).
			Timing("shutdown", s.shutdownTimeout).
			Build()
	}
	<-errCh
	s.logger.Info("server shutdown complete")
	return nil
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	g := s.echo.Group("/api/v1")
	g.GET("/snapshot", s.getSnapshot)
	g.GET("/ports", s.listPorts)
	g.GET("/ports/:id", s.getPort)
	g.GET("/patches", s.listPatches)
	g.GET("/devices", s.listDevices)
	g.POST("/devices", s.setDeviceState)
	g.GET("/routing", s.getRouting)
	g.PUT("/phone-state", s.setPhoneState)
	g.PUT("/force-use", s.setForceUse)
	if s.store != nil {
		g.GET("/history", s.listHistory)
	}
}

// healthCheck handles the server health check endpoint.
func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)
	return c.JSON(http.StatusOK, map[string]any{
		"status":          "healthy",
		"phone_state":     s.manager.PhoneState().String(),
		"port_generation": s.manager.PortGeneration(),
		"uptime_seconds":  uptime.Seconds(),
		"timestamp":       time.Now().Format(time.RFC3339),
	})
}
