// Package adminapi provides a small, read-only observability HTTP API
// for tcplb: a health check and a stats endpoint reporting worker
// occupancy and relay byte/connection counters. It carries no control
// plane: there is no dynamic reconfiguration surface here, matching
// the proxy's no-dynamic-reconfiguration design.
package adminapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/springsnail/tcplb/internal/stats"
)

// Provider supplies the live data /stats reports. Implemented by
// whatever owns the dispatcher and worker set (internal/supervisor).
type Provider interface {
	Workers() []WorkerStats
	Relay() stats.Snapshot
}

// Server is tcplb's management HTTP API.
type Server struct {
	logger     *slog.Logger
	engine     *gin.Engine
	httpServer *http.Server
	startTime  time.Time
}

// New builds a Server bound to host:port, backed by provider.
func New(host string, port int, provider Provider, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(slogRequestLogger(logger))

	s := &Server{logger: logger, engine: engine, startTime: time.Now()}
	registerRoutes(engine, provider, s.startTime)

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Addr returns the address the server listens on once started.
func (s *Server) Addr() string {
	if s.httpServer == nil {
		return ""
	}
	return s.httpServer.Addr
}

// ListenAndServe blocks serving the admin API until Shutdown is called.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the admin API.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
