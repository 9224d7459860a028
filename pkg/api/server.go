// Package api exposes the HTTP surface: the read-only observer
// endpoints (/status, /metrics, /progress, /events), the worker-facing
// assignment callbacks, the task and agent operations, and the
// admin-only command endpoint. Every mutating route passes through the
// security gate.
package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/arbiter/pkg/config"
	"github.com/codeready-toolchain/arbiter/pkg/database"
	"github.com/codeready-toolchain/arbiter/pkg/events"
	"github.com/codeready-toolchain/arbiter/pkg/orchestrator"
	"github.com/codeready-toolchain/arbiter/pkg/queue"
	"github.com/codeready-toolchain/arbiter/pkg/registry"
	"github.com/codeready-toolchain/arbiter/pkg/security"
	"github.com/codeready-toolchain/arbiter/pkg/store"
)

// Server is the HTTP server over all Arbiter components.
type Server struct {
	cfg   *config.Config
	gate  *security.Gate
	orc   *orchestrator.Orchestrator
	reg   *registry.Registry
	queue *queue.Queue
	store *store.Resilient
	bus   *events.Bus

	// dbClient is optional; nil when running on the in-memory backend.
	dbClient *database.Client

	echo      *echo.Echo
	http      *http.Server
	startedAt time.Time
}

// NewServer wires the server and registers all routes.
func NewServer(cfg *config.Config, gate *security.Gate, orc *orchestrator.Orchestrator, reg *registry.Registry, q *queue.Queue, st *store.Resilient, bus *events.Bus) *Server {
	s := &Server{
		cfg:       cfg,
		gate:      gate,
		orc:       orc,
		reg:       reg,
		queue:     q,
		store:     st,
		bus:       bus,
		echo:      echo.New(),
		startedAt: time.Now(),
	}
	s.routes()
	return s
}

// SetDatabase attaches the optional PostgreSQL client for health checks.
func (s *Server) SetDatabase(db *database.Client) {
	s.dbClient = db
}

func (s *Server) routes() {
	e := s.echo
	e.Use(securityHeaders())
	e.Use(correlationID())
	e.Use(requestLogger())

	// Observer surface: read-only, unauthenticated.
	e.GET("/status", s.statusHandler)
	e.GET("/metrics", s.metricsHandler)
	e.GET("/progress", s.progressHandler)
	e.GET("/events", s.eventsHandler)

	v1 := e.Group("/api/v1")
	v1.POST("/tasks", s.submitTaskHandler)

	v1.POST("/agents", s.registerAgentHandler)
	v1.DELETE("/agents/:id", s.unregisterAgentHandler)
	v1.GET("/agents/:id", s.getAgentHandler)
	v1.GET("/agents", s.queryAgentsHandler)
	v1.GET("/registry/stats", s.registryStatsHandler)

	v1.GET("/assignments/:id", s.getAssignmentHandler)
	v1.POST("/assignments/:id/ack", s.ackHandler)
	v1.POST("/assignments/:id/progress", s.reportProgressHandler)
	v1.POST("/assignments/:id/submit", s.submitArtifactsHandler)

	v1.POST("/command", s.commandHandler)
}

// Start serves until Shutdown or listener failure.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
