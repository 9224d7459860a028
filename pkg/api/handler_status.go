package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/arbiter/pkg/apperr"
	"github.com/codeready-toolchain/arbiter/pkg/database"
	"github.com/codeready-toolchain/arbiter/pkg/events"
	"github.com/codeready-toolchain/arbiter/pkg/version"
)

const (
	statusHealthy  = "healthy"
	statusDegraded = "degraded"
)

// statusHandler handles GET /status: uptime and component healths.
func (s *Server) statusHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	storeHealth := s.store.HealthCheck(reqCtx)
	status := statusHealthy
	if !storeHealth.Healthy {
		status = statusDegraded
	}

	resp := &StatusResponse{
		Status:        status,
		Version:       version.Full(),
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
		Store:         storeHealth,
		Orchestrator:  s.orc.GetHealth(),
	}

	if s.dbClient != nil {
		if _, err := database.Health(reqCtx, s.dbClient.DB()); err != nil {
			resp.Database = statusDegraded
			resp.Status = statusDegraded
		} else {
			resp.Database = statusHealthy
		}
	}

	// Degraded still serves reads from the shadow; only report 503 so
	// orchestration platforms see it without parsing the body.
	httpStatus := http.StatusOK
	if resp.Status != statusHealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	return c.JSON(httpStatus, resp)
}

// metricsHandler handles GET /metrics.
func (s *Server) metricsHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	stats, sourcedFrom, err := s.reg.GetStats(reqCtx)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, &MetricsResponse{
		QueueDepth:          s.queue.Size(),
		QueueDepthByClass:   s.queue.DepthByClass(),
		Assignments:         s.orc.AssignmentsByState(),
		Registry:            stats,
		RegistrySourcedFrom: sourcedFrom,
		EventsDropped:       s.bus.Dropped(),
		Store:               s.store.HealthCheck(reqCtx),
	})
}

// progressHandler handles GET /progress.
func (s *Server) progressHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &ProgressResponse{
		ByState:     s.orc.AssignmentsByState(),
		Assignments: s.orc.Assignments(),
	})
}

// eventsHandler handles GET /events?topic=…&since=…, the polling
// catchup surface over the per-topic retained rings.
func (s *Server) eventsHandler(c *echo.Context) error {
	topic := c.QueryParam("topic")
	valid := false
	for _, t := range events.Topics() {
		if t == topic {
			valid = true
			break
		}
	}
	if !valid {
		return respondError(c, apperr.New(apperr.KindValidation,
			"unknown topic %q", topic).WithCorrelation(correlationOf(c)))
	}

	var since int64
	if raw := c.QueryParam("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			return respondError(c, apperr.New(apperr.KindValidation,
				"since must be a non-negative integer").WithCorrelation(correlationOf(c)))
		}
		since = parsed
	}

	evts, overflow := s.bus.Since(topic, since)
	nextSince := since
	if len(evts) > 0 {
		nextSince = evts[len(evts)-1].Seq
	}
	return c.JSON(http.StatusOK, &EventsResponse{
		Topic:     topic,
		Events:    evts,
		NextSince: nextSince,
		Overflow:  overflow,
	})
}
