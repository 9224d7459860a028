package api

import (
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/arbiter/pkg/apperr"
	"github.com/codeready-toolchain/arbiter/pkg/registry"
)

// registerAgentHandler handles POST /api/v1/agents.
func (s *Server) registerAgentHandler(c *echo.Context) error {
	var req RegisterAgentRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, apperr.Wrap(apperr.KindValidation, err, "invalid agent body"))
	}

	targetID := ""
	if req.Agent != nil {
		targetID = req.Agent.ID
	}
	if _, err := s.authorize(c, "agent.register", targetID, &req); err != nil {
		return respondError(c, err)
	}

	agent, err := s.reg.Register(c.Request().Context(), req.Agent, req.Idempotent)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, &AgentResponse{Agent: agent})
}

// unregisterAgentHandler handles DELETE /api/v1/agents/:id.
func (s *Server) unregisterAgentHandler(c *echo.Context) error {
	agentID := c.Param("id")
	if _, err := s.authorize(c, "agent.unregister", agentID, map[string]string{"agent_id": agentID}); err != nil {
		return respondError(c, err)
	}

	existed, err := s.reg.Unregister(c.Request().Context(), agentID)
	if err != nil {
		return respondError(c, err)
	}
	if !existed {
		return respondError(c, apperr.New(apperr.KindNotFound,
			"agent %q not registered", agentID).WithCorrelation(correlationOf(c)))
	}
	return c.NoContent(http.StatusNoContent)
}

// getAgentHandler handles GET /api/v1/agents/:id.
func (s *Server) getAgentHandler(c *echo.Context) error {
	agentID := c.Param("id")
	if _, err := s.authorize(c, "agent.get", agentID, nil); err != nil {
		return respondError(c, err)
	}

	agent, sourcedFrom, err := s.reg.GetProfile(c.Request().Context(), agentID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, &AgentResponse{Agent: agent, SourcedFrom: sourcedFrom})
}

// queryAgentsHandler handles GET /api/v1/agents?task_type=…&languages=a,b.
func (s *Server) queryAgentsHandler(c *echo.Context) error {
	if _, err := s.authorize(c, "agent.query", "", nil); err != nil {
		return respondError(c, err)
	}

	q := registry.CapabilityQuery{
		TaskType:        c.QueryParam("task_type"),
		Languages:       splitCSV(c.QueryParam("languages")),
		Specializations: splitCSV(c.QueryParam("specializations")),
	}
	if raw := c.QueryParam("max_utilization"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return respondError(c, apperr.New(apperr.KindValidation,
				"max_utilization must be a number").WithCorrelation(correlationOf(c)))
		}
		q.MaxUtilization = &v
	}
	if raw := c.QueryParam("min_success_rate"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return respondError(c, apperr.New(apperr.KindValidation,
				"min_success_rate must be a number").WithCorrelation(correlationOf(c)))
		}
		q.MinSuccessRate = &v
	}

	matches, sourcedFrom, err := s.reg.QueryByCapability(c.Request().Context(), q)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, &QueryResponse{Matches: matches, SourcedFrom: sourcedFrom})
}

// registryStatsHandler handles GET /api/v1/registry/stats.
func (s *Server) registryStatsHandler(c *echo.Context) error {
	if _, err := s.authorize(c, "registry.stats", "", nil); err != nil {
		return respondError(c, err)
	}

	stats, sourcedFrom, err := s.reg.GetStats(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, &MetricsResponse{
		Registry:            stats,
		RegistrySourcedFrom: sourcedFrom,
		QueueDepth:          s.queue.Size(),
		QueueDepthByClass:   s.queue.DepthByClass(),
		Assignments:         s.orc.AssignmentsByState(),
	})
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
