package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/arbiter/pkg/apperr"
)

// getAssignmentHandler handles GET /api/v1/assignments/:id: the
// worker-facing descriptor of an assignment.
func (s *Server) getAssignmentHandler(c *echo.Context) error {
	assignmentID := c.Param("id")
	if _, err := s.authorize(c, "task.get", assignmentID, nil); err != nil {
		return respondError(c, err)
	}

	d, err := s.orc.DescribeAssignment(assignmentID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

// ackHandler handles POST /api/v1/assignments/:id/ack.
func (s *Server) ackHandler(c *echo.Context) error {
	assignmentID := c.Param("id")
	var req AckRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, apperr.Wrap(apperr.KindValidation, err, "invalid ack body"))
	}

	if _, err := s.authorize(c, "task.ack", assignmentID, &req); err != nil {
		return respondError(c, err)
	}

	a, err := s.orc.Ack(c.Request().Context(), assignmentID, req.AgentID,
		time.Duration(req.ExtensionMs)*time.Millisecond)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

// reportProgressHandler handles POST /api/v1/assignments/:id/progress.
func (s *Server) reportProgressHandler(c *echo.Context) error {
	assignmentID := c.Param("id")
	var req ProgressRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, apperr.Wrap(apperr.KindValidation, err, "invalid progress body"))
	}

	if _, err := s.authorize(c, "task.progress", assignmentID, &req); err != nil {
		return respondError(c, err)
	}

	if err := s.orc.Progress(c.Request().Context(), assignmentID, req.AgentID, req.Progress); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// submitArtifactsHandler handles POST /api/v1/assignments/:id/submit:
// the agent hands in its artifacts and receives the verdict.
func (s *Server) submitArtifactsHandler(c *echo.Context) error {
	assignmentID := c.Param("id")
	var req SubmitArtifactsRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, apperr.Wrap(apperr.KindValidation, err, "invalid submission body"))
	}
	if req.Spec == nil || req.Metrics == nil {
		return respondError(c, apperr.New(apperr.KindValidation,
			"spec and metrics are required").WithCorrelation(correlationOf(c)))
	}

	if _, err := s.authorize(c, "task.submit_artifacts", assignmentID, &req); err != nil {
		return respondError(c, err)
	}

	verdict, err := s.orc.Submit(c.Request().Context(), assignmentID, req.AgentID,
		req.Spec, req.Metrics, req.Waiver)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, verdict)
}
