package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/arbiter/pkg/apperr"
	"github.com/codeready-toolchain/arbiter/pkg/models"
	"github.com/codeready-toolchain/arbiter/pkg/security"
)

// commandHandler handles POST /api/v1/command, the control surface for
// operators: pause/resume dispatch, clear the queue, cancel one
// assignment.
func (s *Server) commandHandler(c *echo.Context) error {
	var req CommandRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, apperr.Wrap(apperr.KindValidation, err, "invalid command body"))
	}

	switch req.Action {
	case "start":
		if _, err := s.authorize(c, "orchestrator.start", "", &req); err != nil {
			return respondError(c, err)
		}
		s.orc.Resume()
		return c.JSON(http.StatusOK, map[string]string{"status": "running"})

	case "stop":
		if _, err := s.authorize(c, "orchestrator.stop", "", &req); err != nil {
			return respondError(c, err)
		}
		s.orc.Pause()
		return c.JSON(http.StatusOK, map[string]string{"status": "paused"})

	case "clear-queue":
		if _, err := s.authorize(c, "queue.clear", "", &req); err != nil {
			return respondError(c, err)
		}
		var predicate func(*models.Task) bool
		if req.Priority != "" {
			p, err := models.ParsePriority(req.Priority)
			if err != nil {
				return respondError(c, apperr.Wrap(apperr.KindValidation, err,
					"clear-queue").WithCorrelation(correlationOf(c)))
			}
			predicate = func(t *models.Task) bool { return t.Priority == p }
		}
		removed := s.queue.Clear(predicate)
		return c.JSON(http.StatusOK, map[string]int{"removed": removed})

	case "cancel":
		if req.AssignmentID == "" {
			return respondError(c, apperr.New(apperr.KindValidation,
				"assignment_id is required for cancel").WithCorrelation(correlationOf(c)))
		}
		id, err := s.authorize(c, "task.cancel", req.AssignmentID, &req)
		if err != nil {
			return respondError(c, err)
		}
		if err := s.orc.Cancel(c.Request().Context(), req.AssignmentID,
			id.Subject, id.HasRole(security.RoleAdmin)); err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "cancelled"})

	default:
		return respondError(c, apperr.New(apperr.KindValidation,
			"unknown action %q", req.Action).WithCorrelation(correlationOf(c)))
	}
}
