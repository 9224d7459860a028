package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/arbiter/pkg/apperr"
)

// submitTaskHandler handles POST /api/v1/tasks.
func (s *Server) submitTaskHandler(c *echo.Context) error {
	var req TaskRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, apperr.Wrap(apperr.KindValidation, err, "invalid task body"))
	}

	id, err := s.authorize(c, "task.submit", req.ID, &req)
	if err != nil {
		return respondError(c, err)
	}

	task, err := req.toTask(id.Subject)
	if err != nil {
		return respondError(c, err)
	}
	if err := s.orc.SubmitTask(task); err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusAccepted, &TaskAccepted{
		TaskID:     task.ID,
		QueueDepth: s.queue.Size(),
	})
}
