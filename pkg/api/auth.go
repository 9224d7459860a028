package api

import (
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/arbiter/pkg/apperr"
	"github.com/codeready-toolchain/arbiter/pkg/security"
)

// bearerToken extracts the opaque token from the Authorization header.
// A bare token without the Bearer prefix is accepted for worker
// callbacks issued by simple HTTP clients.
func bearerToken(c *echo.Context) string {
	h := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return h
}

// authorize runs the request through the security gate and stamps the
// correlation ID onto any denial.
func (s *Server) authorize(c *echo.Context, operation, targetID string, payload any) (*security.Identity, error) {
	id, err := s.gate.Authorize(c.Request().Context(), bearerToken(c), operation, targetID, payload)
	if err != nil {
		var ae *apperr.Error
		if e, ok := err.(*apperr.Error); ok {
			ae = e.WithCorrelation(correlationOf(c))
			return nil, ae
		}
		return nil, err
	}
	return id, nil
}
