package api

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"
)

const correlationHeader = "X-Correlation-ID"

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			return next(c)
		}
	}
}

// correlationID assigns every request a correlation ID, honoring one
// supplied by the caller. Error responses echo it back.
func correlationID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			id := c.Request().Header.Get(correlationHeader)
			if id == "" {
				id = uuid.New().String()
			}
			c.Set("correlation_id", id)
			c.Response().Header().Set(correlationHeader, id)
			return next(c)
		}
	}
}

// requestLogger logs one line per request.
func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			start := time.Now()
			err := next(c)
			status := 0
			if res, uerr := echo.UnwrapResponse(c.Response()); uerr == nil {
				status = res.Status
			}
			slog.Info("HTTP request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"correlation_id", correlationOf(c))
			return err
		}
	}
}

func correlationOf(c *echo.Context) string {
	if id, ok := c.Get("correlation_id").(string); ok {
		return id
	}
	return ""
}
