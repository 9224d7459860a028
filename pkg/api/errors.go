package api

import (
	"log/slog"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/arbiter/pkg/apperr"
)

// ErrorBody is the JSON error envelope on every non-2xx response.
type ErrorBody struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
	RetryAfterMs  int64  `json:"retry_after_ms,omitempty"`
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindUnavailable:
		return http.StatusServiceUnavailable
	case apperr.KindTimeout:
		return http.StatusGatewayTimeout
	case apperr.KindExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the typed error envelope. Internal errors are
// logged with their full cause chain and surfaced with only the
// correlation ID, never the underlying message.
func respondError(c *echo.Context, err error) error {
	kind := apperr.KindOf(err)
	body := ErrorBody{
		Code:          kind.Code(),
		Message:       err.Error(),
		CorrelationID: correlationOf(c),
	}

	if kind == apperr.KindInternal {
		slog.Error("Internal error", "error", err, "correlation_id", body.CorrelationID)
		body.Message = "internal error"
	}
	if retryAfter := apperr.RetryAfterOf(err); retryAfter > 0 {
		body.RetryAfterMs = retryAfter.Milliseconds()
		c.Response().Header().Set("Retry-After",
			strconv.FormatInt(int64(retryAfter.Seconds()+0.999), 10))
	}
	return c.JSON(statusFor(kind), body)
}
