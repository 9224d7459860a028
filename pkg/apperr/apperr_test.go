package apperr

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindCodes(t *testing.T) {
	codes := map[Kind]string{
		KindValidation:   "validation",
		KindUnauthorized: "unauthorized",
		KindForbidden:    "forbidden",
		KindRateLimited:  "rate_limited",
		KindNotFound:     "not_found",
		KindConflict:     "conflict",
		KindUnavailable:  "unavailable",
		KindTimeout:      "timeout",
		KindExhausted:    "exhausted",
		KindInternal:     "internal",
	}
	for kind, code := range codes {
		assert.Equal(t, code, kind.Code())
	}
}

func TestErrorMessageIncludesCode(t *testing.T) {
	err := New(KindNotFound, "agent %q not registered", "A1")
	assert.Equal(t, `not_found: agent "A1" not registered`, err.Error())
}

func TestWrapChainsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindUnavailable, cause, "reading key %q", "agents/A1")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, `unavailable: reading key "agents/A1": connection refused`, err.Error())
	assert.Equal(t, KindUnavailable, KindOf(err))

	// Wrapping again with %w still resolves the innermost kind.
	outer := fmt.Errorf("registry: %w", err)
	assert.True(t, IsKind(outer, KindUnavailable))
	assert.Equal(t, KindUnavailable, KindOf(outer))
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.False(t, IsKind(errors.New("plain"), KindValidation))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(KindUnavailable, "store down")))
	assert.True(t, Retryable(New(KindTimeout, "deadline")))
	assert.False(t, Retryable(New(KindValidation, "bad input")))
	assert.False(t, Retryable(New(KindRateLimited, "slow down")))
	assert.False(t, Retryable(New(KindConflict, "already there")))
}

func TestWithCorrelationReturnsCopy(t *testing.T) {
	base := New(KindForbidden, "operation not permitted")
	stamped := base.WithCorrelation("corr-1")

	assert.Empty(t, base.CorrelationID)
	assert.Equal(t, "corr-1", stamped.CorrelationID)
	assert.Equal(t, "corr-1", CorrelationOf(stamped))
	assert.Empty(t, CorrelationOf(base))
}

func TestWithRetryAfter(t *testing.T) {
	err := New(KindRateLimited, "bucket empty").WithRetryAfter(time.Second)
	assert.Equal(t, time.Second, RetryAfterOf(err))
	assert.Zero(t, RetryAfterOf(New(KindRateLimited, "no hint")))
}
