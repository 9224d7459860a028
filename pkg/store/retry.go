package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/codeready-toolchain/arbiter/pkg/apperr"
	"github.com/codeready-toolchain/arbiter/pkg/config"
)

// retryIdempotent runs op under exponential backoff, retrying only
// errors the taxonomy marks retryable. A breaker that is already open
// fails fast so degraded reads can fall back to the shadow without
// burning the backoff budget. Exhaustion surfaces as KindExhausted
// wrapping the last cause, with the attempt history in the message.
func retryIdempotent(ctx context.Context, cfg config.RetryConfig, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.BaseDelay
	b.MaxInterval = cfg.MaxDelay
	b.Multiplier = cfg.Multiplier
	b.MaxElapsedTime = 0
	if cfg.Jitter {
		b.RandomizationFactor = 0.25
	} else {
		b.RandomizationFactor = 0
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var history []string
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		history = append(history, fmt.Sprintf("attempt %d: %v", attempt, err))
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		if !apperr.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxAttempts-1)), ctx))
	if err == nil {
		return nil
	}

	if attempt >= maxAttempts && apperr.Retryable(err) {
		return apperr.Wrap(apperr.KindExhausted, err,
			"retry budget exhausted after %d attempts: %s", attempt, strings.Join(history, "; "))
	}
	return err
}
