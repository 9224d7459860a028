// Package security implements the gate wrapping every registry, queue,
// and orchestrator operation: token authentication, static role-based
// authorization, token-bucket rate limiting, tenant isolation, and
// audit emission.
package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/codeready-toolchain/arbiter/pkg/apperr"
	"github.com/codeready-toolchain/arbiter/pkg/config"
	"github.com/codeready-toolchain/arbiter/pkg/events"
	"github.com/codeready-toolchain/arbiter/pkg/models"
)

// Identity is the authenticated principal.
type Identity struct {
	Subject string   `json:"subject"`
	Tenant  string   `json:"tenant"`
	Roles   []string `json:"roles"`
}

// HasRole reports whether the identity carries the role.
func (id *Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Verifier resolves an opaque token to an identity. The transport and
// token format belong to the deployment, not to the gate.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// bucket is one token bucket plus the config it was built from, so a
// hot-reloaded limit rebuilds the limiter on next use.
type bucket struct {
	limiter *rate.Limiter
	cfg     config.RateLimitConfig
}

// Gate enforces authn, authz, rate limits, and tenant isolation.
type Gate struct {
	cfg      *config.Config
	verifier Verifier
	bus      *events.Bus

	mu               sync.Mutex
	identityBuckets  map[string]*bucket
	operationBuckets map[string]*bucket
}

// NewGate creates the gate.
func NewGate(cfg *config.Config, verifier Verifier, bus *events.Bus) *Gate {
	return &Gate{
		cfg:              cfg,
		verifier:         verifier,
		bus:              bus,
		identityBuckets:  make(map[string]*bucket),
		operationBuckets: make(map[string]*bucket),
	}
}

// Authorize authenticates the token and checks the operation against
// roles, rate limits, and tenant isolation for targetID. On success it
// returns the identity; mutating operations additionally produce an
// audit event carrying a stable fingerprint of payload.
func (g *Gate) Authorize(ctx context.Context, token, operation, targetID string, payload any) (*Identity, error) {
	id, err := g.verifier.Verify(ctx, token)
	if err != nil {
		g.publish(events.TypeSecurityAuthnFailed, events.SeverityWarning, events.SecurityPayload{
			Operation: operation,
			Reason:    "token verification failed",
		})
		return nil, apperr.Wrap(apperr.KindUnauthorized, err, "authentication failed")
	}

	if retryAfter, limited := g.rateLimited(id.Subject, operation); limited {
		g.publish(events.TypeSecurityRateLimitExceeded, events.SeverityWarning, events.SecurityPayload{
			Identity:     id.Subject,
			Tenant:       id.Tenant,
			Operation:    operation,
			Reason:       "rate limit exceeded",
			RetryAfterMs: retryAfter.Milliseconds(),
		})
		return nil, apperr.New(apperr.KindRateLimited,
			"rate limit exceeded for %q", operation).WithRetryAfter(retryAfter)
	}

	spec, known := operations[operation]
	if !known || !hasAnyRole(id, spec.roles) {
		g.publish(events.TypeSecurityAuthzFailed, events.SeverityWarning, events.SecurityPayload{
			Identity:  id.Subject,
			Tenant:    id.Tenant,
			Operation: operation,
			Reason:    "role not permitted",
		})
		return nil, apperr.New(apperr.KindForbidden, "operation not permitted")
	}

	// IDs without a tenant prefix are tenant-neutral; isolation only
	// applies when the target carries one.
	crossTenant := false
	if targetTenant := models.TenantOf(targetID); targetTenant != "" {
		if targetTenant != id.Tenant {
			if !id.HasRole(RoleCrossTenantAdmin) {
				// Same error and message whether or not the target
				// exists, so tenancy probing learns nothing.
				g.publish(events.TypeSecurityAuthzFailed, events.SeverityWarning, events.SecurityPayload{
					Identity:  id.Subject,
					Tenant:    id.Tenant,
					Operation: operation,
					Reason:    "tenant mismatch",
				})
				return nil, apperr.New(apperr.KindForbidden, "operation not permitted")
			}
			crossTenant = true
		}
	}

	if spec.mutating {
		g.publish(events.TypeSecurityAudit, events.SeverityInfo, events.SecurityPayload{
			Identity:    id.Subject,
			Tenant:      id.Tenant,
			Operation:   operation,
			TargetID:    targetID,
			Fingerprint: Fingerprint(payload),
			CrossTenant: crossTenant,
		})
	}
	return id, nil
}

// rateLimited checks the per-identity bucket, then the per-(identity,
// operation) bucket when one is configured. Limits come from the
// hot-reload snapshot, so changed limits apply on the next operation.
func (g *Gate) rateLimited(subject, operation string) (time.Duration, bool) {
	snapshot := g.cfg.Snapshot()

	g.mu.Lock()
	defer g.mu.Unlock()

	if retryAfter, limited := take(g.identityBuckets, subject, snapshot.RateLimit); limited {
		return retryAfter, true
	}
	if opCfg, ok := snapshot.PerOpRateLimits[operation]; ok {
		return take(g.operationBuckets, subject+"|"+operation, opCfg)
	}
	return 0, false
}

// take consumes one token from the keyed bucket, creating or rebuilding
// it as needed, and returns how long until a token frees up when the
// bucket is dry.
func take(buckets map[string]*bucket, key string, cfg config.RateLimitConfig) (time.Duration, bool) {
	b, ok := buckets[key]
	if !ok || b.cfg != cfg {
		b = &bucket{
			limiter: rate.NewLimiter(rate.Limit(cfg.RefillPerSec), cfg.Capacity),
			cfg:     cfg,
		}
		buckets[key] = b
	}

	reservation := b.limiter.Reserve()
	if !reservation.OK() {
		return time.Hour, true
	}
	if reservation.Delay() > 0 {
		reservation.Cancel()
		return refillInterval(cfg.RefillPerSec), true
	}
	return 0, false
}

// refillInterval is the conservative retry-after hint: the time one
// token takes to accrue, rounded up to a whole millisecond. A caller
// that waits this long is guaranteed a token.
func refillInterval(refillPerSec float64) time.Duration {
	if refillPerSec <= 0 {
		return time.Hour
	}
	ms := math.Ceil(1000 / refillPerSec)
	return time.Duration(ms) * time.Millisecond
}

func hasAnyRole(id *Identity, roles []string) bool {
	for _, role := range roles {
		if id.HasRole(role) {
			return true
		}
	}
	return false
}

func (g *Gate) publish(eventType, severity string, payload events.SecurityPayload) {
	g.bus.Publish(events.Event{Type: eventType, Severity: severity, Payload: payload})
}

// Fingerprint returns a stable short hash of the request payload for
// audit entries. JSON marshaling sorts map keys, so equal payloads
// always fingerprint identically.
func Fingerprint(payload any) string {
	if payload == nil {
		return ""
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
