package security

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/arbiter/pkg/apperr"
	"github.com/codeready-toolchain/arbiter/pkg/config"
	"github.com/codeready-toolchain/arbiter/pkg/events"
)

// staticVerifier resolves tokens from a fixed map.
type staticVerifier struct {
	identities map[string]*Identity
}

func (v *staticVerifier) Verify(_ context.Context, token string) (*Identity, error) {
	id, ok := v.identities[token]
	if !ok {
		return nil, apperr.New(apperr.KindUnauthorized, "unknown token")
	}
	return id, nil
}

func testVerifier() Verifier {
	return &staticVerifier{identities: map[string]*Identity{
		"tok-admin":     {Subject: "root", Tenant: "T-A", Roles: []string{RoleAdmin}},
		"tok-orch":      {Subject: "orch", Tenant: "T-A", Roles: []string{RoleOrchestrator}},
		"tok-submitter": {Subject: "sub-1", Tenant: "T-A", Roles: []string{RoleSubmitter}},
		"tok-observer":  {Subject: "obs-1", Tenant: "T-A", Roles: []string{RoleObserver}},
		"tok-cross": {Subject: "ops", Tenant: "T-A",
			Roles: []string{RoleAdmin, RoleCrossTenantAdmin}},
	}}
}

func testSecurityConfig(rl config.RateLimitConfig, perOp map[string]config.RateLimitConfig) *config.Config {
	cfg := &config.Config{Security: config.DefaultSecurityConfig()}
	cfg.Reload(&config.Reloadable{RateLimit: rl, PerOpRateLimits: perOp})
	return cfg
}

// newTestGate builds a gate with generous default limits and a
// subscription on the security topic.
func newTestGate(t *testing.T, cfg *config.Config) (*Gate, *events.Subscription) {
	t.Helper()
	if cfg == nil {
		cfg = testSecurityConfig(config.RateLimitConfig{Capacity: 1000, RefillPerSec: 1000}, nil)
	}
	bus := events.NewBus(256, 256)
	t.Cleanup(bus.Close)
	sub := bus.Subscribe("security")
	return NewGate(cfg, testVerifier(), bus), sub
}

func drainEvents(sub *events.Subscription) []events.Event {
	var out []events.Event
	for {
		select {
		case evt := <-sub.C():
			out = append(out, evt)
		default:
			return out
		}
	}
}

func TestAuthorizeUnknownToken(t *testing.T) {
	gate, sub := newTestGate(t, nil)

	_, err := gate.Authorize(context.Background(), "tok-bogus", "task.submit", "", nil)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized))

	evts := drainEvents(sub)
	require.Len(t, evts, 1)
	assert.Equal(t, events.TypeSecurityAuthnFailed, evts[0].Type)
}

func TestAuthorizeRoleTable(t *testing.T) {
	tests := []struct {
		name      string
		token     string
		operation string
		allowed   bool
	}{
		{name: "submitter submits tasks", token: "tok-submitter", operation: "task.submit", allowed: true},
		{name: "submitter cannot register agents", token: "tok-submitter", operation: "agent.register", allowed: false},
		{name: "orchestrator registers agents", token: "tok-orch", operation: "agent.register", allowed: true},
		{name: "orchestrator cannot clear the queue", token: "tok-orch", operation: "queue.clear", allowed: false},
		{name: "observer reads profiles", token: "tok-observer", operation: "agent.get", allowed: true},
		{name: "observer cannot submit", token: "tok-observer", operation: "task.submit", allowed: false},
		{name: "admin controls the orchestrator", token: "tok-admin", operation: "orchestrator.stop", allowed: true},
		{name: "unknown operation denied for everyone", token: "tok-admin", operation: "task.teleport", allowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate, sub := newTestGate(t, nil)
			id, err := gate.Authorize(context.Background(), tt.token, tt.operation, "", nil)
			if tt.allowed {
				require.NoError(t, err)
				assert.NotNil(t, id)
				return
			}
			require.Error(t, err)
			assert.True(t, apperr.IsKind(err, apperr.KindForbidden))
			evts := drainEvents(sub)
			require.Len(t, evts, 1)
			assert.Equal(t, events.TypeSecurityAuthzFailed, evts[0].Type)
		})
	}
}

func TestRateLimitPerOperation(t *testing.T) {
	cfg := testSecurityConfig(
		config.RateLimitConfig{Capacity: 1000, RefillPerSec: 1000},
		map[string]config.RateLimitConfig{
			"task.submit": {Capacity: 10, RefillPerSec: 1},
		})
	gate, sub := newTestGate(t, cfg)

	accepted, rejected := 0, 0
	for i := 0; i < 12; i++ {
		_, err := gate.Authorize(context.Background(), "tok-submitter", "task.submit", "", nil)
		if err == nil {
			accepted++
			continue
		}
		rejected++
		assert.True(t, apperr.IsKind(err, apperr.KindRateLimited))
		assert.GreaterOrEqual(t, apperr.RetryAfterOf(err), time.Second)
	}
	assert.Equal(t, 10, accepted)
	assert.Equal(t, 2, rejected)

	limitEvents := 0
	for _, evt := range drainEvents(sub) {
		if evt.Type == events.TypeSecurityRateLimitExceeded {
			limitEvents++
			payload := evt.Payload.(events.SecurityPayload)
			assert.GreaterOrEqual(t, payload.RetryAfterMs, int64(1000))
		}
	}
	assert.Equal(t, 2, limitEvents)
}

func TestRateLimitPerIdentityIsIndependent(t *testing.T) {
	cfg := testSecurityConfig(
		config.RateLimitConfig{Capacity: 2, RefillPerSec: 0.001}, nil)
	gate, _ := newTestGate(t, cfg)

	for i := 0; i < 2; i++ {
		_, err := gate.Authorize(context.Background(), "tok-submitter", "task.submit", "", nil)
		require.NoError(t, err)
	}
	_, err := gate.Authorize(context.Background(), "tok-submitter", "task.submit", "", nil)
	assert.True(t, apperr.IsKind(err, apperr.KindRateLimited))

	// A different identity still has its own full bucket.
	_, err = gate.Authorize(context.Background(), "tok-admin", "task.submit", "", nil)
	assert.NoError(t, err)
}

func TestRateLimitHotReload(t *testing.T) {
	cfg := testSecurityConfig(
		config.RateLimitConfig{Capacity: 1, RefillPerSec: 0.001}, nil)
	gate, _ := newTestGate(t, cfg)

	_, err := gate.Authorize(context.Background(), "tok-submitter", "task.submit", "", nil)
	require.NoError(t, err)
	_, err = gate.Authorize(context.Background(), "tok-submitter", "task.submit", "", nil)
	require.True(t, apperr.IsKind(err, apperr.KindRateLimited))

	// Raised limits apply on the next operation.
	cfg.Reload(&config.Reloadable{
		RateLimit: config.RateLimitConfig{Capacity: 100, RefillPerSec: 100},
	})
	_, err = gate.Authorize(context.Background(), "tok-submitter", "task.submit", "", nil)
	assert.NoError(t, err)
}

func TestTenantIsolation(t *testing.T) {
	gate, sub := newTestGate(t, nil)

	_, err := gate.Authorize(context.Background(), "tok-submitter", "agent.get", "T-B:alpha", nil)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden))
	// The denial must read the same whether or not T-B:alpha exists.
	assert.Equal(t, "forbidden: operation not permitted", err.Error())

	evts := drainEvents(sub)
	require.Len(t, evts, 1)
	assert.Equal(t, events.TypeSecurityAuthzFailed, evts[0].Type)
	payload := evts[0].Payload.(events.SecurityPayload)
	assert.Equal(t, "tenant mismatch", payload.Reason)
}

func TestTenantNeutralTargetsAllowed(t *testing.T) {
	gate, _ := newTestGate(t, nil)

	// Targets without a tenant prefix (agent names, assignment UUIDs)
	// are open to every tenant.
	for _, targetID := range []string{"agent-A1", "0b6f2f0e-9e2c-4a53-9f5c-1d2e3f4a5b6c"} {
		_, err := gate.Authorize(context.Background(), "tok-submitter", "agent.get", targetID, nil)
		assert.NoError(t, err, "target %q", targetID)
	}

	// A prefixed target from another tenant is still denied.
	_, err := gate.Authorize(context.Background(), "tok-submitter", "agent.get", "T-B:alpha", nil)
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden))
}

func TestCrossTenantAdminBypass(t *testing.T) {
	gate, sub := newTestGate(t, nil)

	id, err := gate.Authorize(context.Background(), "tok-cross", "task.cancel", "T-B:task-9", nil)
	require.NoError(t, err)
	assert.Equal(t, "ops", id.Subject)

	evts := drainEvents(sub)
	require.Len(t, evts, 1)
	assert.Equal(t, events.TypeSecurityAudit, evts[0].Type)
	payload := evts[0].Payload.(events.SecurityPayload)
	assert.True(t, payload.CrossTenant)
	assert.Equal(t, "T-B:task-9", payload.TargetID)
}

func TestMutatingOperationAudited(t *testing.T) {
	gate, sub := newTestGate(t, nil)
	body := map[string]any{"type": "file_editing", "priority": "normal"}

	_, err := gate.Authorize(context.Background(), "tok-submitter", "task.submit", "T-A:task-1", body)
	require.NoError(t, err)

	evts := drainEvents(sub)
	require.Len(t, evts, 1)
	payload := evts[0].Payload.(events.SecurityPayload)
	assert.Equal(t, Fingerprint(body), payload.Fingerprint)
	assert.NotEmpty(t, payload.Fingerprint)

	// Reads leave no audit entry.
	_, err = gate.Authorize(context.Background(), "tok-submitter", "agent.query", "", nil)
	require.NoError(t, err)
	assert.Empty(t, drainEvents(sub))
}

func TestFingerprintStable(t *testing.T) {
	a := map[string]any{"b": 2, "a": 1}
	b := map[string]any{"a": 1, "b": 2}

	assert.Equal(t, Fingerprint(a), Fingerprint(b))
	assert.NotEqual(t, Fingerprint(a), Fingerprint(map[string]any{"a": 1, "b": 3}))
	assert.Empty(t, Fingerprint(nil))
}
