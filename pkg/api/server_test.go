package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/arbiter/pkg/config"
	"github.com/codeready-toolchain/arbiter/pkg/events"
	"github.com/codeready-toolchain/arbiter/pkg/models"
	"github.com/codeready-toolchain/arbiter/pkg/orchestrator"
	"github.com/codeready-toolchain/arbiter/pkg/queue"
	"github.com/codeready-toolchain/arbiter/pkg/registry"
	"github.com/codeready-toolchain/arbiter/pkg/security"
	"github.com/codeready-toolchain/arbiter/pkg/store"
	"github.com/codeready-toolchain/arbiter/pkg/verdict"
)

type apiEnv struct {
	cfg    *config.Config
	bus    *events.Bus
	reg    *registry.Registry
	queue  *queue.Queue
	orc    *orchestrator.Orchestrator
	server *Server
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	storeCfg := config.DefaultStoreConfig()
	storeCfg.Retry.BaseDelay = time.Millisecond
	storeCfg.Retry.MaxDelay = 2 * time.Millisecond
	storeCfg.Retry.MaxAttempts = 2

	orcCfg := config.DefaultOrchestratorConfig()
	orcCfg.DispatchInterval = 20 * time.Millisecond
	orcCfg.DispatchJitter = 0
	orcCfg.RequeuePenalty = 20 * time.Millisecond
	orcCfg.OrphanScanInterval = time.Hour

	cfg := &config.Config{
		Queue:        config.DefaultQueueConfig(),
		Orchestrator: orcCfg,
		Store:        storeCfg,
		Security:     config.DefaultSecurityConfig(),
		Events:       config.DefaultEventsConfig(),
		Verdict:      config.DefaultVerdictConfig(),
	}
	cfg.Reload(&config.Reloadable{
		RateLimit:    config.RateLimitConfig{Capacity: 1000, RefillPerSec: 1000},
		AckWindow:    time.Minute,
		ProgressIdle: time.Minute,
	})

	bus := events.NewBus(256, 256)
	t.Cleanup(bus.Close)

	st := store.NewResilient(storeCfg, store.NewMemoryBackend(), bus)
	reg := registry.NewRegistry(st, bus)
	q := queue.NewQueue(cfg.Queue, bus)
	orc := orchestrator.New(cfg, q, reg, st, verdict.NewGenerator(cfg.Verdict), bus)
	t.Cleanup(orc.Stop)

	verifier := security.NewStaticVerifier()
	verifier.Add("tok-admin", security.Identity{Subject: "root", Tenant: "T-A", Roles: []string{security.RoleAdmin}})
	verifier.Add("tok-orch", security.Identity{Subject: "orch-1", Tenant: "T-A", Roles: []string{security.RoleOrchestrator}})
	verifier.Add("tok-submitter", security.Identity{Subject: "alice", Tenant: "T-A", Roles: []string{security.RoleSubmitter}})
	verifier.Add("tok-observer", security.Identity{Subject: "bob", Tenant: "T-A", Roles: []string{security.RoleObserver}})
	gate := security.NewGate(cfg, verifier, bus)

	srv := NewServer(cfg, gate, orc, reg, q, st, bus)
	return &apiEnv{cfg: cfg, bus: bus, reg: reg, queue: q, orc: orc, server: srv}
}

// do issues a request against the router without a listener.
func (e *apiEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			panic(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.echo.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func testAgent(id string) *models.Agent {
	return &models.Agent{
		ID:            id,
		Name:          "agent " + id,
		ModelFamily:   "gpt",
		MaxConcurrent: 4,
		Capabilities: models.Capabilities{
			TaskTypes: []string{"file_editing"},
			Languages: []string{"TypeScript"},
		},
		Performance: models.PerformanceHistory{SuccessRate: 0.9, TaskCount: 10},
	}
}

func testTaskRequest(id string) *TaskRequest {
	return &TaskRequest{
		ID:          id,
		Description: "edit the config loader",
		Type:        "file_editing",
		Priority:    "normal",
		TimeoutMs:   30000,
		MaxAttempts: 3,
		Required:    models.Capabilities{TaskTypes: []string{"file_editing"}},
	}
}

func TestStatusEndpoint(t *testing.T) {
	e := newAPIEnv(t)

	rec := e.do(http.MethodGet, "/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[StatusResponse](t, rec)
	assert.Equal(t, "healthy", resp.Status)
	assert.NotEmpty(t, resp.Version)
	assert.True(t, resp.Orchestrator.Running)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}

func TestSubmitTaskAuth(t *testing.T) {
	e := newAPIEnv(t)

	tests := []struct {
		name       string
		token      string
		wantStatus int
		wantCode   string
	}{
		{name: "no token", token: "", wantStatus: http.StatusUnauthorized, wantCode: "unauthorized"},
		{name: "unknown token", token: "tok-bogus", wantStatus: http.StatusUnauthorized, wantCode: "unauthorized"},
		{name: "observer forbidden", token: "tok-observer", wantStatus: http.StatusForbidden, wantCode: "forbidden"},
		{name: "submitter accepted", token: "tok-submitter", wantStatus: http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(http.MethodPost, "/api/v1/tasks", tt.token, testTaskRequest("task-auth-"+tt.name))
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantCode != "" {
				body := decodeBody[ErrorBody](t, rec)
				assert.Equal(t, tt.wantCode, body.Code)
				assert.NotEmpty(t, body.CorrelationID)
			}
		})
	}
}

func TestSubmitTaskAccepted(t *testing.T) {
	e := newAPIEnv(t)

	rec := e.do(http.MethodPost, "/api/v1/tasks", "tok-submitter", testTaskRequest("task-1"))
	require.Equal(t, http.StatusAccepted, rec.Code)

	resp := decodeBody[TaskAccepted](t, rec)
	assert.Equal(t, "task-1", resp.TaskID)
	assert.Equal(t, 1, resp.QueueDepth)
}

func TestSubmitTaskInvalidPriority(t *testing.T) {
	e := newAPIEnv(t)

	req := testTaskRequest("task-bad")
	req.Priority = "urgent-ish"
	rec := e.do(http.MethodPost, "/api/v1/tasks", "tok-submitter", req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeBody[ErrorBody](t, rec)
	assert.Equal(t, "validation", body.Code)
}

func TestAgentLifecycleOverHTTP(t *testing.T) {
	e := newAPIEnv(t)

	rec := e.do(http.MethodPost, "/api/v1/agents", "tok-admin",
		&RegisterAgentRequest{Agent: testAgent("A1")})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Duplicate registration conflicts unless idempotent.
	rec = e.do(http.MethodPost, "/api/v1/agents", "tok-admin",
		&RegisterAgentRequest{Agent: testAgent("A1")})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = e.do(http.MethodPost, "/api/v1/agents", "tok-admin",
		&RegisterAgentRequest{Agent: testAgent("A1"), Idempotent: true})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = e.do(http.MethodGet, "/api/v1/agents/A1", "tok-observer", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[AgentResponse](t, rec)
	assert.Equal(t, "A1", got.Agent.ID)
	assert.Equal(t, "durable", got.SourcedFrom)

	rec = e.do(http.MethodGet, "/api/v1/agents?task_type=file_editing&languages=TypeScript", "tok-observer", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	matches := decodeBody[QueryResponse](t, rec)
	require.Len(t, matches.Matches, 1)
	assert.Equal(t, "A1", matches.Matches[0].Agent.ID)

	rec = e.do(http.MethodGet, "/api/v1/registry/stats", "tok-observer", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody[MetricsResponse](t, rec)
	require.NotNil(t, stats.Registry)
	assert.Equal(t, 1, stats.Registry.TotalAgents)

	// Observers cannot unregister.
	rec = e.do(http.MethodDelete, "/api/v1/agents/A1", "tok-observer", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(http.MethodDelete, "/api/v1/agents/A1", "tok-admin", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(http.MethodGet, "/api/v1/agents/A1", "tok-admin", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = e.do(http.MethodDelete, "/api/v1/agents/A1", "tok-admin", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventsEndpoint(t *testing.T) {
	e := newAPIEnv(t)

	rec := e.do(http.MethodGet, "/events?topic=nonsense", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodGet, "/events?topic=task&since=-1", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	e.bus.Publish(events.Event{
		Type:    events.TypeTaskSubmitted,
		Payload: events.QueuePayload{TaskID: "task-ev"},
	})

	var resp EventsResponse
	require.Eventually(t, func() bool {
		rec = e.do(http.MethodGet, "/events?topic=task", "", nil)
		if rec.Code != http.StatusOK {
			return false
		}
		resp = decodeBody[EventsResponse](t, rec)
		return len(resp.Events) == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, "task", resp.Topic)
	assert.Equal(t, events.TypeTaskSubmitted, resp.Events[0].Type)
	assert.False(t, resp.Overflow)
	assert.Equal(t, resp.Events[0].Seq, resp.NextSince)

	// Polling from NextSince returns nothing new.
	rec = e.do(http.MethodGet, "/events?topic=task&since="+jsonNumber(resp.NextSince), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	next := decodeBody[EventsResponse](t, rec)
	assert.Empty(t, next.Events)
	assert.Equal(t, resp.NextSince, next.NextSince)
}

func jsonNumber(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestCommandAdminOnly(t *testing.T) {
	e := newAPIEnv(t)

	rec := e.do(http.MethodPost, "/api/v1/command", "tok-submitter", &CommandRequest{Action: "stop"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.True(t, e.orc.Running())

	rec = e.do(http.MethodPost, "/api/v1/command", "tok-admin", &CommandRequest{Action: "stop"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, e.orc.Running())

	rec = e.do(http.MethodPost, "/api/v1/command", "tok-admin", &CommandRequest{Action: "start"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, e.orc.Running())

	rec = e.do(http.MethodPost, "/api/v1/command", "tok-admin", &CommandRequest{Action: "reboot"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCommandClearQueue(t *testing.T) {
	e := newAPIEnv(t)
	// Dispatch is paused so submitted tasks stay queued.
	e.orc.Pause()

	for _, id := range []string{"t1", "t2", "t3"} {
		rec := e.do(http.MethodPost, "/api/v1/tasks", "tok-submitter", testTaskRequest(id))
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
	low := testTaskRequest("t-low")
	low.Priority = "low"
	rec := e.do(http.MethodPost, "/api/v1/tasks", "tok-submitter", low)
	require.Equal(t, http.StatusAccepted, rec.Code)

	// Clearing one class leaves the others queued.
	rec = e.do(http.MethodPost, "/api/v1/command", "tok-admin",
		&CommandRequest{Action: "clear-queue", Priority: "low"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[map[string]int](t, rec)
	assert.Equal(t, 1, resp["removed"])
	assert.Equal(t, 3, e.queue.Size())

	rec = e.do(http.MethodPost, "/api/v1/command", "tok-admin", &CommandRequest{Action: "clear-queue"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decodeBody[map[string]int](t, rec)
	assert.Equal(t, 3, resp["removed"])
	assert.Equal(t, 0, e.queue.Size())
}

func TestCommandCancelRequiresAssignmentID(t *testing.T) {
	e := newAPIEnv(t)

	rec := e.do(http.MethodPost, "/api/v1/command", "tok-admin", &CommandRequest{Action: "cancel"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodPost, "/api/v1/command", "tok-admin",
		&CommandRequest{Action: "cancel", AssignmentID: "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimitedResponse(t *testing.T) {
	e := newAPIEnv(t)
	e.cfg.Reload(&config.Reloadable{
		RateLimit:    config.RateLimitConfig{Capacity: 1, RefillPerSec: 0.001},
		AckWindow:    time.Minute,
		ProgressIdle: time.Minute,
	})

	rec := e.do(http.MethodGet, "/api/v1/registry/stats", "tok-admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(http.MethodGet, "/api/v1/registry/stats", "tok-admin", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	body := decodeBody[ErrorBody](t, rec)
	assert.Equal(t, "rate_limited", body.Code)
	assert.Greater(t, body.RetryAfterMs, int64(0))
}

// TestAssignmentFlowOverHTTP drives one task end to end through the
// worker callbacks: ack, progress, artifact submission, verdict.
func TestAssignmentFlowOverHTTP(t *testing.T) {
	e := newAPIEnv(t)
	sub := e.bus.Subscribe("task")
	t.Cleanup(func() { e.bus.Unsubscribe(sub) })

	rec := e.do(http.MethodPost, "/api/v1/agents", "tok-admin",
		&RegisterAgentRequest{Agent: testAgent("A1")})
	require.Equal(t, http.StatusCreated, rec.Code)

	e.orc.Start()
	rec = e.do(http.MethodPost, "/api/v1/tasks", "tok-submitter", testTaskRequest("task-flow"))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var assignmentID string
	deadline := time.After(time.Second)
	for assignmentID == "" {
		select {
		case evt := <-sub.C():
			if evt.Type == events.TypeTaskAssigned {
				payload, ok := evt.Payload.(events.TaskAssignedPayload)
				require.True(t, ok)
				assignmentID = payload.AssignmentID
			}
		case <-deadline:
			t.Fatal("timed out waiting for assignment")
		}
	}

	// The agent fetches its work payload before acking.
	rec = e.do(http.MethodGet, "/api/v1/assignments/"+assignmentID, "tok-orch", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	desc := decodeBody[models.WorkerDescriptor](t, rec)
	assert.Equal(t, assignmentID, desc.AssignmentID)
	assert.Equal(t, "task-flow", desc.TaskID)
	assert.Equal(t, "A1", desc.AgentID)
	assert.NotEmpty(t, desc.Description)

	rec = e.do(http.MethodGet, "/api/v1/assignments/nope", "tok-orch", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Wrong holder is rejected before any state change.
	rec = e.do(http.MethodPost, "/api/v1/assignments/"+assignmentID+"/ack", "tok-orch",
		&AckRequest{AgentID: "A9"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(http.MethodPost, "/api/v1/assignments/"+assignmentID+"/ack", "tok-orch",
		&AckRequest{AgentID: "A1"})
	require.Equal(t, http.StatusOK, rec.Code)
	acked := decodeBody[models.Assignment](t, rec)
	assert.Equal(t, models.StateRunning, acked.State)

	rec = e.do(http.MethodPost, "/api/v1/assignments/"+assignmentID+"/progress", "tok-orch",
		&ProgressRequest{AgentID: "A1", Progress: 0.5})
	require.Equal(t, http.StatusNoContent, rec.Code)

	submission := &SubmitArtifactsRequest{
		AgentID: "A1",
		Spec: &models.WorkingSpec{
			ID:       "spec-1",
			RiskTier: 1,
			Mode:     "feature",
			Acceptance: []models.AcceptanceCriterion{
				{ID: "A1", Given: "a file", When: "edited", Then: "it compiles"},
			},
		},
		Metrics: &models.ArtifactMetrics{
			Coverage:      0.95,
			LintPass:      true,
			TypecheckPass: true,
			BudgetUsage:   models.BudgetUsage{Files: 0.5, LOC: 0.5},
			Acceptance:    map[string]bool{"A1": true},
		},
	}
	rec = e.do(http.MethodPost, "/api/v1/assignments/"+assignmentID+"/submit", "tok-orch", submission)
	require.Equal(t, http.StatusOK, rec.Code)
	v := decodeBody[models.Verdict](t, rec)
	assert.Equal(t, models.DecisionPass, v.Decision)

	// Submitting again conflicts: the assignment is terminal.
	rec = e.do(http.MethodPost, "/api/v1/assignments/"+assignmentID+"/submit", "tok-orch", submission)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
