// Package orchestrator drives the assignment state machine: it
// dequeues tasks, picks agents through the router, tracks the three
// independent deadlines per assignment, invokes verdict generation on
// submitted artifacts, and reassigns retriable failures.
//
// Each assignment is single-writer: every transition, whether from an
// external callback or a timer firing, is serialized by the
// assignment's own lock. Registry calls are never made while an
// assignment lock is held; the lock order is Queue → Registry →
// Assignment → Store.
package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/arbiter/pkg/apperr"
	"github.com/codeready-toolchain/arbiter/pkg/config"
	"github.com/codeready-toolchain/arbiter/pkg/events"
	"github.com/codeready-toolchain/arbiter/pkg/models"
	"github.com/codeready-toolchain/arbiter/pkg/queue"
	"github.com/codeready-toolchain/arbiter/pkg/registry"
	"github.com/codeready-toolchain/arbiter/pkg/router"
	"github.com/codeready-toolchain/arbiter/pkg/store"
	"github.com/codeready-toolchain/arbiter/pkg/verdict"
)

const assignmentKeyPrefix = "assignments/"

func assignmentKey(id string) string { return assignmentKeyPrefix + id }

// handle is the in-memory wrapper around one assignment. All mutation
// happens under mu; timers fire into callbacks that re-acquire it.
type handle struct {
	mu         sync.Mutex
	assignment *models.Assignment
	task       *models.Task

	ackTimer      *time.Timer
	progressTimer *time.Timer
	execTimer     *time.Timer

	// loadReleased guards the exactly-once active-load decrement on
	// terminal transitions.
	loadReleased bool
}

func (h *handle) stopTimers() {
	for _, t := range []*time.Timer{h.ackTimer, h.progressTimer, h.execTimer} {
		if t != nil {
			t.Stop()
		}
	}
}

// Orchestrator is the task orchestrator (single instance per process).
type Orchestrator struct {
	cfg      *config.Config
	queue    *queue.Queue
	registry *registry.Registry
	store    *store.Resilient
	verdicts *verdict.Generator
	bus      *events.Bus

	mu      sync.Mutex
	handles map[string]*handle // assignment ID → handle

	// exclusions accumulates failed agents per task across reassignments.
	exclusionsMu sync.Mutex
	exclusions   map[string]map[string]bool

	running   atomic.Bool
	startedAt time.Time

	kick     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates an orchestrator. Call Start to begin dispatching.
func New(cfg *config.Config, q *queue.Queue, reg *registry.Registry, st *store.Resilient, gen *verdict.Generator, bus *events.Bus) *Orchestrator {
	o := &Orchestrator{
		cfg:        cfg,
		queue:      q,
		registry:   reg,
		store:      st,
		verdicts:   gen,
		bus:        bus,
		handles:    make(map[string]*handle),
		exclusions: make(map[string]map[string]bool),
		kick:       make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
	}
	o.running.Store(true)
	return o
}

// Start launches the dispatch and orphan-sweep loops.
func (o *Orchestrator) Start() {
	o.startedAt = time.Now()
	o.wg.Add(2)
	go o.dispatchLoop()
	go o.sweepLoop()
}

// Stop halts dispatching, stops every assignment timer, and waits for
// the loops to exit. In-flight assignments stay persisted; the orphan
// sweep of a later process adopts or fails them.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		close(o.stopCh)
		o.wg.Wait()

		o.mu.Lock()
		for _, h := range o.handles {
			h.mu.Lock()
			h.stopTimers()
			h.mu.Unlock()
		}
		o.mu.Unlock()
	})
}

// Pause suspends dispatching; queued tasks accumulate. Running
// assignments are unaffected.
func (o *Orchestrator) Pause() { o.running.Store(false) }

// Resume re-enables dispatching.
func (o *Orchestrator) Resume() {
	o.running.Store(true)
	o.nudge()
}

// Running reports whether the dispatch loop is accepting work.
func (o *Orchestrator) Running() bool { return o.running.Load() }

// SubmitTask admits a task to the queue and nudges the dispatcher so an
// eligible agent is assigned without waiting for the next tick.
func (o *Orchestrator) SubmitTask(task *models.Task) error {
	if err := o.queue.Enqueue(task); err != nil {
		return err
	}
	o.nudge()
	return nil
}

func (o *Orchestrator) nudge() {
	select {
	case o.kick <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) dispatchLoop() {
	defer o.wg.Done()

	timer := time.NewTimer(o.interval())
	defer timer.Stop()
	for {
		select {
		case <-o.stopCh:
			return
		case <-o.kick:
		case <-timer.C:
		}
		if o.running.Load() {
			o.drainQueue()
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(o.interval())
	}
}

// interval returns the dispatch interval with jitter applied.
func (o *Orchestrator) interval() time.Duration {
	base := o.cfg.Orchestrator.DispatchInterval
	jitter := o.cfg.Orchestrator.DispatchJitter
	if jitter <= 0 {
		return base
	}
	d := base + time.Duration(rand.Int63n(int64(2*jitter))) - jitter
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

// drainQueue assigns every dequeueable task until the queue is empty or
// a task finds no agent.
func (o *Orchestrator) drainQueue() {
	for {
		select {
		case <-o.stopCh:
			return
		default:
		}
		dq := o.queue.Dequeue()
		if dq == nil {
			return
		}
		o.assign(context.Background(), dq.Task)
	}
}

// assign matches the task against the registry, routes it, and creates
// the assignment. NoEligibleAgent re-queues with a penalty delay.
func (o *Orchestrator) assign(ctx context.Context, task *models.Task) {
	agent, err := o.pickAgent(ctx, task)
	if err != nil {
		o.requeue(task, err)
		return
	}
	o.place(ctx, task, agent, nil)
}

func (o *Orchestrator) pickAgent(ctx context.Context, task *models.Task) (*models.Agent, error) {
	specs := make([]string, 0, len(task.Required.Specializations))
	for _, s := range task.Required.Specializations {
		specs = append(specs, s.Type)
	}
	candidates, _, err := o.registry.QueryByCapability(ctx, registry.CapabilityQuery{
		TaskType:        task.Type,
		Languages:       task.Required.Languages,
		Specializations: specs,
	})
	if err != nil {
		return nil, err
	}
	return router.Pick(task, candidates, o.exclusionsFor(task.ID), time.Now())
}

// place creates and persists the assignment, starts its timers, bumps
// the agent's load, and emits the transition event. prev is non-nil on
// reassignment.
func (o *Orchestrator) place(ctx context.Context, task *models.Task, agent *models.Agent, prev *models.Assignment) {
	now := time.Now()
	snapshot := o.cfg.Snapshot()

	task.Attempts++
	a := &models.Assignment{
		ID:            uuid.New().String(),
		TaskID:        task.ID,
		AgentID:       agent.ID,
		State:         models.StateAssigned,
		CreatedAt:     now,
		AckDeadline:   now.Add(snapshot.AckWindow),
		ExecDeadline:  now.Add(task.Timeout()),
		AttemptNumber: task.Attempts,
	}
	if prev != nil {
		a.PreviousAssignmentIDs = append(append([]string{}, prev.PreviousAssignmentIDs...), prev.ID)
	}

	h := &handle{assignment: a, task: task}
	if err := o.persist(ctx, a); err != nil {
		// Nothing was published or counted yet; put the task back.
		task.Attempts--
		o.requeue(task, err)
		return
	}

	o.mu.Lock()
	o.handles[a.ID] = h
	o.mu.Unlock()

	// The load increment must land before the timers are armed: a
	// deadline firing first would release load that was never taken.
	if _, err := o.registry.UpdateLoad(ctx, agent.ID, 1, 0); err != nil {
		slog.Error("Failed to increment agent load", "agent_id", agent.ID, "error", err)
	}
	if err := o.registry.MarkAssigned(ctx, agent.ID, now); err != nil {
		slog.Error("Failed to stamp assignment recency", "agent_id", agent.ID, "error", err)
	}

	id := a.ID
	h.ackTimer = time.AfterFunc(time.Until(a.AckDeadline), func() { o.onAckTimeout(id) })
	h.execTimer = time.AfterFunc(time.Until(a.ExecDeadline), func() { o.onExecTimeout(id) })

	if prev != nil {
		o.bus.Publish(events.Event{
			Type: events.TypeTaskReassigned,
			Payload: events.TaskReassignedPayload{
				TaskID:               task.ID,
				PreviousAssignmentID: prev.ID,
				NewAssignmentID:      a.ID,
				NewAgentID:           agent.ID,
				AttemptNumber:        a.AttemptNumber,
			},
		})
		return
	}
	o.bus.Publish(events.Event{
		Type: events.TypeTaskAssigned,
		Payload: events.TaskAssignedPayload{
			TaskID:        task.ID,
			AssignmentID:  a.ID,
			AgentID:       agent.ID,
			AttemptNumber: a.AttemptNumber,
		},
	})
}

// requeue re-admits a task that found no eligible agent, after the
// penalty delay. Exhausted attempts end the task instead.
func (o *Orchestrator) requeue(task *models.Task, cause error) {
	if task.Attempts >= task.MaxAttempts {
		o.clearExclusions(task.ID)
		o.bus.Publish(events.Event{
			Type:     events.TypeTaskFailed,
			Severity: events.SeverityWarning,
			Payload: events.TaskTerminalPayload{
				TaskID: task.ID,
				State:  models.StateFailed,
				Reason: "no eligible agent and attempts exhausted",
			},
		})
		return
	}

	slog.Debug("Re-queueing task", "task_id", task.ID, "cause", cause)
	time.AfterFunc(o.cfg.Orchestrator.RequeuePenalty, func() {
		select {
		case <-o.stopCh:
			return
		default:
		}
		if err := o.queue.Enqueue(task); err != nil {
			o.bus.Publish(events.Event{
				Type:     events.TypeTaskFailed,
				Severity: events.SeverityError,
				Payload: events.TaskTerminalPayload{
					TaskID: task.ID,
					State:  models.StateFailed,
					Reason: "re-queue rejected: " + err.Error(),
				},
			})
			return
		}
		o.nudge()
	})
}

func (o *Orchestrator) handleFor(assignmentID string) *handle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.handles[assignmentID]
}

func (o *Orchestrator) exclusionsFor(taskID string) map[string]bool {
	o.exclusionsMu.Lock()
	defer o.exclusionsMu.Unlock()
	out := make(map[string]bool, len(o.exclusions[taskID]))
	for id := range o.exclusions[taskID] {
		out[id] = true
	}
	return out
}

func (o *Orchestrator) exclude(taskID, agentID string) {
	o.exclusionsMu.Lock()
	defer o.exclusionsMu.Unlock()
	if o.exclusions[taskID] == nil {
		o.exclusions[taskID] = make(map[string]bool)
	}
	o.exclusions[taskID][agentID] = true
}

func (o *Orchestrator) clearExclusions(taskID string) {
	o.exclusionsMu.Lock()
	defer o.exclusionsMu.Unlock()
	delete(o.exclusions, taskID)
}

func (o *Orchestrator) persist(ctx context.Context, a *models.Assignment) error {
	data, err := json.Marshal(a)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, err, "marshaling assignment %q", a.ID)
	}
	return o.store.Write(ctx, assignmentKey(a.ID), data, true)
}

// sweepLoop periodically adopts or fails assignments that lost their
// in-memory handle (crash recovery) and fails live assignments whose
// agent disappeared.
func (o *Orchestrator) sweepLoop() {
	defer o.wg.Done()

	interval := o.cfg.Orchestrator.OrphanScanInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.sweep(context.Background())
		}
	}
}

func (o *Orchestrator) sweep(ctx context.Context) {
	res, err := o.store.Scan(ctx, assignmentKeyPrefix)
	if err != nil {
		slog.Warn("Orphan sweep scan failed", "error", err)
		return
	}

	for _, rec := range res.Records {
		var a models.Assignment
		if err := json.Unmarshal(rec.Value, &a); err != nil || a.State.Terminal() {
			continue
		}

		h := o.handleFor(a.ID)
		if h == nil {
			// A non-terminal record with no handle survives from a
			// previous process; fail it so its task can be resubmitted.
			a.State = models.StateFailed
			a.FailureReason = "orphaned assignment"
			a.CompletedAt = time.Now()
			if err := o.persist(ctx, &a); err != nil {
				slog.Error("Failed to persist orphaned assignment", "assignment_id", a.ID, "error", err)
				continue
			}
			o.bus.Publish(events.Event{
				Type:     events.TypeTaskFailed,
				Severity: events.SeverityWarning,
				Payload: events.TaskTerminalPayload{
					TaskID:       a.TaskID,
					AssignmentID: a.ID,
					AgentID:      a.AgentID,
					State:        models.StateFailed,
					Reason:       a.FailureReason,
				},
			})
			continue
		}

		if _, _, err := o.registry.GetProfile(ctx, a.AgentID); apperr.IsKind(err, apperr.KindNotFound) {
			o.failAssignment(h, "agent unregistered")
		}
	}

	o.pruneTerminal()
}

// pruneTerminal drops terminal handles older than one sweep interval so
// the in-memory table stays bounded. The durable records remain until
// the owning agent unregisters.
func (o *Orchestrator) pruneTerminal() {
	cutoff := time.Now().Add(-o.cfg.Orchestrator.OrphanScanInterval)

	o.mu.Lock()
	defer o.mu.Unlock()
	for id, h := range o.handles {
		h.mu.Lock()
		stale := h.assignment.State.Terminal() && h.assignment.CompletedAt.Before(cutoff)
		h.mu.Unlock()
		if stale {
			delete(o.handles, id)
		}
	}
}

// Health summarizes the orchestrator for the status surface.
type Health struct {
	Running           bool           `json:"running"`
	UptimeSeconds     float64        `json:"uptime_seconds"`
	ActiveAssignments int            `json:"active_assignments"`
	ByState           map[string]int `json:"assignments_by_state"`
	QueueDepth        int            `json:"queue_depth"`
}

// GetHealth reports live orchestrator state.
func (o *Orchestrator) GetHealth() Health {
	byState := o.AssignmentsByState()
	active := 0
	for state, n := range byState {
		if !models.AssignmentState(state).Terminal() {
			active += n
		}
	}
	return Health{
		Running:           o.running.Load(),
		UptimeSeconds:     time.Since(o.startedAt).Seconds(),
		ActiveAssignments: active,
		ByState:           byState,
		QueueDepth:        o.queue.Size(),
	}
}

// AssignmentsByState counts tracked assignments per state.
func (o *Orchestrator) AssignmentsByState() map[string]int {
	o.mu.Lock()
	handles := make([]*handle, 0, len(o.handles))
	for _, h := range o.handles {
		handles = append(handles, h)
	}
	o.mu.Unlock()

	out := make(map[string]int)
	for _, h := range handles {
		h.mu.Lock()
		out[string(h.assignment.State)]++
		h.mu.Unlock()
	}
	return out
}

// Assignments returns a snapshot of every tracked assignment.
func (o *Orchestrator) Assignments() []models.Assignment {
	o.mu.Lock()
	handles := make([]*handle, 0, len(o.handles))
	for _, h := range o.handles {
		handles = append(handles, h)
	}
	o.mu.Unlock()

	out := make([]models.Assignment, 0, len(handles))
	for _, h := range handles {
		h.mu.Lock()
		out = append(out, *h.assignment)
		h.mu.Unlock()
	}
	return out
}

// GetAssignment returns a snapshot of one assignment.
func (o *Orchestrator) GetAssignment(assignmentID string) (*models.Assignment, error) {
	h := o.handleFor(assignmentID)
	if h == nil {
		return nil, apperr.New(apperr.KindNotFound, "assignment %q not found", assignmentID)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	snapshot := *h.assignment
	return &snapshot, nil
}

// DescribeAssignment returns the worker-facing payload for an
// assignment: the bound task with internal bookkeeping stripped. An
// agent fetches it after the assigned event names the assignment.
func (o *Orchestrator) DescribeAssignment(assignmentID string) (*models.WorkerDescriptor, error) {
	h := o.handleFor(assignmentID)
	if h == nil {
		return nil, apperr.New(apperr.KindNotFound, "assignment %q not found", assignmentID)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	d := h.assignment.Descriptor(h.task)
	return &d, nil
}
