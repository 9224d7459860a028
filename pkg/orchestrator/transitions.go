package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/codeready-toolchain/arbiter/pkg/apperr"
	"github.com/codeready-toolchain/arbiter/pkg/events"
	"github.com/codeready-toolchain/arbiter/pkg/models"
)

// Ack transitions Assigned → Running. Only the assigned agent may ack;
// an extension within the configured cap pushes the exec deadline out.
func (o *Orchestrator) Ack(ctx context.Context, assignmentID, agentID string, extension time.Duration) (*models.Assignment, error) {
	h := o.handleFor(assignmentID)
	if h == nil {
		return nil, apperr.New(apperr.KindNotFound, "assignment %q not found", assignmentID)
	}

	h.mu.Lock()
	a := h.assignment
	if a.AgentID != agentID {
		h.mu.Unlock()
		return nil, apperr.New(apperr.KindForbidden,
			"assignment %q is not held by agent %q", assignmentID, agentID)
	}
	if a.State != models.StateAssigned {
		h.mu.Unlock()
		return nil, apperr.New(apperr.KindConflict,
			"assignment %q cannot be acknowledged in state %s", assignmentID, a.State)
	}

	if h.ackTimer != nil {
		h.ackTimer.Stop()
	}
	now := time.Now()
	a.State = models.StateRunning
	a.AcknowledgmentTimeMs = now.Sub(a.CreatedAt).Milliseconds()
	a.LastProgressAt = now

	// The deadline extends only within the cap; an oversized request
	// still acknowledges, without the extension.
	if extension > 0 && extension <= o.cfg.Orchestrator.MaxExtension {
		a.ExecDeadline = a.ExecDeadline.Add(extension)
		if h.execTimer != nil {
			h.execTimer.Stop()
		}
		id := a.ID
		h.execTimer = time.AfterFunc(time.Until(a.ExecDeadline), func() { o.onExecTimeout(id) })
	}

	id := a.ID
	h.progressTimer = time.AfterFunc(o.cfg.Snapshot().ProgressIdle, func() { o.onProgressTimeout(id) })
	snapshot := *a
	h.mu.Unlock()

	if err := o.persist(ctx, &snapshot); err != nil {
		slog.Error("Failed to persist acknowledgment", "assignment_id", assignmentID, "error", err)
	}
	o.bus.Publish(events.Event{
		Type: events.TypeTaskAcknowledged,
		Payload: events.TaskProgressPayload{
			TaskID:       snapshot.TaskID,
			AssignmentID: snapshot.ID,
			AgentID:      snapshot.AgentID,
		},
	})
	return &snapshot, nil
}

// Progress records a progress report. Allowed only in Running; progress
// is monotonically non-decreasing and resets the idle deadline.
func (o *Orchestrator) Progress(ctx context.Context, assignmentID, agentID string, progress float64) error {
	if progress < 0 || progress > 1 {
		return apperr.New(apperr.KindValidation, "progress %.3f out of [0,1]", progress)
	}

	h := o.handleFor(assignmentID)
	if h == nil {
		return apperr.New(apperr.KindNotFound, "assignment %q not found", assignmentID)
	}

	h.mu.Lock()
	a := h.assignment
	if a.AgentID != agentID {
		h.mu.Unlock()
		return apperr.New(apperr.KindForbidden,
			"assignment %q is not held by agent %q", assignmentID, agentID)
	}
	if a.State != models.StateRunning {
		h.mu.Unlock()
		return apperr.New(apperr.KindConflict,
			"assignment %q cannot report progress in state %s", assignmentID, a.State)
	}
	if progress < a.Progress {
		h.mu.Unlock()
		return apperr.New(apperr.KindValidation,
			"progress must be non-decreasing: %.3f < %.3f", progress, a.Progress)
	}

	a.Progress = progress
	a.LastProgressAt = time.Now()
	if h.progressTimer != nil {
		h.progressTimer.Stop()
	}
	id := a.ID
	h.progressTimer = time.AfterFunc(o.cfg.Snapshot().ProgressIdle, func() { o.onProgressTimeout(id) })
	snapshot := *a
	h.mu.Unlock()

	if err := o.persist(ctx, &snapshot); err != nil {
		slog.Error("Failed to persist progress", "assignment_id", assignmentID, "error", err)
	}
	o.bus.Publish(events.Event{
		Type: events.TypeTaskProgress,
		Payload: events.TaskProgressPayload{
			TaskID:       snapshot.TaskID,
			AssignmentID: snapshot.ID,
			AgentID:      snapshot.AgentID,
			Progress:     progress,
		},
	})
	return nil
}

// Submit transitions Running → Verifying, generates the verdict, and
// closes the assignment: pass or waiver completes it; fail either
// reassigns (attempts remaining) or ends the task.
func (o *Orchestrator) Submit(ctx context.Context, assignmentID, agentID string, spec *models.WorkingSpec, metrics *models.ArtifactMetrics, waiver *models.Waiver) (*models.Verdict, error) {
	h := o.handleFor(assignmentID)
	if h == nil {
		return nil, apperr.New(apperr.KindNotFound, "assignment %q not found", assignmentID)
	}

	h.mu.Lock()
	a := h.assignment
	if a.AgentID != agentID {
		h.mu.Unlock()
		return nil, apperr.New(apperr.KindForbidden,
			"assignment %q is not held by agent %q", assignmentID, agentID)
	}
	if a.State != models.StateRunning {
		h.mu.Unlock()
		return nil, apperr.New(apperr.KindConflict,
			"assignment %q cannot submit in state %s", assignmentID, a.State)
	}

	if h.progressTimer != nil {
		h.progressTimer.Stop()
	}
	if h.execTimer != nil {
		h.execTimer.Stop()
	}
	a.State = models.StateVerifying
	a.Artifacts = metrics

	v, err := o.verdicts.Generate(spec, metrics, waiver)
	if err != nil {
		// Verification never ran; hand the assignment back to the agent.
		a.State = models.StateRunning
		a.LastProgressAt = time.Now()
		id := a.ID
		h.progressTimer = time.AfterFunc(o.cfg.Snapshot().ProgressIdle, func() { o.onProgressTimeout(id) })
		h.mu.Unlock()
		return nil, err
	}
	a.Verdict = v

	now := time.Now()
	release := false
	if v.Decision == models.DecisionPass || v.Decision == models.DecisionWaiver {
		a.State = models.StateCompleted
		a.CompletedAt = now
		release = !h.loadReleased
		h.loadReleased = true
	} else {
		a.State = models.StateFailed
		a.FailureReason = strings.Join(v.Reasons, "; ")
		a.CompletedAt = now
		release = !h.loadReleased
		h.loadReleased = true
	}
	task := h.task
	snapshot := *a
	h.mu.Unlock()

	if err := o.persist(ctx, &snapshot); err != nil {
		slog.Error("Failed to persist verdict", "assignment_id", assignmentID, "error", err)
	}

	o.bus.Publish(events.Event{
		Type: events.TypeVerdictProduced,
		Payload: events.VerdictPayload{
			AssignmentID: snapshot.ID,
			SpecID:       spec.ID,
			Decision:     v.Decision,
			QualityScore: v.QualityScore,
			Reasons:      v.Reasons,
		},
	})
	if v.Decision == models.DecisionWaiver {
		o.bus.Publish(events.Event{
			Type:     events.TypeWaiverApplied,
			Severity: events.SeverityWarning,
			Payload: events.VerdictPayload{
				AssignmentID: snapshot.ID,
				SpecID:       spec.ID,
				Decision:     v.Decision,
				QualityScore: v.QualityScore,
			},
		})
	}

	latencyMs := float64(now.Sub(snapshot.CreatedAt).Milliseconds())
	sample := models.PerformanceSample{
		Success:      snapshot.State == models.StateCompleted,
		QualityScore: v.QualityScore,
		LatencyMs:    latencyMs,
	}

	if snapshot.State == models.StateCompleted {
		o.bus.Publish(events.Event{
			Type: events.TypeTaskCompleted,
			Payload: events.TaskTerminalPayload{
				TaskID:       snapshot.TaskID,
				AssignmentID: snapshot.ID,
				AgentID:      snapshot.AgentID,
				State:        snapshot.State,
				QualityScore: v.QualityScore,
			},
		})
		o.settle(ctx, &snapshot, task, release, &sample)
		o.clearExclusions(task.ID)
		return v, nil
	}

	o.bus.Publish(events.Event{
		Type:     events.TypeTaskFailed,
		Severity: events.SeverityWarning,
		Payload: events.TaskTerminalPayload{
			TaskID:       snapshot.TaskID,
			AssignmentID: snapshot.ID,
			AgentID:      snapshot.AgentID,
			State:        snapshot.State,
			Reason:       snapshot.FailureReason,
			QualityScore: v.QualityScore,
		},
	})
	o.settle(ctx, &snapshot, task, release, &sample)
	o.exclude(task.ID, snapshot.AgentID)
	o.reassignOrEnd(ctx, task, &snapshot)
	return v, nil
}

// Cancel moves any non-terminal assignment to Cancelled. Allowed for
// the task's submitter or an admin.
func (o *Orchestrator) Cancel(ctx context.Context, assignmentID, identity string, admin bool) error {
	h := o.handleFor(assignmentID)
	if h == nil {
		return apperr.New(apperr.KindNotFound, "assignment %q not found", assignmentID)
	}

	h.mu.Lock()
	a := h.assignment
	if !admin && identity != h.task.SubmittedBy {
		h.mu.Unlock()
		return apperr.New(apperr.KindForbidden,
			"only the submitter or an admin may cancel assignment %q", assignmentID)
	}
	if a.State.Terminal() {
		h.mu.Unlock()
		return apperr.New(apperr.KindConflict,
			"assignment %q already terminal in state %s", assignmentID, a.State)
	}

	h.stopTimers()
	a.State = models.StateCancelled
	a.CompletedAt = time.Now()
	release := !h.loadReleased
	h.loadReleased = true
	task := h.task
	snapshot := *a
	h.mu.Unlock()

	if err := o.persist(ctx, &snapshot); err != nil {
		slog.Error("Failed to persist cancellation", "assignment_id", assignmentID, "error", err)
	}
	o.bus.Publish(events.Event{
		Type: events.TypeTaskCancelled,
		Payload: events.TaskTerminalPayload{
			TaskID:       snapshot.TaskID,
			AssignmentID: snapshot.ID,
			AgentID:      snapshot.AgentID,
			State:        models.StateCancelled,
			Reason:       "cancelled by " + identity,
		},
	})
	o.settle(ctx, &snapshot, task, release, nil)
	o.clearExclusions(task.ID)
	return nil
}

// onAckTimeout fires at the ack deadline and transitions to Failed only
// if the assignment is still waiting for its ack.
func (o *Orchestrator) onAckTimeout(assignmentID string) {
	o.fireTimeout(assignmentID, models.TimeoutAcknowledgment, func(s models.AssignmentState) bool {
		return s == models.StateAssigned
	}, false)
}

// onExecTimeout fires at the exec deadline; it applies while the
// assignment is Assigned or Running. A verdict already in flight wins.
func (o *Orchestrator) onExecTimeout(assignmentID string) {
	o.fireTimeout(assignmentID, models.TimeoutExecution, func(s models.AssignmentState) bool {
		return s == models.StateAssigned || s == models.StateRunning
	}, true)
}

// onProgressTimeout fires after ProgressIdle without a report. A report
// that raced the firing re-arms instead of failing.
func (o *Orchestrator) onProgressTimeout(assignmentID string) {
	h := o.handleFor(assignmentID)
	if h == nil {
		return
	}
	h.mu.Lock()
	a := h.assignment
	idle := o.cfg.Snapshot().ProgressIdle
	if a.State == models.StateRunning && time.Since(a.LastProgressAt) < idle {
		remaining := idle - time.Since(a.LastProgressAt)
		id := a.ID
		h.progressTimer = time.AfterFunc(remaining, func() { o.onProgressTimeout(id) })
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	o.fireTimeout(assignmentID, models.TimeoutProgress, func(s models.AssignmentState) bool {
		return s == models.StateRunning
	}, true)
}

// fireTimeout applies one of the three deadline failures: Failed with
// the timeout type recorded, one task.timeout event, the exactly-once
// load decrement, and a reassignment attempt.
func (o *Orchestrator) fireTimeout(assignmentID string, timeoutType models.TimeoutType, stateOK func(models.AssignmentState) bool, recordSample bool) {
	h := o.handleFor(assignmentID)
	if h == nil {
		return
	}

	h.mu.Lock()
	a := h.assignment
	if !stateOK(a.State) {
		h.mu.Unlock()
		return
	}
	h.stopTimers()
	a.State = models.StateFailed
	a.TimeoutType = timeoutType
	a.FailureReason = string(timeoutType) + " deadline passed"
	a.CompletedAt = time.Now()
	release := !h.loadReleased
	h.loadReleased = true
	task := h.task
	snapshot := *a
	h.mu.Unlock()

	ctx := context.Background()
	if err := o.persist(ctx, &snapshot); err != nil {
		slog.Error("Failed to persist timeout", "assignment_id", assignmentID, "error", err)
	}
	o.bus.Publish(events.Event{
		Type:     events.TypeTaskTimeout,
		Severity: events.SeverityWarning,
		Payload: events.TaskTimeoutPayload{
			TaskID:       snapshot.TaskID,
			AssignmentID: snapshot.ID,
			AgentID:      snapshot.AgentID,
			TimeoutType:  timeoutType,
		},
	})

	// An ack timeout means the agent never engaged; only engaged work
	// counts against its performance history.
	var sample *models.PerformanceSample
	if recordSample {
		sample = &models.PerformanceSample{
			Success:   false,
			LatencyMs: float64(snapshot.CompletedAt.Sub(snapshot.CreatedAt).Milliseconds()),
		}
	}
	o.settle(ctx, &snapshot, task, release, sample)
	o.exclude(task.ID, snapshot.AgentID)
	o.reassignOrEnd(ctx, task, &snapshot)
}

// failAssignment fails a live assignment outside the deadline paths
// (agent disappeared). The usual terminal bookkeeping applies.
func (o *Orchestrator) failAssignment(h *handle, reason string) {
	h.mu.Lock()
	a := h.assignment
	if a.State.Terminal() {
		h.mu.Unlock()
		return
	}
	h.stopTimers()
	a.State = models.StateFailed
	a.FailureReason = reason
	a.CompletedAt = time.Now()
	release := !h.loadReleased
	h.loadReleased = true
	task := h.task
	snapshot := *a
	h.mu.Unlock()

	ctx := context.Background()
	if err := o.persist(ctx, &snapshot); err != nil {
		slog.Error("Failed to persist failure", "assignment_id", a.ID, "error", err)
	}
	o.bus.Publish(events.Event{
		Type:     events.TypeTaskFailed,
		Severity: events.SeverityWarning,
		Payload: events.TaskTerminalPayload{
			TaskID:       snapshot.TaskID,
			AssignmentID: snapshot.ID,
			AgentID:      snapshot.AgentID,
			State:        models.StateFailed,
			Reason:       reason,
		},
	})
	o.settle(ctx, &snapshot, task, release, nil)
	o.exclude(task.ID, snapshot.AgentID)
	o.reassignOrEnd(ctx, task, &snapshot)
}

// settle performs the post-transition registry bookkeeping: the
// exactly-once load decrement and, when sample is set, the performance
// and specialization updates.
func (o *Orchestrator) settle(ctx context.Context, a *models.Assignment, task *models.Task, release bool, sample *models.PerformanceSample) {
	if release {
		if _, err := o.registry.UpdateLoad(ctx, a.AgentID, -1, 0); err != nil && !apperr.IsKind(err, apperr.KindNotFound) {
			slog.Error("Failed to decrement agent load", "agent_id", a.AgentID, "error", err)
		}
	}
	if sample == nil {
		return
	}
	if _, err := o.registry.UpdatePerformance(ctx, a.AgentID, *sample); err != nil && !apperr.IsKind(err, apperr.KindNotFound) {
		slog.Error("Failed to record performance sample", "agent_id", a.AgentID, "error", err)
	}
	if _, err := o.registry.UpdateSpecialization(ctx, a.AgentID, task.Type, *sample); err != nil && !apperr.IsKind(err, apperr.KindNotFound) {
		slog.Error("Failed to record specialization sample", "agent_id", a.AgentID, "error", err)
	}
}

// reassignOrEnd schedules the next attempt after a retriable failure.
// With attempts exhausted the Failed state already emitted its event;
// nothing more happens.
func (o *Orchestrator) reassignOrEnd(ctx context.Context, task *models.Task, prev *models.Assignment) {
	if task.Attempts >= task.MaxAttempts {
		o.clearExclusions(task.ID)
		return
	}
	agent, err := o.pickAgent(ctx, task)
	if err != nil {
		o.requeue(task, err)
		return
	}
	o.place(ctx, task, agent, prev)
}
