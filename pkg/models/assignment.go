package models

import "time"

// AssignmentState is one node in the assignment state machine.
type AssignmentState string

// Assignment states. Pending is the re-queued state between a retriable
// failure and the next assign; Completed, Cancelled, and a
// non-retriable Failed are terminal.
const (
	StatePending   AssignmentState = "pending"
	StateAssigned  AssignmentState = "assigned"
	StateRunning   AssignmentState = "running"
	StateVerifying AssignmentState = "verifying"
	StateCompleted AssignmentState = "completed"
	StateFailed    AssignmentState = "failed"
	StateCancelled AssignmentState = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s AssignmentState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// TimeoutType identifies which of the three independent deadlines fired.
type TimeoutType string

// Timeout types recorded on deadline-driven failures.
const (
	TimeoutAcknowledgment TimeoutType = "acknowledgment"
	TimeoutProgress       TimeoutType = "progress"
	TimeoutExecution      TimeoutType = "execution"
)

// Assignment binds one task to one agent for one attempt. Owned
// exclusively by the orchestrator; all mutation is serialized per
// assignment.
type Assignment struct {
	ID             string          `json:"id"`
	TaskID         string          `json:"task_id"`
	AgentID        string          `json:"agent_id"`
	State          AssignmentState `json:"state"`
	CreatedAt      time.Time       `json:"created_at"`
	AckDeadline    time.Time       `json:"ack_deadline"`
	ExecDeadline   time.Time       `json:"exec_deadline"`
	LastProgressAt time.Time       `json:"last_progress_at,omitempty"`
	AttemptNumber  int             `json:"attempt_number"`

	// PreviousAssignmentIDs is the strict reassignment chain, oldest first.
	PreviousAssignmentIDs []string `json:"previous_assignment_ids,omitempty"`

	Progress             float64     `json:"progress"`
	AcknowledgmentTimeMs int64       `json:"acknowledgment_time_ms,omitempty"`
	TimeoutType          TimeoutType `json:"timeout_type,omitempty"`
	FailureReason        string      `json:"failure_reason,omitempty"`
	CompletedAt          time.Time   `json:"completed_at,omitempty"`

	Artifacts *ArtifactMetrics `json:"artifacts,omitempty"`
	Verdict   *Verdict         `json:"verdict,omitempty"`
}

// WorkerDescriptor is the assignment payload pushed to a worker
// endpoint: the task and assignment with internal bookkeeping stripped.
type WorkerDescriptor struct {
	AssignmentID  string       `json:"assignment_id"`
	TaskID        string       `json:"task_id"`
	AgentID       string       `json:"agent_id"`
	Description   string       `json:"description"`
	Type          string       `json:"type"`
	TimeoutMs     int64        `json:"timeout_ms"`
	Budget        Budget       `json:"budget"`
	Required      Capabilities `json:"required_capabilities"`
	AttemptNumber int          `json:"attempt_number"`
	AckDeadline   time.Time    `json:"ack_deadline"`
}

// Descriptor builds the worker-facing payload for an assignment.
func (a *Assignment) Descriptor(task *Task) WorkerDescriptor {
	return WorkerDescriptor{
		AssignmentID:  a.ID,
		TaskID:        a.TaskID,
		AgentID:       a.AgentID,
		Description:   task.Description,
		Type:          task.Type,
		TimeoutMs:     task.TimeoutMs,
		Budget:        task.Budget,
		Required:      task.Required,
		AttemptNumber: a.AttemptNumber,
		AckDeadline:   a.AckDeadline,
	}
}
