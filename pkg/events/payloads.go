package events

import "github.com/codeready-toolchain/arbiter/pkg/models"

// TaskAssignedPayload accompanies task.assigned.
type TaskAssignedPayload struct {
	TaskID        string `json:"task_id"`
	AssignmentID  string `json:"assignment_id"`
	AgentID       string `json:"agent_id"`
	AttemptNumber int    `json:"attempt_number"`
}

// TaskProgressPayload accompanies task.acknowledged and task.progress.
type TaskProgressPayload struct {
	TaskID       string  `json:"task_id"`
	AssignmentID string  `json:"assignment_id"`
	AgentID      string  `json:"agent_id"`
	Progress     float64 `json:"progress,omitempty"`
}

// TaskTerminalPayload accompanies task.completed, task.failed, and
// task.cancelled.
type TaskTerminalPayload struct {
	TaskID       string                 `json:"task_id"`
	AssignmentID string                 `json:"assignment_id"`
	AgentID      string                 `json:"agent_id"`
	State        models.AssignmentState `json:"state"`
	Reason       string                 `json:"reason,omitempty"`
	QualityScore float64                `json:"quality_score,omitempty"`
}

// TaskTimeoutPayload accompanies task.timeout.
type TaskTimeoutPayload struct {
	TaskID       string             `json:"task_id"`
	AssignmentID string             `json:"assignment_id"`
	AgentID      string             `json:"agent_id"`
	TimeoutType  models.TimeoutType `json:"timeout_type"`
}

// TaskReassignedPayload accompanies task.reassigned.
type TaskReassignedPayload struct {
	TaskID               string `json:"task_id"`
	PreviousAssignmentID string `json:"previous_assignment_id"`
	NewAssignmentID      string `json:"new_assignment_id,omitempty"`
	NewAgentID           string `json:"new_agent_id,omitempty"`
	AttemptNumber        int    `json:"attempt_number"`
}

// QueuePayload accompanies task.queue_full and task.queue_cleared.
type QueuePayload struct {
	TaskID  string `json:"task_id,omitempty"`
	Depth   int    `json:"depth,omitempty"`
	Removed int    `json:"removed,omitempty"`
}

// AgentPayload accompanies agent.registered and agent.unregistered.
type AgentPayload struct {
	AgentID     string `json:"agent_id"`
	ModelFamily string `json:"model_family,omitempty"`
}

// AgentLoadPayload accompanies agent.load_changed.
type AgentLoadPayload struct {
	AgentID            string  `json:"agent_id"`
	ActiveTasks        int     `json:"active_tasks"`
	QueuedTasks        int     `json:"queued_tasks"`
	UtilizationPercent float64 `json:"utilization_percent"`
}

// SecurityPayload accompanies security.* events.
type SecurityPayload struct {
	Identity     string `json:"identity,omitempty"`
	Tenant       string `json:"tenant,omitempty"`
	Operation    string `json:"operation"`
	TargetID     string `json:"target_id,omitempty"`
	Reason       string `json:"reason,omitempty"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`

	// Fingerprint is the stable hash of the request payload, recorded
	// on audit entries for allowed mutating operations.
	Fingerprint string `json:"fingerprint,omitempty"`

	// CrossTenant marks operations performed under cross_tenant_admin.
	CrossTenant bool `json:"cross_tenant,omitempty"`
}

// SystemPayload accompanies system.* events.
type SystemPayload struct {
	Component string `json:"component"`
	Detail    string `json:"detail,omitempty"`
	Dropped   int64  `json:"dropped,omitempty"`
}

// VerdictPayload accompanies caws.verdict.
type VerdictPayload struct {
	AssignmentID string          `json:"assignment_id"`
	SpecID       string          `json:"spec_id"`
	Decision     models.Decision `json:"decision"`
	QualityScore float64         `json:"quality_score"`
	Reasons      []string        `json:"reasons,omitempty"`
}
