package api

import (
	"time"

	"github.com/codeready-toolchain/arbiter/pkg/apperr"
	"github.com/codeready-toolchain/arbiter/pkg/models"
)

// TaskRequest is the POST /api/v1/tasks body.
type TaskRequest struct {
	ID          string              `json:"id"`
	Description string              `json:"description"`
	Type        string              `json:"type"`
	Priority    string              `json:"priority"`
	TimeoutMs   int64               `json:"timeout_ms"`
	MaxAttempts int                 `json:"max_attempts"`
	Budget      models.Budget       `json:"budget"`
	Required    models.Capabilities `json:"required_capabilities"`
	Metadata    map[string]string   `json:"metadata,omitempty"`
}

func (r *TaskRequest) toTask(submittedBy string) (*models.Task, error) {
	priority, err := models.ParsePriority(r.Priority)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err, "task %q", r.ID)
	}
	return &models.Task{
		ID:          r.ID,
		Description: r.Description,
		Type:        r.Type,
		Priority:    priority,
		TimeoutMs:   r.TimeoutMs,
		MaxAttempts: r.MaxAttempts,
		Budget:      r.Budget,
		Required:    r.Required,
		Metadata:    r.Metadata,
		CreatedAt:   time.Now(),
		SubmittedBy: submittedBy,
	}, nil
}

// RegisterAgentRequest is the POST /api/v1/agents body.
type RegisterAgentRequest struct {
	Agent      *models.Agent `json:"agent"`
	Idempotent bool          `json:"idempotent,omitempty"`
}

// AckRequest is the assignment acknowledgment body.
type AckRequest struct {
	AgentID     string `json:"agent_id"`
	ExtensionMs int64  `json:"extension_ms,omitempty"`
}

// ProgressRequest is the progress report body.
type ProgressRequest struct {
	AgentID  string  `json:"agent_id"`
	Progress float64 `json:"progress"`
}

// SubmitArtifactsRequest carries the artifact metrics for verification.
type SubmitArtifactsRequest struct {
	AgentID string                  `json:"agent_id"`
	Spec    *models.WorkingSpec     `json:"spec"`
	Metrics *models.ArtifactMetrics `json:"metrics"`
	Waiver  *models.Waiver          `json:"waiver,omitempty"`
}

// CommandRequest is the POST /api/v1/command body. Priority narrows
// clear-queue to one class; empty clears everything.
type CommandRequest struct {
	Action       string `json:"action"`
	AssignmentID string `json:"assignment_id,omitempty"`
	Priority     string `json:"priority,omitempty"`
}
