// Package models defines the core Arbiter entities: agents, tasks,
// assignments, working specs, and verdicts. These are plain value types;
// ownership and mutation rules live in the components that manage them.
package models

import (
	"strings"
	"time"
)

// SpecializationLevel grades an agent's proficiency in one task type.
type SpecializationLevel string

// Specialization levels, weakest to strongest.
const (
	LevelNovice       SpecializationLevel = "novice"
	LevelIntermediate SpecializationLevel = "intermediate"
	LevelExpert       SpecializationLevel = "expert"
	LevelMaster       SpecializationLevel = "master"
)

// Specialization is one per-task-type proficiency record.
type Specialization struct {
	Type           string              `json:"type"`
	Level          SpecializationLevel `json:"level"`
	SuccessRate    float64             `json:"success_rate"`
	TaskCount      int                 `json:"task_count"`
	AverageQuality float64             `json:"average_quality"`
}

// Capabilities describes what kinds of work an agent (or a task's
// requirements) covers.
type Capabilities struct {
	TaskTypes       []string         `json:"task_types"`
	Languages       []string         `json:"languages,omitempty"`
	Specializations []Specialization `json:"specializations,omitempty"`
}

// HasTaskType reports whether the capability set covers the task type.
func (c Capabilities) HasTaskType(taskType string) bool {
	for _, t := range c.TaskTypes {
		if t == taskType {
			return true
		}
	}
	return false
}

// PerformanceHistory holds rolling performance means for an agent.
// Means are maintained incrementally (see registry.UpdatePerformance);
// TaskCount is monotonically non-decreasing.
type PerformanceHistory struct {
	SuccessRate      float64 `json:"success_rate"`
	AverageQuality   float64 `json:"average_quality"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
	TaskCount        int     `json:"task_count"`
}

// CurrentLoad holds the agent's live load counters.
// UtilizationPercent is derived from ActiveTasks and the agent's
// MaxConcurrent and must be recomputed on every load mutation.
type CurrentLoad struct {
	ActiveTasks        int     `json:"active_tasks"`
	QueuedTasks        int     `json:"queued_tasks"`
	UtilizationPercent float64 `json:"utilization_percent"`
}

// Agent is one execution agent in the registry. The registry owns the
// authoritative record; every other component works on snapshots.
type Agent struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	ModelFamily   string             `json:"model_family"`
	MaxConcurrent int                `json:"max_concurrent"`
	Capabilities  Capabilities       `json:"capabilities"`
	Performance   PerformanceHistory `json:"performance_history"`
	Load          CurrentLoad        `json:"current_load"`
	RegisteredAt  time.Time          `json:"registered_at"`
	LastActiveAt  time.Time          `json:"last_active_at"`

	// LastAssignedAt feeds the router's recency bonus; zero means never.
	LastAssignedAt time.Time `json:"last_assigned_at,omitempty"`
}

// Utilization returns the derived utilization percentage for the given
// active-task count, clamped to [0,100].
func (a *Agent) Utilization(activeTasks int) float64 {
	maxConcurrent := a.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	pct := 100 * float64(activeTasks) / float64(maxConcurrent)
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}

// TenantOf extracts the tenant prefix from a multi-tenant entity ID of
// the form "<tenant>:<local>". IDs without a prefix belong to the
// default tenant "".
func TenantOf(id string) string {
	if i := strings.IndexByte(id, ':'); i > 0 {
		return id[:i]
	}
	return ""
}

// PerformanceSample is one observation fed into the running means.
type PerformanceSample struct {
	Success      bool    `json:"success"`
	QualityScore float64 `json:"quality_score"`
	LatencyMs    float64 `json:"latency_ms"`
}

// RegistryStats summarizes the registry for the status surface.
type RegistryStats struct {
	TotalAgents        int       `json:"total_agents"`
	TotalTasks         int       `json:"total_tasks"`
	AverageSuccessRate float64   `json:"average_success_rate"`
	AverageUtilization float64   `json:"average_utilization"`
	LastUpdated        time.Time `json:"last_updated"`
}
