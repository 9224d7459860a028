package api

import (
	"github.com/codeready-toolchain/arbiter/pkg/events"
	"github.com/codeready-toolchain/arbiter/pkg/models"
	"github.com/codeready-toolchain/arbiter/pkg/orchestrator"
	"github.com/codeready-toolchain/arbiter/pkg/registry"
	"github.com/codeready-toolchain/arbiter/pkg/store"
)

// StatusResponse is the GET /status body.
type StatusResponse struct {
	Status        string              `json:"status"`
	Version       string              `json:"version"`
	UptimeSeconds float64             `json:"uptime_seconds"`
	Store         store.Health        `json:"store"`
	Orchestrator  orchestrator.Health `json:"orchestrator"`
	Database      string              `json:"database,omitempty"`
}

// MetricsResponse is the GET /metrics body.
type MetricsResponse struct {
	QueueDepth          int                   `json:"queue_depth"`
	QueueDepthByClass   map[string]int        `json:"queue_depth_by_class"`
	Assignments         map[string]int        `json:"assignments_by_state"`
	Registry            *models.RegistryStats `json:"registry"`
	RegistrySourcedFrom string                `json:"registry_sourced_from"`
	EventsDropped       int64                 `json:"events_dropped"`
	Store               store.Health          `json:"store"`
}

// ProgressResponse is the GET /progress body.
type ProgressResponse struct {
	ByState     map[string]int      `json:"assignments_by_state"`
	Assignments []models.Assignment `json:"assignments"`
}

// EventsResponse is the GET /events body. NextSince feeds the caller's
// next poll; Overflow warns that events were evicted before the since
// mark was reached.
type EventsResponse struct {
	Topic     string         `json:"topic"`
	Events    []events.Event `json:"events"`
	NextSince int64          `json:"next_since"`
	Overflow  bool           `json:"overflow"`
}

// TaskAccepted is the POST /api/v1/tasks body.
type TaskAccepted struct {
	TaskID     string `json:"task_id"`
	QueueDepth int    `json:"queue_depth"`
}

// AgentResponse wraps an agent snapshot with read provenance.
type AgentResponse struct {
	Agent       *models.Agent `json:"agent"`
	SourcedFrom string        `json:"sourced_from,omitempty"`
}

// QueryResponse is the GET /api/v1/agents body.
type QueryResponse struct {
	Matches     []registry.Match `json:"matches"`
	SourcedFrom string           `json:"sourced_from"`
}
