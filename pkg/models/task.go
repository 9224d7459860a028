package models

import (
	"fmt"
	"time"
)

// Priority is the task priority class. Higher ordinal dequeues first.
type Priority int

// Priority classes, ordinal 1–4.
const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

// Valid reports whether p is one of the four defined classes.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// Bump returns the next class up, capped at critical. Used by the
// starvation guard at dequeue time; never mutates the stored priority.
func (p Priority) Bump() Priority {
	if p >= PriorityCritical {
		return PriorityCritical
	}
	return p + 1
}

// String returns the lowercase class name.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority converts a class name to its Priority.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}

// Budget bounds the size of the artifact an agent may produce.
// MaxTokens is optional; zero means unbounded.
type Budget struct {
	MaxFiles  int `json:"max_files"`
	MaxLOC    int `json:"max_loc"`
	MaxTokens int `json:"max_tokens,omitempty"`
}

// Task is one unit of work submitted to the orchestrator. Immutable
// after creation except for Attempts, which only the orchestrator
// increments.
type Task struct {
	ID          string            `json:"id"`
	Description string            `json:"description"`
	Type        string            `json:"type"`
	Priority    Priority          `json:"priority"`
	TimeoutMs   int64             `json:"timeout_ms"`
	Budget      Budget            `json:"budget"`
	Required    Capabilities      `json:"required_capabilities"`
	CreatedAt   time.Time         `json:"created_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Attempts    int               `json:"attempts"`
	MaxAttempts int               `json:"max_attempts"`

	// EnqueuedAt is stamped by the queue on admission; wait time is
	// measured from it at dequeue.
	EnqueuedAt time.Time `json:"enqueued_at,omitempty"`

	// SubmittedBy records the authenticated identity for cancel authorization.
	SubmittedBy string `json:"submitted_by,omitempty"`
}

// Timeout returns the execution timeout as a duration.
func (t *Task) Timeout() time.Duration {
	return time.Duration(t.TimeoutMs) * time.Millisecond
}

// MetadataBytes returns the serialized size of the metadata map as
// counted by admission control (keys + values).
func (t *Task) MetadataBytes() int {
	n := 0
	for k, v := range t.Metadata {
		n += len(k) + len(v)
	}
	return n
}
