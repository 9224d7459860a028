// Package events provides the in-process event bus used by every
// Arbiter component, plus the optional JSON-Lines file sink.
//
// Event types form a closed registry of dotted names grouped into four
// topic families, each owned by exactly one component:
//
//	task.*     — task orchestrator (C5) and queue (C4)
//	agent.*    — agent registry (C2)
//	security.* — security gate (C3)
//	system.*   — resilient store (C1) and bus itself
//	caws.*     — verdict generator (C7)
//
// Subscribers receive events in publish order per topic; cross-topic
// order is not guaranteed. A slow subscriber never blocks a publisher:
// its bounded buffer drops the oldest event and counts the drop.
package events

import (
	"strings"
	"time"
)

// Task lifecycle events (topic "task").
const (
	TypeTaskSubmitted    = "task.submitted"
	TypeTaskAssigned     = "task.assigned"
	TypeTaskAcknowledged = "task.acknowledged"
	TypeTaskProgress     = "task.progress"
	TypeTaskCompleted    = "task.completed"
	TypeTaskFailed       = "task.failed"
	TypeTaskTimeout      = "task.timeout"
	TypeTaskReassigned   = "task.reassigned"
	TypeTaskCancelled    = "task.cancelled"
	TypeTaskQueueFull    = "task.queue_full"
	TypeTaskQueueCleared = "task.queue_cleared"
)

// Agent registry events (topic "agent").
const (
	TypeAgentRegistered   = "agent.registered"
	TypeAgentUnregistered = "agent.unregistered"
	TypeAgentLoadChanged  = "agent.load_changed"
	TypeAgentUpdateFailed = "agent.update_failed"
)

// Security gate events (topic "security").
const (
	TypeSecurityRateLimitExceeded = "security.rate_limit_exceeded"
	TypeSecurityAuthnFailed       = "security.authn_failed"
	TypeSecurityAuthzFailed       = "security.authz_failed"
	TypeSecurityAudit             = "security.audit"
)

// System events (topic "system").
const (
	TypeSystemDegraded      = "system.degraded"
	TypeSystemRecovered     = "system.recovered"
	TypeSystemEventsDropped = "system.events_dropped"
	TypeSystemResourceAlert = "system.resource_alert"
	TypeSystemAudit         = "system.audit"
)

// Verdict events (topic "caws").
const (
	TypeVerdictProduced = "caws.verdict"
	TypeWaiverApplied   = "caws.waiver_applied"
)

// Severity levels carried on events.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Event is one bus message. Payload is a typed struct from payloads.go;
// publishers never emit untyped maps.
type Event struct {
	// Seq is the bus-assigned per-topic sequence number, used by the
	// /events polling surface for catchup.
	Seq int64 `json:"seq,omitempty"`

	Type          string    `json:"type"`
	Timestamp     time.Time `json:"ts"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Severity      string    `json:"severity"`
	Payload       any       `json:"payload,omitempty"`
}

// TopicOf returns the topic family for a dotted event type
// ("task.assigned" → "task").
func TopicOf(eventType string) string {
	if i := strings.IndexByte(eventType, '.'); i > 0 {
		return eventType[:i]
	}
	return eventType
}

// Topics lists all topic families in the closed registry.
func Topics() []string {
	return []string{"task", "agent", "security", "system", "caws"}
}
