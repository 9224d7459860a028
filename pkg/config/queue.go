package config

import "time"

// QueueConfig controls the bounded priority queue and its admission rules.
type QueueConfig struct {
	// Capacity is the global queue ceiling across all priority classes.
	Capacity int `yaml:"capacity"`

	// MaxDescriptionLen bounds task description length at admission.
	MaxDescriptionLen int `yaml:"max_description_len"`

	// MaxMetadataBytes bounds the serialized metadata size at admission.
	MaxMetadataBytes int `yaml:"max_metadata_bytes"`

	// AllowedTaskTypes is the default allowed set for task types.
	AllowedTaskTypes []string `yaml:"allowed_task_types"`

	// TenantTaskTypes optionally narrows the allowed set per tenant.
	TenantTaskTypes map[string][]string `yaml:"tenant_task_types"`

	// StarvationThreshold is how long a task may wait before the
	// dequeue-time priority bump applies.
	StarvationThreshold time.Duration `yaml:"starvation_threshold"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		Capacity:            1000,
		MaxDescriptionLen:   10000,
		MaxMetadataBytes:    16384,
		AllowedTaskTypes:    []string{"file_editing", "code_review", "analysis", "testing", "documentation"},
		StarvationThreshold: 2 * time.Minute,
	}
}

// AllowedTypesFor returns the allowed task-type set for a tenant,
// falling back to the global set when no tenant override exists.
func (q *QueueConfig) AllowedTypesFor(tenant string) []string {
	if types, ok := q.TenantTaskTypes[tenant]; ok {
		return types
	}
	return q.AllowedTaskTypes
}
