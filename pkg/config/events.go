package config

// SinkConfig controls the optional JSON-Lines event sink.
type SinkConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`

	// RotateMB rotates the current file once it exceeds this size.
	RotateMB int `yaml:"rotate_mb"`

	// RetentionDays removes rotated files older than this.
	RetentionDays int `yaml:"retention_days"`
}

// EventsConfig controls the in-process event bus (C8).
type EventsConfig struct {
	// BufferSize is the per-subscriber bounded buffer; oldest events
	// are dropped when full.
	BufferSize int `yaml:"buffer_size"`

	// RetainPerTopic is the per-topic ring kept for /events catchup.
	RetainPerTopic int `yaml:"retain_per_topic"`

	Sink SinkConfig `yaml:"sink"`
}

// DefaultEventsConfig returns the built-in event bus defaults.
func DefaultEventsConfig() *EventsConfig {
	return &EventsConfig{
		BufferSize:     1024,
		RetainPerTopic: 512,
		Sink: SinkConfig{
			Enabled:       false,
			Dir:           "./events",
			RotateMB:      64,
			RetentionDays: 14,
		},
	}
}
