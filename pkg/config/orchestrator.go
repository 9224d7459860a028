package config

import "time"

// OrchestratorConfig controls the assignment state machine, its three
// deadlines, and the dispatch loop.
type OrchestratorConfig struct {
	// DispatchInterval is the base interval between dispatch attempts
	// when the queue is empty or no agent is eligible.
	DispatchInterval time.Duration `yaml:"dispatch_interval"`

	// DispatchJitter is the random jitter added to DispatchInterval.
	// Actual interval: DispatchInterval ± DispatchJitter.
	DispatchJitter time.Duration `yaml:"dispatch_jitter"`

	// AckWindow is how long an agent has to acknowledge an assignment.
	AckWindow time.Duration `yaml:"ack_window"`

	// ProgressIdle is the maximum gap between progress reports before
	// the progress timeout fires.
	ProgressIdle time.Duration `yaml:"progress_idle"`

	// MaxExtension caps the exec-deadline extension an ack may request.
	MaxExtension time.Duration `yaml:"max_extension"`

	// RequeuePenalty delays re-admission of a task that found no
	// eligible agent.
	RequeuePenalty time.Duration `yaml:"requeue_penalty"`

	// OrphanScanInterval is how often finished-but-stuck assignments
	// (crash recovery) are swept.
	OrphanScanInterval time.Duration `yaml:"orphan_scan_interval"`

	// GracefulShutdownTimeout is the max time to wait for in-flight
	// assignments to settle during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// DefaultOrchestratorConfig returns the built-in orchestrator defaults.
func DefaultOrchestratorConfig() *OrchestratorConfig {
	return &OrchestratorConfig{
		DispatchInterval:        250 * time.Millisecond,
		DispatchJitter:          100 * time.Millisecond,
		AckWindow:               5 * time.Second,
		ProgressIdle:            60 * time.Second,
		MaxExtension:            5 * time.Minute,
		RequeuePenalty:          2 * time.Second,
		OrphanScanInterval:      1 * time.Minute,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}
