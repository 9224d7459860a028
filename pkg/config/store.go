package config

import "time"

// BreakerConfig tunes the circuit breaker guarding the durable store.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// breaker.
	FailureThreshold int `yaml:"failure_threshold"`

	// FailureWindow is the counting window; the consecutive-failure
	// counter resets if the window elapses without a failure.
	FailureWindow time.Duration `yaml:"failure_window"`

	// Cooldown is how long the breaker stays open before admitting the
	// single half-open probe.
	Cooldown time.Duration `yaml:"cooldown"`
}

// RetryConfig tunes the exponential-backoff retrier for idempotent ops.
type RetryConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxAttempts int           `yaml:"max_attempts"`

	// Jitter enables ±25% randomization of each delay.
	Jitter bool `yaml:"jitter"`
}

// StoreConfig controls the resilient store wrapper (C1).
type StoreConfig struct {
	Breaker BreakerConfig `yaml:"breaker"`
	Retry   RetryConfig   `yaml:"retry"`

	// ShadowCapacity bounds the in-memory shadow (LRU by last write).
	ShadowCapacity int `yaml:"shadow_capacity"`

	// PendingWriteCapacity bounds the pending-write log accumulated
	// while the breaker is open; the oldest entry is dropped at the
	// ceiling.
	PendingWriteCapacity int `yaml:"pending_write_capacity"`

	// ProbeInterval is how often the health prober issues its
	// lightweight read against the durable layer.
	ProbeInterval time.Duration `yaml:"probe_interval"`

	// OpTimeout bounds every durable-store I/O.
	OpTimeout time.Duration `yaml:"op_timeout"`
}

// DefaultStoreConfig returns the built-in resilient store defaults.
func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			FailureWindow:    30 * time.Second,
			Cooldown:         10 * time.Second,
		},
		Retry: RetryConfig{
			BaseDelay:   100 * time.Millisecond,
			MaxDelay:    5 * time.Second,
			Multiplier:  2.0,
			MaxAttempts: 4,
			Jitter:      true,
		},
		ShadowCapacity:       10000,
		PendingWriteCapacity: 1000,
		ProbeInterval:        5 * time.Second,
		OpTimeout:            3 * time.Second,
	}
}
