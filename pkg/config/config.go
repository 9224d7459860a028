// Package config loads, merges, validates, and serves the Arbiter
// configuration. A single Config object is built at startup and is
// immutable for the process lifetime except for the documented
// hot-reload set (rate limits and deadlines), which is served through
// an atomic snapshot.
package config

import (
	"sync/atomic"
	"time"
)

// Config is the umbrella configuration object returned by Initialize()
// and handed to every component at construction.
type Config struct {
	configDir string

	Queue        *QueueConfig
	Orchestrator *OrchestratorConfig
	Store        *StoreConfig
	Security     *SecurityConfig
	Events       *EventsConfig
	Verdict      *VerdictConfig

	// reloadable holds the hot-reload set. Readers take a snapshot per
	// operation; Reload swaps the pointer atomically.
	reloadable atomic.Pointer[Reloadable]
}

// Reloadable is the documented hot-reload set: changes take effect on
// the next operation, everything else requires a restart.
type Reloadable struct {
	// RateLimit overrides SecurityConfig.RateLimit.
	RateLimit RateLimitConfig

	// PerOpRateLimits overrides SecurityConfig.PerOpRateLimits.
	PerOpRateLimits map[string]RateLimitConfig

	// AckWindow and ProgressIdle override the orchestrator deadlines.
	AckWindow    time.Duration
	ProgressIdle time.Duration
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Snapshot returns the current hot-reload set.
func (c *Config) Snapshot() *Reloadable {
	return c.reloadable.Load()
}

// Reload replaces the hot-reload set. The new values apply to the next
// operation; in-flight operations keep the snapshot they started with.
func (c *Config) Reload(r *Reloadable) {
	c.reloadable.Store(r)
}

// reloadableFrom builds the initial hot-reload set from the static config.
func reloadableFrom(cfg *Config) *Reloadable {
	perOp := make(map[string]RateLimitConfig, len(cfg.Security.PerOpRateLimits))
	for op, rl := range cfg.Security.PerOpRateLimits {
		perOp[op] = rl
	}
	return &Reloadable{
		RateLimit:       cfg.Security.RateLimit,
		PerOpRateLimits: perOp,
		AckWindow:       cfg.Orchestrator.AckWindow,
		ProgressIdle:    cfg.Orchestrator.ProgressIdle,
	}
}
