package config

// RateLimitConfig is one token bucket: capacity tokens, refilled at
// RefillPerSec.
type RateLimitConfig struct {
	Capacity     int     `yaml:"capacity"`
	RefillPerSec float64 `yaml:"refill_per_sec"`
}

// SecurityConfig controls the security gate (C3).
type SecurityConfig struct {
	// RateLimit is the default per-identity bucket.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// PerOpRateLimits overrides the bucket per (identity, operation).
	PerOpRateLimits map[string]RateLimitConfig `yaml:"per_op_rate_limits"`
}

// DefaultSecurityConfig returns the built-in security defaults.
func DefaultSecurityConfig() *SecurityConfig {
	return &SecurityConfig{
		RateLimit: RateLimitConfig{Capacity: 100, RefillPerSec: 10},
		PerOpRateLimits: map[string]RateLimitConfig{
			"task.submit": {Capacity: 10, RefillPerSec: 1},
		},
	}
}
