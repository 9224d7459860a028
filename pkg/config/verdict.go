package config

// VerdictConfig controls verdict generation (C7).
type VerdictConfig struct {
	// FallbackScore is the quality score recorded when a gate input is
	// unmeasurable and the operator opts into a fixed fallback instead
	// of failing the gate. See DESIGN.md (Open Questions).
	FallbackScore float64 `yaml:"fallback_score"`
}

// DefaultVerdictConfig returns the built-in verdict defaults.
func DefaultVerdictConfig() *VerdictConfig {
	return &VerdictConfig{FallbackScore: 0.5}
}
