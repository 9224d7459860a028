package models

import "time"

// AcceptanceCriterion is one given/when/then clause of a working spec.
type AcceptanceCriterion struct {
	ID    string `json:"id"`
	Given string `json:"given"`
	When  string `json:"when"`
	Then  string `json:"then"`
}

// SpecScope declares what is in and out of scope for a piece of work.
type SpecScope struct {
	In  []string `json:"in,omitempty"`
	Out []string `json:"out,omitempty"`
}

// WorkingSpec is the declarative quality contract for one piece of
// work: scope, invariants, acceptance criteria, non-functional targets,
// and a risk tier that selects the verdict gate thresholds.
type WorkingSpec struct {
	ID           string                `json:"id" yaml:"id"`
	RiskTier     int                   `json:"risk_tier" yaml:"risk_tier"`
	Mode         string                `json:"mode" yaml:"mode"`
	BlastRadius  string                `json:"blast_radius,omitempty" yaml:"blast_radius"`
	Scope        SpecScope             `json:"scope" yaml:"scope"`
	Invariants   []string              `json:"invariants,omitempty" yaml:"invariants"`
	Acceptance   []AcceptanceCriterion `json:"acceptance" yaml:"acceptance"`
	NonFunctional map[string]float64   `json:"non_functional,omitempty" yaml:"non_functional"`
	Contracts    []string              `json:"contracts,omitempty" yaml:"contracts"`
}

// Waiver is a signed, time-bounded exemption for non-critical gate
// failures.
type Waiver struct {
	Reason    string    `json:"reason"`
	SignedBy  string    `json:"signed_by"`
	Signature string    `json:"signature"`
	ExpiresAt time.Time `json:"expires_at"`

	// Gates lists the gate names the waiver covers; empty covers all
	// non-critical gates.
	Gates []string `json:"gates,omitempty"`
}

// Covers reports whether the waiver applies to the named gate.
func (w *Waiver) Covers(gate string) bool {
	if len(w.Gates) == 0 {
		return true
	}
	for _, g := range w.Gates {
		if g == gate {
			return true
		}
	}
	return false
}

// BudgetUsage expresses artifact size as a fraction of the task budget
// ceiling; 1.0 is exactly at the ceiling.
type BudgetUsage struct {
	Files  float64 `json:"files"`
	LOC    float64 `json:"loc"`
	Tokens float64 `json:"tokens,omitempty"`
}

// ArtifactMetrics are the measured properties of a submitted artifact,
// the input to verdict generation.
type ArtifactMetrics struct {
	Coverage      float64         `json:"coverage"`
	MutationScore *float64        `json:"mutation_score,omitempty"`
	LintPass      bool            `json:"lint_pass"`
	TypecheckPass bool            `json:"typecheck_pass"`
	BudgetUsage   BudgetUsage     `json:"budget_usage"`
	Acceptance    map[string]bool `json:"acceptance,omitempty"`

	// NonFunctional holds measured values keyed like the spec's targets
	// (e.g. "p95_latency_ms"). Absent keys are treated as unmeasured.
	NonFunctional map[string]float64 `json:"non_functional,omitempty"`
}
