package models

import "time"

// Decision is the final outcome of verdict generation.
type Decision string

// Verdict decisions.
const (
	DecisionPass   Decision = "pass"
	DecisionFail   Decision = "fail"
	DecisionWaiver Decision = "waiver"
)

// GateResult is the outcome of one quality gate with the input values
// it was judged on. No hidden heuristics: everything that influenced
// the decision appears here.
type GateResult struct {
	Gate         string             `json:"gate"`
	Pass         bool               `json:"pass"`
	Critical     bool               `json:"critical"`
	Contribution float64            `json:"contribution"`
	Weight       float64            `json:"weight"`
	Inputs       map[string]float64 `json:"inputs,omitempty"`
}

// Verdict is the recorded decision for one assignment's artifacts
// against a working spec.
type Verdict struct {
	Decision     Decision     `json:"decision"`
	QualityScore float64      `json:"quality_score"`
	GateResults  []GateResult `json:"gate_results"`
	Reasons      []string     `json:"reasons,omitempty"`
	ProducedBy   string       `json:"produced_by"`
	ProducedAt   time.Time    `json:"produced_at"`
	WaiverReason string       `json:"waiver_reason,omitempty"`
}
