// Package verdict turns measured artifact metrics and a working spec
// into a pass/fail/waiver decision. Every gate outcome, weight, and
// input value appears in the result; there are no hidden heuristics.
package verdict

import (
	"fmt"
	"sort"
	"time"

	"github.com/codeready-toolchain/arbiter/pkg/apperr"
	"github.com/codeready-toolchain/arbiter/pkg/config"
	"github.com/codeready-toolchain/arbiter/pkg/models"
)

// Gate names.
const (
	GateCoverage      = "coverage"
	GateBudget        = "budget"
	GateAcceptance    = "acceptance"
	GateNonFunctional = "non_functional"
	GateStaticChecks  = "static_checks"
)

// coverageThresholds maps risk tier to the minimum line coverage.
var coverageThresholds = map[int]float64{
	1: 0.90,
	2: 0.80,
	3: 0.70,
}

// gateWeights are the fixed per-tier weight vectors; each sums to 1.
var gateWeights = map[int]map[string]float64{
	1: {GateCoverage: 0.35, GateAcceptance: 0.35, GateBudget: 0.15, GateNonFunctional: 0.10, GateStaticChecks: 0.05},
	2: {GateCoverage: 0.30, GateAcceptance: 0.35, GateBudget: 0.15, GateNonFunctional: 0.10, GateStaticChecks: 0.10},
	3: {GateCoverage: 0.25, GateAcceptance: 0.35, GateBudget: 0.20, GateNonFunctional: 0.10, GateStaticChecks: 0.10},
}

// criticalGates cannot be waived.
var criticalGates = map[string]bool{
	GateCoverage:   true,
	GateAcceptance: true,
}

// Generator produces verdicts. It is pure apart from the clock.
type Generator struct {
	cfg *config.VerdictConfig
}

// NewGenerator creates a verdict generator.
func NewGenerator(cfg *config.VerdictConfig) *Generator {
	return &Generator{cfg: cfg}
}

// Generate evaluates metrics against the spec. A waiver, when valid,
// converts failures of non-critical gates it covers into a waiver
// decision; critical gate failures always fail.
func (g *Generator) Generate(spec *models.WorkingSpec, metrics *models.ArtifactMetrics, waiver *models.Waiver) (*models.Verdict, error) {
	if spec == nil {
		return nil, apperr.New(apperr.KindValidation, "working spec is required")
	}
	if metrics == nil {
		return nil, apperr.New(apperr.KindUnavailable, "artifact metrics missing for spec %q", spec.ID)
	}
	threshold, ok := coverageThresholds[spec.RiskTier]
	if !ok {
		return nil, apperr.New(apperr.KindValidation,
			"spec %q: risk tier %d not in {1,2,3}", spec.ID, spec.RiskTier)
	}
	weights := gateWeights[spec.RiskTier]

	gates := []models.GateResult{
		g.coverageGate(metrics, threshold, weights[GateCoverage]),
		g.budgetGate(metrics, weights[GateBudget]),
		g.acceptanceGate(spec, metrics, weights[GateAcceptance]),
		g.nonFunctionalGate(spec, metrics, weights[GateNonFunctional]),
		g.staticChecksGate(metrics, weights[GateStaticChecks]),
	}

	var quality float64
	var reasons []string
	criticalFailed := false
	nonCriticalFailed := false
	for _, gate := range gates {
		quality += gate.Weight * gate.Contribution
		if gate.Pass {
			continue
		}
		if gate.Critical {
			criticalFailed = true
		} else {
			nonCriticalFailed = true
		}
		reasons = append(reasons, failureReason(gate, spec.RiskTier))
	}

	v := &models.Verdict{
		QualityScore: quality,
		GateResults:  gates,
		Reasons:      reasons,
		ProducedBy:   "arbiter.verdict",
		ProducedAt:   time.Now(),
	}

	switch {
	case !criticalFailed && !nonCriticalFailed:
		v.Decision = models.DecisionPass
	case !criticalFailed && waiverApplies(waiver, gates):
		v.Decision = models.DecisionWaiver
		v.WaiverReason = waiver.Reason
	default:
		v.Decision = models.DecisionFail
	}
	return v, nil
}

// waiverApplies reports whether the waiver is signed, unexpired, and
// covers every failing gate.
func waiverApplies(w *models.Waiver, gates []models.GateResult) bool {
	if w == nil || w.SignedBy == "" || w.Signature == "" {
		return false
	}
	if !w.ExpiresAt.After(time.Now()) {
		return false
	}
	for _, gate := range gates {
		if !gate.Pass && !w.Covers(gate.Gate) {
			return false
		}
	}
	return true
}

func (g *Generator) coverageGate(m *models.ArtifactMetrics, threshold, weight float64) models.GateResult {
	inputs := map[string]float64{
		"coverage":  m.Coverage,
		"threshold": threshold,
	}
	if m.MutationScore != nil {
		inputs["mutation_score"] = *m.MutationScore
	}
	return models.GateResult{
		Gate:         GateCoverage,
		Pass:         m.Coverage >= threshold,
		Critical:     criticalGates[GateCoverage],
		Contribution: clamp01(m.Coverage / threshold),
		Weight:       weight,
		Inputs:       inputs,
	}
}

func (g *Generator) budgetGate(m *models.ArtifactMetrics, weight float64) models.GateResult {
	worst := m.BudgetUsage.Files
	if m.BudgetUsage.LOC > worst {
		worst = m.BudgetUsage.LOC
	}
	return models.GateResult{
		Gate:     GateBudget,
		Pass:     m.BudgetUsage.Files <= 1.0 && m.BudgetUsage.LOC <= 1.0,
		Critical: criticalGates[GateBudget],
		// Full credit at or under the ceiling, linear penalty past it.
		Contribution: clamp01(2 - worst),
		Weight:       weight,
		Inputs: map[string]float64{
			"files_usage": m.BudgetUsage.Files,
			"loc_usage":   m.BudgetUsage.LOC,
		},
	}
}

func (g *Generator) acceptanceGate(spec *models.WorkingSpec, m *models.ArtifactMetrics, weight float64) models.GateResult {
	total := len(spec.Acceptance)
	passed := 0
	for _, criterion := range spec.Acceptance {
		if m.Acceptance[criterion.ID] {
			passed++
		}
	}
	contribution := 1.0
	if total > 0 {
		contribution = float64(passed) / float64(total)
	}
	return models.GateResult{
		Gate:         GateAcceptance,
		Pass:         passed == total,
		Critical:     criticalGates[GateAcceptance],
		Contribution: contribution,
		Weight:       weight,
		Inputs: map[string]float64{
			"passed": float64(passed),
			"total":  float64(total),
		},
	}
}

// nonFunctionalGate checks measured values against the spec's declared
// upper bounds. Unmeasured targets never fail the gate; when targets
// exist but nothing was measured, the configured fallback score stands
// in as the contribution.
func (g *Generator) nonFunctionalGate(spec *models.WorkingSpec, m *models.ArtifactMetrics, weight float64) models.GateResult {
	inputs := map[string]float64{}
	measured, within := 0, 0
	for _, name := range sortedKeys(spec.NonFunctional) {
		target := spec.NonFunctional[name]
		value, ok := m.NonFunctional[name]
		if !ok {
			continue
		}
		measured++
		inputs[name] = value
		inputs[name+"_target"] = target
		if value <= target {
			within++
		}
	}

	contribution := 1.0
	switch {
	case len(spec.NonFunctional) == 0:
		// No targets declared.
	case measured == 0:
		contribution = g.cfg.FallbackScore
	default:
		contribution = float64(within) / float64(measured)
	}
	return models.GateResult{
		Gate:         GateNonFunctional,
		Pass:         within == measured,
		Critical:     criticalGates[GateNonFunctional],
		Contribution: contribution,
		Weight:       weight,
		Inputs:       inputs,
	}
}

func (g *Generator) staticChecksGate(m *models.ArtifactMetrics, weight float64) models.GateResult {
	contribution := 0.0
	if m.LintPass {
		contribution += 0.5
	}
	if m.TypecheckPass {
		contribution += 0.5
	}
	return models.GateResult{
		Gate:         GateStaticChecks,
		Pass:         m.LintPass && m.TypecheckPass,
		Critical:     criticalGates[GateStaticChecks],
		Contribution: contribution,
		Weight:       weight,
		Inputs: map[string]float64{
			"lint_pass":      boolInput(m.LintPass),
			"typecheck_pass": boolInput(m.TypecheckPass),
		},
	}
}

func failureReason(gate models.GateResult, tier int) string {
	switch gate.Gate {
	case GateCoverage:
		return fmt.Sprintf("coverage %.2f below tier-%d threshold %.2f",
			gate.Inputs["coverage"], tier, gate.Inputs["threshold"])
	case GateBudget:
		return fmt.Sprintf("budget exceeded: files %.2f, loc %.2f of ceiling",
			gate.Inputs["files_usage"], gate.Inputs["loc_usage"])
	case GateAcceptance:
		return fmt.Sprintf("acceptance criteria failed: %d of %d passed",
			int(gate.Inputs["passed"]), int(gate.Inputs["total"]))
	case GateNonFunctional:
		return "non-functional targets out of bounds"
	case GateStaticChecks:
		return "lint or typecheck failed"
	default:
		return gate.Gate + " gate failed"
	}
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func boolInput(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
