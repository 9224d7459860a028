package verdict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/arbiter/pkg/apperr"
	"github.com/codeready-toolchain/arbiter/pkg/config"
	"github.com/codeready-toolchain/arbiter/pkg/models"
)

func newGenerator() *Generator {
	return NewGenerator(config.DefaultVerdictConfig())
}

func tierSpec(tier int) *models.WorkingSpec {
	return &models.WorkingSpec{
		ID:       "spec-1",
		RiskTier: tier,
		Mode:     "feature",
		Acceptance: []models.AcceptanceCriterion{
			{ID: "A1", Given: "a repo", When: "the change lands", Then: "tests pass"},
			{ID: "A2", Given: "a repo", When: "the change lands", Then: "lint passes"},
		},
	}
}

func passingMetrics() *models.ArtifactMetrics {
	return &models.ArtifactMetrics{
		Coverage:      0.95,
		LintPass:      true,
		TypecheckPass: true,
		BudgetUsage:   models.BudgetUsage{Files: 0.5, LOC: 0.6},
		Acceptance:    map[string]bool{"A1": true, "A2": true},
	}
}

func gateByName(t *testing.T, v *models.Verdict, name string) models.GateResult {
	t.Helper()
	for _, gate := range v.GateResults {
		if gate.Gate == name {
			return gate
		}
	}
	t.Fatalf("gate %q not in results", name)
	return models.GateResult{}
}

func TestGenerateAllGatesPass(t *testing.T) {
	v, err := newGenerator().Generate(tierSpec(1), passingMetrics(), nil)
	require.NoError(t, err)

	assert.Equal(t, models.DecisionPass, v.Decision)
	assert.Empty(t, v.Reasons)
	assert.Len(t, v.GateResults, 5)
	for _, gate := range v.GateResults {
		assert.True(t, gate.Pass, "gate %s", gate.Gate)
	}
	assert.InDelta(t, 1.0, v.QualityScore, 1e-6)
}

func TestGenerateTier1CoverageShortfall(t *testing.T) {
	metrics := passingMetrics()
	metrics.Coverage = 0.85

	v, err := newGenerator().Generate(tierSpec(1), metrics, nil)
	require.NoError(t, err)

	assert.Equal(t, models.DecisionFail, v.Decision)

	coverage := gateByName(t, v, GateCoverage)
	assert.False(t, coverage.Pass)
	assert.True(t, coverage.Critical)
	assert.InDelta(t, 0.85, coverage.Inputs["coverage"], 1e-9)
	assert.InDelta(t, 0.90, coverage.Inputs["threshold"], 1e-9)

	budget := gateByName(t, v, GateBudget)
	assert.True(t, budget.Pass)

	// 0.35·(0.85/0.90) + 0.35 + 0.15 + 0.10 + 0.05
	assert.InDelta(t, 0.980556, v.QualityScore, 1e-4)

	require.Len(t, v.Reasons, 1)
	assert.Contains(t, v.Reasons[0], "coverage 0.85 below tier-1 threshold 0.90")
}

func TestGenerateCoverageThresholdPerTier(t *testing.T) {
	metrics := passingMetrics()
	metrics.Coverage = 0.75

	tests := []struct {
		tier int
		pass bool
	}{
		{tier: 1, pass: false},
		{tier: 2, pass: false},
		{tier: 3, pass: true},
	}
	for _, tt := range tests {
		v, err := newGenerator().Generate(tierSpec(tt.tier), metrics, nil)
		require.NoError(t, err)
		assert.Equal(t, tt.pass, gateByName(t, v, GateCoverage).Pass, "tier %d", tt.tier)
	}
}

func TestGenerateBudgetOverrun(t *testing.T) {
	metrics := passingMetrics()
	metrics.BudgetUsage = models.BudgetUsage{Files: 0.4, LOC: 1.3}

	v, err := newGenerator().Generate(tierSpec(2), metrics, nil)
	require.NoError(t, err)

	assert.Equal(t, models.DecisionFail, v.Decision)
	budget := gateByName(t, v, GateBudget)
	assert.False(t, budget.Pass)
	assert.False(t, budget.Critical)
	assert.InDelta(t, 0.7, budget.Contribution, 1e-9)
}

func TestGenerateAcceptanceFailure(t *testing.T) {
	metrics := passingMetrics()
	metrics.Acceptance["A2"] = false

	v, err := newGenerator().Generate(tierSpec(2), metrics, nil)
	require.NoError(t, err)

	assert.Equal(t, models.DecisionFail, v.Decision)
	acceptance := gateByName(t, v, GateAcceptance)
	assert.False(t, acceptance.Pass)
	assert.True(t, acceptance.Critical)
	assert.InDelta(t, 0.5, acceptance.Contribution, 1e-9)
	assert.Contains(t, v.Reasons[0], "1 of 2 passed")
}

func TestGenerateWaiverCoversNonCriticalFailure(t *testing.T) {
	metrics := passingMetrics()
	metrics.BudgetUsage.LOC = 1.2

	waiver := &models.Waiver{
		Reason:    "one-off refactor exceeds the line budget",
		SignedBy:  "release-lead",
		Signature: "sig-123",
		ExpiresAt: time.Now().Add(24 * time.Hour),
		Gates:     []string{GateBudget},
	}

	v, err := newGenerator().Generate(tierSpec(2), metrics, waiver)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionWaiver, v.Decision)
	assert.Equal(t, waiver.Reason, v.WaiverReason)
	assert.NotEmpty(t, v.Reasons)
}

func TestGenerateWaiverRejected(t *testing.T) {
	metrics := passingMetrics()
	metrics.BudgetUsage.LOC = 1.2

	base := models.Waiver{
		Reason:    "budget overrun",
		SignedBy:  "release-lead",
		Signature: "sig-123",
		ExpiresAt: time.Now().Add(time.Hour),
	}

	tests := []struct {
		name   string
		mutate func(*models.Waiver)
	}{
		{name: "expired", mutate: func(w *models.Waiver) { w.ExpiresAt = time.Now().Add(-time.Hour) }},
		{name: "unsigned", mutate: func(w *models.Waiver) { w.Signature = "" }},
		{name: "no signer", mutate: func(w *models.Waiver) { w.SignedBy = "" }},
		{name: "covers other gate only", mutate: func(w *models.Waiver) { w.Gates = []string{GateStaticChecks} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := base
			tt.mutate(&w)
			v, err := newGenerator().Generate(tierSpec(2), metrics, &w)
			require.NoError(t, err)
			assert.Equal(t, models.DecisionFail, v.Decision)
		})
	}
}

func TestGenerateWaiverNeverCoversCriticalGate(t *testing.T) {
	metrics := passingMetrics()
	metrics.Coverage = 0.5

	waiver := &models.Waiver{
		Reason:    "trust me",
		SignedBy:  "someone",
		Signature: "sig",
		ExpiresAt: time.Now().Add(time.Hour),
	}

	v, err := newGenerator().Generate(tierSpec(1), metrics, waiver)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionFail, v.Decision)
	assert.Empty(t, v.WaiverReason)
}

func TestGenerateNonFunctionalBounds(t *testing.T) {
	spec := tierSpec(2)
	spec.NonFunctional = map[string]float64{"p95_latency_ms": 200}

	metrics := passingMetrics()
	metrics.NonFunctional = map[string]float64{"p95_latency_ms": 250}

	v, err := newGenerator().Generate(spec, metrics, nil)
	require.NoError(t, err)

	gate := gateByName(t, v, GateNonFunctional)
	assert.False(t, gate.Pass)
	assert.InDelta(t, 250, gate.Inputs["p95_latency_ms"], 1e-9)
	assert.InDelta(t, 200, gate.Inputs["p95_latency_ms_target"], 1e-9)

	// Within bounds passes.
	metrics.NonFunctional["p95_latency_ms"] = 150
	v, err = newGenerator().Generate(spec, metrics, nil)
	require.NoError(t, err)
	assert.True(t, gateByName(t, v, GateNonFunctional).Pass)
}

func TestGenerateNonFunctionalUnmeasuredUsesFallback(t *testing.T) {
	spec := tierSpec(2)
	spec.NonFunctional = map[string]float64{"p95_latency_ms": 200}

	v, err := newGenerator().Generate(spec, passingMetrics(), nil)
	require.NoError(t, err)

	gate := gateByName(t, v, GateNonFunctional)
	assert.True(t, gate.Pass)
	assert.InDelta(t, 0.5, gate.Contribution, 1e-9)
}

func TestGenerateInputErrors(t *testing.T) {
	g := newGenerator()

	_, err := g.Generate(nil, passingMetrics(), nil)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = g.Generate(tierSpec(1), nil, nil)
	assert.True(t, apperr.IsKind(err, apperr.KindUnavailable))

	_, err = g.Generate(tierSpec(7), passingMetrics(), nil)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	assert.Contains(t, err.Error(), "risk tier 7")
}
