package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/arbiter/pkg/apperr"
	"github.com/codeready-toolchain/arbiter/pkg/models"
	"github.com/codeready-toolchain/arbiter/pkg/registry"
)

func candidate(id string, matchScore, utilization float64, lastAssigned time.Time) registry.Match {
	return registry.Match{
		Agent: models.Agent{
			ID:             id,
			MaxConcurrent:  4,
			Load:           models.CurrentLoad{UtilizationPercent: utilization},
			LastAssignedAt: lastAssigned,
		},
		MatchScore: matchScore,
	}
}

func TestPickPrefersHigherTotal(t *testing.T) {
	now := time.Now()
	task := &models.Task{ID: "t1", Type: "file_editing"}

	candidates := []registry.Match{
		candidate("busy", 0.9, 100, now),           // great fit, saturated, just used
		candidate("idle", 0.8, 0, time.Time{}),     // good fit, idle, never used
		candidate("mediocre", 0.5, 0, time.Time{}), // weak fit
	}

	agent, err := Pick(task, candidates, nil, now)
	require.NoError(t, err)
	assert.Equal(t, "idle", agent.ID)
}

func TestPickRespectsExclusions(t *testing.T) {
	now := time.Now()
	task := &models.Task{ID: "t1", Type: "file_editing"}
	candidates := []registry.Match{
		candidate("a1", 0.9, 0, time.Time{}),
		candidate("a2", 0.8, 0, time.Time{}),
	}

	agent, err := Pick(task, candidates, map[string]bool{"a1": true}, now)
	require.NoError(t, err)
	assert.Equal(t, "a2", agent.ID)

	_, err = Pick(task, candidates, map[string]bool{"a1": true, "a2": true}, now)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestPickNoCandidates(t *testing.T) {
	_, err := Pick(&models.Task{ID: "t1"}, nil, nil, time.Now())
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
	assert.Contains(t, err.Error(), "no eligible agent")
}

func TestPickTieBreaksLexicographically(t *testing.T) {
	now := time.Now()
	task := &models.Task{ID: "t1", Type: "file_editing"}
	candidates := []registry.Match{
		candidate("zeta", 0.8, 0, time.Time{}),
		candidate("alpha", 0.8, 0, time.Time{}),
		candidate("mid", 0.8, 0, time.Time{}),
	}

	agent, err := Pick(task, candidates, nil, now)
	require.NoError(t, err)
	assert.Equal(t, "alpha", agent.ID)
}

func TestRecencyBonus(t *testing.T) {
	now := time.Now()

	assert.InDelta(t, 1.0, recencyBonus(time.Time{}, now), 1e-9)
	assert.InDelta(t, 1.0, recencyBonus(now.Add(-10*time.Minute), now), 1e-9)
	assert.InDelta(t, 0.5, recencyBonus(now.Add(-recencyWindow/2), now), 1e-3)
	assert.InDelta(t, 0.0, recencyBonus(now, now), 1e-3)
}

func TestExplainComponentScores(t *testing.T) {
	now := time.Now()
	candidates := []registry.Match{
		candidate("a1", 0.9, 50, time.Time{}),
		candidate("a2", 0.6, 0, time.Time{}),
		candidate("a3", 0.3, 0, time.Time{}),
	}

	scores := Explain(candidates, nil, now, 2)
	require.Len(t, scores, 2)

	top := scores[0]
	assert.Equal(t, "a1", top.AgentID)
	assert.InDelta(t, 0.9, top.MatchScore, 1e-9)
	assert.InDelta(t, 0.5, top.LoadScore, 1e-9)
	assert.InDelta(t, 1.0, top.RecencyBonus, 1e-9)
	assert.InDelta(t, 0.70*0.9+0.20*0.5+0.10*1.0, top.Total, 1e-9)
}
