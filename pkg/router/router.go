// Package router picks one agent for a task from the registry's
// capability matches. Pure functions only: no state, no I/O, fully
// deterministic for a given input.
package router

import (
	"sort"
	"time"

	"github.com/codeready-toolchain/arbiter/pkg/apperr"
	"github.com/codeready-toolchain/arbiter/pkg/models"
	"github.com/codeready-toolchain/arbiter/pkg/registry"
)

// Scoring weights. Capability fit dominates; load headroom and the
// recency bonus spread work across equally capable agents.
const (
	weightMatch   = 0.70
	weightLoad    = 0.20
	weightRecency = 0.10

	// recencyWindow is the idle time after which the recency bonus
	// saturates at 1.
	recencyWindow = 5 * time.Minute
)

// Score is the component breakdown for one candidate.
type Score struct {
	AgentID      string  `json:"agent_id"`
	MatchScore   float64 `json:"match_score"`
	LoadScore    float64 `json:"load_score"`
	RecencyBonus float64 `json:"recency_bonus"`
	Total        float64 `json:"total"`
}

// Pick selects the best candidate not in exclusions. Ties break
// lexicographically on agent ID. Fails with NotFound when the filtered
// candidate list is empty.
func Pick(task *models.Task, candidates []registry.Match, exclusions map[string]bool, now time.Time) (*models.Agent, error) {
	scores := rank(candidates, exclusions, now)
	if len(scores) == 0 {
		return nil, apperr.New(apperr.KindNotFound,
			"no eligible agent for task %q (type %s)", task.ID, task.Type)
	}

	for _, c := range candidates {
		if c.Agent.ID == scores[0].AgentID {
			agent := c.Agent
			return &agent, nil
		}
	}
	return nil, apperr.New(apperr.KindInternal, "ranked agent %q missing from candidates", scores[0].AgentID)
}

// Explain returns the top n candidates with their component scores.
// Audit-only: correctness never depends on it.
func Explain(candidates []registry.Match, exclusions map[string]bool, now time.Time, n int) []Score {
	scores := rank(candidates, exclusions, now)
	if n > 0 && len(scores) > n {
		scores = scores[:n]
	}
	return scores
}

func rank(candidates []registry.Match, exclusions map[string]bool, now time.Time) []Score {
	scores := make([]Score, 0, len(candidates))
	for _, c := range candidates {
		if exclusions[c.Agent.ID] {
			continue
		}
		s := Score{
			AgentID:      c.Agent.ID,
			MatchScore:   c.MatchScore,
			LoadScore:    1 - c.Agent.Load.UtilizationPercent/100,
			RecencyBonus: recencyBonus(c.Agent.LastAssignedAt, now),
		}
		s.Total = weightMatch*s.MatchScore + weightLoad*s.LoadScore + weightRecency*s.RecencyBonus
		scores = append(scores, s)
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Total != scores[j].Total {
			return scores[i].Total > scores[j].Total
		}
		return scores[i].AgentID < scores[j].AgentID
	})
	return scores
}

// recencyBonus grows linearly with idle time since the last
// assignment, saturating at 1. Never-assigned agents get the full
// bonus.
func recencyBonus(lastAssigned, now time.Time) float64 {
	if lastAssigned.IsZero() {
		return 1
	}
	idle := now.Sub(lastAssigned)
	if idle >= recencyWindow {
		return 1
	}
	if idle < 0 {
		return 0
	}
	return float64(idle) / float64(recencyWindow)
}
