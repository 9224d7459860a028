// Package registry implements the durable, concurrency-safe agent
// catalog: registration, capability-match queries, incremental
// performance means, and load bookkeeping. All durable access goes
// through the resilient store wrapper; all mutations for one agent are
// serialized by a per-agent lock.
package registry

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/codeready-toolchain/arbiter/pkg/apperr"
	"github.com/codeready-toolchain/arbiter/pkg/events"
	"github.com/codeready-toolchain/arbiter/pkg/models"
	"github.com/codeready-toolchain/arbiter/pkg/store"
)

const (
	agentKeyPrefix = "agents/"

	// Assignments are owned by the orchestrator but stored under this
	// prefix; unregister cascades over it to delete finished ones.
	assignmentKeyPrefix = "assignments/"
)

func agentKey(id string) string { return agentKeyPrefix + id }

// CapabilityQuery selects agents able to run a given kind of task.
type CapabilityQuery struct {
	TaskType        string   `json:"task_type"`
	Languages       []string `json:"languages,omitempty"`
	Specializations []string `json:"specializations,omitempty"`

	// MaxUtilization and MinSuccessRate are hard filters: candidates
	// violating them are excluded, not downscored.
	MaxUtilization *float64 `json:"max_utilization,omitempty"`
	MinSuccessRate *float64 `json:"min_success_rate,omitempty"`
}

// Match is one query result.
type Match struct {
	Agent      models.Agent `json:"agent"`
	MatchScore float64      `json:"match_score"`
}

// Registry is the authoritative agent catalog.
type Registry struct {
	store *store.Resilient
	bus   *events.Bus

	// locks is the per-agent mutex table serializing mutations.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	updatedMu   sync.Mutex
	lastUpdated time.Time
}

// NewRegistry creates a registry over the resilient store.
func NewRegistry(s *store.Resilient, bus *events.Bus) *Registry {
	return &Registry{
		store: s,
		bus:   bus,
		locks: make(map[string]*sync.Mutex),
	}
}

func (r *Registry) lockFor(id string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	mu, ok := r.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		r.locks[id] = mu
	}
	return mu
}

func (r *Registry) touch() {
	r.updatedMu.Lock()
	r.lastUpdated = time.Now()
	r.updatedMu.Unlock()
}

// Register inserts a new agent record. An existing ID fails with
// Conflict unless idempotent is set, in which case the existing record
// is returned unchanged.
func (r *Registry) Register(ctx context.Context, agent *models.Agent, idempotent bool) (*models.Agent, error) {
	if agent == nil || agent.ID == "" {
		return nil, apperr.New(apperr.KindValidation, "agent id is required")
	}
	if agent.MaxConcurrent < 1 {
		return nil, apperr.New(apperr.KindValidation,
			"agent %q: max_concurrent must be at least 1", agent.ID)
	}
	if len(agent.Capabilities.TaskTypes) == 0 {
		return nil, apperr.New(apperr.KindValidation,
			"agent %q: at least one task type is required", agent.ID)
	}

	mu := r.lockFor(agent.ID)
	mu.Lock()
	defer mu.Unlock()

	existing, err := r.loadAgent(ctx, agent.ID)
	if err == nil {
		if idempotent {
			return existing, nil
		}
		return nil, apperr.New(apperr.KindConflict, "agent %q already registered", agent.ID)
	}
	if !apperr.IsKind(err, apperr.KindNotFound) {
		return nil, err
	}

	now := time.Now()
	rec := *agent
	rec.RegisteredAt = now
	rec.LastActiveAt = now
	rec.Load = models.CurrentLoad{}

	if err := r.storeAgent(ctx, &rec); err != nil {
		return nil, err
	}
	r.touch()

	r.bus.Publish(events.Event{
		Type:    events.TypeAgentRegistered,
		Payload: events.AgentPayload{AgentID: rec.ID, ModelFamily: rec.ModelFamily},
	})
	return &rec, nil
}

// Unregister removes an agent and cascades deletion to its finished
// assignments. Returns whether the agent existed.
func (r *Registry) Unregister(ctx context.Context, id string) (bool, error) {
	mu := r.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	if _, err := r.loadAgent(ctx, id); err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return false, nil
		}
		return false, err
	}

	if err := r.store.Delete(ctx, agentKey(id)); err != nil {
		return false, err
	}
	if err := r.deleteFinishedAssignments(ctx, id); err != nil {
		return true, err
	}
	r.touch()

	r.bus.Publish(events.Event{
		Type:    events.TypeAgentUnregistered,
		Payload: events.AgentPayload{AgentID: id},
	})
	return true, nil
}

func (r *Registry) deleteFinishedAssignments(ctx context.Context, agentID string) error {
	res, err := r.store.Scan(ctx, assignmentKeyPrefix)
	if err != nil {
		return err
	}
	for _, rec := range res.Records {
		var a models.Assignment
		if err := json.Unmarshal(rec.Value, &a); err != nil {
			continue
		}
		if a.AgentID != agentID || !a.State.Terminal() {
			continue
		}
		if err := r.store.Delete(ctx, rec.Key); err != nil {
			return err
		}
	}
	return nil
}

// GetProfile returns a snapshot of one agent, with the provenance of
// the read ("durable" or "memory").
func (r *Registry) GetProfile(ctx context.Context, id string) (*models.Agent, string, error) {
	res, err := r.store.Read(ctx, agentKey(id))
	if err != nil {
		return nil, "", err
	}
	var agent models.Agent
	if err := json.Unmarshal(res.Record.Value, &agent); err != nil {
		return nil, "", apperr.Wrap(apperr.KindInternal, err, "corrupt agent record %q", id)
	}
	return &agent, res.SourcedFrom, nil
}

// QueryByCapability returns capable agents sorted by match score
// descending, then success rate descending, then ID ascending.
func (r *Registry) QueryByCapability(ctx context.Context, q CapabilityQuery) ([]Match, string, error) {
	if q.TaskType == "" {
		return nil, "", apperr.New(apperr.KindValidation, "task type is required")
	}

	res, err := r.store.Scan(ctx, agentKeyPrefix)
	if err != nil {
		return nil, "", err
	}

	var matches []Match
	for _, rec := range res.Records {
		var agent models.Agent
		if err := json.Unmarshal(rec.Value, &agent); err != nil {
			continue
		}
		if q.MaxUtilization != nil && agent.Load.UtilizationPercent > *q.MaxUtilization {
			continue
		}
		if q.MinSuccessRate != nil && agent.Performance.SuccessRate < *q.MinSuccessRate {
			continue
		}
		score := matchScore(q, &agent)
		if score <= 0 {
			continue
		}
		matches = append(matches, Match{Agent: agent, MatchScore: score})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].MatchScore != matches[j].MatchScore {
			return matches[i].MatchScore > matches[j].MatchScore
		}
		if matches[i].Agent.Performance.SuccessRate != matches[j].Agent.Performance.SuccessRate {
			return matches[i].Agent.Performance.SuccessRate > matches[j].Agent.Performance.SuccessRate
		}
		return matches[i].Agent.ID < matches[j].Agent.ID
	})
	return matches, res.SourcedFrom, nil
}

// matchScore is the fixed capability-fit formula. Zero when the task
// type is not covered; otherwise a weighted sum of type fit, language
// and specialization overlap, headroom, and success rate.
func matchScore(q CapabilityQuery, agent *models.Agent) float64 {
	if !agent.Capabilities.HasTaskType(q.TaskType) {
		return 0
	}

	langOverlap := overlap(q.Languages, agent.Capabilities.Languages)

	available := make([]string, 0, len(agent.Capabilities.Specializations))
	for _, s := range agent.Capabilities.Specializations {
		available = append(available, s.Type)
	}
	specOverlap := overlap(q.Specializations, available)

	return 0.50 +
		0.20*langOverlap +
		0.15*specOverlap +
		0.10*(1-agent.Load.UtilizationPercent/100) +
		0.05*agent.Performance.SuccessRate
}

// overlap = |required ∩ available| / max(1, |required|).
func overlap(required, available []string) float64 {
	if len(required) == 0 {
		return 1
	}
	have := make(map[string]struct{}, len(available))
	for _, a := range available {
		have[a] = struct{}{}
	}
	hits := 0
	for _, req := range required {
		if _, ok := have[req]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(required))
}

// UpdatePerformance folds one sample into the agent's running means in
// a single durable transaction. On transaction failure the caller gets
// the error and agent.update_failed is emitted.
func (r *Registry) UpdatePerformance(ctx context.Context, id string, sample models.PerformanceSample) (*models.Agent, error) {
	mu := r.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	var updated models.Agent
	err := r.store.Transaction(ctx, func(tx *store.Tx) error {
		rec, err := tx.Get(agentKey(id))
		if err != nil {
			return err
		}
		var agent models.Agent
		if err := json.Unmarshal(rec.Value, &agent); err != nil {
			return apperr.Wrap(apperr.KindInternal, err, "corrupt agent record %q", id)
		}

		applySample(&agent.Performance, sample)
		agent.LastActiveAt = time.Now()

		data, err := json.Marshal(&agent)
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, err, "marshaling agent %q", id)
		}
		tx.Put(agentKey(id), data, rec.Version)
		updated = agent
		return nil
	})
	if err != nil {
		r.bus.Publish(events.Event{
			Type:     events.TypeAgentUpdateFailed,
			Severity: events.SeverityError,
			Payload:  events.AgentPayload{AgentID: id},
		})
		return nil, err
	}
	r.touch()
	return &updated, nil
}

// applySample advances each running mean by the incremental rule
// mean += (sample − mean) / (n + 1), then increments the count.
func applySample(p *models.PerformanceHistory, sample models.PerformanceSample) {
	n := float64(p.TaskCount)

	successSample := 0.0
	if sample.Success {
		successSample = 1.0
	}
	p.SuccessRate += (successSample - p.SuccessRate) / (n + 1)
	p.AverageQuality += (sample.QualityScore - p.AverageQuality) / (n + 1)
	p.AverageLatencyMs += (sample.LatencyMs - p.AverageLatencyMs) / (n + 1)
	p.TaskCount++
}

// UpdateLoad applies a load delta, clamping negative results to zero
// and recomputing utilization.
func (r *Registry) UpdateLoad(ctx context.Context, id string, deltaActive, deltaQueued int) (*models.Agent, error) {
	mu := r.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	agent, err := r.loadAgent(ctx, id)
	if err != nil {
		return nil, err
	}

	agent.Load.ActiveTasks = clampNonNegative(agent.Load.ActiveTasks + deltaActive)
	agent.Load.QueuedTasks = clampNonNegative(agent.Load.QueuedTasks + deltaQueued)
	agent.Load.UtilizationPercent = agent.Utilization(agent.Load.ActiveTasks)
	agent.LastActiveAt = time.Now()

	if err := r.storeAgent(ctx, agent); err != nil {
		return nil, err
	}
	r.touch()

	r.bus.Publish(events.Event{
		Type: events.TypeAgentLoadChanged,
		Payload: events.AgentLoadPayload{
			AgentID:            id,
			ActiveTasks:        agent.Load.ActiveTasks,
			QueuedTasks:        agent.Load.QueuedTasks,
			UtilizationPercent: agent.Load.UtilizationPercent,
		},
	})
	return agent, nil
}

// MarkAssigned stamps the recency field consumed by the router.
func (r *Registry) MarkAssigned(ctx context.Context, id string, at time.Time) error {
	mu := r.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	agent, err := r.loadAgent(ctx, id)
	if err != nil {
		return err
	}
	agent.LastAssignedAt = at
	return r.storeAgent(ctx, agent)
}

// UpdateSpecialization folds one sample into a single specialization
// entry, creating it at level novice when absent.
func (r *Registry) UpdateSpecialization(ctx context.Context, id, specType string, sample models.PerformanceSample) (*models.Agent, error) {
	if specType == "" {
		return nil, apperr.New(apperr.KindValidation, "specialization type is required")
	}

	mu := r.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	var updated models.Agent
	err := r.store.Transaction(ctx, func(tx *store.Tx) error {
		rec, err := tx.Get(agentKey(id))
		if err != nil {
			return err
		}
		var agent models.Agent
		if err := json.Unmarshal(rec.Value, &agent); err != nil {
			return apperr.Wrap(apperr.KindInternal, err, "corrupt agent record %q", id)
		}

		idx := -1
		for i, s := range agent.Capabilities.Specializations {
			if s.Type == specType {
				idx = i
				break
			}
		}
		if idx < 0 {
			agent.Capabilities.Specializations = append(agent.Capabilities.Specializations,
				models.Specialization{Type: specType, Level: models.LevelNovice})
			idx = len(agent.Capabilities.Specializations) - 1
		}

		spec := &agent.Capabilities.Specializations[idx]
		n := float64(spec.TaskCount)
		successSample := 0.0
		if sample.Success {
			successSample = 1.0
		}
		spec.SuccessRate += (successSample - spec.SuccessRate) / (n + 1)
		spec.AverageQuality += (sample.QualityScore - spec.AverageQuality) / (n + 1)
		spec.TaskCount++

		data, err := json.Marshal(&agent)
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, err, "marshaling agent %q", id)
		}
		tx.Put(agentKey(id), data, rec.Version)
		updated = agent
		return nil
	})
	if err != nil {
		r.bus.Publish(events.Event{
			Type:     events.TypeAgentUpdateFailed,
			Severity: events.SeverityError,
			Payload:  events.AgentPayload{AgentID: id},
		})
		return nil, err
	}
	r.touch()
	return &updated, nil
}

// GetStats aggregates over the catalog. The view is monotonic for the
// single-process case: every mutation that returned before this call
// is reflected.
func (r *Registry) GetStats(ctx context.Context) (*models.RegistryStats, string, error) {
	res, err := r.store.Scan(ctx, agentKeyPrefix)
	if err != nil {
		return nil, "", err
	}

	stats := &models.RegistryStats{}
	var successSum, utilSum float64
	for _, rec := range res.Records {
		var agent models.Agent
		if err := json.Unmarshal(rec.Value, &agent); err != nil {
			continue
		}
		stats.TotalAgents++
		stats.TotalTasks += agent.Performance.TaskCount
		successSum += agent.Performance.SuccessRate
		utilSum += agent.Load.UtilizationPercent
	}
	if stats.TotalAgents > 0 {
		stats.AverageSuccessRate = successSum / float64(stats.TotalAgents)
		stats.AverageUtilization = utilSum / float64(stats.TotalAgents)
	}

	r.updatedMu.Lock()
	stats.LastUpdated = r.lastUpdated
	r.updatedMu.Unlock()
	return stats, res.SourcedFrom, nil
}

func (r *Registry) loadAgent(ctx context.Context, id string) (*models.Agent, error) {
	res, err := r.store.Read(ctx, agentKey(id))
	if err != nil {
		return nil, err
	}
	var agent models.Agent
	if err := json.Unmarshal(res.Record.Value, &agent); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "corrupt agent record %q", id)
	}
	return &agent, nil
}

func (r *Registry) storeAgent(ctx context.Context, agent *models.Agent) error {
	data, err := json.Marshal(agent)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, err, "marshaling agent %q", agent.ID)
	}
	return r.store.Write(ctx, agentKey(agent.ID), data, true)
}

func clampNonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
