// Package queue implements the bounded task queue: four priority
// classes, FIFO within a class, admission control at enqueue, and a
// starvation guard applied at dequeue time.
package queue

import (
	"sync"
	"time"

	"github.com/codeready-toolchain/arbiter/pkg/apperr"
	"github.com/codeready-toolchain/arbiter/pkg/config"
	"github.com/codeready-toolchain/arbiter/pkg/events"
	"github.com/codeready-toolchain/arbiter/pkg/models"
)

// Dequeued pairs a task with its measured queue wait and the effective
// priority used for ordering (the stored priority, possibly bumped by
// the starvation guard).
type Dequeued struct {
	Task              *models.Task
	WaitTime          time.Duration
	EffectivePriority models.Priority
}

// Queue is the bounded in-memory priority queue. Capacity is global
// across classes.
type Queue struct {
	cfg *config.QueueConfig
	bus *events.Bus

	mu      sync.Mutex
	classes [5][]*models.Task // indexed by Priority ordinal; slot 0 unused
	size    int
}

// NewQueue creates an empty queue.
func NewQueue(cfg *config.QueueConfig, bus *events.Bus) *Queue {
	return &Queue{cfg: cfg, bus: bus}
}

// Enqueue admits the task, stamping EnqueuedAt. Admission failures are
// Validation errors; a full queue fails with Exhausted and emits one
// task.queue_full event.
func (q *Queue) Enqueue(task *models.Task) error {
	if err := q.admit(task); err != nil {
		return err
	}

	q.mu.Lock()
	if q.size >= q.cfg.Capacity {
		depth := q.size
		q.mu.Unlock()
		q.bus.Publish(events.Event{
			Type:     events.TypeTaskQueueFull,
			Severity: events.SeverityWarning,
			Payload:  events.QueuePayload{TaskID: task.ID, Depth: depth},
		})
		return apperr.New(apperr.KindExhausted, "queue full at capacity %d", q.cfg.Capacity)
	}

	task.EnqueuedAt = time.Now()
	q.classes[task.Priority] = append(q.classes[task.Priority], task)
	q.size++
	q.mu.Unlock()

	q.bus.Publish(events.Event{
		Type:    events.TypeTaskSubmitted,
		Payload: events.QueuePayload{TaskID: task.ID, Depth: q.Size()},
	})
	return nil
}

// admit applies the admission rules before insertion.
func (q *Queue) admit(task *models.Task) error {
	if task == nil || task.ID == "" {
		return apperr.New(apperr.KindValidation, "task id is required")
	}
	if !task.Priority.Valid() {
		return apperr.New(apperr.KindValidation,
			"task %q: priority %d out of range", task.ID, task.Priority)
	}
	if task.MaxAttempts < 1 {
		return apperr.New(apperr.KindValidation,
			"task %q: max_attempts must be at least 1", task.ID)
	}
	if len(task.Description) > q.cfg.MaxDescriptionLen {
		return apperr.New(apperr.KindValidation,
			"task %q: description exceeds %d characters", task.ID, q.cfg.MaxDescriptionLen)
	}
	if task.MetadataBytes() > q.cfg.MaxMetadataBytes {
		return apperr.New(apperr.KindValidation,
			"task %q: metadata exceeds %d bytes", task.ID, q.cfg.MaxMetadataBytes)
	}

	allowed := q.cfg.AllowedTypesFor(models.TenantOf(task.ID))
	for _, t := range allowed {
		if t == task.Type {
			return nil
		}
	}
	return apperr.New(apperr.KindValidation,
		"task %q: type %q not in allowed set", task.ID, task.Type)
}

// Dequeue removes and returns the head of the highest-priority
// non-empty class. A task pending longer than the starvation threshold
// is treated as one class higher; the stored priority is untouched.
// Returns nil when the queue is empty.
func (q *Queue) Dequeue() *Dequeued {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	threshold := q.cfg.StarvationThreshold

	bestClass := 0
	var bestEffective models.Priority
	for class := int(models.PriorityCritical); class >= int(models.PriorityLow); class-- {
		if len(q.classes[class]) == 0 {
			continue
		}
		effective := models.Priority(class)
		if threshold > 0 && now.Sub(q.classes[class][0].EnqueuedAt) >= threshold {
			effective = effective.Bump()
		}
		// FIFO within an effective class: the first class scanned wins
		// ties, and scanning runs highest class first so a starved task
		// only overtakes strictly lower classes.
		if bestClass == 0 || effective > bestEffective {
			bestClass = class
			bestEffective = effective
		}
	}
	if bestClass == 0 {
		return nil
	}

	task := q.classes[bestClass][0]
	q.classes[bestClass] = q.classes[bestClass][1:]
	q.size--

	return &Dequeued{
		Task:              task,
		WaitTime:          now.Sub(task.EnqueuedAt),
		EffectivePriority: bestEffective,
	}
}

// Peek returns the task Dequeue would return next, without removing it.
func (q *Queue) Peek() *models.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	for class := int(models.PriorityCritical); class >= int(models.PriorityLow); class-- {
		if len(q.classes[class]) > 0 {
			return q.classes[class][0]
		}
	}
	return nil
}

// Size returns the number of queued tasks across all classes.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// DepthByClass reports the queue depth per priority class for the
// metrics surface.
func (q *Queue) DepthByClass() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]int, 4)
	for class := int(models.PriorityLow); class <= int(models.PriorityCritical); class++ {
		out[models.Priority(class).String()] = len(q.classes[class])
	}
	return out
}

// Clear removes every queued task matching the predicate (nil matches
// all) and emits one task.queue_cleared event with the removed count.
func (q *Queue) Clear(predicate func(*models.Task) bool) int {
	q.mu.Lock()
	removed := 0
	for class := int(models.PriorityLow); class <= int(models.PriorityCritical); class++ {
		kept := q.classes[class][:0]
		for _, task := range q.classes[class] {
			if predicate == nil || predicate(task) {
				removed++
				continue
			}
			kept = append(kept, task)
		}
		q.classes[class] = kept
	}
	q.size -= removed
	q.mu.Unlock()

	q.bus.Publish(events.Event{
		Type:    events.TypeTaskQueueCleared,
		Payload: events.QueuePayload{Removed: removed},
	})
	return removed
}
