package store

import (
	"sync"
	"time"
)

// pendingWrite is one durable write deferred while the breaker was
// open.
type pendingWrite struct {
	Op       Op
	QueuedAt time.Time
}

// pendingLog is the bounded FIFO of deferred writes. At capacity the
// oldest entry is dropped; the wrapper emits one system.degraded event
// per drop.
type pendingLog struct {
	capacity int

	mu      sync.Mutex
	entries []pendingWrite
}

func newPendingLog(capacity int) *pendingLog {
	return &pendingLog{capacity: capacity}
}

// append queues a write, returning the entry dropped to make room, if
// any.
func (p *pendingLog) append(w pendingWrite) (dropped *pendingWrite) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.entries) >= p.capacity {
		d := p.entries[0]
		p.entries = p.entries[1:]
		dropped = &d
	}
	p.entries = append(p.entries, w)
	return dropped
}

// takeAll removes and returns every queued write in order.
func (p *pendingLog) takeAll() []pendingWrite {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.entries
	p.entries = nil
	return out
}

// requeueFront puts writes back at the head, preserving order, after a
// drain attempt failed partway. Entries past capacity are dropped
// oldest-first and returned for the caller's bookkeeping.
func (p *pendingLog) requeueFront(writes []pendingWrite) (dropped []pendingWrite) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(append([]pendingWrite(nil), writes...), p.entries...)
	if over := len(p.entries) - p.capacity; over > 0 {
		dropped = append(dropped, p.entries[:over]...)
		p.entries = p.entries[over:]
	}
	return dropped
}

func (p *pendingLog) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
