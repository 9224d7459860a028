package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Subscription is one subscriber's bounded delivery channel.
type Subscription struct {
	id     string
	topics []string
	ch     chan Event

	// dropped counts events discarded because the buffer was full.
	dropped atomic.Int64

	// mu serializes delivery against close so a publisher that
	// snapshotted this subscription before Unsubscribe never sends on a
	// closed channel.
	mu     sync.Mutex
	closed bool
}

// C returns the delivery channel. It is closed on Unsubscribe and on
// bus Close.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Dropped returns the number of events this subscriber lost to
// buffer overflow.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Bus is the in-process topic broadcaster. One instance per process;
// constructor-injected into every component that publishes or
// subscribes.
type Bus struct {
	bufferSize int
	retain     int

	mu     sync.RWMutex
	subs   map[string]map[string]*Subscription // topic → sub id → sub
	closed bool

	// retained is the per-topic catchup ring for the polling surface.
	retained map[string]*topicRing

	// seq assigns per-topic sequence numbers.
	seq map[string]*atomic.Int64

	totalDropped atomic.Int64
}

// topicRing is a bounded slice ring of recently published events.
type topicRing struct {
	mu       sync.Mutex
	events   []Event
	firstSeq int64
}

// NewBus creates a bus with the given per-subscriber buffer size and
// per-topic retention for catchup.
func NewBus(bufferSize, retain int) *Bus {
	if bufferSize < 1 {
		bufferSize = 1024
	}
	b := &Bus{
		bufferSize: bufferSize,
		retain:     retain,
		subs:       make(map[string]map[string]*Subscription),
		retained:   make(map[string]*topicRing),
		seq:        make(map[string]*atomic.Int64),
	}
	for _, topic := range Topics() {
		b.retained[topic] = &topicRing{firstSeq: 1}
		b.seq[topic] = &atomic.Int64{}
	}
	return b
}

// Subscribe registers a subscriber for the given topics (all topics
// when none are named). The returned subscription must be released
// with Unsubscribe.
func (b *Bus) Subscribe(topics ...string) *Subscription {
	if len(topics) == 0 {
		topics = Topics()
	}
	sub := &Subscription{
		id:     uuid.New().String(),
		topics: topics,
		ch:     make(chan Event, b.bufferSize),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.close()
		return sub
	}
	for _, topic := range topics {
		if b.subs[topic] == nil {
			b.subs[topic] = make(map[string]*Subscription)
		}
		b.subs[topic][sub.id] = sub
	}
	return sub
}

// Unsubscribe removes the subscription and releases its buffer
// immediately.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	for _, topic := range sub.topics {
		delete(b.subs[topic], sub.id)
	}
	b.mu.Unlock()
	sub.close()
}

// Publish broadcasts an event to every subscriber of its topic. Never
// blocks: a full subscriber buffer drops its oldest event and the drop
// is counted. Missing timestamps and severity are filled in.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if evt.Severity == "" {
		evt.Severity = SeverityInfo
	}
	topic := TopicOf(evt.Type)

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	seq, known := b.seq[topic]
	if !known {
		b.mu.RUnlock()
		slog.Warn("Dropping event with unknown topic", "type", evt.Type)
		return
	}
	evt.Seq = seq.Add(1)

	// Snapshot subscribers under the lock, deliver after release.
	subs := make([]*Subscription, 0, len(b.subs[topic]))
	for _, sub := range b.subs[topic] {
		subs = append(subs, sub)
	}
	ring := b.retained[topic]
	b.mu.RUnlock()

	b.retainEvent(ring, evt)

	for _, sub := range subs {
		b.deliver(sub, evt)
	}
}

// deliver enqueues the event, discarding the subscriber's oldest event
// when the buffer is full. The publisher never suspends.
func (b *Bus) deliver(sub *Subscription, evt Event) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}

	select {
	case sub.ch <- evt:
		return
	default:
	}

	// Buffer full: drop the oldest, then retry once. If another
	// goroutine raced us to the slot, the new event is dropped instead —
	// either way exactly one event is lost and counted.
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- evt:
	default:
	}
	sub.dropped.Add(1)
	b.totalDropped.Add(1)
}

// retainEvent appends to the per-topic catchup ring, evicting the
// oldest entry at capacity.
func (b *Bus) retainEvent(ring *topicRing, evt Event) {
	if b.retain <= 0 {
		return
	}
	ring.mu.Lock()
	defer ring.mu.Unlock()
	ring.events = append(ring.events, evt)
	if len(ring.events) > b.retain {
		drop := len(ring.events) - b.retain
		ring.events = ring.events[drop:]
		ring.firstSeq = ring.events[0].Seq
	}
}

// Since returns retained events on the topic with Seq > since, oldest
// first. overflow is true when events newer than since were already
// evicted from the ring.
func (b *Bus) Since(topic string, since int64) (evts []Event, overflow bool) {
	b.mu.RLock()
	ring, ok := b.retained[topic]
	b.mu.RUnlock()
	if !ok {
		return nil, false
	}

	ring.mu.Lock()
	defer ring.mu.Unlock()
	overflow = since < ring.firstSeq-1
	for _, evt := range ring.events {
		if evt.Seq > since {
			evts = append(evts, evt)
		}
	}
	return evts, overflow
}

// Dropped returns the total number of events lost to subscriber
// buffer overflow.
func (b *Bus) Dropped() int64 {
	return b.totalDropped.Load()
}

// Close shuts down the bus and closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.close()
		}
	}
	b.subs = make(map[string]map[string]*Subscription)
}
