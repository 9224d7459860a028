package store

import (
	"container/list"
	"strings"
	"sync"
)

// shadow is the bounded in-memory copy of every record the wrapper has
// successfully written or read. Eviction is least-recently-WRITTEN:
// reads do not refresh recency, and pinned entries (those with a
// pending durable write) are never evicted.
type shadow struct {
	capacity int

	mu sync.Mutex
	ll *list.List // front = most recently written
	by map[string]*list.Element
}

type shadowEntry struct {
	rec  Record
	pins int
}

func newShadow(capacity int) *shadow {
	return &shadow{
		capacity: capacity,
		ll:       list.New(),
		by:       make(map[string]*list.Element),
	}
}

// put inserts or refreshes a record, evicting the least-recently-
// written unpinned entry when over capacity. Returns the number of
// evictions performed (0 or 1).
func (s *shadow) put(rec Record) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.by[rec.Key]; ok {
		el.Value.(*shadowEntry).rec = rec
		s.ll.MoveToFront(el)
		return 0
	}
	s.by[rec.Key] = s.ll.PushFront(&shadowEntry{rec: rec})

	if s.ll.Len() <= s.capacity {
		return 0
	}
	// Walk from the back past pinned entries. When everything is
	// pinned the shadow overflows temporarily rather than lose a
	// pending write.
	for el := s.ll.Back(); el != nil; el = el.Prev() {
		entry := el.Value.(*shadowEntry)
		if entry.pins > 0 {
			continue
		}
		s.ll.Remove(el)
		delete(s.by, entry.rec.Key)
		return 1
	}
	return 0
}

// insertRead records a durably-read value without refreshing write
// recency: an existing entry is updated in place, a new one enters at
// the least-recently-written end.
func (s *shadow) insertRead(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.by[rec.Key]; ok {
		entry := el.Value.(*shadowEntry)
		if rec.Version >= entry.rec.Version {
			entry.rec = rec
		}
		return
	}
	if s.ll.Len() >= s.capacity {
		// Reads never force out written entries.
		return
	}
	s.by[rec.Key] = s.ll.PushBack(&shadowEntry{rec: rec})
}

// get returns the record without refreshing write recency.
func (s *shadow) get(key string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.by[key]
	if !ok {
		return Record{}, false
	}
	return el.Value.(*shadowEntry).rec, true
}

func (s *shadow) delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.by[key]; ok {
		s.ll.Remove(el)
		delete(s.by, key)
	}
}

// pin protects the key's entry from eviction while a durable write for
// it is pending.
func (s *shadow) pin(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.by[key]; ok {
		el.Value.(*shadowEntry).pins++
	}
}

func (s *shadow) unpin(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.by[key]; ok {
		entry := el.Value.(*shadowEntry)
		if entry.pins > 0 {
			entry.pins--
		}
	}
}

func (s *shadow) scanPrefix(prefix string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for key, el := range s.by {
		if strings.HasPrefix(key, prefix) {
			out = append(out, el.Value.(*shadowEntry).rec)
		}
	}
	return out
}

func (s *shadow) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ll.Len()
}
