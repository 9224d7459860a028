package store

import (
	"context"
	"strings"
	"sync"

	"github.com/codeready-toolchain/arbiter/pkg/apperr"
)

// MemoryBackend is a map-backed Backend used by tests and by the
// in-memory serve mode. Fault injection via SetFailure lets tests
// exercise the breaker and fallback paths.
type MemoryBackend struct {
	mu      sync.Mutex
	records map[string]Record
	failure error
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string]Record)}
}

// SetFailure makes every subsequent operation return err until called
// again with nil.
func (m *MemoryBackend) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = err
}

func (m *MemoryBackend) Get(ctx context.Context, key string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return Record{}, m.failure
	}
	rec, ok := m.records[key]
	if !ok {
		return Record{}, apperr.New(apperr.KindNotFound, "key %q not found", key)
	}
	return rec, nil
}

func (m *MemoryBackend) Put(ctx context.Context, key string, value []byte, ifVersion int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return 0, m.failure
	}
	cur := m.records[key]
	if ifVersion >= 0 && cur.Version != ifVersion {
		return 0, apperr.New(apperr.KindConflict,
			"version mismatch for %q: have %d, want %d", key, cur.Version, ifVersion)
	}
	next := cur.Version + 1
	m.records[key] = Record{Key: key, Value: append([]byte(nil), value...), Version: next}
	return next, nil
}

func (m *MemoryBackend) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return m.failure
	}
	delete(m.records, key)
	return nil
}

func (m *MemoryBackend) Scan(ctx context.Context, prefix string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return nil, m.failure
	}
	var out []Record
	for key, rec := range m.records {
		if strings.HasPrefix(key, prefix) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *MemoryBackend) Tx(ctx context.Context, ops []Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return m.failure
	}

	// Validate conditional versions before applying anything.
	for _, op := range ops {
		if op.Kind == OpPut && op.IfVersion >= 0 {
			if cur := m.records[op.Key]; cur.Version != op.IfVersion {
				return apperr.New(apperr.KindConflict,
					"version mismatch for %q: have %d, want %d", op.Key, cur.Version, op.IfVersion)
			}
		}
	}
	for _, op := range ops {
		switch op.Kind {
		case OpPut:
			cur := m.records[op.Key]
			m.records[op.Key] = Record{
				Key:     op.Key,
				Value:   append([]byte(nil), op.Value...),
				Version: cur.Version + 1,
			}
		case OpDelete:
			delete(m.records, op.Key)
		}
	}
	return nil
}

func (m *MemoryBackend) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failure
}
