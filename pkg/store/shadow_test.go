package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShadowEvictsLeastRecentlyWritten(t *testing.T) {
	s := newShadow(3)

	for i := 1; i <= 3; i++ {
		s.put(Record{Key: fmt.Sprintf("k%d", i), Version: 1})
	}

	// Re-writing k1 makes k2 the eviction candidate.
	s.put(Record{Key: "k1", Version: 2})
	evicted := s.put(Record{Key: "k4", Version: 1})
	assert.Equal(t, 1, evicted)

	_, ok := s.get("k2")
	assert.False(t, ok)
	_, ok = s.get("k1")
	assert.True(t, ok)
}

func TestShadowReadsDoNotRefreshRecency(t *testing.T) {
	s := newShadow(2)
	s.put(Record{Key: "k1", Version: 1})
	s.put(Record{Key: "k2", Version: 1})

	// Reading k1 must not protect it from eviction.
	_, ok := s.get("k1")
	require.True(t, ok)

	s.put(Record{Key: "k3", Version: 1})
	_, ok = s.get("k1")
	assert.False(t, ok)
	_, ok = s.get("k2")
	assert.True(t, ok)
}

func TestShadowPinnedEntriesSurviveEviction(t *testing.T) {
	s := newShadow(2)
	s.put(Record{Key: "pending", Version: 1})
	s.pin("pending")
	s.put(Record{Key: "k2", Version: 1})

	// "pending" is oldest but pinned, so k2 goes instead.
	s.put(Record{Key: "k3", Version: 1})
	_, ok := s.get("pending")
	assert.True(t, ok)
	_, ok = s.get("k2")
	assert.False(t, ok)

	s.unpin("pending")
	s.put(Record{Key: "k4", Version: 1})
	_, ok = s.get("pending")
	assert.False(t, ok)
}

func TestShadowInsertReadEntersAtBack(t *testing.T) {
	s := newShadow(2)
	s.put(Record{Key: "written", Version: 1})
	s.insertRead(Record{Key: "read", Version: 1})

	// The read-sourced entry is the first to go.
	s.put(Record{Key: "newer", Version: 1})
	_, ok := s.get("read")
	assert.False(t, ok)
	_, ok = s.get("written")
	assert.True(t, ok)
}

func TestShadowInsertReadKeepsNewerVersion(t *testing.T) {
	s := newShadow(4)
	s.put(Record{Key: "k", Value: []byte(`new`), Version: 5})

	// A stale read must not clobber a newer shadowed write.
	s.insertRead(Record{Key: "k", Value: []byte(`old`), Version: 3})
	rec, ok := s.get("k")
	require.True(t, ok)
	assert.Equal(t, []byte(`new`), rec.Value)
	assert.Equal(t, int64(5), rec.Version)
}

func TestShadowScanPrefix(t *testing.T) {
	s := newShadow(10)
	s.put(Record{Key: "agents/a1", Version: 1})
	s.put(Record{Key: "agents/a2", Version: 1})
	s.put(Record{Key: "tasks/t1", Version: 1})

	assert.Len(t, s.scanPrefix("agents/"), 2)
	assert.Len(t, s.scanPrefix("tasks/"), 1)
	assert.Empty(t, s.scanPrefix("nope/"))
}
