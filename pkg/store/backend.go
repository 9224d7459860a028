// Package store implements the resilient wrapper around the durable
// key/value record store: circuit breaker, exponential-backoff retry
// for idempotent operations, an in-memory shadow serving degraded
// reads, a bounded pending-write log drained on recovery, and a
// background health prober.
package store

import "context"

// Record is one durable key/value entry. Version increases
// monotonically per key and is used for optimistic concurrency.
type Record struct {
	Key     string `json:"key"`
	Value   []byte `json:"value"`
	Version int64  `json:"version"`
}

// OpKind distinguishes transactional batch operations.
type OpKind int

const (
	OpPut OpKind = iota
	OpDelete
)

// Op is one operation inside a transactional batch.
type Op struct {
	Kind  OpKind
	Key   string
	Value []byte

	// IfVersion, when ≥ 0, makes a put conditional on the key's current
	// version. Negative means unconditional.
	IfVersion int64
}

// Backend is the durable store transport. Implementations must return
// errors classified through the apperr taxonomy so the wrapper can
// tell retryable failures (Unavailable, Timeout) from permanent ones.
type Backend interface {
	Get(ctx context.Context, key string) (Record, error)
	Put(ctx context.Context, key string, value []byte, ifVersion int64) (int64, error)
	Delete(ctx context.Context, key string) error
	Scan(ctx context.Context, prefix string) ([]Record, error)
	Tx(ctx context.Context, ops []Op) error

	// Ping is the lightweight health probe issued by the prober.
	Ping(ctx context.Context) error
}

// Origin marks where a read was served from.
const (
	SourceDurable = "durable"
	SourceMemory  = "memory"
)

// ReadResult carries a record plus its provenance.
type ReadResult struct {
	Record      Record
	SourcedFrom string
}

// ScanResult carries scan output plus its provenance.
type ScanResult struct {
	Records     []Record
	SourcedFrom string
}

// Health is the wrapper's self-report.
type Health struct {
	Healthy       bool   `json:"healthy"`
	LatencyMs     int64  `json:"latency_ms"`
	ShadowSize    int    `json:"shadow_size"`
	PendingWrites int    `json:"pending_writes"`
	BreakerState  string `json:"breaker_state"`
}
