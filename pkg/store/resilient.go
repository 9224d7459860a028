package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/codeready-toolchain/arbiter/pkg/apperr"
	"github.com/codeready-toolchain/arbiter/pkg/config"
	"github.com/codeready-toolchain/arbiter/pkg/events"
)

// Resilient wraps a Backend with the circuit breaker, retry, shadow,
// and pending-write machinery. It is the only component that touches
// the durable layer; everything above it is store-agnostic.
type Resilient struct {
	cfg     *config.StoreConfig
	backend Backend
	bus     *events.Bus
	breaker *gobreaker.CircuitBreaker

	shadow  *shadow
	pending *pendingLog

	// writeMu orders shadow application with write submission so a
	// single key's shadow history matches the order writes arrived,
	// regardless of breaker state.
	writeMu sync.Mutex

	drainCh  chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewResilient creates the wrapper. Call Start to launch the health
// prober and Stop to shut it down.
func NewResilient(cfg *config.StoreConfig, backend Backend, bus *events.Bus) *Resilient {
	s := &Resilient{
		cfg:     cfg,
		backend: backend,
		bus:     bus,
		shadow:  newShadow(cfg.ShadowCapacity),
		pending: newPendingLog(cfg.PendingWriteCapacity),
		drainCh: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}

	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "durable-store",
		MaxRequests: 1,
		Interval:    cfg.Breaker.FailureWindow,
		Timeout:     cfg.Breaker.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.Breaker.FailureThreshold)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// NotFound, Conflict, and validation errors are the durable
			// layer answering correctly; only transport-class failures
			// count toward tripping.
			switch apperr.KindOf(err) {
			case apperr.KindUnavailable, apperr.KindTimeout, apperr.KindInternal:
				return false
			default:
				return true
			}
		},
		OnStateChange: s.onBreakerChange,
	})
	return s
}

func (s *Resilient) onBreakerChange(_ string, from, to gobreaker.State) {
	slog.Info("Durable store breaker state changed",
		"from", from.String(), "to", to.String())
	switch to {
	case gobreaker.StateOpen:
		s.bus.Publish(events.Event{
			Type:     events.TypeSystemDegraded,
			Severity: events.SeverityWarning,
			Payload: events.SystemPayload{
				Component: "store",
				Detail:    "circuit breaker open, reads degrade to shadow",
			},
		})
	case gobreaker.StateClosed:
		s.bus.Publish(events.Event{
			Type:     events.TypeSystemRecovered,
			Severity: events.SeverityInfo,
			Payload:  events.SystemPayload{Component: "store", Detail: "circuit breaker closed"},
		})
		select {
		case s.drainCh <- struct{}{}:
		default:
		}
	}
}

// Start launches the background health prober.
func (s *Resilient) Start() {
	s.wg.Add(1)
	go s.probeLoop()
}

// Stop halts the prober and makes a final attempt to drain pending
// writes while the durable layer is reachable.
func (s *Resilient) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	if s.breaker.State() == gobreaker.StateClosed && s.pending.len() > 0 {
		s.drain()
	}
}

// execute runs fn through the breaker with the per-op timeout,
// translating breaker rejections into the error taxonomy.
func (s *Resilient) execute(ctx context.Context, fn func(ctx context.Context) error) error {
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	_, err := s.breaker.Execute(func() (any, error) {
		return nil, fn(opCtx)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return apperr.Wrap(apperr.KindUnavailable, err, "durable store circuit open")
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.Wrap(apperr.KindTimeout, err, "durable store operation timed out")
	default:
		return err
	}
}

// Read returns the record for key, falling back to the shadow when the
// durable path is degraded. NotFound from a healthy durable layer is
// authoritative and never masked by stale shadow data.
func (s *Resilient) Read(ctx context.Context, key string) (ReadResult, error) {
	var rec Record
	err := retryIdempotent(ctx, s.cfg.Retry, func() error {
		return s.execute(ctx, func(c context.Context) error {
			r, err := s.backend.Get(c, key)
			if err != nil {
				return err
			}
			rec = r
			return nil
		})
	})
	if err == nil {
		s.shadow.insertRead(rec)
		return ReadResult{Record: rec, SourcedFrom: SourceDurable}, nil
	}
	if !degraded(err) {
		return ReadResult{}, err
	}
	if cached, ok := s.shadow.get(key); ok {
		return ReadResult{Record: cached, SourcedFrom: SourceMemory}, nil
	}
	return ReadResult{}, err
}

// Write stores value under key. The shadow is updated in submission
// order before the durable attempt; if the durable path is degraded
// the write lands in the pending log and the call succeeds.
func (s *Resilient) Write(ctx context.Context, key string, value []byte, idempotent bool) error {
	s.writeMu.Lock()
	prev, _ := s.shadow.get(key)
	evicted := s.shadow.put(Record{Key: key, Value: value, Version: prev.Version + 1})
	s.writeMu.Unlock()
	if evicted > 0 {
		s.publishResourceAlert("shadow at capacity, evicted least-recently-written entry")
	}

	doWrite := func() error {
		return s.execute(ctx, func(c context.Context) error {
			version, err := s.backend.Put(c, key, value, -1)
			if err != nil {
				return err
			}
			s.writeMu.Lock()
			s.shadow.put(Record{Key: key, Value: value, Version: version})
			s.writeMu.Unlock()
			return nil
		})
	}

	var err error
	if idempotent {
		err = retryIdempotent(ctx, s.cfg.Retry, doWrite)
	} else {
		err = doWrite()
	}
	if err == nil {
		return nil
	}
	if degraded(err) {
		s.enqueuePending(Op{Kind: OpPut, Key: key, Value: value, IfVersion: -1})
		return nil
	}
	return err
}

// Delete removes key. Deletes are idempotent and always retried; a
// degraded durable path defers the delete to the pending log.
func (s *Resilient) Delete(ctx context.Context, key string) error {
	s.writeMu.Lock()
	s.shadow.delete(key)
	s.writeMu.Unlock()

	err := retryIdempotent(ctx, s.cfg.Retry, func() error {
		return s.execute(ctx, func(c context.Context) error {
			return s.backend.Delete(c, key)
		})
	})
	if err == nil {
		return nil
	}
	if degraded(err) {
		s.enqueuePending(Op{Kind: OpDelete, Key: key})
		return nil
	}
	return err
}

// Scan lists records under prefix, degrading to a shadow scan when the
// durable path is unreachable.
func (s *Resilient) Scan(ctx context.Context, prefix string) (ScanResult, error) {
	var recs []Record
	err := retryIdempotent(ctx, s.cfg.Retry, func() error {
		return s.execute(ctx, func(c context.Context) error {
			r, err := s.backend.Scan(c, prefix)
			if err != nil {
				return err
			}
			recs = r
			return nil
		})
	})
	if err == nil {
		for _, rec := range recs {
			s.shadow.insertRead(rec)
		}
		return ScanResult{Records: recs, SourcedFrom: SourceDurable}, nil
	}
	if degraded(err) {
		return ScanResult{Records: s.shadow.scanPrefix(prefix), SourcedFrom: SourceMemory}, nil
	}
	return ScanResult{}, err
}

// Tx accumulates operations for an atomic durable batch. Reads inside
// the transaction always hit the durable layer.
type Tx struct {
	s   *Resilient
	ctx context.Context
	ops []Op
}

// Get reads the current durable record for key.
func (t *Tx) Get(key string) (Record, error) {
	var rec Record
	err := t.s.execute(t.ctx, func(c context.Context) error {
		r, err := t.s.backend.Get(c, key)
		if err != nil {
			return err
		}
		rec = r
		return nil
	})
	return rec, err
}

// Put stages a conditional write. ifVersion < 0 writes unconditionally.
func (t *Tx) Put(key string, value []byte, ifVersion int64) {
	t.ops = append(t.ops, Op{Kind: OpPut, Key: key, Value: value, IfVersion: ifVersion})
}

// Delete stages a delete.
func (t *Tx) Delete(key string) {
	t.ops = append(t.ops, Op{Kind: OpDelete, Key: key})
}

// Transaction runs fn to build an atomic batch and commits it. It is
// rejected outright while the breaker is open and is never retried.
func (s *Resilient) Transaction(ctx context.Context, fn func(tx *Tx) error) error {
	if s.breaker.State() == gobreaker.StateOpen {
		return apperr.New(apperr.KindUnavailable, "durable store circuit open, transactions rejected")
	}

	tx := &Tx{s: s, ctx: ctx}
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.ops) == 0 {
		return nil
	}
	if err := s.execute(ctx, func(c context.Context) error {
		return s.backend.Tx(c, tx.ops)
	}); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	for _, op := range tx.ops {
		switch op.Kind {
		case OpPut:
			prev, _ := s.shadow.get(op.Key)
			s.shadow.put(Record{Key: op.Key, Value: op.Value, Version: prev.Version + 1})
		case OpDelete:
			s.shadow.delete(op.Key)
		}
	}
	return nil
}

// HealthCheck probes the durable layer and reports the wrapper state.
func (s *Resilient) HealthCheck(ctx context.Context) Health {
	start := time.Now()
	err := s.execute(ctx, func(c context.Context) error {
		return s.backend.Ping(c)
	})
	return Health{
		Healthy:       err == nil,
		LatencyMs:     time.Since(start).Milliseconds(),
		ShadowSize:    s.shadow.len(),
		PendingWrites: s.pending.len(),
		BreakerState:  s.breaker.State().String(),
	}
}

// BreakerState exposes the current breaker state for status surfaces.
func (s *Resilient) BreakerState() string {
	return s.breaker.State().String()
}

func (s *Resilient) enqueuePending(op Op) {
	s.shadow.pin(op.Key)
	if dropped := s.pending.append(pendingWrite{Op: op, QueuedAt: time.Now()}); dropped != nil {
		s.dropPending(*dropped)
	}
}

// dropPending records one pending write lost to the capacity bound:
// the shadow pin is released and a degraded event is published.
func (s *Resilient) dropPending(w pendingWrite) {
	s.shadow.unpin(w.Op.Key)
	s.bus.Publish(events.Event{
		Type:     events.TypeSystemDegraded,
		Severity: events.SeverityWarning,
		Payload: events.SystemPayload{
			Component: "store",
			Detail:    "pending-write log full, dropped oldest write for " + w.Op.Key,
			Dropped:   1,
		},
	})
}

func (s *Resilient) publishResourceAlert(detail string) {
	s.bus.Publish(events.Event{
		Type:     events.TypeSystemResourceAlert,
		Severity: events.SeverityWarning,
		Payload:  events.SystemPayload{Component: "store", Detail: detail},
	})
}

// probeLoop issues the lightweight health read every ProbeInterval.
// Probe successes count toward closing the breaker; once closed, the
// pending log is drained in order.
func (s *Resilient) probeLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := s.execute(context.Background(), func(c context.Context) error {
				return s.backend.Ping(c)
			})
			if err == nil && s.breaker.State() == gobreaker.StateClosed && s.pending.len() > 0 {
				s.drain()
			}
		case <-s.drainCh:
			s.drain()
		case <-s.stopCh:
			return
		}
	}
}

// drain replays pending writes in order. A transport failure stops the
// drain and requeues the remainder; a durable-layer rejection is a
// reconciliation failure, logged and never silently discarded.
func (s *Resilient) drain() {
	writes := s.pending.takeAll()
	for i, w := range writes {
		w := w
		err := s.execute(context.Background(), func(c context.Context) error {
			switch w.Op.Kind {
			case OpDelete:
				return s.backend.Delete(c, w.Op.Key)
			default:
				_, err := s.backend.Put(c, w.Op.Key, w.Op.Value, w.Op.IfVersion)
				return err
			}
		})
		if err == nil {
			s.shadow.unpin(w.Op.Key)
			continue
		}
		if apperr.Retryable(err) {
			for _, d := range s.pending.requeueFront(writes[i:]) {
				s.dropPending(d)
			}
			return
		}
		s.shadow.unpin(w.Op.Key)
		slog.Error("Reconciliation failure replaying pending write",
			"key", w.Op.Key, "queued_at", w.QueuedAt, "error", err)
	}
	slog.Info("Pending-write log drained", "count", len(writes))
}

// degraded reports whether err means the durable path is unreachable
// (as opposed to answering with a definitive result).
func degraded(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindUnavailable, apperr.KindTimeout, apperr.KindExhausted:
		return true
	default:
		return false
	}
}
