package security

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/arbiter/pkg/events"
)

const auditInsertSQL = `
	INSERT INTO audit_log
		(occurred_at, identity, tenant, operation, target_id, fingerprint, allowed, reason, payload)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

// AuditRecorder persists security events to the audit_log table. It
// subscribes to the security topic so denials and allowed mutations
// are recorded on the same path the live event surface uses.
type AuditRecorder struct {
	db  *sql.DB
	bus *events.Bus
	sub *events.Subscription

	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewAuditRecorder creates a recorder; call Start to begin consuming.
func NewAuditRecorder(db *sql.DB, bus *events.Bus) *AuditRecorder {
	return &AuditRecorder{db: db, bus: bus}
}

// Start subscribes to the security topic and records events until Stop.
func (r *AuditRecorder) Start() {
	r.sub = r.bus.Subscribe("security")
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for evt := range r.sub.C() {
			r.record(evt)
		}
	}()
}

// Stop unsubscribes and waits for the consumer to drain.
func (r *AuditRecorder) Stop() {
	r.stopOnce.Do(func() {
		if r.sub != nil {
			r.bus.Unsubscribe(r.sub)
		}
		r.wg.Wait()
	})
}

func (r *AuditRecorder) record(evt events.Event) {
	payload, ok := evt.Payload.(events.SecurityPayload)
	if !ok {
		return
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to encode audit payload", "type", evt.Type, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = r.db.ExecContext(ctx, auditInsertSQL,
		evt.Timestamp,
		payload.Identity,
		payload.Tenant,
		payload.Operation,
		payload.TargetID,
		payload.Fingerprint,
		evt.Type == events.TypeSecurityAudit,
		payload.Reason,
		raw,
	)
	if err != nil {
		// Audit persistence is best effort; the event already reached
		// live subscribers and the file sink.
		slog.Error("Failed to persist audit entry", "type", evt.Type, "error", err)
	}
}
