package database

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateJSONBIndexes creates GIN indexes over the jsonb payload
// columns. These support the prefix scans and audit queries that
// filter inside the stored documents.
func CreateJSONBIndexes(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_kv_records_value_gin
		ON kv_records USING gin(value jsonb_path_ops)`)
	if err != nil {
		return fmt.Errorf("failed to create kv_records value index: %w", err)
	}

	_, err = db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_payload_gin
		ON audit_log USING gin(payload jsonb_path_ops)`)
	if err != nil {
		return fmt.Errorf("failed to create audit_log payload index: %w", err)
	}
	return nil
}
