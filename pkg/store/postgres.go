package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/codeready-toolchain/arbiter/pkg/apperr"
	"github.com/codeready-toolchain/arbiter/pkg/database"
)

// PostgresBackend implements Backend over the kv_records table. All
// access is raw SQL through the pooled pgx connection; values are
// stored as jsonb and versions increase monotonically per key.
type PostgresBackend struct {
	db *sql.DB
}

// NewPostgresBackend wraps a database client.
func NewPostgresBackend(client *database.Client) *PostgresBackend {
	return &PostgresBackend{db: client.DB()}
}

func (p *PostgresBackend) Get(ctx context.Context, key string) (Record, error) {
	var rec Record
	rec.Key = key
	err := p.db.QueryRowContext(ctx,
		`SELECT value, version FROM kv_records WHERE key = $1`, key).
		Scan(&rec.Value, &rec.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, apperr.New(apperr.KindNotFound, "key %q not found", key)
	}
	if err != nil {
		return Record{}, classifyPgError(err)
	}
	return rec, nil
}

func (p *PostgresBackend) Put(ctx context.Context, key string, value []byte, ifVersion int64) (int64, error) {
	return putRecord(ctx, p.db, key, value, ifVersion)
}

func (p *PostgresBackend) Delete(ctx context.Context, key string) error {
	if _, err := p.db.ExecContext(ctx,
		`DELETE FROM kv_records WHERE key = $1`, key); err != nil {
		return classifyPgError(err)
	}
	return nil
}

func (p *PostgresBackend) Scan(ctx context.Context, prefix string) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT key, value, version FROM kv_records WHERE key LIKE $1 ORDER BY key`,
		escapeLike(prefix)+"%")
	if err != nil {
		return nil, classifyPgError(err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Key, &rec.Value, &rec.Version); err != nil {
			return nil, classifyPgError(err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPgError(err)
	}
	return out, nil
}

func (p *PostgresBackend) Tx(ctx context.Context, ops []Op) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyPgError(err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, op := range ops {
		switch op.Kind {
		case OpPut:
			if _, err := putRecord(ctx, tx, op.Key, op.Value, op.IfVersion); err != nil {
				return err
			}
		case OpDelete:
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM kv_records WHERE key = $1`, op.Key); err != nil {
				return classifyPgError(err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return classifyPgError(err)
	}
	return nil
}

func (p *PostgresBackend) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return classifyPgError(err)
	}
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func putRecord(ctx context.Context, db execer, key string, value []byte, ifVersion int64) (int64, error) {
	var version int64
	var err error
	if ifVersion < 0 {
		err = db.QueryRowContext(ctx,
			`INSERT INTO kv_records (key, value, version, updated_at)
			 VALUES ($1, $2, 1, now())
			 ON CONFLICT (key) DO UPDATE
			 SET value = EXCLUDED.value, version = kv_records.version + 1, updated_at = now()
			 RETURNING version`,
			key, value).Scan(&version)
	} else if ifVersion == 0 {
		// Insert-only: the key must not exist yet.
		err = db.QueryRowContext(ctx,
			`INSERT INTO kv_records (key, value, version, updated_at)
			 VALUES ($1, $2, 1, now())
			 ON CONFLICT (key) DO NOTHING
			 RETURNING version`,
			key, value).Scan(&version)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, apperr.New(apperr.KindConflict, "key %q already exists", key)
		}
	} else {
		err = db.QueryRowContext(ctx,
			`UPDATE kv_records
			 SET value = $2, version = version + 1, updated_at = now()
			 WHERE key = $1 AND version = $3
			 RETURNING version`,
			key, value, ifVersion).Scan(&version)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, apperr.New(apperr.KindConflict,
				"version mismatch for %q: want %d", key, ifVersion)
		}
	}
	if err != nil {
		return 0, classifyPgError(err)
	}
	return version, nil
}

// classifyPgError maps driver errors into the taxonomy so the breaker
// and retrier treat transport failures as retryable and everything
// else as definitive.
func classifyPgError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindTimeout, err, "database operation timed out")
	}
	if errors.Is(err, sql.ErrConnDone) {
		return apperr.Wrap(apperr.KindUnavailable, err, "database connection closed")
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// SQLSTATE classes 08 (connection exception), 53 (insufficient
		// resources), and 57 (operator intervention) are transport-level.
		switch {
		case strings.HasPrefix(pgErr.Code, "08"),
			strings.HasPrefix(pgErr.Code, "53"),
			strings.HasPrefix(pgErr.Code, "57"):
			return apperr.Wrap(apperr.KindUnavailable, err, "database unavailable: %s", pgErr.Code)
		default:
			return apperr.Wrap(apperr.KindInternal, err, "database error: %s", pgErr.Code)
		}
	}
	// Dial/reset errors surface as plain net errors.
	return apperr.Wrap(apperr.KindUnavailable, err, "database unreachable")
}

// escapeLike escapes LIKE metacharacters in a literal prefix.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}
