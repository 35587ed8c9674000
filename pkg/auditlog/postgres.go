// Copyright 2025 Certen Protocol

package auditlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	_ "github.com/lib/pq" // postgres driver

	"github.com/certen/credential-core/pkg/keyregistry"
)

// schema is applied by EnsureSchema. There is no migrations directory
// in this repo (unlike the teacher's go:embed'd pkg/database/migrations) —
// one append-only table needs no migration tooling.
const schema = `
CREATE TABLE IF NOT EXISTS key_audit_records (
	id        UUID PRIMARY KEY,
	key_id    UUID NOT NULL,
	event     TEXT NOT NULL,
	reason    TEXT NOT NULL DEFAULT '',
	actor     TEXT NOT NULL,
	at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS key_audit_records_key_id_idx ON key_audit_records (key_id, at);
CREATE INDEX IF NOT EXISTS key_audit_records_actor_idx ON key_audit_records (actor, at DESC);
`

// PostgresRepository is the Postgres-backed Repository, grounded on
// pkg/database/repository_attestation.go's QueryRowContext/QueryContext
// + Scan pattern. It takes a plain *sql.DB rather than reviving the
// teacher's pkg/database.Client wrapper (deleted along with the
// anchor/batch repositories it served — see DESIGN.md) — connection
// pooling belongs to whoever constructs the *sql.DB, not this repository.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository wraps db. Call EnsureSchema once at startup.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the backing table and indexes if absent.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure audit log schema: %w", err)
	}
	return nil
}

// Append implements Repository.
func (r *PostgresRepository) Append(ctx context.Context, record keyregistry.AuditRecord) error {
	query := `
		INSERT INTO key_audit_records (id, key_id, event, reason, actor, at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.ExecContext(ctx, query,
		uuid.New(), record.KeyID, record.Event, record.Reason, record.Actor, record.At,
	)
	if err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

// ListByKey implements Repository.
func (r *PostgresRepository) ListByKey(ctx context.Context, kid uuid.UUID) ([]keyregistry.AuditRecord, error) {
	query := `
		SELECT key_id, event, reason, actor, at
		FROM key_audit_records
		WHERE key_id = $1
		ORDER BY at ASC`

	rows, err := r.db.QueryContext(ctx, query, kid)
	if err != nil {
		return nil, fmt.Errorf("query audit records by key: %w", err)
	}
	defer rows.Close()
	return scanAuditRecords(rows)
}

// ListByActor implements Repository.
func (r *PostgresRepository) ListByActor(ctx context.Context, actor string, limit int) ([]keyregistry.AuditRecord, error) {
	query := `
		SELECT key_id, event, reason, actor, at
		FROM key_audit_records
		WHERE actor = $1
		ORDER BY at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, actor, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit records by actor: %w", err)
	}
	defer rows.Close()
	return scanAuditRecords(rows)
}

// Recent implements Repository.
func (r *PostgresRepository) Recent(ctx context.Context, limit int) ([]keyregistry.AuditRecord, error) {
	query := `
		SELECT key_id, event, reason, actor, at
		FROM key_audit_records
		ORDER BY at DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent audit records: %w", err)
	}
	defer rows.Close()
	return scanAuditRecords(rows)
}

func scanAuditRecords(rows *sql.Rows) ([]keyregistry.AuditRecord, error) {
	var records []keyregistry.AuditRecord
	for rows.Next() {
		var rec keyregistry.AuditRecord
		var at time.Time
		if err := rows.Scan(&rec.KeyID, &rec.Event, &rec.Reason, &rec.Actor, &at); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		rec.At = at
		records = append(records, rec)
	}
	return records, rows.Err()
}
