// Copyright 2025 Certen Protocol
//
// Package auditlog persists key-lifecycle audit records. Its
// Repository interface is a direct generalization of
// pkg/database/repository_attestation.go's repository shape (create +
// several list/count queries over one append-only table), reused here
// for keyregistry.AuditRecord instead of validator attestations.

package auditlog

import (
	"context"

	"github.com/google/uuid"

	"github.com/certen/credential-core/pkg/keyregistry"
)

// Repository persists and queries key-lifecycle audit records.
// keyregistry.AuditSink is satisfied structurally by Append.
type Repository interface {
	// Append records a single audit event. Must not fail silently on a
	// partially-written row: implementations either persist the whole
	// record or return an error.
	Append(ctx context.Context, record keyregistry.AuditRecord) error

	// ListByKey returns every audit record for kid, oldest first.
	ListByKey(ctx context.Context, kid uuid.UUID) ([]keyregistry.AuditRecord, error)

	// ListByActor returns the most recent audit records written by
	// actor, newest first, bounded at limit.
	ListByActor(ctx context.Context, actor string, limit int) ([]keyregistry.AuditRecord, error)

	// Recent returns the most recent audit records across all keys,
	// newest first, bounded at limit.
	Recent(ctx context.Context, limit int) ([]keyregistry.AuditRecord, error)
}
