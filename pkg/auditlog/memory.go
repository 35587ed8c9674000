// Copyright 2025 Certen Protocol

package auditlog

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/certen/credential-core/pkg/keyregistry"
)

// MemoryRepository is an in-process Repository, intended for tests
// and for single-process deployments that accept losing audit history
// on restart. Mirrors PostgresRepository's ordering semantics so the
// two are interchangeable in tests.
type MemoryRepository struct {
	mu      sync.Mutex
	records []keyregistry.AuditRecord
}

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// Append implements Repository.
func (m *MemoryRepository) Append(_ context.Context, record keyregistry.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return nil
}

// ListByKey implements Repository.
func (m *MemoryRepository) ListByKey(_ context.Context, kid uuid.UUID) ([]keyregistry.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []keyregistry.AuditRecord
	for _, rec := range m.records {
		if rec.KeyID == kid {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ListByActor implements Repository.
func (m *MemoryRepository) ListByActor(_ context.Context, actor string, limit int) ([]keyregistry.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []keyregistry.AuditRecord
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		if m.records[i].Actor == actor {
			out = append(out, m.records[i])
		}
	}
	return out, nil
}

// Recent implements Repository.
func (m *MemoryRepository) Recent(_ context.Context, limit int) ([]keyregistry.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []keyregistry.AuditRecord
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}
