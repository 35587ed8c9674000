// Copyright 2025 Certen Protocol

package auditlog

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/certen/credential-core/pkg/keyregistry"
)

func TestMemoryRepositoryListByKeyPreservesOrder(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	kid := uuid.New()
	other := uuid.New()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []string{"rotate", "deprecate", "retire"}
	for i, ev := range events {
		if err := repo.Append(ctx, keyregistry.AuditRecord{KeyID: kid, Event: ev, Actor: "registry", At: base.Add(time.Duration(i) * time.Hour)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := repo.Append(ctx, keyregistry.AuditRecord{KeyID: other, Event: "rotate", Actor: "registry", At: base}); err != nil {
		t.Fatal(err)
	}

	records, err := repo.ListByKey(ctx, kid)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != len(events) {
		t.Fatalf("ListByKey returned %d records; want %d", len(records), len(events))
	}
	for i, rec := range records {
		if rec.Event != events[i] {
			t.Fatalf("record %d event = %q; want %q (order not preserved)", i, rec.Event, events[i])
		}
	}
}

func TestMemoryRepositoryRecentIsNewestFirstAndBounded(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		if err := repo.Append(ctx, keyregistry.AuditRecord{
			KeyID: uuid.New(), Event: "rotate", Actor: "registry", At: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatal(err)
		}
	}

	records, err := repo.Recent(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("Recent(2) returned %d records; want 2", len(records))
	}
	if !records[0].At.After(records[1].At) {
		t.Fatalf("Recent did not return newest-first order: %v before %v", records[0].At, records[1].At)
	}
}

func TestMemoryRepositoryListByActorFiltersCorrectly(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := repo.Append(ctx, keyregistry.AuditRecord{KeyID: uuid.New(), Event: "retire", Actor: "sweep", At: base}); err != nil {
		t.Fatal(err)
	}
	if err := repo.Append(ctx, keyregistry.AuditRecord{KeyID: uuid.New(), Event: "rotate", Actor: "operator", At: base.Add(time.Minute)}); err != nil {
		t.Fatal(err)
	}

	records, err := repo.ListByActor(ctx, "sweep", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Actor != "sweep" {
		t.Fatalf("ListByActor(sweep) = %+v; want exactly one sweep-authored record", records)
	}
}

// Compile-time check that MemoryRepository has keyregistry.AuditSink's
// Append shape — the same structural relationship production code
// relies on — so a Repository/AuditSink signature drift fails to
// compile here instead of only surfacing in an unbuilt caller.
var _ interface {
	Append(ctx context.Context, record keyregistry.AuditRecord) error
} = (*MemoryRepository)(nil)
