// Copyright 2025 Certen Protocol

package noncecache

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestCacheReplayDetection(t *testing.T) {
	c := New(0)
	ctx := context.Background()

	used, err := c.Contains(ctx, "n1")
	if err != nil || used {
		t.Fatalf("Contains on unseen nonce = %v, %v; want false, nil", used, err)
	}

	inserted, err := c.Insert(ctx, "n1", time.Minute)
	if err != nil || !inserted {
		t.Fatalf("first Insert = %v, %v; want true, nil", inserted, err)
	}

	used, err = c.Contains(ctx, "n1")
	if err != nil || !used {
		t.Fatalf("Contains after insert = %v, %v; want true, nil", used, err)
	}

	inserted, err = c.Insert(ctx, "n1", time.Minute)
	if err != nil {
		t.Fatalf("re-insert of tracked nonce returned error: %v", err)
	}
	if inserted {
		t.Fatal("re-insert of an already-tracked nonce reported inserted=true; replay race would not collapse")
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	c := New(0)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if _, err := c.Insert(ctx, "n1", time.Minute); err != nil {
		t.Fatal(err)
	}

	now = now.Add(2 * time.Minute)
	used, err := c.Contains(ctx, "n1")
	if err != nil || used {
		t.Fatalf("Contains after TTL elapsed = %v, %v; want false, nil", used, err)
	}

	// An expired nonce is eligible for reinsertion — a replayer cannot
	// be rejected forever for a nonce whose window has genuinely closed.
	inserted, err := c.Insert(ctx, "n1", time.Minute)
	if err != nil || !inserted {
		t.Fatalf("re-insert after expiry = %v, %v; want true, nil", inserted, err)
	}
}

func TestCacheOverflowEvictsOldest(t *testing.T) {
	c := New(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.Insert(ctx, fmt.Sprintf("n%d", i), time.Hour); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := c.Insert(ctx, "n3", time.Hour); err != nil {
		t.Fatal(err)
	}

	if c.Len() != 3 {
		t.Fatalf("Len() = %d; want capacity-bounded 3", c.Len())
	}
	used, _ := c.Contains(ctx, "n0")
	if used {
		t.Fatal("oldest entry n0 should have been evicted on overflow")
	}
	used, _ = c.Contains(ctx, "n3")
	if !used {
		t.Fatal("most recently inserted entry n3 should still be tracked")
	}
}

func TestCacheSweepRemovesOnlyExpired(t *testing.T) {
	c := New(0)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if _, err := c.Insert(ctx, "short", 30*time.Second); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Insert(ctx, "long", time.Hour); err != nil {
		t.Fatal(err)
	}

	now = now.Add(time.Minute)
	removed, err := c.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("Sweep removed %d entries; want 1", removed)
	}
	if c.Len() != 1 {
		t.Fatalf("Len() after sweep = %d; want 1", c.Len())
	}
	used, _ := c.Contains(ctx, "long")
	if !used {
		t.Fatal("sweep should not have removed the unexpired entry")
	}
}

func TestCacheConcurrentInsertExactlyOneWins(t *testing.T) {
	c := New(0)
	ctx := context.Background()
	const goroutines = 64

	wins := make(chan bool, goroutines)
	start := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		go func() {
			<-start
			inserted, err := c.Insert(ctx, "shared-nonce", time.Minute)
			if err != nil {
				wins <- false
				return
			}
			wins <- inserted
		}()
	}
	close(start)

	winners := 0
	for i := 0; i < goroutines; i++ {
		if <-wins {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("%d goroutines observed inserted=true for the same nonce; want exactly 1", winners)
	}
}
