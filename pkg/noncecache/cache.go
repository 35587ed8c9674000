// Copyright 2025 Certen Protocol
//
// Package noncecache implements the bounded, TTL-backed replay cache
// of spec §4.8: the validator's nonce-freshness check (§4.7 step 7)
// depends on a `contains`/`insert`/`sweep` set with wall-clock expiry.
// Grounded on pkg/sealedstore/devicekey.go's mutex-guarded, dbm.DB-
// backed state machine for the storage/locking shape; there is no
// pack precedent for the bounded-FIFO eviction policy itself, which
// uses container/list (stdlib) — no example repo in the pack ships a
// bounded-cache library, so this is the documented stdlib exception.
package noncecache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// DefaultCapacity bounds the number of simultaneously-tracked nonces
// absent an explicit capacity. Exceeding it evicts the oldest entry by
// insertion order (not by expiry), per §4.8's documented overflow
// behavior: the displaced nonce's remaining TTL window becomes an
// unavoidable (if narrow) replay opportunity.
const DefaultCapacity = 1_000_000

// Cache is an in-memory, mutex-guarded nonce replay cache. Safe for
// concurrent use by multiple goroutines.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front = oldest, back = most recently inserted
	now      func() time.Time

	// onEvict, if set, is called (with c.mu held) whenever an entry is
	// displaced by capacity overflow. Used by PersistentCache to keep
	// its durable copy from accumulating keys the in-memory cache has
	// already forgotten. Expiry-driven removal by Sweep is pruned
	// separately by PersistentCache.Sweep, which knows which nonces it
	// swept; entries reclaimed lazily by Contains stay in the durable
	// copy until a reload drops them as expired.
	onEvict func(nonce string)
}

type entry struct {
	nonce  string
	expiry time.Time
}

// New constructs an in-memory Cache bounded at capacity entries. A
// non-positive capacity falls back to DefaultCapacity.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

// Contains reports whether nonce is currently tracked (i.e. would
// constitute a replay), ignoring entries whose TTL has already
// elapsed. Linearizable with respect to Insert.
func (c *Cache) Contains(_ context.Context, nonce string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[nonce]
	if !ok {
		return false, nil
	}
	e := el.Value.(*entry)
	if c.now().After(e.expiry) {
		c.removeLocked(el)
		return false, nil
	}
	return true, nil
}

// Insert records nonce with the given TTL. It is idempotent-equivalent
// — inserting an already-present, unexpired nonce is a no-op that
// still returns a nil error — but additionally reports, via inserted,
// whether this call was the one that performed the (re-)insertion.
// That signal is what lets a caller collapse the concurrent-replay
// race spec §5 calls out: two validations racing to commit the same
// nonce cannot both observe inserted == true.
func (c *Cache) Insert(_ context.Context, nonce string, ttl time.Duration) (inserted bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.entries[nonce]; ok {
		e := el.Value.(*entry)
		if now.After(e.expiry) {
			// Expired: this counts as a fresh first-time insertion.
			e.expiry = now.Add(ttl)
			c.order.MoveToBack(el)
			return true, nil
		}
		return false, nil
	}

	el := c.order.PushBack(&entry{nonce: nonce, expiry: now.Add(ttl)})
	c.entries[nonce] = el

	if c.order.Len() > c.capacity {
		c.evictOldestLocked()
	}
	return true, nil
}

// Sweep removes all expired entries and reports how many were
// removed. Call periodically; Contains and Insert already reclaim
// individual expired entries lazily, so Sweep is only needed to bound
// memory for nonces nobody looks up again.
func (c *Cache) Sweep(_ context.Context) (removed int, err error) {
	_, removed = c.sweepLocked()
	return removed, nil
}

// sweepLocked removes expired entries and returns their nonces
// alongside the count, so callers layering durable storage on top
// (PersistentCache) know exactly which keys to prune there too.
func (c *Cache) sweepLocked() (expiredNonces []string, removed int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var next *list.Element
	for el := c.order.Front(); el != nil; el = next {
		next = el.Next()
		if now.After(el.Value.(*entry).expiry) {
			expiredNonces = append(expiredNonces, el.Value.(*entry).nonce)
			c.removeLocked(el)
			removed++
			continue
		}
		// order is insertion order, not expiry order, so a later
		// element may still have expired earlier when TTLs differ —
		// keep scanning rather than stopping at the first survivor.
	}
	return expiredNonces, removed
}

// peekExpiry returns the currently-recorded expiry for nonce, if any.
func (c *Cache) peekExpiry(nonce string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[nonce]
	if !ok {
		return time.Time{}, false
	}
	return el.Value.(*entry).expiry, true
}

// Len reports the number of entries currently tracked, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) evictOldestLocked() {
	oldest := c.order.Front()
	if oldest == nil {
		return
	}
	nonce := oldest.Value.(*entry).nonce
	c.removeLocked(oldest)
	if c.onEvict != nil {
		c.onEvict(nonce)
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	delete(c.entries, e.nonce)
	c.order.Remove(el)
}
