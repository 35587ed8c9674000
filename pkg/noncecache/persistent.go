// Copyright 2025 Certen Protocol

package noncecache

import (
	"context"
	"encoding/binary"
	"time"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/certen/credential-core/pkg/certenerr"
)

const keyPrefix = "noncecache/"

// PersistentCache pairs the in-memory Cache with a cometbft-db backing
// store so tracked nonces survive a process restart — without it, a
// validator that crashes and restarts within a nonce's TTL window
// would forget the nonce was ever seen, reopening the replay window
// spec §4.8 exists to close. Grounded on pkg/kvdb/adapter.go's
// dbm.DB wrapping and pkg/sealedstore/devicekey.go's pattern of
// keeping the authoritative, fast-path state in memory with the
// store as a secondary durability layer rather than the primary.
//
// The in-memory Cache remains the source of truth for Contains and
// for eviction/CAS decisions; the database write only needs to
// complete before Insert returns so a restart can reload it.
type PersistentCache struct {
	mem *Cache
	db  dbm.DB
}

// NewPersistentCache constructs a PersistentCache backed by db,
// bounded at capacity in-memory entries, and primes the in-memory
// cache by replaying every not-yet-expired entry found in db.
func NewPersistentCache(db dbm.DB, capacity int) (*PersistentCache, error) {
	pc := &PersistentCache{mem: New(capacity), db: db}
	pc.mem.onEvict = func(nonce string) {
		if pc.db != nil {
			_ = pc.db.Delete([]byte(keyPrefix + nonce))
		}
	}
	if db == nil {
		return pc, nil
	}
	if err := pc.reload(); err != nil {
		return nil, err
	}
	return pc, nil
}

func (pc *PersistentCache) reload() error {
	start := []byte(keyPrefix)
	end := prefixUpperBound(start)
	it, err := pc.db.Iterator(start, end)
	if err != nil {
		return certenerr.Wrap(certenerr.KindResource, certenerr.ReasonUnavailable, "open nonce cache iterator", err)
	}
	defer it.Close()

	now := pc.mem.now()
	var stale [][]byte
	for ; it.Valid(); it.Next() {
		nonce := string(it.Key()[len(keyPrefix):])
		expiry, ok := decodeExpiry(it.Value())
		if !ok || now.After(expiry) {
			stale = append(stale, append([]byte(nil), it.Key()...))
			continue
		}
		el := pc.mem.order.PushBack(&entry{nonce: nonce, expiry: expiry})
		pc.mem.entries[nonce] = el
	}
	if err := it.Error(); err != nil {
		return certenerr.Wrap(certenerr.KindResource, certenerr.ReasonUnavailable, "iterate nonce cache", err)
	}
	for _, key := range stale {
		_ = pc.db.Delete(key)
	}
	return nil
}

// Contains delegates to the in-memory cache; the database is never
// consulted on the read path, keeping it off the validator's hot path
// beyond the initial reload.
func (pc *PersistentCache) Contains(ctx context.Context, nonce string) (bool, error) {
	return pc.mem.Contains(ctx, nonce)
}

// Insert records nonce in memory and, once that succeeds, durably.
// Only a first-time insertion (inserted == true) is persisted — a
// no-op re-insert has nothing new to durably record.
func (pc *PersistentCache) Insert(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	inserted, err := pc.mem.Insert(ctx, nonce, ttl)
	if err != nil || !inserted || pc.db == nil {
		return inserted, err
	}

	expiry, ok := pc.mem.peekExpiry(nonce)
	if !ok {
		return inserted, nil
	}
	if err := pc.db.SetSync([]byte(keyPrefix+nonce), encodeExpiry(expiry)); err != nil {
		return inserted, certenerr.Wrap(certenerr.KindResource, certenerr.ReasonUnavailable, "persist nonce", err)
	}
	return inserted, nil
}

// Sweep removes expired entries from memory and the backing store.
func (pc *PersistentCache) Sweep(_ context.Context) (int, error) {
	expired, removed := pc.mem.sweepLocked()
	if pc.db != nil {
		for _, nonce := range expired {
			if err := pc.db.Delete([]byte(keyPrefix + nonce)); err != nil {
				return removed, certenerr.Wrap(certenerr.KindResource, certenerr.ReasonUnavailable, "prune persisted nonce", err)
			}
		}
	}
	return removed, nil
}

func encodeExpiry(t time.Time) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(t.UnixNano()))
	return buf
}

func decodeExpiry(b []byte) (time.Time, bool) {
	if len(b) != 8 {
		return time.Time{}, false
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(b))), true
}

// prefixUpperBound returns the smallest byte slice greater than every
// slice with the given prefix, for use as an exclusive iterator end.
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
