// Copyright 2025 Certen Protocol
//
// Package sealedstore is the on-device sealed-credential store of
// spec §4.3. Grounded on pkg/kvdb/adapter.go's storage indirection,
// pkg/server/batch_handlers.go's paginated/filtered metadata-list
// habit (never returning plaintext from a list endpoint), and
// pkg/anchor_proof/verifier.go's subtle.ConstantTimeCompare usage for
// the device tag comparison in Open.

package sealedstore

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"sync"
	"time"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/cometbft/cometbft/libs/log"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"

	"github.com/certen/credential-core/pkg/certenerr"
	"github.com/certen/credential-core/pkg/credential"
)

const recordKeyPrefix = "sealedstore/cred/"

// Status is a sealed credential's derived lifecycle state, computed at
// read time from the decoded credential's expiry rather than stored.
type Status string

const (
	StatusValid   Status = "valid"
	StatusExpired Status = "expired"
)

type record struct {
	CredentialID string    `json:"credential_id"`
	PolicyID     string    `json:"policy_id"`
	Ciphertext   []byte    `json:"ciphertext"`
	DeviceTag    string    `json:"device_tag"`
	ExpiresAt    time.Time `json:"expires_at"`
	SealedAt     time.Time `json:"sealed_at"`
}

// SealedCredentialMeta is the metadata view list() returns — never the
// plaintext credential bytes.
type SealedCredentialMeta struct {
	CredentialID uuid.UUID
	PolicyID     string
	DeviceTag    string
	Status       Status
	SealedAt     time.Time
	ExpiresAt    time.Time
}

// ListFilter narrows List to a subset of sealed credentials.
type ListFilter struct {
	PolicyID string // empty matches any
	Status   Status // empty matches any
}

// AuditSink receives panic-wipe audit records.
type AuditSink interface {
	Append(ctx context.Context, event, cause string, countWiped int, at time.Time) error
}

// CircuitCache is the subset of circuitloader.Loader that Panic clears
// along with the sealed credentials and device key, per §4.3's
// "clears any cached circuit artifacts". Optional: a Store with no
// circuit cache wired simply skips that step.
type CircuitCache interface {
	ClearCache()
}

// Store is the sealed-credential store. Operations on a single
// credential id are serialized; concurrent List is safe; Panic blocks
// other writers until it completes (§4.3's concurrency requirement).
type Store struct {
	db       dbm.DB
	key      *DeviceAEAD
	audit    AuditSink
	circuits CircuitCache
	log      log.Logger
	panicMu  sync.RWMutex // write-locked only during Panic
	idLocks  sync.Map     // uuid.UUID -> *sync.Mutex
}

// New constructs a Store over db, using key as the device AEAD.
func New(db dbm.DB, key *DeviceAEAD, audit AuditSink, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Store{db: db, key: key, audit: audit, log: logger}
}

// WithCircuitCache wires a circuit loader whose cache Panic clears.
func (s *Store) WithCircuitCache(cache CircuitCache) *Store {
	s.circuits = cache
	return s
}

func (s *Store) lockFor(id uuid.UUID) *sync.Mutex {
	v, _ := s.idLocks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func recordKey(id uuid.UUID) []byte {
	return []byte(recordKeyPrefix + id.String())
}

// deviceTag derives the non-secret, deterministic digest embedded in
// credentials and proofs to bind them to the originating device: a
// domain-separated hash of the device key's public descriptor.
func deviceTag(descriptor [32]byte, credentialID uuid.UUID) string {
	h := sha256.Sum256(append(append([]byte("CERTEN_DEVICE_TAG_V1"), descriptor[:]...), credentialID[:]...))
	return hexutil.Encode(h[:])
}

// Seal implements spec §4.3's seal(cred_bytes, policy_id): encrypts
// credWire (the compact-encoded credential) under the device AEAD key
// and stores it indexed by a freshly minted credential id.
func (s *Store) Seal(credWire string, policyID string) (uuid.UUID, error) {
	s.panicMu.RLock()
	defer s.panicMu.RUnlock()

	id := uuid.New()
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	ciphertext, err := s.key.Seal([]byte(credWire))
	if err != nil {
		return uuid.Nil, err
	}
	descriptor, err := s.key.Descriptor()
	if err != nil {
		return uuid.Nil, err
	}

	expiresAt := decodeExpiry(credWire)
	rec := record{
		CredentialID: id.String(),
		PolicyID:     policyID,
		Ciphertext:   ciphertext,
		DeviceTag:    deviceTag(descriptor, id),
		ExpiresAt:    expiresAt,
		SealedAt:     time.Now().UTC(),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return uuid.Nil, certenerr.Wrap(certenerr.KindProgramming, certenerr.ReasonInvariantViolation, "marshal sealed record", err)
	}
	if err := s.db.SetSync(recordKey(id), raw); err != nil {
		return uuid.Nil, certenerr.Wrap(certenerr.KindResource, certenerr.ReasonUnavailable, "persist sealed credential", err)
	}
	return id, nil
}

// Open implements spec §4.3's open(credential_id): decrypts and
// returns the compact-encoded credential, failing with NotFound or a
// Tampered AEAD authentication error.
func (s *Store) Open(credentialID uuid.UUID) (string, error) {
	s.panicMu.RLock()
	defer s.panicMu.RUnlock()

	mu := s.lockFor(credentialID)
	mu.Lock()
	defer mu.Unlock()

	raw, err := s.db.Get(recordKey(credentialID))
	if err != nil {
		return "", certenerr.Wrap(certenerr.KindResource, certenerr.ReasonUnavailable, "read sealed credential", err)
	}
	if raw == nil {
		return "", certenerr.ErrCredentialNotFound
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return "", certenerr.Wrap(certenerr.KindProgramming, certenerr.ReasonInvariantViolation, "unmarshal sealed record", err)
	}

	descriptor, err := s.key.Descriptor()
	if err != nil {
		return "", err
	}
	expectedTag := deviceTag(descriptor, credentialID)
	if subtle.ConstantTimeCompare([]byte(expectedTag), []byte(rec.DeviceTag)) != 1 {
		return "", certenerr.ErrTampered
	}

	plaintext, err := s.key.Open(rec.Ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// List implements spec §4.3's list(filter): metadata only, never
// plaintext, with status derived at read time from expiry.
func (s *Store) List(filter ListFilter) ([]SealedCredentialMeta, error) {
	iter, err := s.db.Iterator([]byte(recordKeyPrefix), dbm.PrefixEndBytes([]byte(recordKeyPrefix)))
	if err != nil {
		return nil, certenerr.Wrap(certenerr.KindResource, certenerr.ReasonUnavailable, "open sealed store iterator", err)
	}
	defer iter.Close()

	now := time.Now().UTC()
	var out []SealedCredentialMeta
	for ; iter.Valid(); iter.Next() {
		var rec record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		status := StatusValid
		if now.After(rec.ExpiresAt) {
			status = StatusExpired
		}
		if filter.PolicyID != "" && filter.PolicyID != rec.PolicyID {
			continue
		}
		if filter.Status != "" && filter.Status != status {
			continue
		}
		id, err := uuid.Parse(rec.CredentialID)
		if err != nil {
			continue
		}
		out = append(out, SealedCredentialMeta{
			CredentialID: id,
			PolicyID:     rec.PolicyID,
			DeviceTag:    rec.DeviceTag,
			Status:       status,
			SealedAt:     rec.SealedAt,
			ExpiresAt:    rec.ExpiresAt,
		})
	}
	return out, nil
}

// Erase implements spec §4.3's erase(credential_id).
func (s *Store) Erase(credentialID uuid.UUID) error {
	s.panicMu.RLock()
	defer s.panicMu.RUnlock()

	mu := s.lockFor(credentialID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.db.DeleteSync(recordKey(credentialID)); err != nil {
		return certenerr.Wrap(certenerr.KindResource, certenerr.ReasonUnavailable, "erase sealed credential", err)
	}
	return nil
}

// PanicResult reports what Panic managed to clear.
type PanicResult struct {
	CountWiped     int
	DeviceKeyWiped bool
	StoresCleared  []string
	StoresFailed   []string
}

// Panic implements spec §4.3's panic(): the catastrophic reset. Best
// effort — partial success still completes as much as possible and
// surfaces which stores were cleared. Blocks other write operations
// until it completes.
func (s *Store) Panic(ctx context.Context, cause string) PanicResult {
	s.panicMu.Lock()
	defer s.panicMu.Unlock()

	var result PanicResult

	metas, err := s.List(ListFilter{})
	if err != nil {
		result.StoresFailed = append(result.StoresFailed, "credentials")
	} else {
		wiped := 0
		for _, m := range metas {
			if err := s.db.DeleteSync(recordKey(m.CredentialID)); err == nil {
				wiped++
			}
		}
		result.CountWiped = wiped
		result.StoresCleared = append(result.StoresCleared, "credentials")
	}

	if err := s.key.Wipe(); err != nil {
		result.StoresFailed = append(result.StoresFailed, "device_key")
	} else {
		result.DeviceKeyWiped = true
		result.StoresCleared = append(result.StoresCleared, "device_key")
	}

	if s.circuits != nil {
		s.circuits.ClearCache()
		result.StoresCleared = append(result.StoresCleared, "circuit_cache")
	}

	if s.audit != nil {
		if err := s.audit.Append(ctx, "panic", cause, result.CountWiped, time.Now().UTC()); err != nil {
			s.log.Error("failed to write panic audit record", "err", err)
		}
	}
	s.log.Info("sealed store panic-wipe completed", "cause", cause, "count_wiped", result.CountWiped)
	return result
}

// decodeExpiry best-effort extracts the "exp" claim from a compact
// credential wire string for list()'s status derivation. This is not
// a trust decision — the store never verifies the credential it
// seals; trust in the expiry comes from whoever later re-verifies it.
func decodeExpiry(wire string) time.Time {
	_, _, payload, err := credential.Decode(wire)
	if err != nil {
		return time.Time{}
	}
	switch v := payload["exp"].(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return time.Unix(i, 0).UTC()
		}
	}
	return time.Time{}
}
