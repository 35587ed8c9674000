// Copyright 2025 Certen Protocol
//
// DeviceAEAD is the device-local, non-exportable AES-256-GCM key of
// spec §4.3. Grounded on pkg/kvdb/adapter.go's thin dbm.DB wrapper for
// the storage indirection; the AEAD construction itself has no pack
// precedent (see DESIGN.md) and uses crypto/aes + crypto/cipher
// directly, the ecosystem-standard choice.

package sealedstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"sync"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/certen/credential-core/pkg/certenerr"
)

const deviceKeyDescriptorKey = "sealedstore/device-key-descriptor"

// DeviceAEAD owns the device-local AEAD key. The raw key bytes are
// held only in process memory; the backing store only ever sees a
// descriptor (a hash of the key, never the key itself), so losing the
// store does not leak key material, and losing the process loses the
// key by design (§4.3: "a fresh key is generated and any existing
// sealed credentials become permanently unreadable").
type DeviceAEAD struct {
	mu  sync.Mutex
	db  dbm.DB
	key []byte // 32 bytes, process-memory only
	gcm cipher.AEAD
}

// NewDeviceAEAD constructs a DeviceAEAD backed by db. The key is not
// generated until first use (Current, Seal, or Open).
func NewDeviceAEAD(db dbm.DB) *DeviceAEAD {
	return &DeviceAEAD{db: db}
}

// Current returns the non-exportable key's AEAD cipher, generating a
// fresh 256-bit key and persisting its descriptor on first access.
func (d *DeviceAEAD) Current() (cipher.AEAD, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentLocked()
}

func (d *DeviceAEAD) currentLocked() (cipher.AEAD, error) {
	if d.gcm != nil {
		return d.gcm, nil
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, certenerr.Wrap(certenerr.KindResource, certenerr.ReasonUnavailable, "generate device key", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, certenerr.Wrap(certenerr.KindProgramming, certenerr.ReasonInvariantViolation, "construct AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, certenerr.Wrap(certenerr.KindProgramming, certenerr.ReasonInvariantViolation, "construct GCM mode", err)
	}

	descriptor := sha256.Sum256(key)
	if err := d.db.SetSync([]byte(deviceKeyDescriptorKey), descriptor[:]); err != nil {
		return nil, certenerr.Wrap(certenerr.KindResource, certenerr.ReasonUnavailable, "persist device key descriptor", err)
	}

	d.key = key
	d.gcm = gcm
	return gcm, nil
}

// Descriptor returns the SHA-256 of the current key's bytes — a
// public, non-secret fingerprint used to derive device tags. Never
// exposes the key itself.
func (d *DeviceAEAD) Descriptor() ([32]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.currentLocked(); err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(d.key), nil
}

// Wipe discards the in-memory key and its descriptor, forcing
// regeneration on next access. Called by Store.Panic.
func (d *DeviceAEAD) Wipe() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.key = nil
	d.gcm = nil
	return d.db.Delete([]byte(deviceKeyDescriptorKey))
}

// Seal implements keyregistry.Sealer, so DeviceAEAD can double as the
// sealer for the registry's private key material in single-device
// deployments (distinct conceptual key, same AEAD mechanics).
func (d *DeviceAEAD) Seal(plaintext []byte) ([]byte, error) {
	gcm, err := d.Current()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, certenerr.Wrap(certenerr.KindResource, certenerr.ReasonUnavailable, "generate AEAD nonce", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open implements keyregistry.Sealer.
func (d *DeviceAEAD) Open(sealed []byte) ([]byte, error) {
	gcm, err := d.Current()
	if err != nil {
		return nil, err
	}
	ns := gcm.NonceSize()
	if len(sealed) < ns {
		return nil, certenerr.ErrTampered
	}
	nonce, ct := sealed[:ns], sealed[ns:]
	pt, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, certenerr.Wrap(certenerr.KindPolicy, certenerr.ReasonTampered, "AEAD authentication failed", err)
	}
	return pt, nil
}
