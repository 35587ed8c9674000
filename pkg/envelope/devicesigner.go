// Copyright 2025 Certen Protocol
//
// DeviceSigner owns the device's proof-signing Ed25519 key, kept
// distinct from sealedstore.DeviceAEAD per spec §9's resolved Open
// Question: the AEAD key seals credentials at rest, the signing key
// signs proof envelopes, and retiring one never retires the other.
// Grounded on pkg/attestation/strategy/ed25519_strategy.go's
// load-or-generate-under-a-mutex shape.

package envelope

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/certen/credential-core/pkg/certenerr"
)

const deviceSignerKey = "envelope/device-signer-sealed"

// deviceTagDomain separates the device-tag digest from any other use
// of the signing public key's hash.
const deviceTagDomain = "CERTEN_DEVICE_SIGNING_TAG_V1"

// Sealer seals and opens the signer's private key material at rest.
// sealedstore.DeviceAEAD satisfies this, but the signer deliberately
// takes its own Sealer parameter rather than importing sealedstore, so
// a deployment may choose a different at-rest key for signing material
// than for sealed credentials.
type Sealer interface {
	Seal(plaintext []byte) (sealed []byte, err error)
	Open(sealed []byte) (plaintext []byte, err error)
}

// DeviceSigner is the device-local, load-or-generate Ed25519 signing
// identity used to sign proof envelopes.
type DeviceSigner struct {
	mu     sync.Mutex
	db     dbm.DB
	sealer Sealer
	priv   ed25519.PrivateKey
	pub    ed25519.PublicKey
}

// NewDeviceSigner constructs a DeviceSigner backed by db for
// persistence and sealer for at-rest protection of the private key.
// The key is not generated until first use.
func NewDeviceSigner(db dbm.DB, sealer Sealer) *DeviceSigner {
	return &DeviceSigner{db: db, sealer: sealer}
}

func (s *DeviceSigner) currentLocked() error {
	if s.priv != nil {
		return nil
	}

	raw, err := s.db.Get([]byte(deviceSignerKey))
	if err != nil {
		return certenerr.Wrap(certenerr.KindResource, certenerr.ReasonUnavailable, "read sealed device signing key", err)
	}
	if raw != nil {
		plaintext, err := s.sealer.Open(raw)
		if err != nil {
			return err
		}
		if len(plaintext) != ed25519.PrivateKeySize {
			return certenerr.New(certenerr.KindProgramming, certenerr.ReasonInvariantViolation, "stored device signing key has unexpected length")
		}
		s.priv = ed25519.PrivateKey(plaintext)
		s.pub = s.priv.Public().(ed25519.PublicKey)
		return nil
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return certenerr.Wrap(certenerr.KindResource, certenerr.ReasonUnavailable, "generate device signing key", err)
	}
	sealed, err := s.sealer.Seal(priv)
	if err != nil {
		return err
	}
	if err := s.db.SetSync([]byte(deviceSignerKey), sealed); err != nil {
		return certenerr.Wrap(certenerr.KindResource, certenerr.ReasonUnavailable, "persist sealed device signing key", err)
	}
	s.priv = priv
	s.pub = pub
	return nil
}

// Sign signs message with the device's signing key, generating the
// key on first use.
func (s *DeviceSigner) Sign(message []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.currentLocked(); err != nil {
		return nil, err
	}
	return ed25519.Sign(s.priv, message), nil
}

// PublicKey returns the device's signing public key, generating it on
// first use if necessary.
func (s *DeviceSigner) PublicKey() (ed25519.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.currentLocked(); err != nil {
		return nil, err
	}
	return s.pub, nil
}

// DeviceTag derives the non-secret, deterministic digest spec §4.5
// embeds as the credential's device-tag commitment: the hex digest of
// a domain-separated hash of the signing public key.
func (s *DeviceSigner) DeviceTag() (string, error) {
	pub, err := s.PublicKey()
	if err != nil {
		return "", err
	}
	return DeviceTagFor(pub), nil
}

const deviceSecretDomain = "CERTEN_DEVICE_PROOF_SECRET_V1"

// proveSecret derives a deterministic, device-bound secret for the
// prover's private witness without ever exposing the raw signing key:
// it signs a fixed domain-separated message and hashes the resulting
// signature, so the secret changes if (and only if) the underlying
// key does.
func (s *DeviceSigner) proveSecret() ([]byte, error) {
	sig, err := s.Sign([]byte(deviceSecretDomain))
	if err != nil {
		return nil, err
	}
	h := sha256.Sum256(sig)
	return h[:], nil
}

// DeviceTagFor derives a device tag from any signing public key,
// exported so validators can recompute the tag a credential claims
// without needing a DeviceSigner of their own.
func DeviceTagFor(pub ed25519.PublicKey) string {
	h := sha256.Sum256(append([]byte(deviceTagDomain), pub...))
	return hex.EncodeToString(h[:])
}
