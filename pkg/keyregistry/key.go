// Copyright 2025 Certen Protocol
//
// Issuer signing key state machine. Grounded on
// pkg/crypto/bls/key_manager.go's load-or-generate-and-persist shape,
// generalized from a single validator-wide key to a lifecycle registry
// of many keys.

package keyregistry

import (
	"time"

	"github.com/google/uuid"
)

// State is a signing key's position in its lifecycle.
//
//	        rotate              sweep / retire
//	Current ───────► Deprecated ─────────────► Retired
//	   │                                          ▲
//	   └─────────── retire (emergency) ───────────┘
type State string

const (
	StateCurrent    State = "current"
	StateDeprecated State = "deprecated"
	StateRetired    State = "retired"
)

// DefaultGraceWindow is the bounded period after deprecation during
// which a key may still verify but not sign, absent an explicit override.
const DefaultGraceWindow = 7 * 24 * time.Hour

// Key is an issuer signing key and its lifecycle metadata.
type Key struct {
	ID          uuid.UUID
	Algorithm   Algorithm
	PublicKey   []byte
	sealedPriv  []byte // AEAD-sealed private key material, never exported raw
	State       State
	GraceWindow time.Duration

	CreatedAt    time.Time
	DeprecatedAt *time.Time
	RetiredAt    *time.Time
}

// CanSign reports whether the key may currently produce signatures.
// Only a Current key may sign (§3).
func (k *Key) CanSign() bool {
	return k.State == StateCurrent
}

// CanVerify reports whether the key may currently verify signatures at
// instant now: Current always may; Deprecated may only within its
// grace window; Retired never may.
func (k *Key) CanVerify(now time.Time) bool {
	switch k.State {
	case StateCurrent:
		return true
	case StateDeprecated:
		if k.DeprecatedAt == nil {
			return false
		}
		return now.Sub(*k.DeprecatedAt) <= k.GraceWindow
	default:
		return false
	}
}

// AuditRecord documents a key lifecycle event for compliance review.
type AuditRecord struct {
	KeyID  uuid.UUID
	Event  string // "rotate", "deprecate", "retire", "retire_noop"
	Reason string
	Actor  string
	At     time.Time
}
