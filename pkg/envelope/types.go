// Copyright 2025 Certen Protocol
//
// Wire types for the proof envelope of spec §3/§4.5/§6. Field names and
// json tags match §6's mandatory wire field list exactly so
// canonical.Marshal's output is the wire format itself, not a
// translation of it.

package envelope

import "time"

// Challenge is what a relying party hands the device before proof
// assembly: the origin it expects to see bound into the proof, and a
// fresh nonce the device must echo back. Out of scope for this core to
// transport (§1: HTTP transport is external); callers obtain one
// however their protocol delivers it.
type Challenge struct {
	Origin string
	Nonce  string // >=32 bytes of hex, per §4.7 step 1
}

// Envelope is the §3 proof envelope record. Signature is tagged
// "signature" to match canonical.SignatureField, so canonical.Marshal
// strips it automatically when computing the bytes that get signed.
type Envelope struct {
	ProtocolVersion string    `json:"protocolVersion"`
	PolicyID        string    `json:"policyId"`
	PolicyVersion   string    `json:"policyVersion"`
	Origin          string    `json:"origin"`
	Nonce           string    `json:"nonce"`
	IssuedAt        time.Time `json:"issuedAt"`
	Proof           string    `json:"proof"`         // base64 of the serialized Groth16 proof
	PublicSignals   []string  `json:"publicSignals"` // decimal-string field elements, len >= 7
	CredentialHash  string    `json:"credentialHash"`
	PolicyHash      string    `json:"policyHash"`
	Signature       string    `json:"signature,omitempty"`
}

// ProtocolVersion is the version this builder emits. The validator's
// step 2 accepts any "1.x".
const ProtocolVersion = "1.0.0"

// Public-signals vector positions mandated by §4.5 step 1 / §6: the
// first seven are fixed; anything after index 6 is policy-specific.
const (
	SignalChallengeHash = 0
	SignalCredentialHash = 1
	SignalPolicyHash    = 2
	SignalOriginHash    = 3
	SignalIssuedAt      = 4
	SignalExpiresAt     = 5
	SignalResultBit     = 6

	MandatorySignalCount = 7
)
