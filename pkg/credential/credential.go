// Copyright 2025 Certen Protocol
//
// Package credential is the credential factory of spec §4.2. Grounded
// on pkg/anchor_proof/signer.go's signer-construction-and-sign shape,
// retargeted from Ed25519-only attestation signing to the registry's
// pluggable ES256/Ed25519 strategies, and on the retrieval pack's JWT
// reference files for the three-segment compact wire format and
// standard claim names. Unlike those references, every signature here
// is computed over pkg/canonical's in-house encoder, never over
// encoding/json's default field order.

package credential

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/certen/credential-core/pkg/canonical"
	"github.com/certen/credential-core/pkg/certenerr"
)

// IdentityClaims is the boundary contract an identity provider
// delivers to the factory: a subject identifier already hashed by the
// provider, plus whatever policy-specific attributes it collected.
// Raw PII never crosses this boundary into the core.
type IdentityClaims struct {
	SubjectIDHash string
	Attributes    map[string]interface{}
}

// Credential is the signed, TTL-bounded artifact the factory issues.
type Credential struct {
	ID                  uuid.UUID
	SubjectIDHash       string
	PolicyID            string
	PolicyVersion       string
	IssuedAt            time.Time
	ExpiresAt           time.Time
	NotBefore           *time.Time
	SigningKeyID        uuid.UUID
	Algorithm           string
	Claims              map[string]interface{}
	DeviceTagCommitment string
}

// Header mirrors the compact wire format's header segment.
type Header struct {
	Algorithm string    `json:"alg"`
	KeyID     uuid.UUID `json:"kid"`
	Type      string    `json:"typ"`
}

const credentialType = "cred+jwt"

// Encoded is the compact three-segment wire form:
// base64url(header) "." base64url(payload) "." base64url(signature).
type Encoded struct {
	Header    string
	Payload   string
	Signature string
}

// String renders the dot-joined compact form.
func (e Encoded) String() string {
	return e.Header + "." + e.Payload + "." + e.Signature
}

// SigningInput returns the bytes that are actually signed:
// header || "." || payload.
func (e Encoded) SigningInput() []byte {
	return []byte(e.Header + "." + e.Payload)
}

func b64(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

func b64Decode(s string) ([]byte, error) { return base64.RawURLEncoding.DecodeString(s) }

// headerMap and payloadMap render a Credential into the canonical maps
// that get base64url-encoded as the wire segments.
func headerMap(alg string, kid uuid.UUID) map[string]interface{} {
	return map[string]interface{}{
		"alg": alg,
		"kid": kid.String(),
		"typ": credentialType,
	}
}

func payloadMap(c Credential) map[string]interface{} {
	m := map[string]interface{}{
		"iss":                 "certen-trust-core",
		"sub":                 c.SubjectIDHash,
		"aud":                 c.PolicyID,
		"iat":                 c.IssuedAt.Unix(),
		"exp":                 c.ExpiresAt.Unix(),
		"jti":                 c.ID.String(),
		"policyId":            c.PolicyID,
		"policyVersion":       c.PolicyVersion,
		"deviceTagCommitment": c.DeviceTagCommitment,
	}
	if c.NotBefore != nil {
		m["nbf"] = c.NotBefore.Unix()
	}
	for k, v := range c.Claims {
		m[k] = v
	}
	return m
}

// Encode renders c into its compact three-segment wire form, signing
// with signFn over header||"."||payload under the given algorithm/kid.
// signFn is expected to be keyregistry.(*Registry).Sign, bound to kid.
func Encode(c Credential, signFn func(message []byte) ([]byte, error)) (Encoded, error) {
	headerBytes, err := canonical.MarshalMap(headerMap(c.Algorithm, c.SigningKeyID))
	if err != nil {
		return Encoded{}, certenerr.Wrap(certenerr.KindProgramming, certenerr.ReasonInvariantViolation, "canonicalize credential header", err)
	}
	payloadBytes, err := canonical.MarshalMap(payloadMap(c))
	if err != nil {
		return Encoded{}, certenerr.Wrap(certenerr.KindProgramming, certenerr.ReasonInvariantViolation, "canonicalize credential payload", err)
	}

	enc := Encoded{Header: b64(headerBytes), Payload: b64(payloadBytes)}
	sig, err := signFn(enc.SigningInput())
	if err != nil {
		return Encoded{}, err
	}
	enc.Signature = b64(sig)
	return enc, nil
}

// Decode splits a compact wire string back into its three raw segments
// without verifying the signature; callers needing verification use
// Verify (factory.go) or the validator's own signature step.
func Decode(wire string) (Encoded, map[string]interface{}, map[string]interface{}, error) {
	var e Encoded
	parts := strings.Split(wire, ".")
	if len(parts) != 3 {
		return e, nil, nil, certenerr.New(certenerr.KindInput, certenerr.ReasonMissingField, "credential wire form must have exactly three segments")
	}
	e.Header, e.Payload, e.Signature = parts[0], parts[1], parts[2]

	headerBytes, err := base64.RawURLEncoding.DecodeString(e.Header)
	if err != nil {
		return e, nil, nil, certenerr.Wrap(certenerr.KindInput, certenerr.ReasonMissingField, "decode header segment", err)
	}
	payloadBytes, err := base64.RawURLEncoding.DecodeString(e.Payload)
	if err != nil {
		return e, nil, nil, certenerr.Wrap(certenerr.KindInput, certenerr.ReasonMissingField, "decode payload segment", err)
	}
	header, err := decodeJSONMap(headerBytes)
	if err != nil {
		return e, nil, nil, err
	}
	payload, err := decodeJSONMap(payloadBytes)
	if err != nil {
		return e, nil, nil, err
	}
	return e, header, payload, nil
}

func decodeJSONMap(raw []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]interface{}
	if err := dec.Decode(&m); err != nil {
		return nil, certenerr.Wrap(certenerr.KindInput, certenerr.ReasonMissingField, "decode credential segment", err)
	}
	return m, nil
}
