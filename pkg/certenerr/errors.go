// Copyright 2025 Certen Protocol
//
// Package certenerr defines the trust core's typed error taxonomy.
// Every failure that crosses a component boundary is one of the five
// kinds below, each wrapping a stable reason code so callers can
// branch on failure class without string matching.

package certenerr

import (
	"errors"
	"fmt"
)

// Kind classifies a trust-core failure for logging and propagation policy.
type Kind string

const (
	// KindInput covers malformed input the caller can fix directly.
	KindInput Kind = "input_violation"
	// KindPolicy covers cryptographic/protocol contract violations.
	KindPolicy Kind = "policy_violation"
	// KindState covers inconsistent or missing registry state.
	KindState Kind = "state_violation"
	// KindResource covers I/O and backing-store faults.
	KindResource Kind = "resource_fault"
	// KindProgramming covers invariant violations inside the core itself.
	KindProgramming Kind = "programming_error"
)

// Reason is a stable, PII-free string tag surfaced to callers and telemetry.
// These are the twelve reason codes of spec §6 plus the registry/factory/
// loader-specific reasons the rest of the pipeline returns.
type Reason string

const (
	ReasonValid               Reason = "Valid"
	ReasonMissingField        Reason = "MissingField"
	ReasonUnsupportedProtocol Reason = "UnsupportedProtocol"
	ReasonDowngradeRejected   Reason = "DowngradeRejected"
	ReasonOriginMismatch      Reason = "OriginMismatch"
	ReasonPolicyMismatch      Reason = "PolicyMismatch"
	ReasonClockSkew           Reason = "ClockSkew"
	ReasonNonceAlreadyUsed    Reason = "NonceAlreadyUsed"
	ReasonSignatureInvalid    Reason = "SignatureInvalid"
	ReasonRetiredKey          Reason = "RetiredKey"
	ReasonUnknownKey          Reason = "UnknownKey"
	ReasonInvalidProof        Reason = "InvalidProof"

	// Reasons outside the validator's ten steps but still part of the core.
	ReasonNoCurrentKey       Reason = "NoCurrentKey"
	ReasonNotFound           Reason = "NotFound"
	ReasonUnknownPolicy      Reason = "UnknownPolicy"
	ReasonPolicyBlocked      Reason = "PolicyBlocked"
	ReasonMissingClaim       Reason = "MissingClaim"
	ReasonUnknownCircuit     Reason = "UnknownCircuit"
	ReasonManifestInvalid    Reason = "ManifestSignatureInvalid"
	ReasonArtifactTampered   Reason = "ArtifactTampered"
	ReasonTampered           Reason = "Tampered"
	ReasonUnavailable        Reason = "Unavailable"
	ReasonInvariantViolation Reason = "InvariantViolation"
)

// Error is the trust core's typed error. Message never includes credential
// ids, subject ids, claims, nonces, or device tags (§7 user-visible rule).
type Error struct {
	Kind    Kind
	Reason  Reason
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, certenerr.New(sameKind, sameReason, "")) style
// matching on reason code alone, regardless of message or cause.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Reason == other.Reason
}

// New constructs a trust-core error.
func New(kind Kind, reason Reason, message string) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message}
}

// Wrap constructs a trust-core error around an underlying cause.
func Wrap(kind Kind, reason Reason, message string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message, Cause: cause}
}

// ReasonOf extracts the reason code from err, or ReasonUnavailable if err
// is not a *Error (a resource fault propagated untransformed per §7).
func ReasonOf(err error) Reason {
	if err == nil {
		return ReasonValid
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return ReasonUnavailable
}

// KindOf extracts the kind from err, defaulting to KindResource for
// untransformed errors bubbling up from I/O per §7's propagation policy.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindResource
}

// Sentinel errors for simple not-found cases, mirroring the teacher's
// pkg/database/errors.go convention of explicit sentinels over nil,nil.
var (
	ErrKeyNotFound        = New(KindState, ReasonNotFound, "signing key not found")
	ErrNoCurrentKey       = New(KindState, ReasonNoCurrentKey, "no current signing key")
	ErrCredentialNotFound = New(KindInput, ReasonNotFound, "sealed credential not found")
	ErrTampered           = New(KindPolicy, ReasonTampered, "AEAD authentication failed")
)
