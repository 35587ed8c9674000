// Copyright 2025 Certen Protocol
//
// Validator implements spec §4.7's ten security invariants enforced at
// the relying-party trust boundary, in the exact order the spec
// mandates so cheap structural checks fail before expensive
// cryptographic ones run. Grounded on pkg/anchor_proof/verifier.go's
// ordered, fail-closed Verify(proof) *VerifyResult shape, generalized
// from a single monolithic method into the ten named steps the spec
// itself enumerates.

package validator

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/cometbft/cometbft/libs/log"
	"github.com/google/uuid"

	"github.com/certen/credential-core/pkg/canonical"
	"github.com/certen/credential-core/pkg/certenerr"
	"github.com/certen/credential-core/pkg/circuitloader"
	"github.com/certen/credential-core/pkg/credential"
	"github.com/certen/credential-core/pkg/envelope"
	"github.com/certen/credential-core/pkg/keyregistry"
	"github.com/certen/credential-core/pkg/policy"
)

// ClockSkewTolerance is §4.7 step 6's bound on |now - issued_at|.
const ClockSkewTolerance = 300 * time.Second

// NonceTTL is §4.7 step 7's replay-cache TTL committed on success.
const NonceTTL = 10 * time.Minute

// supportedProtocolMajor is the major version §4.7 step 2 accepts.
const supportedProtocolMajor = "1"

// NonceCache is the replay-cache contract the validator needs (§4.8).
// pkg/noncecache's implementations satisfy this structurally; declared
// independently here (the same pattern as envelope.Sealer and
// keyregistry.Sealer) so validator never imports noncecache directly.
//
// Insert reports whether this call performed the first insertion of
// nonce (false means it was already present — an idempotent no-op that
// still succeeds). The final commit step uses this to collapse the
// concurrent-replay race two validations of the same nonce can hit: an
// early Contains check alone cannot, since both callers can observe
// "not present" before either writes.
type NonceCache interface {
	Contains(ctx context.Context, nonce string) (bool, error)
	Insert(ctx context.Context, nonce string, ttl time.Duration) (inserted bool, err error)
}

// Telemetry receives reason codes and scalar metadata only — never
// credential ids, subject ids, claims, nonces, or device tags (§6).
// Optional: a nil Telemetry disables observation.
type Telemetry interface {
	Observe(reason certenerr.Reason, policyID, policyVersion, origin string, duration time.Duration)
}

// Validator enforces §4.7 end to end. Safe for concurrent use: every
// field it reads is either immutable after construction or itself
// safe for concurrent use (the registries, the circuit loader, the
// nonce cache).
type Validator struct {
	keys      *keyregistry.Registry
	policies  *policy.Registry
	circuits  *circuitloader.Loader
	devices   *envelope.Directory
	nonces    NonceCache
	telemetry Telemetry
	log       log.Logger
	now       func() time.Time
}

// New constructs a Validator. telemetry may be nil to discard
// observations (tests only — production callers should wire
// pkg/telemetry).
func New(keys *keyregistry.Registry, policies *policy.Registry, circuits *circuitloader.Loader, devices *envelope.Directory, nonces NonceCache, telemetry Telemetry, logger log.Logger) *Validator {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Validator{
		keys:      keys,
		policies:  policies,
		circuits:  circuits,
		devices:   devices,
		nonces:    nonces,
		telemetry: telemetry,
		log:       logger,
		now:       time.Now,
	}
}

// Validate runs the ten ordered checks of §4.7 against env, given the
// relying party's expectedOrigin and the credential wire string
// presented alongside the proof (the envelope's wire fields carry only
// credentialHash, never the credential itself — see DESIGN.md's Open
// Question decision on this three-argument shape).
func (v *Validator) Validate(ctx context.Context, env *envelope.Envelope, expectedOrigin, credWire string) (*Result, error) {
	start := v.now()
	result, err := v.validate(ctx, env, expectedOrigin, credWire)
	reason := certenerr.ReasonOf(err)
	if err == nil {
		reason = certenerr.ReasonValid
	}
	if v.telemetry != nil && env != nil {
		v.telemetry.Observe(reason, env.PolicyID, env.PolicyVersion, env.Origin, v.now().Sub(start))
	}
	if err != nil {
		v.log.Info("envelope validation failed", "reason", reason)
	}
	return result, err
}

func (v *Validator) validate(ctx context.Context, env *envelope.Envelope, expectedOrigin, credWire string) (*Result, error) {
	if err := v.checkStructural(env); err != nil {
		return nil, err
	}
	if err := v.checkProtocolVersion(env); err != nil {
		return nil, err
	}
	if err := v.policies.CheckVersion(env.PolicyID, env.PolicyVersion); err != nil {
		return nil, err
	}
	publicSignals, err := parsePublicSignals(env.PublicSignals)
	if err != nil {
		return nil, err
	}
	if err := v.checkOrigin(env, expectedOrigin, publicSignals); err != nil {
		return nil, err
	}
	if err := v.checkPolicyBinding(env); err != nil {
		return nil, err
	}
	if err := v.checkClockSkew(env); err != nil {
		return nil, err
	}

	used, err := v.nonces.Contains(ctx, env.Nonce)
	if err != nil {
		return nil, certenerr.Wrap(certenerr.KindResource, certenerr.ReasonUnavailable, "check nonce cache", err)
	}
	if used {
		return nil, certenerr.New(certenerr.KindPolicy, certenerr.ReasonNonceAlreadyUsed, "nonce already consumed")
	}

	_, header, payload, err := credential.Decode(credWire)
	if err != nil {
		return nil, err
	}
	if err := v.checkCredentialBinding(env, credWire); err != nil {
		return nil, err
	}
	if err := v.checkSignature(env, payload); err != nil {
		return nil, err
	}
	if err := v.checkKeyState(header); err != nil {
		return nil, err
	}

	descriptor, err := v.policies.Resolve(env.PolicyID, env.PolicyVersion)
	if err != nil {
		return nil, err
	}
	if err := v.checkProof(ctx, descriptor, env, publicSignals); err != nil {
		return nil, err
	}

	// The early Contains check above only rejects replays that were
	// already committed by the time this call started; it cannot see a
	// concurrent validation of the same nonce that is still mid-flight.
	// Insert's own return value is the actual race-collapsing point: if
	// another caller won the commit first, inserted is false here and
	// this call loses even though its own Contains check passed.
	inserted, err := v.nonces.Insert(ctx, env.Nonce, NonceTTL)
	if err != nil {
		return nil, certenerr.Wrap(certenerr.KindResource, certenerr.ReasonUnavailable, "commit nonce", err)
	}
	if !inserted {
		return nil, certenerr.New(certenerr.KindPolicy, certenerr.ReasonNonceAlreadyUsed, "nonce already consumed")
	}

	return &Result{
		PolicyID:       env.PolicyID,
		PolicyVersion:  env.PolicyVersion,
		ClaimResultBit: publicSignals[envelope.SignalResultBit].Sign() != 0,
		ValidatedAt:    v.now(),
		Origin:         env.Origin,
	}, nil
}

// checkStructural is §4.7 step 1.
func (v *Validator) checkStructural(env *envelope.Envelope) error {
	if env == nil {
		return certenerr.New(certenerr.KindInput, certenerr.ReasonMissingField, "envelope is nil")
	}
	fields := map[string]string{
		"protocolVersion": env.ProtocolVersion,
		"policyId":        env.PolicyID,
		"policyVersion":   env.PolicyVersion,
		"origin":          env.Origin,
		"nonce":           env.Nonce,
		"proof":           env.Proof,
		"credentialHash":  env.CredentialHash,
		"policyHash":      env.PolicyHash,
		"signature":       env.Signature,
	}
	for name, val := range fields {
		if val == "" {
			return certenerr.New(certenerr.KindInput, certenerr.ReasonMissingField, fmt.Sprintf("missing field %q", name))
		}
	}
	if env.IssuedAt.IsZero() {
		return certenerr.New(certenerr.KindInput, certenerr.ReasonMissingField, "missing field \"issuedAt\"")
	}
	if len(env.PublicSignals) < envelope.MandatorySignalCount {
		return certenerr.New(certenerr.KindInput, certenerr.ReasonMissingField, "public signals vector below minimum length")
	}
	raw, err := hex.DecodeString(env.Nonce)
	if err != nil || len(raw) < 32 {
		return certenerr.New(certenerr.KindInput, certenerr.ReasonMissingField, "nonce must be at least 32 bytes of hex")
	}
	return nil
}

// checkProtocolVersion is §4.7 step 2.
func (v *Validator) checkProtocolVersion(env *envelope.Envelope) error {
	major := strings.SplitN(env.ProtocolVersion, ".", 2)[0]
	if major != supportedProtocolMajor {
		return certenerr.New(certenerr.KindPolicy, certenerr.ReasonUnsupportedProtocol, fmt.Sprintf("unsupported protocol version %q", env.ProtocolVersion))
	}
	return nil
}

// checkOrigin is §4.7 step 4: the envelope's origin must match the
// relying party's expectation (compared case-insensitively on scheme
// and host:port) and the origin bound into the public signals
// (compared exactly, as the Poseidon hash of the envelope's origin).
func (v *Validator) checkOrigin(env *envelope.Envelope, expectedOrigin string, publicSignals []*big.Int) error {
	if !sameOrigin(env.Origin, expectedOrigin) {
		return certenerr.New(certenerr.KindPolicy, certenerr.ReasonOriginMismatch, "envelope origin does not match expected origin")
	}
	originHash, err := envelope.PoseidonHashBytes([]byte(env.Origin))
	if err != nil {
		return err
	}
	if originHash.Cmp(publicSignals[envelope.SignalOriginHash]) != 0 {
		return certenerr.New(certenerr.KindPolicy, certenerr.ReasonOriginMismatch, "origin does not match the origin bound into the public signals")
	}
	return nil
}

func sameOrigin(a, b string) bool {
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA != nil || errB != nil {
		return strings.EqualFold(a, b)
	}
	return strings.EqualFold(ua.Scheme, ub.Scheme) && strings.EqualFold(ua.Host, ub.Host)
}

// checkPolicyBinding is §4.7 step 5.
func (v *Validator) checkPolicyBinding(env *envelope.Envelope) error {
	want := policy.Hash(env.PolicyID, env.PolicyVersion)
	if !strings.EqualFold(env.PolicyHash, want) {
		return certenerr.New(certenerr.KindPolicy, certenerr.ReasonPolicyMismatch, "policy hash does not match claimed policy id/version")
	}
	return nil
}

// checkClockSkew is §4.7 step 6.
func (v *Validator) checkClockSkew(env *envelope.Envelope) error {
	delta := v.now().Sub(env.IssuedAt)
	if delta < 0 {
		delta = -delta
	}
	if delta > ClockSkewTolerance {
		return certenerr.New(certenerr.KindPolicy, certenerr.ReasonClockSkew, "issued_at outside the permitted clock skew window")
	}
	return nil
}

// checkCredentialBinding verifies the presented credential is the one
// the envelope's proof was assembled over, before any field pulled
// from the credential (device tag, signing kid) is trusted. Folded
// into §4.7 step 8's signature check since it is the first point the
// credential is consulted.
func (v *Validator) checkCredentialBinding(env *envelope.Envelope, credWire string) error {
	sum := envelope.SHA256Hex([]byte(credWire))
	if sum != env.CredentialHash {
		return certenerr.New(certenerr.KindPolicy, certenerr.ReasonSignatureInvalid, "presented credential does not match the envelope's credential hash")
	}
	return nil
}

// checkSignature is §4.7 step 8: verify the envelope's signature under
// the device signing key associated with the device tag the
// credential claims.
func (v *Validator) checkSignature(env *envelope.Envelope, payload map[string]interface{}) error {
	deviceTag, _ := payload["deviceTagCommitment"].(string)
	if deviceTag == "" {
		return certenerr.New(certenerr.KindInput, certenerr.ReasonMissingField, "credential missing deviceTagCommitment")
	}
	pub, err := v.devices.Lookup(deviceTag)
	if err != nil {
		return certenerr.Wrap(certenerr.KindPolicy, certenerr.ReasonSignatureInvalid, "resolve device signing key", err)
	}
	sig, err := base64.StdEncoding.DecodeString(env.Signature)
	if err != nil {
		return certenerr.Wrap(certenerr.KindInput, certenerr.ReasonMissingField, "decode envelope signature", err)
	}
	canonicalBytes, err := canonical.Marshal(env)
	if err != nil {
		return certenerr.Wrap(certenerr.KindProgramming, certenerr.ReasonInvariantViolation, "canonicalize envelope", err)
	}
	if !ed25519.Verify(pub, canonicalBytes, sig) {
		return certenerr.New(certenerr.KindPolicy, certenerr.ReasonSignatureInvalid, "envelope signature does not verify under the device's signing key")
	}
	return nil
}

// checkKeyState is §4.7 step 9: the credential's issuer signing kid
// must be in the registry's current verification set.
func (v *Validator) checkKeyState(header map[string]interface{}) error {
	kidStr, _ := header["kid"].(string)
	kid, err := uuid.Parse(kidStr)
	if err != nil {
		return certenerr.New(certenerr.KindInput, certenerr.ReasonMissingField, "credential header missing a valid kid")
	}
	if _, err := v.keys.ByID(kid); err != nil {
		return certenerr.New(certenerr.KindState, certenerr.ReasonUnknownKey, "credential signing key is not registered")
	}
	for _, k := range v.keys.VerificationSet() {
		if k.ID == kid {
			return nil
		}
	}
	return certenerr.New(certenerr.KindPolicy, certenerr.ReasonRetiredKey, "credential signing key is retired or outside its grace window")
}

// checkProof is §4.7 step 10: load the circuit the policy names —
// itself subject to anti-downgrade inside circuitloader.Loader.Load —
// and verify the proof against the claimed public signals. The circuit
// version tracked is the policy's own version (policy descriptors do
// not carry a separate circuit version; see DESIGN.md's Open Question
// decision on this).
func (v *Validator) checkProof(ctx context.Context, descriptor *policy.Descriptor, env *envelope.Envelope, publicSignals []*big.Int) error {
	loaded, err := v.circuits.Load(ctx, descriptor.CircuitID, env.PolicyVersion)
	if err != nil {
		return err
	}
	proofBytes, err := base64.StdEncoding.DecodeString(env.Proof)
	if err != nil {
		return certenerr.Wrap(certenerr.KindInput, certenerr.ReasonInvalidProof, "decode proof bytes", err)
	}
	proof, err := circuitloader.ParseProof(proofBytes)
	if err != nil {
		return err
	}
	return circuitloader.Verify(loaded.VerifyingKey, proof, publicSignals)
}

func parsePublicSignals(signals []string) ([]*big.Int, error) {
	out := make([]*big.Int, len(signals))
	for i, s := range signals {
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, certenerr.New(certenerr.KindInput, certenerr.ReasonMissingField, fmt.Sprintf("public signal %d is not a decimal field element", i))
		}
		out[i] = n
	}
	return out, nil
}
