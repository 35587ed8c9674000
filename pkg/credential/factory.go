// Copyright 2025 Certen Protocol
//
// Factory implements the issue() operation of spec §4.2: resolve
// policy, validate claims, obtain the Current key, construct and sign
// the credential. Grounded the same way credential.go is — on the
// signer-construction shape of pkg/anchor_proof/signer.go.

package credential

import (
	"context"
	"fmt"
	"time"

	"github.com/cometbft/cometbft/libs/log"
	"github.com/google/uuid"

	"github.com/certen/credential-core/pkg/certenerr"
	"github.com/certen/credential-core/pkg/keyregistry"
	"github.com/certen/credential-core/pkg/policy"
)

// KeyProvider is the slice of keyregistry.Registry the factory needs.
// *keyregistry.Registry satisfies this structurally.
type KeyProvider interface {
	Current() (*keyregistry.Key, error)
	Sign(kid uuid.UUID, message []byte) ([]byte, error)
	Verify(kid uuid.UUID, message, signature []byte) error
}

// PolicyProvider is the slice of policy.Registry the factory needs.
type PolicyProvider interface {
	Resolve(policyID, version string) (*policy.Descriptor, error)
}

// Factory issues credentials under the registry's Current key.
type Factory struct {
	Keys     KeyProvider
	Policies PolicyProvider
	log      log.Logger
}

// NewFactory constructs a Factory over the given collaborators.
func NewFactory(keys KeyProvider, policies PolicyProvider) *Factory {
	return &Factory{Keys: keys, Policies: policies, log: log.NewNopLogger()}
}

// WithLogger attaches a logger, replacing the default no-op, and
// returns the factory for chaining at construction time.
func (f *Factory) WithLogger(logger log.Logger) *Factory {
	if logger != nil {
		f.log = logger
	}
	return f
}

// Issue implements spec §4.2's issue(subject_id, policy_id, claims,
// device_tag, ttl). policyVersion selects which published descriptor
// to bind the credential to.
func (f *Factory) Issue(ctx context.Context, identity IdentityClaims, policyID, policyVersion string, deviceTag string, ttl time.Duration) (Encoded, Credential, error) {
	desc, err := f.Policies.Resolve(policyID, policyVersion)
	if err != nil {
		return Encoded{}, Credential{}, err
	}
	if desc.Status == policy.StatusBlocked {
		return Encoded{}, Credential{}, certenerr.New(certenerr.KindPolicy, certenerr.ReasonPolicyBlocked, fmt.Sprintf("policy %s@%s is blocked", policyID, policyVersion))
	}

	for _, required := range desc.RequiredClaims {
		if _, ok := identity.Attributes[required]; !ok {
			return Encoded{}, Credential{}, certenerr.New(certenerr.KindInput, certenerr.ReasonMissingClaim, fmt.Sprintf("missing required claim %q", required))
		}
	}

	current, err := f.Keys.Current()
	if err != nil {
		return Encoded{}, Credential{}, err
	}

	now := time.Now().UTC()
	cred := Credential{
		ID:                  uuid.New(),
		SubjectIDHash:       identity.SubjectIDHash,
		PolicyID:            policyID,
		PolicyVersion:       policyVersion,
		IssuedAt:            now,
		ExpiresAt:           now.Add(ttl),
		SigningKeyID:        current.ID,
		Algorithm:           string(current.Algorithm),
		Claims:              identity.Attributes,
		DeviceTagCommitment: deviceTag,
	}

	encoded, err := Encode(cred, func(message []byte) ([]byte, error) {
		return f.Keys.Sign(current.ID, message)
	})
	if err != nil {
		return Encoded{}, Credential{}, err
	}
	f.log.Info("credential issued", "credential_id", cred.ID, "policy_id", policyID, "policy_version", policyVersion, "signing_key_id", current.ID)
	return encoded, cred, nil
}

// Verify recomputes the signature over a compact-encoded credential
// and checks it against the key named in the header. Symmetric with
// Issue; used by tests (the sealed store only decodes). The relying-party
// validator does not call this — it re-derives trust from the key
// registry directly (§4.7 steps 8/9).
func Verify(keys KeyProvider, wire string) (map[string]interface{}, error) {
	enc, header, payload, err := Decode(wire)
	if err != nil {
		return nil, err
	}
	kidStr, _ := header["kid"].(string)
	kid, err := uuid.Parse(kidStr)
	if err != nil {
		return nil, certenerr.Wrap(certenerr.KindInput, certenerr.ReasonMissingField, "malformed kid in credential header", err)
	}
	sig, err := b64Decode(enc.Signature)
	if err != nil {
		return nil, certenerr.Wrap(certenerr.KindInput, certenerr.ReasonMissingField, "decode credential signature", err)
	}
	if err := keys.Verify(kid, enc.SigningInput(), sig); err != nil {
		return nil, err
	}
	return payload, nil
}
