// Copyright 2025 Certen Protocol
//
// Builder assembles, proves, and signs a proof envelope per spec
// §4.5's build(policy_id, policy_version, challenge, credential,
// loaded_circuit) operation. Grounded on pkg/anchor_proof/builder.go's
// fluent With*/validate/Build shape and pkg/crypto/bls_zkp/prover.go's
// compile-once-prove-many pattern (here supplied by pkg/circuitloader).

package envelope

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"math/big"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/iden3/go-iden3-crypto/poseidon"

	"github.com/certen/credential-core/pkg/canonical"
	"github.com/certen/credential-core/pkg/certenerr"
	"github.com/certen/credential-core/pkg/circuitloader"
	"github.com/certen/credential-core/pkg/credential"
	"github.com/certen/credential-core/pkg/policy"
)

// Builder assembles one proof envelope. Not safe for concurrent use by
// multiple goroutines on the same instance — construct a fresh Builder
// per envelope.
type Builder struct {
	signer        *DeviceSigner
	circuit       *circuitloader.LoadedCircuit
	policyID      string
	policyVersion string
	challenge     Challenge
	credWire      string
	resultBit     int
	hasResultBit  bool
	extraSignals  []*big.Int

	errs []error
}

// NewBuilder constructs a Builder that signs with signer and proves
// against circuit.
func NewBuilder(signer *DeviceSigner, circuit *circuitloader.LoadedCircuit) *Builder {
	return &Builder{signer: signer, circuit: circuit}
}

// WithPolicy sets the policy the envelope asserts conformance to.
func (b *Builder) WithPolicy(policyID, policyVersion string) *Builder {
	b.policyID = policyID
	b.policyVersion = policyVersion
	return b
}

// WithChallenge sets the relying party's origin/nonce challenge.
func (b *Builder) WithChallenge(challenge Challenge) *Builder {
	b.challenge = challenge
	return b
}

// WithCredential sets the compact-encoded credential (as decrypted
// from the sealed store) the proof is assembled over.
func (b *Builder) WithCredential(credWire string) *Builder {
	b.credWire = credWire
	return b
}

// WithResult sets the claim's boolean result bit. Evaluating the
// underlying policy predicate (e.g. "age >= 18") over the credential's
// private claims is circuit-specific arithmetic the trust core treats
// as opaque; the caller supplies the already-evaluated bit and the
// proof binds it into the public signals the verifier checks.
func (b *Builder) WithResult(bit bool) *Builder {
	if bit {
		b.resultBit = 1
	} else {
		b.resultBit = 0
	}
	b.hasResultBit = true
	return b
}

// WithExtraPublicSignals appends policy-specific public signals after
// the seven mandatory ones.
func (b *Builder) WithExtraPublicSignals(signals ...*big.Int) *Builder {
	b.extraSignals = append(b.extraSignals, signals...)
	return b
}

func (b *Builder) validate() error {
	if b.signer == nil {
		return certenerr.New(certenerr.KindProgramming, certenerr.ReasonInvariantViolation, "device signer is required")
	}
	if b.circuit == nil {
		return certenerr.New(certenerr.KindProgramming, certenerr.ReasonInvariantViolation, "loaded circuit is required")
	}
	if b.policyID == "" || b.policyVersion == "" {
		return certenerr.New(certenerr.KindInput, certenerr.ReasonMissingField, "policy id and version are required")
	}
	if b.challenge.Origin == "" || b.challenge.Nonce == "" {
		return certenerr.New(certenerr.KindInput, certenerr.ReasonMissingField, "challenge origin and nonce are required")
	}
	if b.credWire == "" {
		return certenerr.New(certenerr.KindInput, certenerr.ReasonMissingField, "credential is required")
	}
	if !b.hasResultBit {
		return certenerr.New(certenerr.KindInput, certenerr.ReasonMissingField, "claim result is required")
	}
	return nil
}

// Build assembles the public signals, invokes the prover, fills the
// envelope, and signs it — spec §4.5's four numbered steps in order.
func (b *Builder) Build() (*Envelope, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}

	_, _, payload, err := credential.Decode(b.credWire)
	if err != nil {
		return nil, err
	}

	issuedAt, expiresAt, err := claimInstants(payload)
	if err != nil {
		return nil, err
	}

	credentialHash := SHA256Hex([]byte(b.credWire))
	policyHash := policy.Hash(b.policyID, b.policyVersion)

	challengeBytes, err := canonical.MarshalMap(map[string]interface{}{
		"origin": b.challenge.Origin,
		"nonce":  b.challenge.Nonce,
	})
	if err != nil {
		return nil, certenerr.Wrap(certenerr.KindProgramming, certenerr.ReasonInvariantViolation, "canonicalize challenge", err)
	}
	challengeHash, err := PoseidonHashBytes(challengeBytes)
	if err != nil {
		return nil, err
	}
	originHash, err := PoseidonHashBytes([]byte(b.challenge.Origin))
	if err != nil {
		return nil, err
	}

	publicSignals := make([]*big.Int, 0, circuitloader.MaxPublicSignals)
	publicSignals = append(publicSignals,
		challengeHash,
		HexToFieldElement(credentialHash),
		HexToFieldElement(policyHash),
		originHash,
		big.NewInt(issuedAt),
		big.NewInt(expiresAt),
		big.NewInt(int64(b.resultBit)),
	)
	publicSignals = append(publicSignals, b.extraSignals...)

	pk, err := circuitloader.ParseProvingKey(b.circuit.ProverBytes)
	if err != nil {
		return nil, err
	}
	privateInputs, err := b.privateWitness()
	if err != nil {
		return nil, err
	}
	proof, err := circuitloader.Prove(pk, publicSignals, privateInputs)
	if err != nil {
		return nil, err
	}
	proofBytes, err := circuitloader.SerializeProof(proof)
	if err != nil {
		return nil, err
	}

	env := &Envelope{
		ProtocolVersion: ProtocolVersion,
		PolicyID:        b.policyID,
		PolicyVersion:   b.policyVersion,
		Origin:          b.challenge.Origin,
		Nonce:           b.challenge.Nonce,
		IssuedAt:        time.Now().UTC(),
		Proof:           base64.StdEncoding.EncodeToString(proofBytes),
		PublicSignals:   signalsToStrings(publicSignals),
		CredentialHash:  credentialHash,
		PolicyHash:      policyHash,
	}

	canonicalBytes, err := canonical.Marshal(env)
	if err != nil {
		return nil, certenerr.Wrap(certenerr.KindProgramming, certenerr.ReasonInvariantViolation, "canonicalize envelope", err)
	}
	sig, err := b.signer.Sign(canonicalBytes)
	if err != nil {
		return nil, err
	}
	env.Signature = base64.StdEncoding.EncodeToString(sig)
	return env, nil
}

// privateWitness assembles the prover's private inputs: the
// credential's claim values (numeric ones only — policy circuits are
// opaque to this core, so only a best-effort numeric projection is
// possible here) plus the device's proof secret.
func (b *Builder) privateWitness() ([]*big.Int, error) {
	_, _, payload, err := credential.Decode(b.credWire)
	if err != nil {
		return nil, err
	}
	var inputs []*big.Int
	for _, k := range sortedKeys(payload) {
		if n, ok := asNumber(payload[k]); ok {
			inputs = append(inputs, n)
		}
	}
	secret, err := b.signer.proveSecret()
	if err != nil {
		return nil, err
	}
	inputs = append(inputs, HexToFieldElement(hex.EncodeToString(secret)))
	if len(inputs) > circuitloader.MaxPrivateInputs {
		inputs = inputs[:circuitloader.MaxPrivateInputs]
	}
	return inputs, nil
}

func claimInstants(payload map[string]interface{}) (int64, int64, error) {
	iat, ok := asNumber(payload["iat"])
	if !ok {
		return 0, 0, certenerr.New(certenerr.KindInput, certenerr.ReasonMissingField, "credential missing iat")
	}
	exp, ok := asNumber(payload["exp"])
	if !ok {
		return 0, 0, certenerr.New(certenerr.KindInput, certenerr.ReasonMissingField, "credential missing exp")
	}
	return iat.Int64(), exp.Int64(), nil
}

func asNumber(v interface{}) (*big.Int, bool) {
	switch n := v.(type) {
	case float64:
		return big.NewInt(int64(n)), true
	default:
		if jn, ok := v.(interface{ Int64() (int64, error) }); ok {
			i, err := jn.Int64()
			if err != nil {
				return nil, false
			}
			return big.NewInt(i), true
		}
	}
	return nil, false
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

// SHA256Hex is the credentialHash/policyHash hex digest shared by the
// builder and the validator.
func SHA256Hex(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// FieldElement reduces arbitrary bytes into the BN254 scalar field,
// the representation every public-signal and poseidon input requires.
func FieldElement(b []byte) *big.Int {
	var e fr.Element
	e.SetBytes(b)
	return e.BigInt(new(big.Int))
}

func HexToFieldElement(h string) *big.Int {
	raw, err := hex.DecodeString(h)
	if err != nil {
		return new(big.Int)
	}
	return FieldElement(raw)
}

// PoseidonHashBytes hashes arbitrary-length bytes into a single field
// element via Poseidon, the hash function §4.5 names for the public
// signals' challenge and origin bindings. Grounded on
// other_examples' iden3 issuer sample's poseidon.Hash([]*big.Int) call.
func PoseidonHashBytes(b []byte) (*big.Int, error) {
	digest := sha256.Sum256(b)
	out, err := poseidon.Hash([]*big.Int{FieldElement(digest[:])})
	if err != nil {
		return nil, certenerr.Wrap(certenerr.KindProgramming, certenerr.ReasonInvariantViolation, "poseidon hash", err)
	}
	return out, nil
}

func signalsToStrings(signals []*big.Int) []string {
	out := make([]string, len(signals))
	for i, s := range signals {
		out[i] = s.String()
	}
	return out
}
