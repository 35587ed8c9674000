// Copyright 2025 Certen Protocol
//
// PolicyCircuit gives the prover/verifier pair a concrete, fixed-shape
// witness layout without taking a position on per-policy constraint
// arithmetic, which spec.md names as explicitly out of scope ("treated
// as an opaque prover/verifier pair"). Every policy circuit shares this
// struct; what differs per (circuit_id, version) is the loaded proving
// and verifying key, never the Go type. Grounded on
// pkg/crypto/bls_zkp/circuit.go's frontend.Circuit shape and
// pkg/crypto/bls_zkp/prover.go's Compile-then-Setup sequence.

package circuitloader

import (
	"bytes"
	"fmt"
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"github.com/certen/credential-core/pkg/certenerr"
)

// MaxPublicSignals bounds the public-signals vector: the mandatory
// seven (§4.5 step 1) plus room for policy-specific elements.
const MaxPublicSignals = 16

// MaxPrivateInputs bounds the private witness (decrypted credential
// claims plus the device secret).
const MaxPrivateInputs = 16

// PolicyCircuit is the fixed-shape witness every policy compiles
// against. Define intentionally has no constraint logic: policy
// arithmetic is the opaque part of the system the loaded verification
// key already commits to cryptographically; this struct exists only
// to pin the witness layout the prover/verifier APIs require.
type PolicyCircuit struct {
	PublicSignals [MaxPublicSignals]frontend.Variable `gnark:",public"`
	PrivateInputs [MaxPrivateInputs]frontend.Variable
}

func (c *PolicyCircuit) Define(api frontend.API) error {
	return nil
}

var (
	compileOnce sync.Once
	compiledCS  constraint.ConstraintSystem
	compileErr  error
)

// CompiledPolicyCircuit compiles PolicyCircuit once per process; every
// policy shares this constraint system regardless of circuit id or
// version since the shape never varies. Exported so Setup-time tooling
// (and tests) can generate proving/verifying keys against the exact
// constraint system Prove/Verify use.
func CompiledPolicyCircuit() (constraint.ConstraintSystem, error) {
	compileOnce.Do(func() {
		compiledCS, compileErr = frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &PolicyCircuit{})
	})
	return compiledCS, compileErr
}

func newAssignment(publicSignals, privateInputs []*big.Int) (*PolicyCircuit, error) {
	if len(publicSignals) > MaxPublicSignals {
		return nil, certenerr.New(certenerr.KindInput, certenerr.ReasonMissingField, fmt.Sprintf("public signals exceed maximum of %d", MaxPublicSignals))
	}
	if len(privateInputs) > MaxPrivateInputs {
		return nil, certenerr.New(certenerr.KindInput, certenerr.ReasonMissingField, fmt.Sprintf("private inputs exceed maximum of %d", MaxPrivateInputs))
	}
	a := &PolicyCircuit{}
	for i := range a.PublicSignals {
		a.PublicSignals[i] = 0
	}
	for i := range a.PrivateInputs {
		a.PrivateInputs[i] = 0
	}
	for i, v := range publicSignals {
		a.PublicSignals[i] = v
	}
	for i, v := range privateInputs {
		a.PrivateInputs[i] = v
	}
	return a, nil
}

// ParseProvingKey deserializes the manifest's prover-blob artifact into
// a usable Groth16 proving key.
func ParseProvingKey(raw []byte) (groth16.ProvingKey, error) {
	pk := groth16.NewProvingKey(ecc.BN254)
	if _, err := pk.ReadFrom(bytes.NewReader(raw)); err != nil {
		return nil, certenerr.Wrap(certenerr.KindInput, certenerr.ReasonArtifactTampered, "parse proving key", err)
	}
	return pk, nil
}

// Prove invokes the Groth16 prover over the fixed PolicyCircuit shape
// with publicSignals and privateInputs, as spec §4.5 step 2 describes:
// "invoke the prover with private inputs ... and the public signals".
func Prove(pk groth16.ProvingKey, publicSignals, privateInputs []*big.Int) (groth16.Proof, error) {
	cs, err := CompiledPolicyCircuit()
	if err != nil {
		return nil, certenerr.Wrap(certenerr.KindProgramming, certenerr.ReasonInvariantViolation, "compile policy circuit", err)
	}
	assignment, err := newAssignment(publicSignals, privateInputs)
	if err != nil {
		return nil, err
	}
	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, certenerr.Wrap(certenerr.KindProgramming, certenerr.ReasonInvariantViolation, "build prover witness", err)
	}
	proof, err := groth16.Prove(cs, pk, witness)
	if err != nil {
		return nil, certenerr.Wrap(certenerr.KindProgramming, certenerr.ReasonInvariantViolation, "groth16 prove", err)
	}
	return proof, nil
}

// Verify runs the §4.7 step 10 zero-knowledge check: the proof against
// vk must hold for the claimed publicSignals.
func Verify(vk groth16.VerifyingKey, proof groth16.Proof, publicSignals []*big.Int) error {
	assignment, err := newAssignment(publicSignals, nil)
	if err != nil {
		return err
	}
	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return certenerr.Wrap(certenerr.KindInput, certenerr.ReasonInvalidProof, "build verifier witness", err)
	}
	public, err := witness.Public()
	if err != nil {
		return certenerr.Wrap(certenerr.KindInput, certenerr.ReasonInvalidProof, "derive public witness", err)
	}
	if err := groth16.Verify(proof, vk, public); err != nil {
		return certenerr.Wrap(certenerr.KindPolicy, certenerr.ReasonInvalidProof, "proof failed verification", err)
	}
	return nil
}

// SerializeProof renders a proof to bytes for the envelope's "proof" field.
func SerializeProof(proof groth16.Proof) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, certenerr.Wrap(certenerr.KindProgramming, certenerr.ReasonInvariantViolation, "serialize proof", err)
	}
	return buf.Bytes(), nil
}

// ParseProof deserializes the envelope's "proof" field bytes.
func ParseProof(raw []byte) (groth16.Proof, error) {
	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(raw)); err != nil {
		return nil, certenerr.Wrap(certenerr.KindInput, certenerr.ReasonInvalidProof, "parse proof", err)
	}
	return proof, nil
}
