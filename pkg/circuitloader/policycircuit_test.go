package circuitloader

import (
	"math/big"
	"testing"

	"github.com/consensys/gnark/backend/groth16"
)

func setupPolicyCircuit(t *testing.T) (groth16.ProvingKey, groth16.VerifyingKey) {
	t.Helper()
	cs, err := CompiledPolicyCircuit()
	if err != nil {
		t.Fatalf("compile policy circuit: %v", err)
	}
	pk, vk, err := groth16.Setup(cs)
	if err != nil {
		t.Fatalf("groth16 setup: %v", err)
	}
	return pk, vk
}

func TestProveVerifyRoundTrip(t *testing.T) {
	pk, vk := setupPolicyCircuit(t)
	public := []*big.Int{big.NewInt(1), big.NewInt(2), big.NewInt(3), big.NewInt(4), big.NewInt(5), big.NewInt(6), big.NewInt(1)}
	private := []*big.Int{big.NewInt(42)}

	proof, err := Prove(pk, public, private)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	if err := Verify(vk, proof, public); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyRejectsMismatchedPublicSignals(t *testing.T) {
	pk, vk := setupPolicyCircuit(t)
	public := []*big.Int{big.NewInt(1), big.NewInt(2), big.NewInt(3), big.NewInt(4), big.NewInt(5), big.NewInt(6), big.NewInt(1)}
	private := []*big.Int{big.NewInt(42)}

	proof, err := Prove(pk, public, private)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}

	tampered := append([]*big.Int{}, public...)
	tampered[6] = big.NewInt(0)
	if err := Verify(vk, proof, tampered); err == nil {
		t.Fatalf("expected InvalidProof for a public signal that does not match the proof")
	}
}

func TestSerializeAndParseProofRoundTrip(t *testing.T) {
	pk, vk := setupPolicyCircuit(t)
	public := []*big.Int{big.NewInt(1), big.NewInt(2), big.NewInt(3), big.NewInt(4), big.NewInt(5), big.NewInt(6), big.NewInt(1)}

	proof, err := Prove(pk, public, nil)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	raw, err := SerializeProof(proof)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	parsed, err := ParseProof(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := Verify(vk, parsed, public); err != nil {
		t.Fatalf("verify round-tripped proof: %v", err)
	}
}
