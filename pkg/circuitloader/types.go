// Copyright 2025 Certen Protocol
//
// Package circuitloader is the circuit manifest and artifact loader of
// spec §4.4: it turns an (circuit id, version) pair into a ready-to-use
// (prover bytes, verification key) pair, refusing anything that fails
// any integrity check. Grounded on pkg/crypto/bls_zkp/circuit.go and
// pkg/crypto/bls_zkp/prover.go for the gnark/Groth16 key-loading shape
// (groth16.NewVerifyingKey(ecc.BN254).ReadFrom(...)) and on
// pkg/anchor_proof/verifier.go's ordered, fail-closed verification
// style.

package circuitloader

import "github.com/consensys/gnark/backend/groth16"

// ArtifactDescriptor pins a manifest-referenced blob to its expected
// filename and SHA-256 digest. Size is recorded but Load does not
// check it; only the digest is compared.
type ArtifactDescriptor struct {
	Filename string `json:"filename"`
	SHA256   string `json:"sha256"`
	Size     int64  `json:"size"`
}

// ManifestArtifacts groups the two blobs a manifest describes.
type ManifestArtifacts struct {
	Prover          ArtifactDescriptor `json:"prover"`
	VerificationKey ArtifactDescriptor `json:"verificationKey"`
}

// BuilderInfo is opaque builder/provenance metadata, carried through
// for audit purposes but not interpreted by the loader.
type BuilderInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit,omitempty"`
}

// Manifest is the offline-signed description of one circuit version's
// artifacts. Signature is base64-encoded and is the one field excluded
// from the bytes it signs (§4.6's designated-signature-field rule).
type Manifest struct {
	CircuitID      string            `json:"circuitId"`
	Version        string            `json:"version"`
	BuildTimestamp int64             `json:"buildTimestamp"`
	Artifacts      ManifestArtifacts `json:"artifacts"`
	Builder        BuilderInfo       `json:"builder"`
	Signature      string            `json:"signature,omitempty"`
}

// LoadedCircuit is the opaque, ready-to-use value Load returns:
// prover bytes alongside a parsed Groth16 verifying key, encapsulating
// the manifest that vouched for both.
type LoadedCircuit struct {
	CircuitID    string
	Version      string
	ProverBytes  []byte
	VerifyingKey groth16.VerifyingKey
	Manifest     Manifest
}
