// Copyright 2025 Certen Protocol
//
// Signing algorithm strategies for issuer keys. Grounded on the
// teacher's pluggable attestation-scheme interface
// (pkg/attestation/strategy/interface.go) and its two concrete
// implementations (bls_strategy.go, ed25519_strategy.go): one small
// interface, one concrete type per scheme, no inheritance hierarchy.

package keyregistry

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/asn1"
	"fmt"
	"math/big"

	"github.com/certen/credential-core/pkg/certenerr"
)

// Algorithm identifies a signing scheme an issuer key may use.
type Algorithm string

const (
	AlgorithmES256   Algorithm = "ES256"
	AlgorithmEd25519 Algorithm = "Ed25519"
)

// SigningAlgorithm is the per-scheme strategy contract. Each
// implementation owns its own key generation, signing, and
// verification so the registry never branches on algorithm beyond
// dispatching to the right strategy.
type SigningAlgorithm interface {
	Name() Algorithm
	Generate() (private []byte, public []byte, err error)
	Sign(private []byte, message []byte) ([]byte, error)
	Verify(public []byte, message []byte, signature []byte) error
	// JWK renders the public key material as a JSON-serializable JWK-shaped map.
	JWK(public []byte) map[string]interface{}
}

func algorithmFor(a Algorithm) (SigningAlgorithm, error) {
	switch a {
	case AlgorithmES256:
		return es256Algorithm{}, nil
	case AlgorithmEd25519:
		return ed25519Algorithm{}, nil
	default:
		return nil, certenerr.New(certenerr.KindInput, certenerr.ReasonMissingField, fmt.Sprintf("unsupported algorithm %q", a))
	}
}

// ---------------------------------------------------------------------------
// ES256 (ECDSA P-256)
// ---------------------------------------------------------------------------

type es256Algorithm struct{}

func (es256Algorithm) Name() Algorithm { return AlgorithmES256 }

func (es256Algorithm) Generate() ([]byte, []byte, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("es256: generate: %w", err)
	}
	privBytes, err := marshalECPrivate(priv)
	if err != nil {
		return nil, nil, err
	}
	pubBytes := elliptic.Marshal(elliptic.P256(), priv.X, priv.Y)
	return privBytes, pubBytes, nil
}

func (es256Algorithm) Sign(private []byte, message []byte) ([]byte, error) {
	priv, err := unmarshalECPrivate(private)
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256(message)
	r, s, err := ecdsa.Sign(rand.Reader, priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("es256: sign: %w", err)
	}
	return asn1.Marshal(ecdsaSignature{R: r, S: s})
}

func (es256Algorithm) Verify(public []byte, message []byte, signature []byte) error {
	x, y := elliptic.Unmarshal(elliptic.P256(), public)
	if x == nil {
		return certenerr.New(certenerr.KindPolicy, certenerr.ReasonSignatureInvalid, "es256: malformed public key")
	}
	pub := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}
	var sig ecdsaSignature
	if _, err := asn1.Unmarshal(signature, &sig); err != nil {
		return certenerr.Wrap(certenerr.KindPolicy, certenerr.ReasonSignatureInvalid, "es256: malformed signature", err)
	}
	digest := sha256.Sum256(message)
	if !ecdsa.Verify(pub, digest[:], sig.R, sig.S) {
		return certenerr.New(certenerr.KindPolicy, certenerr.ReasonSignatureInvalid, "es256: signature verification failed")
	}
	return nil
}

func (es256Algorithm) JWK(public []byte) map[string]interface{} {
	x, y := elliptic.Unmarshal(elliptic.P256(), public)
	if x == nil {
		return map[string]interface{}{"kty": "EC", "crv": "P-256"}
	}
	return map[string]interface{}{
		"kty": "EC",
		"crv": "P-256",
		"x":   base64urlBigInt(x),
		"y":   base64urlBigInt(y),
	}
}

type ecdsaSignature struct {
	R, S *big.Int
}

func marshalECPrivate(priv *ecdsa.PrivateKey) ([]byte, error) {
	return priv.D.Bytes(), nil
}

func unmarshalECPrivate(b []byte) (*ecdsa.PrivateKey, error) {
	d := new(big.Int).SetBytes(b)
	curve := elliptic.P256()
	x, y := curve.ScalarBaseMult(d.Bytes())
	return &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve, X: x, Y: y},
		D:         d,
	}, nil
}

// ---------------------------------------------------------------------------
// Ed25519
// ---------------------------------------------------------------------------

type ed25519Algorithm struct{}

func (ed25519Algorithm) Name() Algorithm { return AlgorithmEd25519 }

func (ed25519Algorithm) Generate() ([]byte, []byte, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("ed25519: generate: %w", err)
	}
	return []byte(priv), []byte(pub), nil
}

func (ed25519Algorithm) Sign(private []byte, message []byte) ([]byte, error) {
	if len(private) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("ed25519: invalid private key size %d", len(private))
	}
	return ed25519.Sign(ed25519.PrivateKey(private), message), nil
}

func (ed25519Algorithm) Verify(public []byte, message []byte, signature []byte) error {
	if len(public) != ed25519.PublicKeySize {
		return certenerr.New(certenerr.KindPolicy, certenerr.ReasonSignatureInvalid, "ed25519: invalid public key size")
	}
	if !ed25519.Verify(ed25519.PublicKey(public), message, signature) {
		return certenerr.New(certenerr.KindPolicy, certenerr.ReasonSignatureInvalid, "ed25519: signature verification failed")
	}
	return nil
}

func (ed25519Algorithm) JWK(public []byte) map[string]interface{} {
	return map[string]interface{}{
		"kty": "OKP",
		"crv": "Ed25519",
		"x":   base64urlBytes(public),
	}
}
