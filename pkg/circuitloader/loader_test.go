package circuitloader

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"sync"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"github.com/certen/credential-core/pkg/canonical"
)

// trivialCircuit stands in for a real policy circuit; the loader
// never inspects circuit semantics, only the serialized verifying
// key's bytes, so any compiled Groth16 circuit exercises Load's
// parsing step faithfully.
type trivialCircuit struct {
	X frontend.Variable `gnark:",public"`
	Y frontend.Variable
}

func (c *trivialCircuit) Define(api frontend.API) error {
	api.AssertIsEqual(c.X, c.Y)
	return nil
}

var (
	fixtureVKOnce  sync.Once
	fixtureVKBytes []byte
)

func trivialVerifyingKeyBytes(t *testing.T) []byte {
	t.Helper()
	fixtureVKOnce.Do(func() {
		cs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &trivialCircuit{})
		if err != nil {
			t.Fatalf("compile trivial circuit: %v", err)
		}
		_, vk, err := groth16.Setup(cs)
		if err != nil {
			t.Fatalf("groth16 setup: %v", err)
		}
		var buf bytes.Buffer
		if _, err := vk.WriteTo(&buf); err != nil {
			t.Fatalf("serialize verifying key: %v", err)
		}
		fixtureVKBytes = buf.Bytes()
	})
	if fixtureVKBytes == nil {
		t.Fatalf("trivial verifying key was not generated")
	}
	return fixtureVKBytes
}

// memSource is an in-memory ArtifactSource for the loader's own tests.
type memSource struct {
	manifests map[string]Manifest
	blobs     map[string][]byte
}

func newMemSource() *memSource {
	return &memSource{manifests: map[string]Manifest{}, blobs: map[string][]byte{}}
}

func (m *memSource) Manifest(ctx context.Context, circuitID, version string) (Manifest, error) {
	mf, ok := m.manifests[circuitID+"@"+version]
	if !ok {
		return Manifest{}, errNotFound
	}
	return mf, nil
}

func (m *memSource) Fetch(ctx context.Context, filename string) ([]byte, error) {
	b, ok := m.blobs[filename]
	if !ok {
		return nil, errNotFound
	}
	return b, nil
}

var errNotFound = fmtErrorf("artifact not found")

func fmtErrorf(s string) error { return &simpleErr{s} }

type simpleErr struct{ s string }

func (e *simpleErr) Error() string { return e.s }

func descriptorFor(filename string, blob []byte) ArtifactDescriptor {
	sum := sha256.Sum256(blob)
	return ArtifactDescriptor{Filename: filename, SHA256: hex.EncodeToString(sum[:]), Size: int64(len(blob))}
}

func signManifest(t *testing.T, priv ed25519.PrivateKey, m Manifest) Manifest {
	t.Helper()
	m.Signature = ""
	canonicalBytes, err := canonical.Marshal(m)
	if err != nil {
		t.Fatalf("canonicalize manifest: %v", err)
	}
	sig := ed25519.Sign(priv, canonicalBytes)
	m.Signature = base64.StdEncoding.EncodeToString(sig)
	return m
}

func newFixture(t *testing.T) (*Loader, *memSource, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate manifest key: %v", err)
	}
	source := newMemSource()
	loader := NewLoader(source, []ed25519.PublicKey{pub}, nil)
	loader.SetMinimumVersion("age_gate", "1.0.0")
	return loader, source, priv
}

// the verification-key fixture is the serialized Groth16 key of a
// trivial circuit (trivialVerifyingKeyBytes), so it survives both the
// SHA-256 pin check and gnark's ReadFrom; the prover blob is
// placeholder bytes, which the loader only hash-checks.
func seedCircuit(t *testing.T, source *memSource, priv ed25519.PrivateKey, circuitID, version string) Manifest {
	t.Helper()
	proverBlob := []byte("prover-bytes-for-" + circuitID + "-" + version)
	vkBlob := trivialVerifyingKeyBytes(t)
	source.blobs["prover.bin"] = proverBlob
	source.blobs["vk.bin"] = vkBlob

	m := Manifest{
		CircuitID:      circuitID,
		Version:        version,
		BuildTimestamp: 1,
		Artifacts: ManifestArtifacts{
			Prover:          descriptorFor("prover.bin", proverBlob),
			VerificationKey: descriptorFor("vk.bin", vkBlob),
		},
		Builder: BuilderInfo{Name: "certen-circuit-builder", Version: "1.0.0"},
	}
	signed := signManifest(t, priv, m)
	source.manifests[circuitID+"@"+version] = signed
	return signed
}

func TestLoadFailsUnknownCircuit(t *testing.T) {
	loader, source, priv := newFixture(t)
	seedCircuit(t, source, priv, "other_circuit", "1.0.0")
	if _, err := loader.Load(context.Background(), "other_circuit", "1.0.0"); err == nil {
		t.Fatalf("expected UnknownCircuit for a circuit with no registered floor")
	}
}

func TestLoadRejectsDowngrade(t *testing.T) {
	loader, source, priv := newFixture(t)
	seedCircuit(t, source, priv, "age_gate", "0.9.0")
	if _, err := loader.Load(context.Background(), "age_gate", "0.9.0"); err == nil {
		t.Fatalf("expected DowngradeRejected below the registered floor")
	}
}

func TestLoadRejectsTamperedSignature(t *testing.T) {
	loader, source, priv := newFixture(t)
	m := seedCircuit(t, source, priv, "age_gate", "1.0.0")
	m.BuildTimestamp = 999 // mutate a signed field without re-signing
	source.manifests["age_gate@1.0.0"] = m
	if _, err := loader.Load(context.Background(), "age_gate", "1.0.0"); err == nil {
		t.Fatalf("expected ManifestSignatureInvalid for a mutated manifest")
	}
}

func TestLoadRejectsTamperedProverArtifact(t *testing.T) {
	loader, source, priv := newFixture(t)
	seedCircuit(t, source, priv, "age_gate", "1.0.0")
	source.blobs["prover.bin"] = []byte("corrupted bytes")
	if _, err := loader.Load(context.Background(), "age_gate", "1.0.0"); err == nil {
		t.Fatalf("expected ArtifactTampered for a prover blob that fails its hash pin")
	}
}

func TestLoadSucceedsAndCaches(t *testing.T) {
	loader, source, priv := newFixture(t)
	seedCircuit(t, source, priv, "age_gate", "1.0.0")

	first, err := loader.Load(context.Background(), "age_gate", "1.0.0")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if first.CircuitID != "age_gate" || first.Version != "1.0.0" {
		t.Fatalf("unexpected loaded circuit: %+v", first)
	}

	// Remove the backing artifacts; a cache hit must still succeed.
	delete(source.blobs, "prover.bin")
	delete(source.blobs, "vk.bin")
	second, err := loader.Load(context.Background(), "age_gate", "1.0.0")
	if err != nil {
		t.Fatalf("cached load: %v", err)
	}
	if second != first {
		t.Fatalf("expected the cached pointer to be reused")
	}
}

func TestClearCacheForcesRefetch(t *testing.T) {
	loader, source, priv := newFixture(t)
	seedCircuit(t, source, priv, "age_gate", "1.0.0")
	if _, err := loader.Load(context.Background(), "age_gate", "1.0.0"); err != nil {
		t.Fatalf("load: %v", err)
	}

	loader.ClearCache()
	delete(source.blobs, "prover.bin")
	if _, err := loader.Load(context.Background(), "age_gate", "1.0.0"); err == nil {
		t.Fatalf("expected a cache-cleared load to re-verify artifacts and fail")
	}
}
