package validator

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"sync"
	"testing"
	"time"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/consensys/gnark/backend/groth16"

	"github.com/certen/credential-core/pkg/canonical"
	"github.com/certen/credential-core/pkg/certenerr"
	"github.com/certen/credential-core/pkg/circuitloader"
	"github.com/certen/credential-core/pkg/credential"
	"github.com/certen/credential-core/pkg/envelope"
	"github.com/certen/credential-core/pkg/keyregistry"
	"github.com/certen/credential-core/pkg/policy"
)

// memSealer is a trivial XOR Sealer, duplicated from pkg/envelope's own
// test fixture rather than imported, to avoid a test-only dependency
// between the two packages.
type memSealer struct{ key byte }

func (s memSealer) Seal(plaintext []byte) ([]byte, error) {
	out := make([]byte, len(plaintext))
	for i, b := range plaintext {
		out[i] = b ^ s.key
	}
	return out, nil
}

func (s memSealer) Open(sealed []byte) ([]byte, error) { return s.Seal(sealed) }

// memSource is an in-memory circuitloader.ArtifactSource, the same
// shape as pkg/circuitloader's own test fixture.
type memSource struct {
	manifests map[string]circuitloader.Manifest
	blobs     map[string][]byte
}

func newMemSource() *memSource {
	return &memSource{manifests: map[string]circuitloader.Manifest{}, blobs: map[string][]byte{}}
}

func (m *memSource) Manifest(ctx context.Context, circuitID, version string) (circuitloader.Manifest, error) {
	mf, ok := m.manifests[circuitID+"@"+version]
	if !ok {
		return circuitloader.Manifest{}, certenerr.New(certenerr.KindResource, certenerr.ReasonUnavailable, "manifest not found")
	}
	return mf, nil
}

func (m *memSource) Fetch(ctx context.Context, filename string) ([]byte, error) {
	b, ok := m.blobs[filename]
	if !ok {
		return nil, certenerr.New(certenerr.KindResource, certenerr.ReasonUnavailable, "artifact not found")
	}
	return b, nil
}

func descriptorFor(filename string, blob []byte) circuitloader.ArtifactDescriptor {
	sum := sha256.Sum256(blob)
	return circuitloader.ArtifactDescriptor{Filename: filename, SHA256: hex.EncodeToString(sum[:]), Size: int64(len(blob))}
}

func signManifest(t *testing.T, priv ed25519.PrivateKey, m circuitloader.Manifest) circuitloader.Manifest {
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

// memNonceCache is a trivial, non-concurrent NonceCache fake standing
// in for pkg/noncecache in these tests.
type memNonceCache struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemNonceCache() *memNonceCache { return &memNonceCache{seen: map[string]bool{}} }

func (c *memNonceCache) Contains(ctx context.Context, nonce string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen[nonce], nil
}

func (c *memNonceCache) Insert(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen[nonce] {
		return false, nil
	}
	c.seen[nonce] = true
	return true, nil
}

var (
	fixtureKeysOnce sync.Once
	fixturePK       groth16.ProvingKey
	fixtureVK       groth16.VerifyingKey
)

func policyCircuitKeys(t *testing.T) (groth16.ProvingKey, groth16.VerifyingKey) {
	t.Helper()
	fixtureKeysOnce.Do(func() {
		cs, err := circuitloader.CompiledPolicyCircuit()
		if err != nil {
			t.Fatalf("compile policy circuit: %v", err)
		}
		fixturePK, fixtureVK, err = groth16.Setup(cs)
		if err != nil {
			t.Fatalf("groth16 setup: %v", err)
		}
	})
	return fixturePK, fixtureVK
}

func serializeProvingKey(t *testing.T, pk groth16.ProvingKey) []byte {
	t.Helper()
	var buf bytes.Buffer
	if _, err := pk.WriteTo(&buf); err != nil {
		t.Fatalf("serialize proving key: %v", err)
	}
	return buf.Bytes()
}

func serializeVerifyingKey(t *testing.T, vk groth16.VerifyingKey) []byte {
	t.Helper()
	var buf bytes.Buffer
	if _, err := vk.WriteTo(&buf); err != nil {
		t.Fatalf("serialize verifying key: %v", err)
	}
	return buf.Bytes()
}

// harness bundles every collaborator the validator needs, wired
// together the way a deployment would, plus the raw signer/registry
// handles a test needs to mutate mid-scenario (e.g. retiring a key).
type harness struct {
	registry  *keyregistry.Registry
	policies  *policy.Registry
	circuits  *circuitloader.Loader
	devices   *envelope.Directory
	signer    *envelope.DeviceSigner
	validator *Validator
	deviceTag string
}

func newHarness(t *testing.T, manifestPriv ed25519.PrivateKey, manifestPub ed25519.PublicKey) *harness {
	t.Helper()
	registry := keyregistry.New(memSealer{key: 0x5A}, nil, nil)

	policies := policy.NewRegistry()
	if err := policies.Publish(policy.Descriptor{
		PolicyID:       "age_gate",
		Version:        "1.2.0",
		CircuitID:      "age_gate_circuit",
		MinimumVersion: "1.2.0",
		Status:         policy.StatusActive,
	}); err != nil {
		t.Fatalf("publish policy: %v", err)
	}
	policies.SetMinimumVersion("age_gate", "1.2.0")

	_, vk := policyCircuitKeys(t)
	source := newMemSource()
	vkBlob := serializeVerifyingKey(t, vk)
	proverBlob := []byte("prover-blob-placeholder")
	source.blobs["prover.bin"] = proverBlob
	source.blobs["vk.bin"] = vkBlob
	manifest := circuitloader.Manifest{
		CircuitID:      "age_gate_circuit",
		Version:        "1.2.0",
		BuildTimestamp: 1,
		Artifacts: circuitloader.ManifestArtifacts{
			Prover:          descriptorFor("prover.bin", proverBlob),
			VerificationKey: descriptorFor("vk.bin", vkBlob),
		},
		Builder: circuitloader.BuilderInfo{Name: "certen-circuit-builder", Version: "1.0.0"},
	}
	source.manifests["age_gate_circuit@1.2.0"] = signManifest(t, manifestPriv, manifest)

	loader := circuitloader.NewLoader(source, []ed25519.PublicKey{manifestPub}, nil)
	loader.SetMinimumVersion("age_gate_circuit", "1.2.0")

	devices := envelope.NewDirectory()
	signer := envelope.NewDeviceSigner(dbm.NewMemDB(), memSealer{key: 0xA5})
	pub, err := signer.PublicKey()
	if err != nil {
		t.Fatalf("device public key: %v", err)
	}
	tag, err := signer.DeviceTag()
	if err != nil {
		t.Fatalf("device tag: %v", err)
	}
	devices.Register(tag, pub)

	v := New(registry, policies, loader, devices, newMemNonceCache(), nil, nil)
	return &harness{registry: registry, policies: policies, circuits: loader, devices: devices, signer: signer, validator: v, deviceTag: tag}
}

func issueCredential(t *testing.T, h *harness, policyVersion string) string {
	t.Helper()
	factory := credential.NewFactory(h.registry, h.policies)
	encoded, _, err := factory.Issue(context.Background(), credential.IdentityClaims{
		SubjectIDHash: "s_hash",
		Attributes:    map[string]interface{}{"age": 21},
	}, "age_gate", policyVersion, h.deviceTag, time.Hour)
	if err != nil {
		t.Fatalf("issue credential: %v", err)
	}
	return encoded.String()
}

func buildEnvelope(t *testing.T, h *harness, credWire, policyVersion, origin, nonce string) *envelope.Envelope {
	t.Helper()
	pk, _ := policyCircuitKeys(t)
	loaded := &circuitloader.LoadedCircuit{
		CircuitID:   "age_gate_circuit",
		Version:     policyVersion,
		ProverBytes: serializeProvingKey(t, pk),
	}
	env, err := envelope.NewBuilder(h.signer, loaded).
		WithPolicy("age_gate", policyVersion).
		WithChallenge(envelope.Challenge{Origin: origin, Nonce: nonce}).
		WithCredential(credWire).
		WithResult(true).
		Build()
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	return env
}

func freshNonce() string { return strings.Repeat("ab", 32) }

func reasonOf(t *testing.T, err error) certenerr.Reason {
	t.Helper()
	if err == nil {
		t.Fatalf("expected an error")
	}
	return certenerr.ReasonOf(err)
}

func TestValidateHappyPath(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate manifest key: %v", err)
	}
	h := newHarness(t, priv, pub)
	if _, err := h.registry.Rotate(context.Background(), keyregistry.AlgorithmEd25519); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	credWire := issueCredential(t, h, "1.2.0")
	env := buildEnvelope(t, h, credWire, "1.2.0", "https://example.com", freshNonce())

	result, err := h.validator.Validate(context.Background(), env, "https://example.com", credWire)
	if err != nil {
		t.Fatalf("expected Valid, got %v", err)
	}
	if result.PolicyID != "age_gate" || !result.ClaimResultBit {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestValidateCrossDomainReplay(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate manifest key: %v", err)
	}
	h := newHarness(t, priv, pub)
	if _, err := h.registry.Rotate(context.Background(), keyregistry.AlgorithmEd25519); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	credWire := issueCredential(t, h, "1.2.0")
	env := buildEnvelope(t, h, credWire, "1.2.0", "https://example.com", freshNonce())

	_, err = h.validator.Validate(context.Background(), env, "https://attacker.com", credWire)
	if reasonOf(t, err) != certenerr.ReasonOriginMismatch {
		t.Fatalf("expected OriginMismatch, got %v", err)
	}
}

func TestValidateNonceReplay(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate manifest key: %v", err)
	}
	h := newHarness(t, priv, pub)
	if _, err := h.registry.Rotate(context.Background(), keyregistry.AlgorithmEd25519); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	credWire := issueCredential(t, h, "1.2.0")
	env := buildEnvelope(t, h, credWire, "1.2.0", "https://example.com", freshNonce())

	if _, err := h.validator.Validate(context.Background(), env, "https://example.com", credWire); err != nil {
		t.Fatalf("first validation: expected Valid, got %v", err)
	}
	_, err = h.validator.Validate(context.Background(), env, "https://example.com", credWire)
	if reasonOf(t, err) != certenerr.ReasonNonceAlreadyUsed {
		t.Fatalf("expected NonceAlreadyUsed on replay, got %v", err)
	}
}

func TestValidateDowngradeRejectedNeverChecksProof(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate manifest key: %v", err)
	}
	h := newHarness(t, priv, pub)
	if _, err := h.registry.Rotate(context.Background(), keyregistry.AlgorithmEd25519); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	credWire := issueCredential(t, h, "1.2.0")
	env := buildEnvelope(t, h, credWire, "1.0.0", "https://example.com", freshNonce())
	// Corrupt the proof bytes: if the downgrade check truly runs before
	// proof verification, this must still fail DowngradeRejected, not
	// InvalidProof.
	env.Proof = base64.StdEncoding.EncodeToString([]byte("not-a-real-proof"))

	_, err = h.validator.Validate(context.Background(), env, "https://example.com", credWire)
	if reasonOf(t, err) != certenerr.ReasonDowngradeRejected {
		t.Fatalf("expected DowngradeRejected, got %v", err)
	}
}

func TestValidateKeyRetirementMidFlight(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate manifest key: %v", err)
	}
	h := newHarness(t, priv, pub)
	k1, err := h.registry.Rotate(context.Background(), keyregistry.AlgorithmEd25519)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	credWire := issueCredential(t, h, "1.2.0")
	env := buildEnvelope(t, h, credWire, "1.2.0", "https://example.com", freshNonce())

	if err := h.registry.Retire(context.Background(), k1.ID, "compromise", "test"); err != nil {
		t.Fatalf("retire: %v", err)
	}

	_, err = h.validator.Validate(context.Background(), env, "https://example.com", credWire)
	if reasonOf(t, err) != certenerr.ReasonRetiredKey {
		t.Fatalf("expected RetiredKey even though the credential has not expired, got %v", err)
	}
}

func TestCheckClockSkewBoundary(t *testing.T) {
	reference := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	v := &Validator{now: func() time.Time { return reference }}

	cases := []struct {
		name      string
		issuedAt  time.Time
		expectErr bool
	}{
		{"299s in the past passes", reference.Add(-299 * time.Second), false},
		{"301s in the past fails", reference.Add(-301 * time.Second), true},
		{"301s in the future fails", reference.Add(301 * time.Second), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.checkClockSkew(&envelope.Envelope{IssuedAt: tc.issuedAt})
			if tc.expectErr && reasonOf(t, err) != certenerr.ReasonClockSkew {
				t.Fatalf("expected ClockSkew, got %v", err)
			}
			if !tc.expectErr && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})
	}
}
