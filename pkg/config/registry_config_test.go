// Copyright 2025 Certen Protocol

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/certen/credential-core/pkg/policy"
)

const sampleRegistryYAML = `
policies:
  - policyId: age_gate
    version: "1.2.0"
    circuitId: age_over_18
    verificationKeyFingerprint: ${VK_FINGERPRINT:-deadbeef}
    requiredPublicSignals: ["over18"]
    defaultTtlSeconds: 3600
    status: active
policyMinimumVersions:
  age_gate: "1.0.0"
circuitMinimumVersions:
  age_over_18: "1.0.0"
`

func TestLoadRegistryConfigParsesPolicies(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.yaml")
	if err := os.WriteFile(path, []byte(sampleRegistryYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	os.Unsetenv("VK_FINGERPRINT")

	cfg, err := LoadRegistryConfig(path)
	if err != nil {
		t.Fatalf("LoadRegistryConfig: %v", err)
	}

	if len(cfg.Policies) != 1 || cfg.Policies[0].PolicyID != "age_gate" {
		t.Fatalf("unexpected policies: %+v", cfg.Policies)
	}
	if cfg.Policies[0].VerificationKeyFingerprint != "deadbeef" {
		t.Errorf("VerificationKeyFingerprint = %q, want default substitution applied", cfg.Policies[0].VerificationKeyFingerprint)
	}
	if cfg.PolicyMinimumVersions["age_gate"] != "1.0.0" {
		t.Errorf("PolicyMinimumVersions[age_gate] = %q, want 1.0.0", cfg.PolicyMinimumVersions["age_gate"])
	}
}

func TestLoadRegistryConfigHonorsEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.yaml")
	if err := os.WriteFile(path, []byte(sampleRegistryYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	os.Setenv("VK_FINGERPRINT", "cafef00d")
	defer os.Unsetenv("VK_FINGERPRINT")

	cfg, err := LoadRegistryConfig(path)
	if err != nil {
		t.Fatalf("LoadRegistryConfig: %v", err)
	}
	if cfg.Policies[0].VerificationKeyFingerprint != "cafef00d" {
		t.Fatalf("VerificationKeyFingerprint = %q, want override applied", cfg.Policies[0].VerificationKeyFingerprint)
	}
}

func TestRegistryConfigValidateCatchesMissingFields(t *testing.T) {
	cfg := &RegistryConfig{
		Policies: []policy.Descriptor{{PolicyID: "p", Version: "1.0.0"}},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for missing circuitId/defaultTtlSeconds")
	}
}

func TestRegistryConfigValidatePassesForWellFormedEntry(t *testing.T) {
	cfg := &RegistryConfig{
		Policies: []policy.Descriptor{{
			PolicyID:          "p1",
			Version:           "1.0.0",
			CircuitID:         "c1",
			DefaultTTLSeconds: 3600,
		}},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRegistryConfigApplyPublishesAndSetsFloors(t *testing.T) {
	cfg := &RegistryConfig{
		Policies: []policy.Descriptor{{
			PolicyID:          "p1",
			Version:           "1.0.0",
			CircuitID:         "c1",
			DefaultTTLSeconds: 3600,
		}},
		PolicyMinimumVersions: map[string]string{"p1": "1.0.0"},
	}

	reg := policy.NewRegistry()
	if err := cfg.Apply(reg); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if _, err := reg.Resolve("p1", "1.0.0"); err != nil {
		t.Fatalf("Resolve after Apply: %v", err)
	}
	if floor, err := reg.MinimumVersion("p1"); err != nil || floor != "1.0.0" {
		t.Fatalf("MinimumVersion = (%q, %v), want (1.0.0, nil)", floor, err)
	}
}

type fakeCircuitFloorSetter struct {
	floors map[string]string
}

func (f *fakeCircuitFloorSetter) SetMinimumVersion(circuitID, version string) {
	if f.floors == nil {
		f.floors = make(map[string]string)
	}
	f.floors[circuitID] = version
}

func TestRegistryConfigApplyCircuitFloors(t *testing.T) {
	cfg := &RegistryConfig{
		CircuitMinimumVersions: map[string]string{"c1": "2.0.0"},
	}
	setter := &fakeCircuitFloorSetter{}
	cfg.ApplyCircuitFloors(setter)
	if setter.floors["c1"] != "2.0.0" {
		t.Fatalf("floors[c1] = %q, want 2.0.0", setter.floors["c1"])
	}
}
