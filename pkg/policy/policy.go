// Copyright 2025 Certen Protocol
//
// Package policy is the descriptor registry referenced by the
// credential factory, the envelope validator's anti-downgrade check,
// and the circuit loader. Grounded on pkg/config/anchor_config.go's
// YAML-plus-environment-substitution loader, scaled down to the
// handful of fields a policy descriptor actually needs.

package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/cometbft/cometbft/libs/log"

	"github.com/certen/credential-core/pkg/certenerr"
	"github.com/certen/credential-core/pkg/semver"
)

// Hash returns the envelope's policy_hash binding: the hex SHA-256 of
// the plain string "policyId@version" (not a canonical encoding — §4.7
// step 5 defines this as a direct concatenation, not a JSON document).
func Hash(policyID, version string) string {
	sum := sha256.Sum256([]byte(policyID + "@" + version))
	return hex.EncodeToString(sum[:])
}

// Status is a policy's lifecycle state. A published policy is never
// mutated in place; a new version is appended instead.
type Status string

const (
	StatusActive     Status = "active"
	StatusDeprecated Status = "deprecated"
	StatusBlocked    Status = "blocked"
)

// Descriptor is an immutable, published policy version.
type Descriptor struct {
	PolicyID                   string   `yaml:"policyId"`
	Version                    string   `yaml:"version"`
	CircuitID                  string   `yaml:"circuitId"`
	MinimumVersion             string   `yaml:"minimumVersion"`
	VerificationKeyFingerprint string   `yaml:"verificationKeyFingerprint"`
	RequiredPublicSignals      []string `yaml:"requiredPublicSignals"`
	RequiredClaims             []string `yaml:"requiredClaims"`
	DefaultTTLSeconds          int64    `yaml:"defaultTtlSeconds"`
	Status                     Status   `yaml:"status"`
}

// Registry holds every published policy descriptor, keyed by
// (policyId, version), plus the anti-downgrade floor per policyId.
type Registry struct {
	mu         sync.RWMutex
	versions   map[string]map[string]*Descriptor // policyId -> version -> descriptor
	minVersion map[string]string                 // policyId -> minimum acceptable version
	log        log.Logger
}

// NewRegistry returns an empty policy registry.
func NewRegistry() *Registry {
	return &Registry{
		versions:   make(map[string]map[string]*Descriptor),
		minVersion: make(map[string]string),
		log:        log.NewNopLogger(),
	}
}

// WithLogger attaches a logger, replacing the default no-op, and
// returns the registry for chaining at construction time.
func (r *Registry) WithLogger(logger log.Logger) *Registry {
	if logger != nil {
		r.log = logger
	}
	return r
}

// Publish appends a new immutable policy version. Publishing a version
// that already exists for the same policyId is rejected — descriptors
// are append-only.
func (r *Registry) Publish(d Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byVersion, ok := r.versions[d.PolicyID]
	if !ok {
		byVersion = make(map[string]*Descriptor)
		r.versions[d.PolicyID] = byVersion
	}
	if _, exists := byVersion[d.Version]; exists {
		return certenerr.New(certenerr.KindInput, certenerr.ReasonInvariantViolation, fmt.Sprintf("policy %s@%s already published", d.PolicyID, d.Version))
	}
	cp := d
	byVersion[d.Version] = &cp
	if floor, ok := r.minVersion[d.PolicyID]; !ok || semver.Compare(d.Version, floor) < 0 {
		if !ok {
			r.minVersion[d.PolicyID] = d.Version
		}
	}
	r.log.Info("policy published", "policy_id", d.PolicyID, "version", d.Version, "status", d.Status)
	return nil
}

// SetMinimumVersion sets the anti-downgrade floor for policyId
// independently of any particular published version (operators may
// raise the floor without publishing a new version).
func (r *Registry) SetMinimumVersion(policyID, version string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.minVersion[policyID] = version
	r.log.Info("policy minimum version floor set", "policy_id", policyID, "minimum_version", version)
}

// Resolve returns the published descriptor for (policyId, version),
// failing with UnknownPolicy if either the policy id or that specific
// version has never been published.
func (r *Registry) Resolve(policyID, version string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byVersion, ok := r.versions[policyID]
	if !ok {
		return nil, certenerr.New(certenerr.KindState, certenerr.ReasonUnknownPolicy, fmt.Sprintf("unknown policy id %q", policyID))
	}
	d, ok := byVersion[version]
	if !ok {
		return nil, certenerr.New(certenerr.KindState, certenerr.ReasonUnknownPolicy, fmt.Sprintf("unknown policy version %s@%s", policyID, version))
	}
	return d, nil
}

// Latest returns the highest published version of policyID.
func (r *Registry) Latest(policyID string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byVersion, ok := r.versions[policyID]
	if !ok || len(byVersion) == 0 {
		return nil, certenerr.New(certenerr.KindState, certenerr.ReasonUnknownPolicy, fmt.Sprintf("unknown policy id %q", policyID))
	}
	vs := make([]string, 0, len(byVersion))
	for v := range byVersion {
		vs = append(vs, v)
	}
	sort.Slice(vs, func(i, j int) bool { return semver.Compare(vs[i], vs[j]) < 0 })
	return byVersion[vs[len(vs)-1]], nil
}

// MinimumVersion returns the anti-downgrade floor for policyID, or
// UnknownPolicy if no floor has ever been set.
func (r *Registry) MinimumVersion(policyID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	floor, ok := r.minVersion[policyID]
	if !ok {
		return "", certenerr.New(certenerr.KindState, certenerr.ReasonUnknownPolicy, fmt.Sprintf("unknown policy id %q", policyID))
	}
	return floor, nil
}

// CheckVersion enforces the anti-downgrade floor: fails with
// DowngradeRejected if version is strictly less than the registered
// minimum for policyID, and with UnknownPolicy if policyID carries no
// floor at all.
func (r *Registry) CheckVersion(policyID, version string) error {
	floor, err := r.MinimumVersion(policyID)
	if err != nil {
		return err
	}
	if semver.Compare(version, floor) < 0 {
		r.log.Error("policy downgrade rejected", "policy_id", policyID, "version", version, "floor", floor)
		return certenerr.New(certenerr.KindPolicy, certenerr.ReasonDowngradeRejected, fmt.Sprintf("policy %s version %s below floor %s", policyID, version, floor))
	}
	return nil
}
