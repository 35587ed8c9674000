// Copyright 2025 Certen Protocol
//
// The policy registry file declares the set of policy descriptors and
// version floors an operator wants published at startup, rather than
// a handful of scalar settings — so it lives in YAML, not environment
// variables. Grounded on pkg/config/anchor_config.go's YAML loader:
// the same env-substitution syntax (${VAR} / ${VAR:-default}) that
// file uses for its settings.
//
// It deliberately reuses pkg/policy.Descriptor itself rather than
// redeclaring an equivalent shape — the registry file is this
// package's serialization of exactly what gets published.

package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/certen/credential-core/pkg/policy"
)

// RegistryConfig is the top-level shape of the policy registry YAML
// file: the descriptors to publish plus the anti-downgrade floors to
// apply, for both policies (pkg/policy) and circuits (pkg/circuitloader).
type RegistryConfig struct {
	Policies               []policy.Descriptor `yaml:"policies"`
	PolicyMinimumVersions  map[string]string    `yaml:"policyMinimumVersions"`
	CircuitMinimumVersions map[string]string    `yaml:"circuitMinimumVersions"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// substituteEnvVars replaces ${VAR_NAME} and ${VAR_NAME:-default}
// occurrences with the named environment variable's value, falling
// back to the literal default when the variable is unset.
func substituteEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		varName := groups[1]
		defaultValue := groups[3]
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// LoadRegistryConfig reads and parses the policy registry YAML file at
// path, substituting ${VAR}/${VAR:-default} references before
// unmarshaling.
func LoadRegistryConfig(path string) (*RegistryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry config %s: %w", path, err)
	}

	expanded := substituteEnvVars(string(data))

	var cfg RegistryConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse registry config %s: %w", path, err)
	}

	return &cfg, nil
}

// Validate checks that every policy descriptor is well-formed enough
// to publish, accumulating all violations before returning — the same
// pattern as Config.Validate.
func (rc *RegistryConfig) Validate() error {
	var errs []string

	for _, d := range rc.Policies {
		if d.PolicyID == "" {
			errs = append(errs, "policy entry missing policyId")
			continue
		}
		if d.Version == "" {
			errs = append(errs, fmt.Sprintf("policy %q missing version", d.PolicyID))
		}
		if d.CircuitID == "" {
			errs = append(errs, fmt.Sprintf("policy %q missing circuitId", d.PolicyID))
		}
		if d.DefaultTTLSeconds <= 0 {
			errs = append(errs, fmt.Sprintf("policy %s@%s has non-positive defaultTtlSeconds", d.PolicyID, d.Version))
		}
	}

	if len(errs) > 0 {
		msg := "registry config validation failed:"
		for _, e := range errs {
			msg += "\n  - " + e
		}
		return fmt.Errorf("%s", msg)
	}
	return nil
}

// Apply publishes every descriptor into reg and sets every configured
// policy minimum version floor. It does not touch circuit minimum
// versions — those belong to a pkg/circuitloader.Loader, which the
// caller applies via ApplyCircuitFloors.
func (rc *RegistryConfig) Apply(reg *policy.Registry) error {
	for _, d := range rc.Policies {
		if err := reg.Publish(d); err != nil {
			return fmt.Errorf("publish %s@%s: %w", d.PolicyID, d.Version, err)
		}
	}
	for policyID, version := range rc.PolicyMinimumVersions {
		reg.SetMinimumVersion(policyID, version)
	}
	return nil
}

// circuitFloorSetter is satisfied by pkg/circuitloader.Loader's
// SetMinimumVersion method, declared locally so pkg/config never
// imports pkg/circuitloader directly.
type circuitFloorSetter interface {
	SetMinimumVersion(circuitID, version string)
}

// ApplyCircuitFloors sets every configured circuit minimum version
// floor on loader.
func (rc *RegistryConfig) ApplyCircuitFloors(loader circuitFloorSetter) {
	for circuitID, version := range rc.CircuitMinimumVersions {
		loader.SetMinimumVersion(circuitID, version)
	}
}
