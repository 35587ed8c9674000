// Copyright 2025 Certen Protocol
//
// Package config loads the trust core's runtime configuration from
// environment variables, in the teacher's style: explicit variable
// names, a Load()/Validate() pair, and no silent defaults for
// security-sensitive fields. Grounded on pkg/config/config.go.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds the environment-derived configuration for a validator
// or issuer process.
type Config struct {
	// Service identity
	LogLevel string

	// Metrics/health surface (pkg/telemetry's scrape endpoint) — the
	// trust core itself serves no HTTP, but a host process typically
	// exposes this address.
	MetricsAddr string

	// Audit log (pkg/auditlog)
	AuditDatabaseURL      string
	AuditDatabaseRequired bool

	// Nonce cache (pkg/noncecache)
	NonceCacheDataDir    string
	NonceCacheCapacity   int
	NonceCacheSweepEvery int // seconds

	// On-device storage for the sealed store, its device key, the
	// envelope device signer, and the nonce cache when
	// NonceCacheDataDir is empty (the key registry is in-memory)
	DataDir string

	// Circuit artifacts (pkg/circuitloader.FileSource root directory,
	// holding <dir>/<circuitID>/<version>/manifest.json) and the
	// comma-separated hex ed25519 public keys manifests must be signed
	// by.
	CircuitArtifactDir   string
	ManifestTrustKeysHex string

	// Policy registry (pkg/policy / pkg/config.RegistryConfig)
	PolicyRegistryPath string
}

// Load reads configuration from environment variables. It never
// returns an error itself — Validate reports missing required fields
// — mirroring the teacher's split between unconditional Load and an
// explicit Validate step.
func Load() *Config {
	return &Config{
		LogLevel: getEnv("CERTEN_LOG_LEVEL", "info"),

		MetricsAddr: getEnv("CERTEN_METRICS_ADDR", "0.0.0.0:9090"),

		AuditDatabaseURL:      getEnv("CERTEN_AUDIT_DATABASE_URL", ""),
		AuditDatabaseRequired: getEnvBool("CERTEN_AUDIT_DATABASE_REQUIRED", false),

		NonceCacheDataDir:    getEnv("CERTEN_NONCE_CACHE_DIR", ""),
		NonceCacheCapacity:   getEnvInt("CERTEN_NONCE_CACHE_CAPACITY", 1_000_000),
		NonceCacheSweepEvery: getEnvInt("CERTEN_NONCE_CACHE_SWEEP_SECONDS", 60),

		DataDir: getEnv("CERTEN_DATA_DIR", "./data"),

		CircuitArtifactDir:   getEnv("CERTEN_CIRCUIT_ARTIFACT_DIR", ""),
		ManifestTrustKeysHex: getEnv("CERTEN_MANIFEST_TRUST_KEYS", ""),

		PolicyRegistryPath: getEnv("CERTEN_POLICY_REGISTRY_PATH", ""),
	}
}

// Validate checks that all required configuration is present for a
// production validator deployment. Security-sensitive fields have no
// default and must be explicitly set.
func (c *Config) Validate() error {
	var errs []string

	if c.AuditDatabaseURL == "" && c.AuditDatabaseRequired {
		errs = append(errs, "CERTEN_AUDIT_DATABASE_URL is required but not set")
	}
	if c.CircuitArtifactDir == "" {
		errs = append(errs, "CERTEN_CIRCUIT_ARTIFACT_DIR is required but not set")
	}
	if c.PolicyRegistryPath == "" {
		errs = append(errs, "CERTEN_POLICY_REGISTRY_PATH is required but not set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
