// Copyright 2025 Certen Protocol
//
// Wires every trust-core component together from pkg/config, the same
// "load configuration, then construct collaborators" shape as the
// teacher's main.go (minus the consensus/chain/HTTP machinery this
// repo has no use for).

package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/cometbft/cometbft/libs/log"
	"github.com/google/uuid"

	"github.com/certen/credential-core/pkg/auditlog"
	"github.com/certen/credential-core/pkg/circuitloader"
	"github.com/certen/credential-core/pkg/config"
	"github.com/certen/credential-core/pkg/credential"
	"github.com/certen/credential-core/pkg/envelope"
	"github.com/certen/credential-core/pkg/keyregistry"
	"github.com/certen/credential-core/pkg/noncecache"
	"github.com/certen/credential-core/pkg/policy"
	"github.com/certen/credential-core/pkg/sealedstore"
	"github.com/certen/credential-core/pkg/telemetry"
	"github.com/certen/credential-core/pkg/validator"
)

// App holds every constructed collaborator a credctl subcommand might
// need. Not every subcommand uses every field.
type App struct {
	Config *config.Config
	Logger log.Logger

	DeviceKeyDB dbm.DB
	Device      *sealedstore.DeviceAEAD

	Audit    auditlog.Repository
	Keys     *keyregistry.Registry
	Policies *policy.Registry

	NonceCacheDB dbm.DB
	NonceCache   *noncecache.PersistentCache

	CircuitLoader *circuitloader.Loader

	SealedStoreDB dbm.DB
	SealedStore   *sealedstore.Store

	DeviceSignerDB dbm.DB
	DeviceSigner   *envelope.DeviceSigner
	Directory      *envelope.Directory

	Factory   *credential.Factory
	Telemetry *telemetry.Registry

	pendingCircuitFloors *config.RegistryConfig
}

// newLogger constructs the ambient logger every component logs
// through, matching pkg/consensus/bft_integration.go's construction.
func newLogger() log.Logger {
	return log.NewTMLogger(log.NewSyncWriter(os.Stdout))
}

// openDB opens a GoLevelDB-backed dbm.DB rooted under dataDir/name.
func openDB(name, dataDir string) (dbm.DB, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dataDir, err)
	}
	db, err := dbm.NewGoLevelDB(name, dataDir)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", name, err)
	}
	return db, nil
}

// parseTrustKeys parses a comma-separated list of hex-encoded ed25519
// public keys, as CERTEN_MANIFEST_TRUST_KEYS carries them.
func parseTrustKeys(csv string) ([]ed25519.PublicKey, error) {
	if strings.TrimSpace(csv) == "" {
		return nil, nil
	}
	var keys []ed25519.PublicKey
	for _, field := range strings.Split(csv, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		raw, err := hex.DecodeString(field)
		if err != nil {
			return nil, fmt.Errorf("invalid manifest trust key %q: %w", field, err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("manifest trust key %q: want %d bytes, got %d", field, ed25519.PublicKeySize, len(raw))
		}
		keys = append(keys, ed25519.PublicKey(raw))
	}
	return keys, nil
}

// newApp loads configuration and constructs every collaborator a
// subcommand might reach for. Subcommands that don't need the full
// set (e.g. a pure policy-file lint) still pay the cost of opening
// the on-disk stores; that is an acceptable simplification for an
// operator CLI that never keeps these stores open for long.
func newApp() (*App, error) {
	cfg := config.Load()
	logger := newLogger()

	app := &App{Config: cfg, Logger: logger}

	deviceKeyDB, err := openDB("device-key", cfg.DataDir)
	if err != nil {
		return nil, err
	}
	app.DeviceKeyDB = deviceKeyDB
	app.Device = sealedstore.NewDeviceAEAD(deviceKeyDB)

	audit := auditlog.NewMemoryRepository()
	app.Audit = audit

	app.Keys = keyregistry.New(app.Device, keyAuditAdapter{audit}, logger)
	app.Policies = policy.NewRegistry().WithLogger(logger)

	if cfg.PolicyRegistryPath != "" {
		regCfg, err := config.LoadRegistryConfig(cfg.PolicyRegistryPath)
		if err != nil {
			return nil, err
		}
		if err := regCfg.Validate(); err != nil {
			return nil, err
		}
		if err := regCfg.Apply(app.Policies); err != nil {
			return nil, err
		}
		app.pendingCircuitFloors = regCfg
	}

	if cfg.CircuitArtifactDir != "" {
		trustKeys, err := parseTrustKeys(cfg.ManifestTrustKeysHex)
		if err != nil {
			return nil, err
		}
		source := circuitloader.NewFileSource(cfg.CircuitArtifactDir)
		app.CircuitLoader = circuitloader.NewLoader(source, trustKeys, logger)
		if app.pendingCircuitFloors != nil {
			app.pendingCircuitFloors.ApplyCircuitFloors(app.CircuitLoader)
		}
	}

	nonceDir := cfg.NonceCacheDataDir
	if nonceDir == "" {
		nonceDir = cfg.DataDir
	}
	nonceDB, err := openDB("noncecache", nonceDir)
	if err != nil {
		return nil, err
	}
	nc, err := noncecache.NewPersistentCache(nonceDB, cfg.NonceCacheCapacity)
	if err != nil {
		return nil, err
	}
	app.NonceCacheDB = nonceDB
	app.NonceCache = nc

	sealedDB, err := openDB("sealed-store", cfg.DataDir)
	if err != nil {
		return nil, err
	}
	app.SealedStoreDB = sealedDB
	app.SealedStore = sealedstore.New(sealedDB, app.Device, sealedAuditAdapter{audit}, logger)

	signerDB, err := openDB("device-signer", cfg.DataDir)
	if err != nil {
		return nil, err
	}
	app.DeviceSignerDB = signerDB
	app.DeviceSigner = envelope.NewDeviceSigner(signerDB, app.Device)
	app.Directory = envelope.NewDirectory()

	app.Factory = credential.NewFactory(app.Keys, app.Policies).WithLogger(logger)
	app.Telemetry = telemetry.NewRegistry()

	return app, nil
}

// newValidator constructs a validator.Validator over the app's
// already-wired collaborators.
func (a *App) newValidator() *validator.Validator {
	sink := telemetry.NewSink(a.Telemetry)
	return validator.New(a.Keys, a.Policies, a.CircuitLoader, a.Directory, a.NonceCache, sink, a.Logger)
}

// keyAuditAdapter adapts auditlog.Repository to keyregistry.AuditSink
// (identical method set already — kept as a named adapter rather than
// relying on structural satisfaction at the call site for readability).
type keyAuditAdapter struct{ repo auditlog.Repository }

func (a keyAuditAdapter) Append(ctx context.Context, record keyregistry.AuditRecord) error {
	return a.repo.Append(ctx, record)
}

// sealedAuditAdapter adapts auditlog.Repository to
// sealedstore.AuditSink, translating its (event, cause, countWiped, at)
// panic-audit shape into a keyregistry.AuditRecord so both audit
// trails land in the same repository.
type sealedAuditAdapter struct{ repo auditlog.Repository }

func (a sealedAuditAdapter) Append(ctx context.Context, event, cause string, countWiped int, at time.Time) error {
	return a.repo.Append(ctx, keyregistry.AuditRecord{
		KeyID:  uuid.Nil,
		Event:  event,
		Reason: fmt.Sprintf("%s (wiped %d)", cause, countWiped),
		Actor:  "sealedstore",
		At:     at,
	})
}

// closeApp closes every on-disk store newApp opened. Subcommands defer
// this immediately after a successful newApp call.
func closeApp(a *App) {
	for _, db := range []dbm.DB{a.DeviceKeyDB, a.SealedStoreDB, a.DeviceSignerDB, a.NonceCacheDB} {
		if db != nil {
			_ = db.Close()
		}
	}
}
