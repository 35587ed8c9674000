// Copyright 2025 Certen Protocol
//
// ArtifactSource abstracts manifest/artifact fetch (HTTP, file, or CDN
// — opaque to the core, per spec §4.4). Grounded conceptually on
// accumulate-lite-client-2/liteclient/api's request/fetch split (that
// package is deleted — see DESIGN.md — since it is Accumulate-chain
// transport, not a generic artifact fetcher).

package circuitloader

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/certen/credential-core/pkg/certenerr"
)

// ArtifactSource fetches circuit manifests and the blobs they describe.
type ArtifactSource interface {
	Manifest(ctx context.Context, circuitID, version string) (Manifest, error)
	Fetch(ctx context.Context, filename string) ([]byte, error)
}

// FileSource is a directory-backed ArtifactSource: manifests live at
// <dir>/<circuitID>/<version>/manifest.json, and every artifact
// filename a manifest names is resolved relative to that same
// directory. credctl uses it as the on-disk deployment backend; the
// loader's own tests use an in-memory source instead.
type FileSource struct {
	dir string
}

// NewFileSource constructs a FileSource rooted at dir.
func NewFileSource(dir string) *FileSource {
	return &FileSource{dir: dir}
}

func (f *FileSource) Manifest(ctx context.Context, circuitID, version string) (Manifest, error) {
	path := filepath.Join(f.dir, circuitID, version, "manifest.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, certenerr.Wrap(certenerr.KindResource, certenerr.ReasonUnavailable, "fetch circuit manifest", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Manifest{}, certenerr.Wrap(certenerr.KindInput, certenerr.ReasonManifestInvalid, "parse circuit manifest", err)
	}
	return m, nil
}

func (f *FileSource) Fetch(ctx context.Context, filename string) ([]byte, error) {
	raw, err := os.ReadFile(filepath.Join(f.dir, filename))
	if err != nil {
		return nil, certenerr.Wrap(certenerr.KindResource, certenerr.ReasonUnavailable, "fetch circuit artifact", err)
	}
	return raw, nil
}
