// Copyright 2025 Certen Protocol
//
// Directory resolves a credential's device-tag commitment to the
// signing public key the validator must verify the envelope against
// (§4.7 step 8: "the device signing key associated with the device tag
// in the credential"). Grounded on keyregistry.Registry's mutex-guarded
// map shape, scaled down to the single operation a directory needs.

package envelope

import (
	"crypto/ed25519"
	"sync"

	"github.com/certen/credential-core/pkg/certenerr"
)

// Directory is a mutex-guarded registration of device tag to signing
// public key. A deployment populates it as devices register (e.g. at
// first credential issuance, binding the device's DeviceSigner public
// key to the tag it will embed in every credential it holds).
type Directory struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PublicKey
}

// NewDirectory returns an empty device-key directory.
func NewDirectory() *Directory {
	return &Directory{keys: make(map[string]ed25519.PublicKey)}
}

// Register binds deviceTag to pub, overwriting any prior registration
// (a device re-registering after key loss is expected operationally).
func (d *Directory) Register(deviceTag string, pub ed25519.PublicKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys[deviceTag] = pub
}

// Lookup resolves deviceTag to its registered signing public key, or
// fails with UnknownKey.
func (d *Directory) Lookup(deviceTag string) (ed25519.PublicKey, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	pub, ok := d.keys[deviceTag]
	if !ok {
		return nil, certenerr.New(certenerr.KindState, certenerr.ReasonUnknownKey, "no signing key registered for device tag")
	}
	return pub, nil
}
