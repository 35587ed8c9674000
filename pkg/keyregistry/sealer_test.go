package keyregistry

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

// memSealer is a fixed-key AES-256-GCM sealer used only by this
// package's own tests; pkg/sealedstore.DeviceAEAD is the production
// Sealer used by the rest of the module.
type memSealer struct {
	gcm cipher.AEAD
}

func newMemSealer() *memSealer {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic(err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		panic(err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		panic(err)
	}
	return &memSealer{gcm: gcm}
}

func (s *memSealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return s.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *memSealer) Open(sealed []byte) ([]byte, error) {
	ns := s.gcm.NonceSize()
	if len(sealed) < ns {
		return nil, fmt.Errorf("sealed ciphertext too short")
	}
	nonce, ct := sealed[:ns], sealed[ns:]
	return s.gcm.Open(nil, nonce, ct, nil)
}

// memAudit records AuditRecords in memory for assertions.
type memAudit struct {
	records []AuditRecord
}

func (a *memAudit) Append(ctx context.Context, rec AuditRecord) error {
	a.records = append(a.records, rec)
	return nil
}
