package keyregistry

import (
	"encoding/base64"
	"math/big"
)

func base64urlBytes(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func base64urlBigInt(n *big.Int) string {
	b := n.Bytes()
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return base64urlBytes(padded)
}
