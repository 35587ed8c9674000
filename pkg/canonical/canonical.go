// Copyright 2025 Certen Protocol
//
// Package canonical produces deterministic bytes for any record whose
// signature is computed over it. Every signer and verifier in the
// trust core (credential factory, circuit manifest, proof envelope)
// funnels through this package rather than trusting a general-purpose
// JSON library's default key ordering.

package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strconv"
)

// SignatureField is the struct/map key removed before encoding when present.
const SignatureField = "signature"

// Marshal produces the canonical encoding of v: object keys sorted
// lexicographically by UTF-8 codepoint (recursively), no whitespace
// between tokens, minimal string escaping, integers emitted without a
// fractional part, and the designated signature field stripped.
//
// v is first round-tripped through encoding/json to obtain a generic
// tree (so callers can pass Go structs with json tags); canonical.go
// then owns all formatting decisions from that point on — the
// stdlib encoder's own key order and whitespace choices are discarded.
func Marshal(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal input: %w", err)
	}
	var tree interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("canonical: decode tree: %w", err)
	}
	tree = stripSignature(tree)
	var buf []byte
	buf, err = encodeValue(buf, tree)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// MarshalMap is a convenience for callers that already hold a
// map[string]interface{} (e.g. assembled manifest fields) rather than a
// tagged struct.
func MarshalMap(m map[string]interface{}) ([]byte, error) {
	return Marshal(m)
}

// Hash returns the SHA-256 of the canonical encoding of v.
func Hash(v interface{}) ([32]byte, error) {
	b, err := Marshal(v)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(b), nil
}

// HashHex returns the hex-encoded SHA-256 of the canonical encoding of v.
func HashHex(v interface{}) (string, error) {
	h, err := Hash(v)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h[:]), nil
}

// stripSignature removes the top-level SignatureField from a decoded
// object tree, matching §4.6's "designated signature field... removed
// before encoding" rule. Only the top level is stripped: nested objects
// legitimately named "signature" (e.g. a list of sub-signatures) are
// left alone.
func stripSignature(v interface{}) interface{} {
	m, ok := v.(map[string]interface{})
	if !ok {
		return v
	}
	if _, present := m[SignatureField]; !present {
		return v
	}
	out := make(map[string]interface{}, len(m)-1)
	for k, val := range m {
		if k == SignatureField {
			continue
		}
		out[k] = val
	}
	return out
}

func encodeValue(buf []byte, v interface{}) ([]byte, error) {
	switch vv := v.(type) {
	case nil:
		return append(buf, "null"...), nil
	case bool:
		if vv {
			return append(buf, "true"...), nil
		}
		return append(buf, "false"...), nil
	case json.Number:
		return encodeNumber(buf, vv)
	case string:
		return encodeString(buf, vv), nil
	case []interface{}:
		buf = append(buf, '[')
		for i, e := range vv {
			if i > 0 {
				buf = append(buf, ',')
			}
			var err error
			buf, err = encodeValue(buf, e)
			if err != nil {
				return nil, err
			}
		}
		return append(buf, ']'), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf = append(buf, '{')
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = encodeString(buf, k)
			buf = append(buf, ':')
			var err error
			buf, err = encodeValue(buf, vv[k])
			if err != nil {
				return nil, err
			}
		}
		return append(buf, '}'), nil
	default:
		return nil, fmt.Errorf("canonical: unsupported type %T", v)
	}
}

// encodeNumber emits integers without a fractional part and otherwise
// falls back to the shortest round-tripping decimal representation.
func encodeNumber(buf []byte, n json.Number) ([]byte, error) {
	s := n.String()
	if i, err := n.Int64(); err == nil {
		return append(buf, strconv.FormatInt(i, 10)...), nil
	}
	// Arbitrary-precision integer without a decimal point (e.g. field
	// elements) is emitted verbatim rather than routed through float64,
	// which would silently lose precision above 2^53.
	if bi, ok := new(big.Int).SetString(s, 10); ok {
		return append(buf, bi.String()...), nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("canonical: invalid number %q: %w", s, err)
	}
	return append(buf, strconv.FormatFloat(f, 'g', -1, 64)...), nil
}

// encodeString applies the minimal JSON escape set: control characters,
// backslash, and double quote.
func encodeString(buf []byte, s string) []byte {
	buf = append(buf, '"')
	for _, r := range s {
		switch r {
		case '"':
			buf = append(buf, '\\', '"')
		case '\\':
			buf = append(buf, '\\', '\\')
		case '\n':
			buf = append(buf, '\\', 'n')
		case '\r':
			buf = append(buf, '\\', 'r')
		case '\t':
			buf = append(buf, '\\', 't')
		default:
			if r < 0x20 {
				buf = append(buf, fmt.Sprintf(`\u%04x`, r)...)
			} else {
				buf = append(buf, string(r)...)
			}
		}
	}
	return append(buf, '"')
}
