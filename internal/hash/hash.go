// Package hash computes content fingerprints for asset payloads.
// Digests are used only for equality comparison, never for security.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// HexLen is the length of a hex-encoded content digest.
const HexLen = sha256.Size * 2

// Reader streams r through sha256 and returns the hex digest.
// The reader is consumed exactly once and never mutated.
func Reader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Bytes returns the hex digest of b.
func Bytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Valid reports whether s looks like a hex content digest.
func Valid(s string) bool {
	if len(s) != HexLen {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
