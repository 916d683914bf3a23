// Package idgen generates random identifiers from crypto/rand.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// Hex returns numBytes random bytes hex-encoded (2*numBytes characters).
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// WithPrefix returns prefix followed by 24 random hex characters, e.g.
// WithPrefix("ak_") for API key IDs.
func WithPrefix(prefix string) string {
	return prefix + Hex(12)
}
