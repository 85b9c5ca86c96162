package store

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Digest returns the hex BLAKE2b-256 of a class payload.
func Digest(payload []byte) string {
	sum := blake2b.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
