package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256 returns the hex-encoded SHA-256 digest of data.
func SHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SHA256Bytes returns the raw SHA-256 digest of data.
func SHA256Bytes(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// PeerIDHash derives the stable, compact peer handle: the lower 16 hex
// characters of SHA-256(publicKey).
func PeerIDHash(publicKey []byte) string {
	full := SHA256(publicKey)
	return full[len(full)-16:]
}
