package utils

import (
	"encoding/hex"

	"lukechampine.com/blake3"
)

// Blake3Hash returns the 32-byte BLAKE3 hash of msg.
func Blake3Hash(msg []byte) []byte {
	sum := blake3.Sum256(msg)
	return sum[:]
}

// GetHashFromBytes returns the BLAKE3 hash of msg as a hex-encoded string.
func GetHashFromBytes(msg []byte) string {
	return hex.EncodeToString(Blake3Hash(msg))
}
