// Package identity defines node identities for the survey overlay. A node is
// identified by its ed25519 public key, rendered for operators as a
// checksummed base58 string.
package identity

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"

	"github.com/btcsuite/btcutil/base58"

	"github.com/topomesh/surveyd/pkg/errors"
)

const (
	// Version bytes prefixing the base58-check rendering, so that node IDs
	// and seeds are visually distinct and cannot be pasted into the wrong
	// field.
	nodeIDVersionByte byte = 0x1c // renders with a leading 'N'
	seedVersionByte   byte = 0x3f // renders with a leading 'S'
)

// NodeID is an ed25519 public key identifying a node on the overlay.
type NodeID [ed25519.PublicKeySize]byte

// Bytes returns the raw public key bytes.
func (id NodeID) Bytes() []byte {
	return id[:]
}

// IsZero reports whether the identity is the zero value.
func (id NodeID) IsZero() bool {
	var zero NodeID
	return bytes.Equal(id[:], zero[:])
}

// String renders the identity as a base58-check string.
func (id NodeID) String() string {
	return base58.CheckEncode(id[:], nodeIDVersionByte)
}

// NodeIDFromString parses a base58-check rendered identity.
func NodeIDFromString(s string) (NodeID, error) {
	var id NodeID
	raw, version, err := base58.CheckDecode(s)
	if err != nil {
		return id, errors.Errorf("decode node id: %w", err)
	}
	if version != nodeIDVersionByte {
		return id, errors.Errorf("decode node id: unexpected version byte %#x", version)
	}
	if len(raw) != len(id) {
		return id, errors.Errorf("decode node id: got %d bytes, want %d", len(raw), len(id))
	}
	copy(id[:], raw)
	return id, nil
}

// NodeIDFromBytes builds an identity from raw public key bytes.
func NodeIDFromBytes(b []byte) (NodeID, error) {
	var id NodeID
	if len(b) != len(id) {
		return id, errors.Errorf("node id: got %d bytes, want %d", len(b), len(id))
	}
	copy(id[:], b)
	return id, nil
}

// Seed is a node's long-term ed25519 signing key. It signs survey request
// auth tags; per-response encryption uses separate ephemeral keys.
type Seed struct {
	priv ed25519.PrivateKey
}

// NewSeed generates a fresh random seed.
func NewSeed() (*Seed, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Errorf("generate seed: %w", err)
	}
	return &Seed{priv: priv}, nil
}

// SeedFromBytes builds a seed from a 32-byte ed25519 seed.
func SeedFromBytes(b []byte) (*Seed, error) {
	if len(b) != ed25519.SeedSize {
		return nil, errors.Errorf("seed: got %d bytes, want %d", len(b), ed25519.SeedSize)
	}
	return &Seed{priv: ed25519.NewKeyFromSeed(b)}, nil
}

// SeedFromString parses a base58-check rendered seed.
func SeedFromString(s string) (*Seed, error) {
	raw, version, err := base58.CheckDecode(s)
	if err != nil {
		return nil, errors.Errorf("decode seed: %w", err)
	}
	if version != seedVersionByte {
		return nil, errors.Errorf("decode seed: unexpected version byte %#x", version)
	}
	return SeedFromBytes(raw)
}

// String renders the seed as a base58-check string.
func (s *Seed) String() string {
	return base58.CheckEncode(s.priv.Seed(), seedVersionByte)
}

// NodeID returns the public identity derived from the seed.
func (s *Seed) NodeID() NodeID {
	var id NodeID
	copy(id[:], s.priv.Public().(ed25519.PublicKey))
	return id
}

// Sign signs msg with the seed's private key.
func (s *Seed) Sign(msg []byte) []byte {
	return ed25519.Sign(s.priv, msg)
}

// Verify reports whether sig is a valid signature of msg by id.
func Verify(id NodeID, msg, sig []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(id[:]), msg, sig)
}
