package identity

import (
	"crypto/ed25519"

	bip39 "github.com/cosmos/go-bip39"

	"github.com/topomesh/surveyd/pkg/errors"
)

// NewMnemonic generates a 24-word recovery mnemonic for a node seed.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", errors.Errorf("mnemonic entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", errors.Errorf("mnemonic: %w", err)
	}
	return mnemonic, nil
}

// SeedFromMnemonic derives the node seed from a recovery mnemonic and an
// optional passphrase. The same mnemonic always yields the same identity.
func SeedFromMnemonic(mnemonic, passphrase string) (*Seed, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("invalid mnemonic")
	}
	derived := bip39.NewSeed(mnemonic, passphrase)
	return SeedFromBytes(derived[:ed25519.SeedSize])
}
