package bridge

import (
	"fmt"

	"github.com/kaplanlior/beam/pkg/crypto"
	"github.com/kaplanlior/beam/pkg/types"
	"github.com/tyler-smith/go-bip39"
)

// SeedEntropyBits is the entropy size for 12-word seed phrases.
const SeedEntropyBits = 128

// GenerateSeedPhrase creates a new BIP-39 seed phrase.
func GenerateSeedPhrase() (string, error) {
	entropy, err := bip39.NewEntropy(SeedEntropyBits)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("generate seed phrase: %w", err)
	}
	return mnemonic, nil
}

// ValidateSeedPhrase checks a phrase per BIP-39 (word count, words,
// checksum).
func ValidateSeedPhrase(phrase string) bool {
	return bip39.IsMnemonicValid(phrase)
}

// SeedHash derives the keychain master secret from a seed phrase: the
// BLAKE3 hash of the BIP-39 seed bytes.
func SeedHash(phrase string) (types.Hash, error) {
	if !bip39.IsMnemonicValid(phrase) {
		return types.Hash{}, fmt.Errorf("invalid seed phrase")
	}
	seed, err := bip39.NewSeedWithErrorChecking(phrase, "")
	if err != nil {
		return types.Hash{}, fmt.Errorf("derive seed: %w", err)
	}
	return crypto.Hash(seed), nil
}
