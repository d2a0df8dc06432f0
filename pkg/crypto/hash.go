// Package crypto provides the cryptographic primitives the wallet core
// builds on: BLAKE3 hashing, secp256k1 scalar and point arithmetic,
// Pedersen commitments and two-party Schnorr signature shares.
package crypto

import (
	"github.com/kaplanlior/beam/pkg/types"
	"github.com/zeebo/blake3"
)

// Hash computes a BLAKE3-256 hash of the input data.
func Hash(data []byte) types.Hash {
	return blake3.Sum256(data)
}

// HashParts hashes the concatenation of the given byte slices.
func HashParts(parts ...[]byte) types.Hash {
	h := blake3.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out types.Hash
	h.Digest().Read(out[:])
	return out
}

// HashConcat hashes the concatenation of two hashes. Used for folding
// Merkle inclusion paths.
func HashConcat(a, b types.Hash) types.Hash {
	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return Hash(buf[:])
}

// HashUint64 hashes a little-endian uint64. Used for the counter in the
// try-and-increment derivation of the value generator H.
func HashUint64(v uint64) types.Hash {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	return Hash(buf[:])
}
