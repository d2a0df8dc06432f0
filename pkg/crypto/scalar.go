package crypto

import (
	"crypto/rand"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/kaplanlior/beam/pkg/types"
)

// ScalarSize is the length of a serialized scalar in bytes.
const ScalarSize = 32

// Scalar is a secp256k1 group-order scalar: a secret key, blinding factor,
// nonce, or signature share.
type Scalar struct {
	n secp256k1.ModNScalar
}

// NewScalar returns the zero scalar.
func NewScalar() *Scalar {
	return &Scalar{}
}

// RandomScalar generates a uniformly random non-zero scalar.
func RandomScalar() (*Scalar, error) {
	var buf [ScalarSize]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return nil, fmt.Errorf("generate scalar: %w", err)
		}
		var s Scalar
		if overflow := s.n.SetBytes(&buf); overflow == 0 && !s.n.IsZero() {
			return &s, nil
		}
	}
}

// ScalarFromBytes parses a 32-byte big-endian scalar. Values are reduced
// modulo the group order.
func ScalarFromBytes(b []byte) (*Scalar, error) {
	if len(b) != ScalarSize {
		return nil, fmt.Errorf("scalar must be %d bytes, got %d", ScalarSize, len(b))
	}
	var buf [ScalarSize]byte
	copy(buf[:], b)
	var s Scalar
	s.n.SetBytes(&buf)
	return &s, nil
}

// ScalarFromHash reduces a 256-bit hash into a scalar.
func ScalarFromHash(h types.Hash) *Scalar {
	var s Scalar
	buf := [ScalarSize]byte(h)
	s.n.SetBytes(&buf)
	return &s
}

// ScalarFromUint64 converts a small integer to a scalar.
func ScalarFromUint64(v uint64) *Scalar {
	var s Scalar
	s.n.SetInt(uint32(v & 0xffffffff))
	if hi := v >> 32; hi != 0 {
		var shift, hiPart secp256k1.ModNScalar
		shift.SetInt(1 << 16)
		shift.Mul(&shift) // 2^32
		hiPart.SetInt(uint32(hi))
		hiPart.Mul(&shift)
		s.n.Add(&hiPart)
	}
	return &s
}

// Add returns a + b.
func (s *Scalar) Add(other *Scalar) *Scalar {
	var out Scalar
	out.n.Set(&s.n)
	out.n.Add(&other.n)
	return &out
}

// Mul returns a * b.
func (s *Scalar) Mul(other *Scalar) *Scalar {
	var out Scalar
	out.n.Set(&s.n)
	out.n.Mul(&other.n)
	return &out
}

// Negate returns -s.
func (s *Scalar) Negate() *Scalar {
	var out Scalar
	out.n.Set(&s.n)
	out.n.Negate()
	return &out
}

// IsZero reports whether the scalar is zero.
func (s *Scalar) IsZero() bool {
	return s.n.IsZero()
}

// Equal reports whether two scalars are equal.
func (s *Scalar) Equal(other *Scalar) bool {
	return s.n.Equals(&other.n)
}

// Bytes returns the 32-byte big-endian serialization.
func (s *Scalar) Bytes() [ScalarSize]byte {
	return s.n.Bytes()
}

// Zero clears the scalar material.
func (s *Scalar) Zero() {
	s.n.Zero()
}
