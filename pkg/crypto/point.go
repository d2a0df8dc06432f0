package crypto

import (
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// PointSize is the length of a compressed curve point in bytes.
const PointSize = 33

// Point is a secp256k1 curve point: a public key, nonce commitment or
// value commitment.
type Point struct {
	p secp256k1.JacobianPoint
}

// MulG returns s*G for the curve base point G.
func MulG(s *Scalar) *Point {
	var out Point
	secp256k1.ScalarBaseMultNonConst(&s.n, &out.p)
	out.p.ToAffine()
	return &out
}

// Mul returns s*P.
func (p *Point) Mul(s *Scalar) *Point {
	var out Point
	secp256k1.ScalarMultNonConst(&s.n, &p.p, &out.p)
	out.p.ToAffine()
	return &out
}

// Add returns p + other.
func (p *Point) Add(other *Point) *Point {
	var out Point
	secp256k1.AddNonConst(&p.p, &other.p, &out.p)
	out.p.ToAffine()
	return &out
}

// IsInfinity reports whether the point is the group identity.
func (p *Point) IsInfinity() bool {
	return (p.p.X.IsZero() && p.p.Y.IsZero()) || p.p.Z.IsZero()
}

// Equal reports whether two points are equal.
func (p *Point) Equal(other *Point) bool {
	if p.IsInfinity() || other.IsInfinity() {
		return p.IsInfinity() == other.IsInfinity()
	}
	return p.p.X.Equals(&other.p.X) && p.p.Y.Equals(&other.p.Y)
}

// ParsePoint parses a 33-byte compressed point.
func ParsePoint(b []byte) (*Point, error) {
	if len(b) != PointSize {
		return nil, fmt.Errorf("point must be %d bytes, got %d", PointSize, len(b))
	}
	pub, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("parse point: %w", err)
	}
	var out Point
	pub.AsJacobian(&out.p)
	return &out, nil
}

// SerializeCompressed returns the 33-byte compressed encoding.
func (p *Point) SerializeCompressed() []byte {
	var affine secp256k1.JacobianPoint
	affine.Set(&p.p)
	affine.ToAffine()
	pub := secp256k1.NewPublicKey(&affine.X, &affine.Y)
	return pub.SerializeCompressed()
}

// String renders the compressed point in hex for logs.
func (p *Point) String() string {
	return fmt.Sprintf("%x", p.SerializeCompressed())
}
