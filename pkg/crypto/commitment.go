package crypto

import (
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// valueGeneratorTag seeds the derivation of the second Pedersen generator H.
// H is a NUMS point: nobody knows its discrete log relative to G.
const valueGeneratorTag = "beam/pedersen/value-generator/v1"

var (
	genOnce sync.Once
	genH    *Point
)

// generatorH returns the value generator H, derived by try-and-increment
// over BLAKE3 hashes of the tag until the digest is a valid x coordinate.
func generatorH() *Point {
	genOnce.Do(func() {
		seed := []byte(valueGeneratorTag)
		for ctr := uint64(0); ; ctr++ {
			h := HashParts(seed, HashUint64(ctr).Bytes())
			candidate := make([]byte, PointSize)
			candidate[0] = 0x02
			copy(candidate[1:], h[:])
			pub, err := secp256k1.ParsePubKey(candidate)
			if err != nil {
				continue
			}
			var p Point
			pub.AsJacobian(&p.p)
			genH = &p
			return
		}
	})
	return genH
}

// Commitment computes the Pedersen commitment blind*G + value*H.
// Two coins with equal value are indistinguishable on-chain as long as
// their blinding keys differ.
func Commitment(blind *Scalar, value uint64) *Point {
	c := MulG(blind)
	if value == 0 {
		return c
	}
	return c.Add(generatorH().Mul(ScalarFromUint64(value)))
}
