package crypto

import "github.com/kaplanlior/beam/pkg/types"

// Two-party Schnorr signing. Sender and receiver each hold a secret
// blinding key k and a secret nonce r. Both sides know the joint nonce
// R = R_s + R_r and the joint excess K = K_s + K_r. Each party produces a
// share s = r + e*k over the common challenge and verifies the
// counterparty's share against its public commitments before combining.

// Challenge derives the signing challenge e = H(R || K || msg) as a scalar.
func Challenge(jointNonce, jointKey *Point, msg types.Hash) *Scalar {
	h := HashParts(jointNonce.SerializeCompressed(), jointKey.SerializeCompressed(), msg[:])
	return ScalarFromHash(h)
}

// SignShare computes a partial signature s = nonce + e*key.
func SignShare(key, nonce, e *Scalar) *Scalar {
	return nonce.Add(e.Mul(key))
}

// VerifyShare checks a partial signature against the signer's public nonce
// commitment R_p and public excess K_p: s*G == R_p + e*K_p.
func VerifyShare(share *Scalar, nonceCommitment, publicKey *Point, e *Scalar) bool {
	lhs := MulG(share)
	rhs := nonceCommitment.Add(publicKey.Mul(e))
	return lhs.Equal(rhs)
}

// CombineShares adds the partial signatures into the final scalar s.
func CombineShares(shares ...*Scalar) *Scalar {
	out := NewScalar()
	for _, s := range shares {
		out = out.Add(s)
	}
	return out
}

// VerifyCombined checks the final signature (s, R) against the joint
// excess K: s*G == R + e*K.
func VerifyCombined(s *Scalar, jointNonce, jointKey *Point, msg types.Hash) bool {
	e := Challenge(jointNonce, jointKey, msg)
	return VerifyShare(s, jointNonce, jointKey, e)
}
