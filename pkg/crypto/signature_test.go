package crypto

import (
	"testing"
)

func TestSignVerify(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	hash := Hash([]byte("identity challenge"))

	sig, err := key.Sign(hash[:])
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	if !VerifySignature(hash[:], sig, key.PublicKey()) {
		t.Error("signature should verify")
	}

	other := Hash([]byte("other"))
	if VerifySignature(other[:], sig, key.PublicKey()) {
		t.Error("signature should not verify for a different hash")
	}
}

func TestSignRejectsBadHashLength(t *testing.T) {
	key, _ := GenerateKey()
	if _, err := key.Sign([]byte("short")); err == nil {
		t.Error("Sign() should reject non-32-byte hashes")
	}
}

func TestPrivateKeyFromBytesRoundTrip(t *testing.T) {
	key, _ := GenerateKey()
	restored, err := PrivateKeyFromBytes(key.Serialize())
	if err != nil {
		t.Fatalf("PrivateKeyFromBytes() error: %v", err)
	}
	if string(restored.PublicKey()) != string(key.PublicKey()) {
		t.Error("restored key should have the same public key")
	}
}

func TestVerifySignatureBadInputs(t *testing.T) {
	hash := Hash([]byte("x"))
	if VerifySignature(hash[:], []byte("not a sig"), []byte("not a key")) {
		t.Error("garbage inputs should not verify")
	}
}
