package encryption

import (
	"bytes"
	"testing"
)

// testParams keeps Argon2id cheap in tests.
func testParams() Params {
	return Params{Memory: 64, Iterations: 1, Parallelism: 1}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	data := []byte("the quick brown fox")
	password := []byte("hunter2")

	encrypted, err := Encrypt(data, password, testParams())
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	if bytes.Contains(encrypted, data) {
		t.Error("ciphertext contains plaintext")
	}

	decrypted, err := Decrypt(encrypted, password)
	if err != nil {
		t.Fatalf("Decrypt() error: %v", err)
	}
	if !bytes.Equal(decrypted, data) {
		t.Errorf("Decrypt() = %q, want %q", decrypted, data)
	}
}

func TestDecryptWrongPassword(t *testing.T) {
	encrypted, err := Encrypt([]byte("secret"), []byte("right"), testParams())
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	if _, err := Decrypt(encrypted, []byte("wrong")); err == nil {
		t.Error("Decrypt() with wrong password should fail")
	}
}

func TestDecryptTruncated(t *testing.T) {
	if _, err := Decrypt([]byte("short"), []byte("pw")); err == nil {
		t.Error("Decrypt() of truncated input should fail")
	}
}

func TestEncryptUnique(t *testing.T) {
	a, _ := Encrypt([]byte("data"), []byte("pw"), testParams())
	b, _ := Encrypt([]byte("data"), []byte("pw"), testParams())
	if bytes.Equal(a, b) {
		t.Error("two encryptions of the same data should differ (random salt/nonce)")
	}
}

func TestCipherSealOpen(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	c, err := NewCipher(key)
	if err != nil {
		t.Fatalf("NewCipher() error: %v", err)
	}

	sealed, err := c.Seal([]byte("record"))
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	plain, err := c.Open(sealed)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if string(plain) != "record" {
		t.Errorf("Open() = %q, want %q", plain, "record")
	}

	// Tampering must be detected.
	sealed[len(sealed)-1] ^= 0xff
	if _, err := c.Open(sealed); err == nil {
		t.Error("Open() of tampered record should fail")
	}
}

func TestCipherWrongKey(t *testing.T) {
	k1, _ := GenerateKey()
	k2, _ := GenerateKey()
	c1, _ := NewCipher(k1)
	c2, _ := NewCipher(k2)

	sealed, err := c1.Seal([]byte("record"))
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	if _, err := c2.Open(sealed); err == nil {
		t.Error("Open() with a different key should fail")
	}
}
