package keystore

import (
	"path/filepath"
	"testing"
)

func testOptions(t *testing.T) Options {
	t.Helper()
	return Options{
		Storage:  LocalFile,
		Flags:    EnableAllKeys,
		FileName: filepath.Join(t.TempDir(), FileName),
	}
}

func TestGenAndSaveKeypair(t *testing.T) {
	opts := testOptions(t)
	ks, err := Create(opts, "pw")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	id, err := ks.GenKeypair()
	if err != nil {
		t.Fatalf("GenKeypair() error: %v", err)
	}
	if id.IsZero() {
		t.Error("generated wallet id should not be zero")
	}
	if err := ks.SaveKeypair(id, true); err != nil {
		t.Fatalf("SaveKeypair() error: %v", err)
	}

	// Reload from disk.
	reloaded, err := Create(opts, "pw")
	if err != nil {
		t.Fatalf("reload error: %v", err)
	}
	key, err := reloaded.Get(id)
	if err != nil {
		t.Fatalf("Get() after reload error: %v", err)
	}
	if string(key.PublicKey()) != string(id[:]) {
		t.Error("reloaded private key should match the wallet id")
	}
}

func TestCreateWrongPassword(t *testing.T) {
	opts := testOptions(t)
	ks, err := Create(opts, "right")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	id, _ := ks.GenKeypair()
	ks.SaveKeypair(id, true)

	if _, err := Create(opts, "wrong"); err != ErrWrongPassword {
		t.Errorf("Create() with wrong password = %v, want ErrWrongPassword", err)
	}
}

func TestSavePublicOnly(t *testing.T) {
	ks, err := Create(Options{Storage: Memory}, "pw")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	id, _ := ks.GenKeypair()
	if err := ks.SaveKeypair(id, false); err != nil {
		t.Fatalf("SaveKeypair() error: %v", err)
	}
	if _, err := ks.Get(id); err == nil {
		t.Error("Get() of a public-only id should fail")
	}
	ids := ks.IDs()
	if len(ids) != 1 || ids[0] != id {
		t.Errorf("IDs() = %v, want [%v]", ids, id)
	}
}

func TestSaveUnknownKeypair(t *testing.T) {
	ks, _ := Create(Options{Storage: Memory}, "pw")
	var id [33]byte
	id[0] = 0x02
	if err := ks.SaveKeypair(id, true); err == nil {
		t.Error("SaveKeypair() of an unknown id should fail")
	}
}

func TestChangePassword(t *testing.T) {
	opts := testOptions(t)
	ks, err := Create(opts, "old")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	id, _ := ks.GenKeypair()
	ks.SaveKeypair(id, true)

	if err := ks.ChangePassword("new"); err != nil {
		t.Fatalf("ChangePassword() error: %v", err)
	}
	if _, err := Create(opts, "old"); err != ErrWrongPassword {
		t.Errorf("old password = %v, want ErrWrongPassword", err)
	}
	if _, err := Create(opts, "new"); err != nil {
		t.Errorf("new password error: %v", err)
	}
}
