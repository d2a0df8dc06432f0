package types

import (
	"encoding/json"
	"testing"
)

func TestHashHexRoundTrip(t *testing.T) {
	var h Hash
	for i := range h {
		h[i] = byte(i)
	}
	parsed, err := HexToHash(h.String())
	if err != nil {
		t.Fatalf("HexToHash() error: %v", err)
	}
	if parsed != h {
		t.Errorf("HexToHash(String()) = %v, want %v", parsed, h)
	}
}

func TestHexToHashRejectsBadInput(t *testing.T) {
	cases := []string{"zz", "abcd", ""}
	for _, s := range cases {
		if _, err := HexToHash(s); err == nil {
			t.Errorf("HexToHash(%q) should fail", s)
		}
	}
}

func TestSystemStateIDAfter(t *testing.T) {
	a := SystemStateID{Height: 10, Hash: Hash{1}}
	b := SystemStateID{Height: 11, Hash: Hash{0}}
	c := SystemStateID{Height: 10, Hash: Hash{2}}

	if !b.After(a) {
		t.Error("higher height should be after")
	}
	if a.After(b) {
		t.Error("lower height should not be after")
	}
	if !c.After(a) {
		t.Error("same height, greater hash should be after")
	}
	if a.After(a) {
		t.Error("a state is not after itself")
	}
}

func TestNewTxIDUnique(t *testing.T) {
	a := NewTxID()
	b := NewTxID()
	if a == b {
		t.Error("two generated tx ids should differ")
	}
	if a.IsZero() {
		t.Error("generated tx id should not be zero")
	}
}

func TestTxIDJSONRoundTrip(t *testing.T) {
	id := NewTxID()
	data, err := json.Marshal(id)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	var back TxID
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if back != id {
		t.Errorf("round trip = %v, want %v", back, id)
	}
}

func TestWalletIDFromBytes(t *testing.T) {
	if _, err := WalletIDFromBytes(make([]byte, 32)); err == nil {
		t.Error("32-byte input should fail")
	}
	b := make([]byte, WalletIDSize)
	b[0] = 0x02
	id, err := WalletIDFromBytes(b)
	if err != nil {
		t.Fatalf("WalletIDFromBytes() error: %v", err)
	}
	if id.IsZero() {
		t.Error("id should not be zero")
	}
}
