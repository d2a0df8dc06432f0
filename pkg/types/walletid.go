package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// WalletIDSize is the length of a wallet identity: a compressed secp256k1
// public key issued by the keystore.
const WalletIDSize = 33

// WalletID is the public half of a BBS keypair, used as a wallet address.
type WalletID [WalletIDSize]byte

// WalletIDFromBytes converts a 33-byte slice to a WalletID.
func WalletIDFromBytes(b []byte) (WalletID, error) {
	if len(b) != WalletIDSize {
		return WalletID{}, fmt.Errorf("wallet id must be %d bytes, got %d", WalletIDSize, len(b))
	}
	var id WalletID
	copy(id[:], b)
	return id, nil
}

// IsZero returns true if the id is all zeros.
func (id WalletID) IsZero() bool {
	return id == WalletID{}
}

// String returns the hex-encoded wallet id.
func (id WalletID) String() string {
	return hex.EncodeToString(id[:])
}

// MarshalJSON encodes the wallet id as a hex string.
func (id WalletID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON decodes a hex string into a wallet id.
func (id *WalletID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid wallet id hex: %w", err)
	}
	got, err := WalletIDFromBytes(decoded)
	if err != nil {
		return err
	}
	*id = got
	return nil
}
