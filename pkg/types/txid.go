package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// TxIDSize is the length of a transaction identifier in bytes.
const TxIDSize = 16

// TxID correlates all messages and negotiation state for one transfer.
// It is generated by the sender and shared with the receiver and the node.
type TxID [TxIDSize]byte

// NewTxID generates a random transaction identifier.
func NewTxID() TxID {
	return TxID(uuid.New())
}

// IsZero returns true if the id is all zeros.
func (id TxID) IsZero() bool {
	return id == TxID{}
}

// String returns the hex-encoded id in brackets, matching the wallet logs.
func (id TxID) String() string {
	return "[" + hex.EncodeToString(id[:]) + "]"
}

// MarshalJSON encodes the id as a hex string.
func (id TxID) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(id[:]))
}

// UnmarshalJSON decodes a hex string into a TxID.
func (id *TxID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid tx id hex: %w", err)
	}
	if len(decoded) != TxIDSize {
		return fmt.Errorf("tx id must be %d bytes, got %d", TxIDSize, len(decoded))
	}
	copy(id[:], decoded)
	return nil
}
