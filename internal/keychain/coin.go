// Package keychain implements the durable, password-encrypted coin store
// and the wallet's system-state cursor.
package keychain

import (
	"fmt"

	"github.com/kaplanlior/beam/pkg/types"
)

// Status is the lifecycle state of a tracked coin.
type Status uint8

const (
	// Unconfirmed coins await a proof of inclusion from the node.
	Unconfirmed Status = iota
	// Unspent coins are confirmed and spendable.
	Unspent
	// Locked coins are reserved as inputs of an in-flight transfer.
	Locked
	// Spent coins have left the wallet.
	Spent
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case Unconfirmed:
		return "unconfirmed"
	case Unspent:
		return "unspent"
	case Locked:
		return "locked"
	case Spent:
		return "spent"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// KeyType tells how a coin's key was issued.
type KeyType uint8

const (
	// Regular coins are transfer outputs.
	Regular KeyType = iota
	// Coinbase coins are block rewards.
	Coinbase
	// Commission coins carry the accumulated fees of a mined block.
	Commission
)

// String returns the key type name.
func (k KeyType) String() string {
	switch k {
	case Regular:
		return "regular"
	case Coinbase:
		return "coinbase"
	case Commission:
		return "commission"
	default:
		return fmt.Sprintf("keytype(%d)", uint8(k))
	}
}

// Coin is a tracked UTXO owned by this wallet.
type Coin struct {
	ID            uint64       `json:"id"`
	Amount        types.Amount `json:"amount"`
	Status        Status       `json:"status"`
	KeyType       KeyType      `json:"key_type"`
	CreateHeight  types.Height `json:"create_height"`
	Maturity      types.Height `json:"maturity"`
	ConfirmHeight types.Height `json:"confirm_height"`
	LockedHeight  types.Height `json:"locked_height"`
	ConfirmHash   types.Hash   `json:"confirm_hash"`
	CreateTxID    *types.TxID  `json:"create_tx_id,omitempty"`
	SpentTxID     *types.TxID  `json:"spent_tx_id,omitempty"`
}

// NewCoin creates an unstored coin. Maturity starts at MaxHeight and is
// set from the confirming proof.
func NewCoin(amount types.Amount, status Status, createHeight types.Height, keyType KeyType) *Coin {
	return &Coin{
		Amount:       amount,
		Status:       status,
		KeyType:      keyType,
		CreateHeight: createHeight,
		Maturity:     types.MaxHeight,
		LockedHeight: types.MaxHeight,
	}
}

// WalletAddress is an address-book entry. Own addresses hold a keypair in
// the keystore; duration MaxDuration means the address never expires.
type WalletAddress struct {
	WalletID   types.WalletID `json:"wallet_id"`
	Label      string         `json:"label"`
	CreateTime int64          `json:"create_time"`
	Duration   uint64         `json:"duration"`
	Own        bool           `json:"own"`
}

// MaxDuration marks an address that never expires.
const MaxDuration uint64 = 1<<64 - 1
