// Package wallet implements the wallet core: the sender and receiver
// negotiation state machines and the orchestrator that routes peer and
// node messages between them, the keychain and the network.
package wallet

import (
	"encoding/binary"

	"github.com/kaplanlior/beam/pkg/crypto"
	"github.com/kaplanlior/beam/pkg/types"
)

// TxMessage is a peer-to-peer negotiation message. Every message carries
// the transaction id correlating it to one transfer.
type TxMessage interface {
	isTxMessage()
}

// Input references a coin being spent: its Pedersen commitment.
type Input struct {
	Commitment []byte `json:"commitment"` // 33-byte compressed point
}

// Output is a coin being created: its Pedersen commitment.
type Output struct {
	Commitment []byte `json:"commitment"` // 33-byte compressed point
}

// InviteReceiver opens a negotiation: the sender shares the transaction
// skeleton and its public signing material.
type InviteReceiver struct {
	TxID                  types.TxID   `json:"tx_id"`
	Amount                types.Amount `json:"amount"`
	Fee                   types.Amount `json:"fee"`
	Height                types.Height `json:"height"`
	Inputs                []Input      `json:"inputs"`
	Outputs               []Output     `json:"outputs"`
	SenderPublicKey       []byte       `json:"sender_public_key"`       // 33 bytes
	SenderNonceCommitment []byte       `json:"sender_nonce_commitment"` // 33 bytes
}

// ConfirmInvitation is the receiver's answer: its public signing material
// and its signature share.
type ConfirmInvitation struct {
	TxID                    types.TxID `json:"tx_id"`
	ReceiverPublicKey       []byte     `json:"receiver_public_key"`       // 33 bytes
	ReceiverNonceCommitment []byte     `json:"receiver_nonce_commitment"` // 33 bytes
	ReceiverSignatureShare  []byte     `json:"receiver_signature_share"`  // 32 bytes
}

// ConfirmTransaction carries the sender's signature share back to the
// receiver, who assembles and registers the final transaction.
type ConfirmTransaction struct {
	TxID                 types.TxID `json:"tx_id"`
	SenderSignatureShare []byte     `json:"sender_signature_share"` // 32 bytes
}

// TxRegistered tells the sender the node accepted the transaction.
type TxRegistered struct {
	TxID  types.TxID `json:"tx_id"`
	Value bool       `json:"value"`
}

// TxFailed aborts a negotiation on either side.
type TxFailed struct {
	TxID types.TxID `json:"tx_id"`
}

func (InviteReceiver) isTxMessage()     {}
func (ConfirmInvitation) isTxMessage()  {}
func (ConfirmTransaction) isTxMessage() {}
func (TxRegistered) isTxMessage()       {}
func (TxFailed) isTxMessage()           {}

// MessageTxID extracts the correlating transaction id from any TxMessage.
func MessageTxID(msg TxMessage) types.TxID {
	switch m := msg.(type) {
	case InviteReceiver:
		return m.TxID
	case ConfirmInvitation:
		return m.TxID
	case ConfirmTransaction:
		return m.TxID
	case TxRegistered:
		return m.TxID
	case TxFailed:
		return m.TxID
	}
	return types.TxID{}
}

// Kernel is the transaction kernel: the joint excess, the joint Schnorr
// signature over the kernel message and the fee.
type Kernel struct {
	Excess    []byte       `json:"excess"`     // 33-byte joint public key
	Nonce     []byte       `json:"nonce"`      // 33-byte joint nonce commitment
	Signature []byte       `json:"signature"`  // 32-byte combined scalar
	Fee       types.Amount `json:"fee"`
}

// Transaction is the fully-signed transfer submitted to the node.
type Transaction struct {
	TxID    types.TxID `json:"tx_id"`
	Inputs  []Input    `json:"inputs"`
	Outputs []Output   `json:"outputs"`
	Kernel  Kernel     `json:"kernel"`
}

// KernelHash is the message both parties sign: the transaction id, amount
// and fee bound together.
func KernelHash(txID types.TxID, amount, fee types.Amount) types.Hash {
	var buf [8]byte
	h := make([]byte, 0, types.TxIDSize+16)
	h = append(h, txID[:]...)
	binary.LittleEndian.PutUint64(buf[:], amount)
	h = append(h, buf[:]...)
	binary.LittleEndian.PutUint64(buf[:], fee)
	h = append(h, buf[:]...)
	return crypto.Hash(h)
}

// NodeMessage is a message received from the node.
type NodeMessage interface {
	isNodeMessage()
}

// NewTip announces a new chain tip.
type NewTip struct {
	ID types.SystemStateID `json:"id"`
}

// Hdr delivers the header of the announced tip; Definition is the
// commitment root UTXO proofs are validated against.
type Hdr struct {
	ID         types.SystemStateID `json:"id"`
	Definition types.Hash          `json:"definition"`
}

// MinedEntry describes one block mined by this wallet's miner key.
type MinedEntry struct {
	Height types.Height `json:"height"`
	Active bool         `json:"active"`
	Fees   types.Amount `json:"fees"`
}

// Mined lists blocks mined since a height.
type Mined struct {
	Entries []MinedEntry `json:"entries"`
}

// ProofStep is one node of a Merkle inclusion path.
type ProofStep struct {
	Hash types.Hash `json:"hash"`
	Left bool       `json:"left"` // sibling is the left child
}

// UtxoProof proves a commitment is in the chain's UTXO set.
type UtxoProof struct {
	Maturity types.Height `json:"maturity"`
	Path     []ProofStep  `json:"path"`
}

// IsValid folds the path over the commitment leaf and compares the root
// against the chain definition.
func (p UtxoProof) IsValid(commitment []byte, definition types.Hash) bool {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], p.Maturity)
	cur := crypto.HashParts(commitment, buf[:])
	for _, step := range p.Path {
		if step.Left {
			cur = crypto.HashConcat(step.Hash, cur)
		} else {
			cur = crypto.HashConcat(cur, step.Hash)
		}
	}
	return cur == definition
}

// ProofUtxo answers a GetProofUtxo request. An empty proof list means the
// commitment is not in the UTXO set.
type ProofUtxo struct {
	Proofs []UtxoProof `json:"proofs"`
}

// Boolean answers a NewTransaction registration request.
type Boolean struct {
	Value bool `json:"value"`
}

func (NewTip) isNodeMessage()    {}
func (Hdr) isNodeMessage()       {}
func (Mined) isNodeMessage()     {}
func (ProofUtxo) isNodeMessage() {}
func (Boolean) isNodeMessage()   {}

// NodeRequest is a message sent to the node.
type NodeRequest interface {
	isNodeRequest()
}

// NewTransaction submits a signed transaction for registration.
type NewTransaction struct {
	Transaction Transaction `json:"transaction"`
}

// GetProofUtxo requests an inclusion proof for a commitment.
type GetProofUtxo struct {
	Commitment    []byte       `json:"commitment"` // 33 bytes
	MaturityFloor types.Height `json:"maturity_floor"`
}

// GetMined requests the list of blocks mined since a height.
type GetMined struct {
	Height types.Height `json:"height"`
}

func (NewTransaction) isNodeRequest() {}
func (GetProofUtxo) isNodeRequest()   {}
func (GetMined) isNodeRequest()       {}
