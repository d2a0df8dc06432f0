package wallet

import (
	"fmt"

	"github.com/kaplanlior/beam/internal/keychain"
	"github.com/kaplanlior/beam/internal/log"
	"github.com/kaplanlior/beam/pkg/crypto"
	"github.com/kaplanlior/beam/pkg/types"
)

// ReceiverState is the receiver negotiation state.
type ReceiverState uint8

const (
	ReceiverInitial ReceiverState = iota
	ReceiverInvitationConfirmed
	ReceiverRegistered
	ReceiverFailed
	ReceiverCompleted
)

// String returns the state name.
func (s ReceiverState) String() string {
	switch s {
	case ReceiverInitial:
		return "initial"
	case ReceiverInvitationConfirmed:
		return "invitation_confirmed"
	case ReceiverRegistered:
		return "registered"
	case ReceiverFailed:
		return "failed"
	case ReceiverCompleted:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Receiver drives the incoming half of a transfer negotiation.
type Receiver struct {
	wallet *Wallet
	kc     *keychain.KeyChain

	invite InviteReceiver
	txID   types.TxID
	state  ReceiverState

	coinID uint64

	blind *crypto.Scalar // the output coin's key
	nonce *crypto.Scalar
	share *crypto.Scalar

	publicKey       *crypto.Point
	nonceCommitment *crypto.Point
	senderKey       *crypto.Point
	senderNonce     *crypto.Point
	kernelMsg       types.Hash
}

// NewReceiver creates a receiver in the Initial state from an invitation.
func NewReceiver(w *Wallet, kc *keychain.KeyChain, invite InviteReceiver) *Receiver {
	return &Receiver{
		wallet: w,
		kc:     kc,
		invite: invite,
		txID:   invite.TxID,
		state:  ReceiverInitial,
	}
}

// TxID returns the transfer id this receiver negotiates.
func (r *Receiver) TxID() types.TxID { return r.txID }

// State returns the current negotiation state.
func (r *Receiver) State() ReceiverState { return r.state }

// validateInvite checks the invitation is syntactically sound before any
// state is created for it.
func (r *Receiver) validateInvite() error {
	if r.invite.Amount <= r.invite.Fee {
		return fmt.Errorf("amount %d does not cover fee %d", r.invite.Amount, r.invite.Fee)
	}
	if len(r.invite.Inputs) == 0 {
		return fmt.Errorf("invitation has no inputs")
	}
	for _, in := range r.invite.Inputs {
		if _, err := crypto.ParsePoint(in.Commitment); err != nil {
			return fmt.Errorf("bad input commitment: %w", err)
		}
	}
	for _, out := range r.invite.Outputs {
		if _, err := crypto.ParsePoint(out.Commitment); err != nil {
			return fmt.Errorf("bad output commitment: %w", err)
		}
	}
	return nil
}

// Start validates the invitation, creates the pending output coin and
// answers with the receiver's signature share. Initial -> InvitationConfirmed.
func (r *Receiver) Start() {
	if r.state != ReceiverInitial {
		log.Receiver.Debug().Stringer("tx", r.txID).Stringer("state", r.state).Msg("start in unexpected state")
		return
	}
	logger := log.Receiver.With().Stringer("tx", r.txID).Logger()

	if err := r.validateInvite(); err != nil {
		logger.Error().Err(err).Msg("invalid invitation")
		r.OnTxFailed(true)
		return
	}
	senderKey, err := crypto.ParsePoint(r.invite.SenderPublicKey)
	if err != nil {
		logger.Error().Err(err).Msg("bad sender public key")
		r.OnTxFailed(true)
		return
	}
	senderNonce, err := crypto.ParsePoint(r.invite.SenderNonceCommitment)
	if err != nil {
		logger.Error().Err(err).Msg("bad sender nonce commitment")
		r.OnTxFailed(true)
		return
	}
	r.senderKey = senderKey
	r.senderNonce = senderNonce

	value := r.invite.Amount - r.invite.Fee
	coin := keychain.NewCoin(value, keychain.Unconfirmed, r.kc.CurrentHeight(), keychain.Regular)
	txID := r.txID
	coin.CreateTxID = &txID
	id, err := r.kc.Store(coin)
	if err != nil {
		logger.Error().Err(err).Msg("store output coin failed")
		r.OnTxFailed(true)
		return
	}
	r.coinID = id

	blind, err := r.kc.CalcKey(coin)
	if err != nil {
		logger.Error().Err(err).Msg("derive output key failed")
		r.OnTxFailed(true)
		return
	}
	r.blind = blind
	nonce, err := crypto.RandomScalar()
	if err != nil {
		logger.Error().Err(err).Msg("generate nonce failed")
		r.OnTxFailed(true)
		return
	}
	r.nonce = nonce
	r.publicKey = crypto.MulG(r.blind)
	r.nonceCommitment = crypto.MulG(r.nonce)
	r.kernelMsg = KernelHash(r.txID, r.invite.Amount, r.invite.Fee)

	jointNonce := r.nonceCommitment.Add(r.senderNonce)
	jointKey := r.publicKey.Add(r.senderKey)
	e := crypto.Challenge(jointNonce, jointKey, r.kernelMsg)
	r.share = crypto.SignShare(r.blind, r.nonce, e)
	shareBytes := r.share.Bytes()

	r.state = ReceiverInvitationConfirmed
	logger.Info().Uint64("amount", value).Msg("confirming tx invitation")
	r.wallet.sendInvitationConfirmation(ConfirmInvitation{
		TxID:                    r.txID,
		ReceiverPublicKey:       r.publicKey.SerializeCompressed(),
		ReceiverNonceCommitment: r.nonceCommitment.SerializeCompressed(),
		ReceiverSignatureShare:  shareBytes[:],
	})
}

// OnTxConfirmationCompleted verifies the sender's share, assembles the
// final transaction and submits it for registration. The receiver stays
// in InvitationConfirmed until the node answers.
func (r *Receiver) OnTxConfirmationCompleted(m ConfirmTransaction) {
	if r.state != ReceiverInvitationConfirmed {
		log.Receiver.Debug().Stringer("tx", r.txID).Stringer("state", r.state).Msg("unexpected sender confirmation")
		return
	}
	logger := log.Receiver.With().Stringer("tx", r.txID).Logger()

	senderShare, err := crypto.ScalarFromBytes(m.SenderSignatureShare)
	if err != nil {
		logger.Error().Err(err).Msg("bad sender signature share")
		r.OnTxFailed(true)
		return
	}

	jointNonce := r.nonceCommitment.Add(r.senderNonce)
	jointKey := r.publicKey.Add(r.senderKey)
	e := crypto.Challenge(jointNonce, jointKey, r.kernelMsg)
	if !crypto.VerifyShare(senderShare, r.senderNonce, r.senderKey, e) {
		logger.Error().Msg("sender signature share verification failed")
		r.OnTxFailed(true)
		return
	}

	signature := crypto.CombineShares(r.share, senderShare)
	if !crypto.VerifyCombined(signature, jointNonce, jointKey, r.kernelMsg) {
		logger.Error().Msg("combined signature verification failed")
		r.OnTxFailed(true)
		return
	}
	sigBytes := signature.Bytes()

	value := r.invite.Amount - r.invite.Fee
	outputs := make([]Output, 0, len(r.invite.Outputs)+1)
	outputs = append(outputs, r.invite.Outputs...)
	outputs = append(outputs, Output{Commitment: crypto.Commitment(r.blind, value).SerializeCompressed()})

	tx := Transaction{
		TxID:    r.txID,
		Inputs:  r.invite.Inputs,
		Outputs: outputs,
		Kernel: Kernel{
			Excess:    jointKey.SerializeCompressed(),
			Nonce:     jointNonce.SerializeCompressed(),
			Signature: sigBytes[:],
			Fee:       r.invite.Fee,
		},
	}
	logger.Debug().Msg("sender share verified, registering transaction")
	r.wallet.registerTx(r.txID, tx)
}

// OnTxRegistrationCompleted finishes the transfer once the node accepted
// the transaction: the output stays Unconfirmed awaiting its proof and
// the sender is told the registration succeeded. -> Completed.
func (r *Receiver) OnTxRegistrationCompleted() {
	if r.state != ReceiverInvitationConfirmed && r.state != ReceiverRegistered {
		log.Receiver.Debug().Stringer("tx", r.txID).Stringer("state", r.state).Msg("unexpected registration result")
		return
	}
	logger := log.Receiver.With().Stringer("tx", r.txID).Logger()

	r.state = ReceiverCompleted
	logger.Info().Msg("transaction registered")
	r.wallet.sendTxRegistered(r.txID)
	r.wallet.onTxCompleted(r.txID)
}

// OnTxFailed aborts the negotiation: the pending output coin is
// discarded. When notify is true the counterparty receives TxFailed.
func (r *Receiver) OnTxFailed(notify bool) {
	if r.state == ReceiverFailed || r.state == ReceiverCompleted {
		return
	}
	logger := log.Receiver.With().Stringer("tx", r.txID).Logger()

	if r.coinID != 0 {
		if err := r.kc.Delete(r.coinID); err != nil {
			logger.Error().Err(err).Msg("discard pending output failed")
		}
	}
	r.state = ReceiverFailed
	logger.Info().Msg("transfer failed")
	r.wallet.onTxFailed(r.txID, notify)
}
