package wallet

import (
	"errors"
	"fmt"
	"sort"

	"github.com/kaplanlior/beam/internal/keychain"
	"github.com/kaplanlior/beam/internal/log"
	"github.com/kaplanlior/beam/pkg/crypto"
	"github.com/kaplanlior/beam/pkg/types"
)

// ErrInsufficientFunds is returned when the unspent coins cannot cover a
// transfer plus its fee.
var ErrInsufficientFunds = errors.New("insufficient funds")

// SenderState is the sender negotiation state.
type SenderState uint8

const (
	SenderInitial SenderState = iota
	SenderInvitationSent
	SenderConfirmed
	SenderRegistered
	SenderFailed
	SenderCompleted
)

// String returns the state name.
func (s SenderState) String() string {
	switch s {
	case SenderInitial:
		return "initial"
	case SenderInvitationSent:
		return "invitation_sent"
	case SenderConfirmed:
		return "confirmed"
	case SenderRegistered:
		return "registered"
	case SenderFailed:
		return "failed"
	case SenderCompleted:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Sender drives the outgoing half of a transfer negotiation. It holds a
// non-owning back-reference to the orchestrator for outbound messaging;
// the orchestrator outlives every sender it owns.
type Sender struct {
	wallet *Wallet
	kc     *keychain.KeyChain

	txID   types.TxID
	amount types.Amount
	fee    types.Amount
	state  SenderState

	inputs   []keychain.Coin
	changeID uint64

	blind *crypto.Scalar // blinding excess: sum of input keys minus change key
	nonce *crypto.Scalar

	publicKey       *crypto.Point
	nonceCommitment *crypto.Point
	kernelMsg       types.Hash
}

// NewSender creates a sender in the Initial state.
func NewSender(w *Wallet, kc *keychain.KeyChain, txID types.TxID, amount types.Amount) *Sender {
	return &Sender{
		wallet: w,
		kc:     kc,
		txID:   txID,
		amount: amount,
		fee:    types.KernelFee,
		state:  SenderInitial,
	}
}

// TxID returns the transfer id this sender negotiates.
func (s *Sender) TxID() types.TxID { return s.txID }

// State returns the current negotiation state.
func (s *Sender) State() SenderState { return s.state }

// selectCoins picks unspent coins totaling at least target, largest first.
func selectCoins(kc *keychain.KeyChain, target types.Amount) ([]keychain.Coin, types.Amount, error) {
	var unspent []keychain.Coin
	err := kc.Visit(func(c *keychain.Coin) bool {
		if c.Status == keychain.Unspent {
			unspent = append(unspent, *c)
		}
		return true
	})
	if err != nil {
		return nil, 0, err
	}
	sort.Slice(unspent, func(i, j int) bool {
		return unspent[i].Amount > unspent[j].Amount
	})
	var selected []keychain.Coin
	var total types.Amount
	for _, c := range unspent {
		selected = append(selected, c)
		total += c.Amount
		if total >= target {
			return selected, total, nil
		}
	}
	return nil, total, fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, total, target)
}

// Start selects and locks the input coins, creates the change output and
// sends the invitation. Initial -> InvitationSent.
func (s *Sender) Start() {
	if s.state != SenderInitial {
		log.Sender.Debug().Stringer("tx", s.txID).Stringer("state", s.state).Msg("start in unexpected state")
		return
	}
	logger := log.Sender.With().Stringer("tx", s.txID).Logger()

	selected, total, err := selectCoins(s.kc, s.amount+s.fee)
	if err != nil {
		logger.Error().Err(err).Msg("coin selection failed")
		s.OnTxFailed(true)
		return
	}

	height := s.kc.CurrentHeight()
	for i := range selected {
		selected[i].Status = keychain.Locked
		selected[i].LockedHeight = height
		txID := s.txID
		selected[i].SpentTxID = &txID
	}
	if err := s.kc.Update(selected); err != nil {
		logger.Error().Err(err).Msg("lock inputs failed")
		s.OnTxFailed(true)
		return
	}
	s.inputs = selected

	var outputs []Output
	var changeKey *crypto.Scalar
	if change := total - s.amount - s.fee; change > 0 {
		coin := keychain.NewCoin(change, keychain.Unconfirmed, height, keychain.Regular)
		txID := s.txID
		coin.CreateTxID = &txID
		id, err := s.kc.Store(coin)
		if err != nil {
			logger.Error().Err(err).Msg("store change coin failed")
			s.OnTxFailed(true)
			return
		}
		s.changeID = id
		if changeKey, err = s.kc.CalcKey(coin); err != nil {
			logger.Error().Err(err).Msg("derive change key failed")
			s.OnTxFailed(true)
			return
		}
		outputs = append(outputs, Output{Commitment: crypto.Commitment(changeKey, change).SerializeCompressed()})
	}

	// Blinding excess: sum of input keys minus the change key.
	excess := crypto.NewScalar()
	inputs := make([]Input, 0, len(s.inputs))
	for i := range s.inputs {
		key, err := s.kc.CalcKey(&s.inputs[i])
		if err != nil {
			logger.Error().Err(err).Msg("derive input key failed")
			s.OnTxFailed(true)
			return
		}
		excess = excess.Add(key)
		inputs = append(inputs, Input{Commitment: crypto.Commitment(key, s.inputs[i].Amount).SerializeCompressed()})
	}
	if changeKey != nil {
		excess = excess.Add(changeKey.Negate())
	}
	s.blind = excess

	nonce, err := crypto.RandomScalar()
	if err != nil {
		logger.Error().Err(err).Msg("generate nonce failed")
		s.OnTxFailed(true)
		return
	}
	s.nonce = nonce
	s.publicKey = crypto.MulG(s.blind)
	s.nonceCommitment = crypto.MulG(s.nonce)
	s.kernelMsg = KernelHash(s.txID, s.amount, s.fee)

	invite := InviteReceiver{
		TxID:                  s.txID,
		Amount:                s.amount,
		Fee:                   s.fee,
		Height:                height,
		Inputs:                inputs,
		Outputs:               outputs,
		SenderPublicKey:       s.publicKey.SerializeCompressed(),
		SenderNonceCommitment: s.nonceCommitment.SerializeCompressed(),
	}
	s.state = SenderInvitationSent
	logger.Info().Uint64("amount", s.amount).Int("inputs", len(inputs)).Msg("sending tx invitation")
	s.wallet.sendTxInvitation(invite)
}

// OnTxInitCompleted handles the receiver's confirmation: verifies the
// receiver's signature share and answers with the sender's own share.
// InvitationSent -> Confirmed.
func (s *Sender) OnTxInitCompleted(m ConfirmInvitation) {
	if s.state != SenderInvitationSent {
		log.Sender.Debug().Stringer("tx", s.txID).Stringer("state", s.state).Msg("unexpected tx confirmation")
		return
	}
	logger := log.Sender.With().Stringer("tx", s.txID).Logger()

	receiverKey, err := crypto.ParsePoint(m.ReceiverPublicKey)
	if err != nil {
		logger.Error().Err(err).Msg("bad receiver public key")
		s.OnTxFailed(true)
		return
	}
	receiverNonce, err := crypto.ParsePoint(m.ReceiverNonceCommitment)
	if err != nil {
		logger.Error().Err(err).Msg("bad receiver nonce commitment")
		s.OnTxFailed(true)
		return
	}
	receiverShare, err := crypto.ScalarFromBytes(m.ReceiverSignatureShare)
	if err != nil {
		logger.Error().Err(err).Msg("bad receiver signature share")
		s.OnTxFailed(true)
		return
	}

	jointNonce := s.nonceCommitment.Add(receiverNonce)
	jointKey := s.publicKey.Add(receiverKey)
	e := crypto.Challenge(jointNonce, jointKey, s.kernelMsg)
	if !crypto.VerifyShare(receiverShare, receiverNonce, receiverKey, e) {
		logger.Error().Msg("receiver signature share verification failed")
		s.OnTxFailed(true)
		return
	}

	share := crypto.SignShare(s.blind, s.nonce, e)
	shareBytes := share.Bytes()
	s.state = SenderConfirmed
	logger.Debug().Msg("receiver share verified, confirming transaction")
	s.wallet.sendTxConfirmation(ConfirmTransaction{
		TxID:                 s.txID,
		SenderSignatureShare: shareBytes[:],
	})
}

// OnTxConfirmationCompleted is delivered when the node accepted the
// registered transaction: inputs become Spent. Confirmed -> Completed.
func (s *Sender) OnTxConfirmationCompleted() {
	if s.state != SenderConfirmed {
		log.Sender.Debug().Stringer("tx", s.txID).Stringer("state", s.state).Msg("unexpected registration confirmation")
		return
	}
	logger := log.Sender.With().Stringer("tx", s.txID).Logger()

	for i := range s.inputs {
		s.inputs[i].Status = keychain.Spent
	}
	if err := s.kc.Update(s.inputs); err != nil {
		logger.Error().Err(err).Msg("mark inputs spent failed")
		s.OnTxFailed(true)
		return
	}
	s.state = SenderCompleted
	logger.Info().Uint64("amount", s.amount).Msg("transfer completed")
	s.wallet.onTxCompleted(s.txID)
}

// OnTxFailed aborts the negotiation from any non-terminal state: locked
// inputs revert to Unspent, the change output is discarded. When notify
// is true the counterparty receives a TxFailed message.
func (s *Sender) OnTxFailed(notify bool) {
	if s.state == SenderFailed || s.state == SenderCompleted {
		return
	}
	logger := log.Sender.With().Stringer("tx", s.txID).Logger()

	if len(s.inputs) > 0 {
		for i := range s.inputs {
			s.inputs[i].Status = keychain.Unspent
			s.inputs[i].LockedHeight = types.MaxHeight
			s.inputs[i].SpentTxID = nil
		}
		if err := s.kc.Update(s.inputs); err != nil {
			logger.Error().Err(err).Msg("unlock inputs failed")
		}
	}
	if s.changeID != 0 {
		if err := s.kc.Delete(s.changeID); err != nil {
			logger.Error().Err(err).Msg("discard change coin failed")
		}
	}
	s.state = SenderFailed
	logger.Info().Msg("transfer failed")
	s.wallet.onTxFailed(s.txID, notify)
}
