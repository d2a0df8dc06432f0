package wallet

import (
	"github.com/kaplanlior/beam/internal/keychain"
	"github.com/kaplanlior/beam/internal/log"
	"github.com/kaplanlior/beam/pkg/crypto"
	"github.com/kaplanlior/beam/pkg/types"
)

// TxCompletedAction is invoked when a transfer reaches a terminal state.
type TxCompletedAction func(types.TxID)

// Wallet is the orchestrator: the single entry point for network events.
// It owns the negotiation state machines and the pending queues, routes
// peer messages by transaction id and reconciles the coin store against
// the node's chain view. All methods run on one logical goroutine; each
// message is handled to completion before the next is taken.
type Wallet struct {
	kc                *keychain.KeyChain
	network           Network
	txCompletedAction TxCompletedAction

	senders   map[types.TxID]*Sender
	receivers map[types.TxID]*Receiver

	peers   map[types.TxID]types.PeerID
	peerTxs map[types.PeerID][]types.TxID // reverse index, insertion ordered

	nodeRequestsQueue []types.TxID    // FIFO: in-flight registrations
	pendingProofs     []keychain.Coin // FIFO: coins awaiting UTXO proofs

	pendingSenders   []*Sender
	pendingReceivers []*Receiver

	// FSMs being torn down during the current dispatch. Kept alive until
	// the dispatching call returns so a state machine may finish the event
	// that removed it.
	removedSenders   []*Sender
	removedReceivers []*Receiver

	syncing      int
	synchronized bool
	knownStateID types.SystemStateID
	newStateID   types.SystemStateID
	definition   types.Hash
}

// New creates a wallet orchestrator over an opened keychain. The chain
// cursor is restored from the store; the wallet starts unsynchronized.
func New(kc *keychain.KeyChain, network Network, action TxCompletedAction) (*Wallet, error) {
	known, err := kc.SystemStateID()
	if err != nil {
		return nil, err
	}
	return &Wallet{
		kc:                kc,
		network:           network,
		txCompletedAction: action,
		senders:           make(map[types.TxID]*Sender),
		receivers:         make(map[types.TxID]*Receiver),
		peers:             make(map[types.TxID]types.PeerID),
		peerTxs:           make(map[types.PeerID][]types.TxID),
		knownStateID:      known,
	}, nil
}

// Synchronized reports whether the wallet has reconciled against the
// latest announced tip.
func (w *Wallet) Synchronized() bool { return w.synchronized }

// drainRemoved clears the torn-down FSM lists. Deferred at the top of
// every dispatch so removed machines outlive the event they are handling.
func (w *Wallet) drainRemoved() {
	w.removedSenders = nil
	w.removedReceivers = nil
}

// availableUnspent sums the spendable coins.
func (w *Wallet) availableUnspent() (types.Amount, error) {
	var total types.Amount
	err := w.kc.Visit(func(c *keychain.Coin) bool {
		if c.Status == keychain.Unspent {
			total += c.Amount
		}
		return true
	})
	return total, err
}

// TransferMoney starts an outgoing transfer of amount to the peer. While
// the wallet is unsynchronized the sender is queued and starts on sync
// completion; the balance check waits until then, since the coin store is
// not reconciled yet. On a synchronized wallet, insufficient funds fail
// synchronously without creating any negotiation state.
func (w *Wallet) TransferMoney(to types.PeerID, amount types.Amount) (types.TxID, error) {
	defer w.drainRemoved()

	if w.synchronized {
		available, err := w.availableUnspent()
		if err != nil {
			return types.TxID{}, err
		}
		if available < amount+types.KernelFee {
			return types.TxID{}, ErrInsufficientFunds
		}
	}

	txID := types.NewTxID()
	w.addPeer(txID, to)
	s := NewSender(w, w.kc, txID, amount)
	w.senders[txID] = s
	if w.synchronized {
		s.Start()
	} else {
		log.Wallet.Debug().Stringer("tx", txID).Msg("wallet not synchronized, transfer queued")
		w.pendingSenders = append(w.pendingSenders, s)
	}
	return txID, nil
}

// HandleTxMessage routes a peer message to the negotiation that owns its
// transaction id.
func (w *Wallet) HandleTxMessage(from types.PeerID, msg TxMessage) {
	defer w.drainRemoved()

	switch m := msg.(type) {
	case InviteReceiver:
		if _, ok := w.receivers[m.TxID]; ok {
			log.Receiver.Debug().Stringer("tx", m.TxID).Msg("unexpected tx invitation")
			return
		}
		log.Receiver.Info().Stringer("tx", m.TxID).Msg("received tx invitation")
		w.addPeer(m.TxID, from)
		r := NewReceiver(w, w.kc, m)
		w.receivers[m.TxID] = r
		if w.synchronized {
			r.Start()
		} else {
			w.pendingReceivers = append(w.pendingReceivers, r)
		}

	case ConfirmInvitation:
		if s, ok := w.senders[m.TxID]; ok {
			log.Sender.Debug().Stringer("tx", m.TxID).Msg("received tx confirmation")
			s.OnTxInitCompleted(m)
		} else {
			log.Sender.Debug().Stringer("tx", m.TxID).Msg("unexpected tx confirmation")
		}

	case ConfirmTransaction:
		if r, ok := w.receivers[m.TxID]; ok {
			log.Receiver.Debug().Stringer("tx", m.TxID).Msg("received sender tx confirmation")
			r.OnTxConfirmationCompleted(m)
		} else {
			log.Receiver.Debug().Stringer("tx", m.TxID).Msg("unexpected sender tx confirmation")
			w.network.CloseConnection(from)
		}

	case TxRegistered:
		txs, ok := w.peerTxs[from]
		if !ok || len(txs) == 0 {
			return
		}
		txID := txs[0]
		for _, id := range txs {
			if id == m.TxID {
				txID = id
				break
			}
		}
		w.handleTxRegistered(txID, m.Value)

	case TxFailed:
		log.Wallet.Debug().Stringer("tx", m.TxID).Msg("tx failed")
		w.handleTxFailed(m.TxID, false)
	}
}

// HandleNodeMessage dispatches a node message to the synchronization
// logic. The returned flag tells the transport whether to keep the node
// connection open; the wallet closes it whenever it goes idle.
func (w *Wallet) HandleNodeMessage(msg NodeMessage) bool {
	defer w.drainRemoved()

	switch m := msg.(type) {
	case NewTip:
		return w.handleNewTip(m)
	case Hdr:
		return w.handleHdr(m)
	case Mined:
		return w.handleMined(m)
	case ProofUtxo:
		return w.handleProofUtxo(m)
	case Boolean:
		return w.handleBoolean(m)
	}
	log.Wallet.Debug().Msg("unknown node message dropped")
	return w.checkIdle()
}

// HandleConnectionError fails every negotiation bound to the lost peer.
func (w *Wallet) HandleConnectionError(from types.PeerID) {
	defer w.drainRemoved()

	txs, ok := w.peerTxs[from]
	if !ok {
		return
	}
	for _, txID := range append([]types.TxID(nil), txs...) {
		w.handleTxFailed(txID, false)
	}
}

// handleNewTip begins a sync round when the announced tip is strictly
// newer than the reconciled cursor. Two responses are outstanding after
// this: the header the node pushes for the tip and the mined list.
func (w *Wallet) handleNewTip(m NewTip) bool {
	if m.ID.After(w.knownStateID) {
		log.Wallet.Info().Stringer("tip", m.ID).Msg("new chain tip")
		w.newStateID = m.ID
		w.synchronized = false
		w.syncing += 2 // Hdr + Mined
		w.network.SendNodeMessage(GetMined{Height: w.knownStateID.Height})
	}
	return w.checkIdle()
}

// handleHdr records the chain definition and requests a proof for every
// coin whose fate is undecided.
func (w *Wallet) handleHdr(m Hdr) bool {
	w.definition = m.Definition
	w.newStateID = m.ID

	var undecided []keychain.Coin
	err := w.kc.Visit(func(c *keychain.Coin) bool {
		if c.Status == keychain.Unconfirmed || c.Status == keychain.Locked {
			undecided = append(undecided, *c)
		}
		return true
	})
	if err != nil {
		log.Wallet.Error().Err(err).Msg("enumerate coins failed")
	} else {
		w.getUtxoProofs(undecided)
	}
	return w.finishSync()
}

// handleMined enqueues the wallet's block rewards: a coinbase coin per
// active entry and a commission coin when the block carried fees.
func (w *Wallet) handleMined(m Mined) bool {
	currentHeight := w.kc.CurrentHeight()
	var mined []keychain.Coin
	for _, e := range m.Entries {
		if !e.Active || e.Height < currentHeight {
			continue
		}
		mined = append(mined, *keychain.NewCoin(types.CoinbaseEmission, keychain.Unconfirmed, e.Height, keychain.Coinbase))
		if e.Fees > 0 {
			mined = append(mined, *keychain.NewCoin(e.Fees, keychain.Unconfirmed, e.Height, keychain.Commission))
		}
	}
	if len(mined) > 0 {
		w.getUtxoProofs(mined)
	}
	return w.finishSync()
}

// handleProofUtxo pairs a proof response with the oldest outstanding
// request. An empty proof means the commitment is not in the UTXO set: a
// Locked coin has been spent, an Unconfirmed one is simply not mined yet.
func (w *Wallet) handleProofUtxo(m ProofUtxo) bool {
	if len(w.pendingProofs) == 0 {
		log.Wallet.Debug().Msg("unexpected UTXO proof")
		return w.checkIdle()
	}
	coin := w.pendingProofs[0]
	w.pendingProofs = w.pendingProofs[1:]

	key, err := w.kc.CalcKey(&coin)
	if err != nil {
		log.Wallet.Error().Err(err).Msg("derive coin key failed")
		return w.finishSync()
	}
	commitment := crypto.Commitment(key, coin.Amount).SerializeCompressed()

	if len(m.Proofs) == 0 {
		log.Wallet.Debug().Uint64("coin", coin.ID).Msg("got empty proof")
		if coin.Status == keychain.Locked {
			coin.Status = keychain.Spent
			if err := w.kc.Update([]keychain.Coin{coin}); err != nil {
				log.Wallet.Error().Err(err).Msg("mark coin spent failed")
			}
		}
		return w.finishSync()
	}

	if coin.Status == keychain.Unconfirmed {
		accepted := false
		var maturity types.Height
		for _, proof := range m.Proofs {
			if !proof.IsValid(commitment, w.definition) {
				continue
			}
			if !accepted {
				accepted = true
				maturity = proof.Maturity
				coin.Status = keychain.Unspent
				coin.Maturity = proof.Maturity
				coin.ConfirmHeight = w.newStateID.Height
				coin.ConfirmHash = w.newStateID.Hash
				if coin.KeyType == keychain.Coinbase || coin.KeyType == keychain.Commission {
					log.Wallet.Info().Uint64("amount", coin.Amount).Msg("block reward received")
					if _, err := w.kc.Store(&coin); err != nil {
						log.Wallet.Error().Err(err).Msg("store reward coin failed")
					}
				} else {
					if err := w.kc.Update([]keychain.Coin{coin}); err != nil {
						log.Wallet.Error().Err(err).Msg("confirm coin failed")
					}
				}
			} else if proof.Maturity != maturity {
				log.Wallet.Warn().
					Uint64("coin", coin.ID).
					Uint64("maturity", maturity).
					Uint64("other", proof.Maturity).
					Msg("proofs disagree on maturity")
			}
		}
		if !accepted {
			log.Wallet.Error().Uint64("coin", coin.ID).Msg("invalid proof provided")
		}
	}
	return w.finishSync()
}

// handleBoolean pairs a registration response with the oldest in-flight
// registration request.
func (w *Wallet) handleBoolean(m Boolean) bool {
	if len(w.nodeRequestsQueue) == 0 {
		log.Wallet.Debug().Msg("unexpected tx registration confirmation")
		return w.checkIdle()
	}
	txID := w.nodeRequestsQueue[0]
	w.nodeRequestsQueue = w.nodeRequestsQueue[1:]
	w.handleTxRegistered(txID, m.Value)
	return w.checkIdle()
}

// handleTxRegistered advances the FSM owning the transfer, or fails it
// when the node rejected the transaction.
func (w *Wallet) handleTxRegistered(txID types.TxID, res bool) {
	if res {
		log.Wallet.Debug().Stringer("tx", txID).Msg("tx registered")
		if r, ok := w.receivers[txID]; ok {
			r.OnTxRegistrationCompleted()
			return
		}
		if s, ok := w.senders[txID]; ok {
			s.OnTxConfirmationCompleted()
			return
		}
		return
	}
	log.Wallet.Debug().Stringer("tx", txID).Msg("tx failed to register")
	w.handleTxFailed(txID, true)
}

// handleTxFailed delivers the failure to whichever FSM owns the id.
func (w *Wallet) handleTxFailed(txID types.TxID, notify bool) {
	if s, ok := w.senders[txID]; ok {
		s.OnTxFailed(notify)
		return
	}
	if r, ok := w.receivers[txID]; ok {
		r.OnTxFailed(notify)
		return
	}
}

// getUtxoProofs requests an inclusion proof for every coin, recording the
// request order for FIFO pairing with the responses.
func (w *Wallet) getUtxoProofs(coins []keychain.Coin) {
	for _, coin := range coins {
		key, err := w.kc.CalcKey(&coin)
		if err != nil {
			log.Wallet.Error().Err(err).Uint64("coin", coin.ID).Msg("derive coin key failed")
			continue
		}
		w.syncing++
		w.pendingProofs = append(w.pendingProofs, coin)
		commitment := crypto.Commitment(key, coin.Amount)
		log.Wallet.Debug().Stringer("commitment", commitment).Msg("get proof")
		w.network.SendNodeMessage(GetProofUtxo{Commitment: commitment.SerializeCompressed()})
	}
}

// finishSync retires one outstanding sync response. When the last one
// lands the cursor is persisted, queued transfers start and the wallet is
// synchronized.
func (w *Wallet) finishSync() bool {
	if w.syncing > 0 {
		w.syncing--
		if w.syncing == 0 {
			if err := w.kc.SetSystemStateID(w.newStateID); err != nil {
				log.Wallet.Error().Err(err).Msg("persist system state failed")
			}
			w.knownStateID = w.newStateID
			for _, s := range w.pendingSenders {
				s.Start()
			}
			w.pendingSenders = nil
			for _, r := range w.pendingReceivers {
				r.Start()
			}
			w.pendingReceivers = nil
			w.synchronized = true
			log.Wallet.Info().Stringer("state", w.knownStateID).Msg("wallet synchronized")
		}
	}
	return w.checkIdle()
}

// checkIdle closes the node connection when nothing is outstanding.
func (w *Wallet) checkIdle() bool {
	if w.syncing == 0 && len(w.nodeRequestsQueue) == 0 {
		w.network.CloseNodeConnection()
		return false
	}
	return true
}

// registerTx submits a signed transaction, recording the transfer id for
// FIFO pairing with the node's Boolean response.
func (w *Wallet) registerTx(txID types.TxID, tx Transaction) {
	log.Receiver.Debug().Stringer("tx", txID).Msg("sending tx for registration")
	w.nodeRequestsQueue = append(w.nodeRequestsQueue, txID)
	w.network.SendNodeMessage(NewTransaction{Transaction: tx})
}

// sendTxInvitation, sendInvitationConfirmation, sendTxConfirmation and
// sendTxRegistered forward negotiation messages to the bound peer.
func (w *Wallet) sendTxInvitation(m InviteReceiver) {
	w.sendTxMessage(m.TxID, m)
}

func (w *Wallet) sendInvitationConfirmation(m ConfirmInvitation) {
	w.sendTxMessage(m.TxID, m)
}

func (w *Wallet) sendTxConfirmation(m ConfirmTransaction) {
	w.sendTxMessage(m.TxID, m)
}

func (w *Wallet) sendTxRegistered(txID types.TxID) {
	w.sendTxMessage(txID, TxRegistered{TxID: txID, Value: true})
}

func (w *Wallet) sendTxMessage(txID types.TxID, msg TxMessage) {
	peer, ok := w.peers[txID]
	if !ok {
		log.Wallet.Debug().Stringer("tx", txID).Msg("no peer bound to tx")
		return
	}
	w.network.SendTxMessage(peer, msg)
}

// onTxCompleted reaps a finished negotiation and notifies the embedder.
func (w *Wallet) onTxCompleted(txID types.TxID) {
	w.removeSender(txID)
	w.removeReceiver(txID)
	if w.txCompletedAction != nil {
		w.txCompletedAction(txID)
	}
	if len(w.nodeRequestsQueue) == 0 && w.syncing == 0 {
		w.network.CloseNodeConnection()
	}
}

// onTxFailed reaps a failed negotiation, optionally telling the peer.
func (w *Wallet) onTxFailed(txID types.TxID, notify bool) {
	if notify {
		w.sendTxMessage(txID, TxFailed{TxID: txID})
	}
	w.removeSender(txID)
	w.removeReceiver(txID)
	if w.txCompletedAction != nil {
		w.txCompletedAction(txID)
	}
}

// removeSender moves a sender to the torn-down list and unbinds its peer.
func (w *Wallet) removeSender(txID types.TxID) {
	if s, ok := w.senders[txID]; ok {
		w.removePeer(txID)
		w.removedSenders = append(w.removedSenders, s)
		delete(w.senders, txID)
	}
}

// removeReceiver moves a receiver to the torn-down list and unbinds its peer.
func (w *Wallet) removeReceiver(txID types.TxID) {
	if r, ok := w.receivers[txID]; ok {
		w.removePeer(txID)
		w.removedReceivers = append(w.removedReceivers, r)
		delete(w.receivers, txID)
	}
}

// addPeer binds a transfer to a peer, maintaining the reverse index.
func (w *Wallet) addPeer(txID types.TxID, peer types.PeerID) {
	w.peers[txID] = peer
	w.peerTxs[peer] = append(w.peerTxs[peer], txID)
}

// removePeer closes the peer connection bound to a transfer and drops the
// binding from both indexes.
func (w *Wallet) removePeer(txID types.TxID) {
	peer, ok := w.peers[txID]
	if !ok {
		return
	}
	w.network.CloseConnection(peer)
	delete(w.peers, txID)
	txs := w.peerTxs[peer]
	for i, id := range txs {
		if id == txID {
			w.peerTxs[peer] = append(txs[:i], txs[i+1:]...)
			break
		}
	}
	if len(w.peerTxs[peer]) == 0 {
		delete(w.peerTxs, peer)
	}
}
