package wallet

import (
	"errors"
	"testing"

	"github.com/kaplanlior/beam/internal/keychain"
	"github.com/kaplanlior/beam/internal/storage"
	"github.com/kaplanlior/beam/pkg/crypto"
	"github.com/kaplanlior/beam/pkg/types"
)

// sentTx records one outbound peer message.
type sentTx struct {
	to  types.PeerID
	msg TxMessage
}

// mockNetwork captures everything the orchestrator sends.
type mockNetwork struct {
	txOut       []sentTx
	nodeOut     []NodeRequest
	closedPeers []types.PeerID
	nodeClosed  int
}

func (m *mockNetwork) SendTxMessage(to types.PeerID, msg TxMessage) {
	m.txOut = append(m.txOut, sentTx{to: to, msg: msg})
}

func (m *mockNetwork) SendNodeMessage(req NodeRequest) {
	m.nodeOut = append(m.nodeOut, req)
}

func (m *mockNetwork) CloseConnection(peer types.PeerID) {
	m.closedPeers = append(m.closedPeers, peer)
}

func (m *mockNetwork) CloseNodeConnection() {
	m.nodeClosed++
}

func testKeyChain(t *testing.T, seed string) *keychain.KeyChain {
	t.Helper()
	kc, err := keychain.InitDB(storage.NewMemory(), "pw", crypto.Hash([]byte(seed)))
	if err != nil {
		t.Fatalf("InitDB() error: %v", err)
	}
	return kc
}

func testWallet(t *testing.T, seed string) (*Wallet, *keychain.KeyChain, *mockNetwork) {
	t.Helper()
	kc := testKeyChain(t, seed)
	m := &mockNetwork{}
	w, err := New(kc, m, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return w, kc, m
}

// seedCoin stores a coin with the given amount and status.
func seedCoin(t *testing.T, kc *keychain.KeyChain, amount types.Amount, status keychain.Status, height types.Height) uint64 {
	t.Helper()
	c := keychain.NewCoin(amount, status, height, keychain.Regular)
	id, err := kc.Store(c)
	if err != nil {
		t.Fatalf("Store() error: %v", err)
	}
	return id
}

// syncEmpty drives a full sync round in which no proofs are outstanding.
func syncEmpty(t *testing.T, w *Wallet, height types.Height) {
	t.Helper()
	id := types.SystemStateID{Height: height, Hash: crypto.Hash([]byte("tip"))}
	w.HandleNodeMessage(NewTip{ID: id})
	w.HandleNodeMessage(Hdr{ID: id, Definition: crypto.Hash([]byte("def"))})
	w.HandleNodeMessage(Mined{})
	if !w.Synchronized() {
		t.Fatal("wallet should be synchronized")
	}
}

// coinByID fetches one coin from the keychain.
func coinByID(t *testing.T, kc *keychain.KeyChain, id uint64) *keychain.Coin {
	t.Helper()
	var found *keychain.Coin
	kc.Visit(func(c *keychain.Coin) bool {
		if c.ID == id {
			found = c
			return false
		}
		return true
	})
	return found
}

func allCoins(t *testing.T, kc *keychain.KeyChain) []keychain.Coin {
	t.Helper()
	var coins []keychain.Coin
	kc.Visit(func(c *keychain.Coin) bool {
		coins = append(coins, *c)
		return true
	})
	return coins
}

// lastTxMsg pops the most recent outbound peer message.
func lastTxMsg(t *testing.T, m *mockNetwork) sentTx {
	t.Helper()
	if len(m.txOut) == 0 {
		t.Fatal("no outbound peer message")
	}
	return m.txOut[len(m.txOut)-1]
}

// TestHappyPathTransfer walks the full two-wallet negotiation: A has one
// 100-coin, sends 30 to B, the node accepts. A ends with the input Spent
// and a 69 change coin; B ends with a 29 coin awaiting its proof.
func TestHappyPathTransfer(t *testing.T) {
	walletA, kcA, netA := testWallet(t, "alice")
	walletB, kcB, netB := testWallet(t, "bob")
	coinID := seedCoin(t, kcA, 100, keychain.Unspent, 10)
	syncEmpty(t, walletA, 10)
	syncEmpty(t, walletB, 10)

	peerA, peerB := types.PeerID("A"), types.PeerID("B")

	txID, err := walletA.TransferMoney(peerB, 30)
	if err != nil {
		t.Fatalf("TransferMoney() error: %v", err)
	}

	// A -> B: InviteReceiver.
	sent := lastTxMsg(t, netA)
	invite, ok := sent.msg.(InviteReceiver)
	if !ok {
		t.Fatalf("A sent %T, want InviteReceiver", sent.msg)
	}
	if invite.TxID != txID || invite.Amount != 30 || invite.Fee != types.KernelFee {
		t.Errorf("invite = amount %d fee %d, want 30/%d", invite.Amount, invite.Fee, types.KernelFee)
	}
	if len(invite.Inputs) != 1 {
		t.Errorf("invite has %d inputs, want 1", len(invite.Inputs))
	}
	if c := coinByID(t, kcA, coinID); c.Status != keychain.Locked {
		t.Errorf("input coin is %v after invite, want locked", c.Status)
	}

	// B -> A: ConfirmInvitation.
	walletB.HandleTxMessage(peerA, invite)
	confirmInv, ok := lastTxMsg(t, netB).msg.(ConfirmInvitation)
	if !ok {
		t.Fatalf("B sent %T, want ConfirmInvitation", lastTxMsg(t, netB).msg)
	}

	// A -> B: ConfirmTransaction.
	walletA.HandleTxMessage(peerB, confirmInv)
	confirmTx, ok := lastTxMsg(t, netA).msg.(ConfirmTransaction)
	if !ok {
		t.Fatalf("A sent %T, want ConfirmTransaction", lastTxMsg(t, netA).msg)
	}

	// B -> node: NewTransaction.
	walletB.HandleTxMessage(peerA, confirmTx)
	if len(netB.nodeOut) == 0 {
		t.Fatal("B sent no node request")
	}
	reg, ok := netB.nodeOut[len(netB.nodeOut)-1].(NewTransaction)
	if !ok {
		t.Fatalf("B sent %T, want NewTransaction", netB.nodeOut[len(netB.nodeOut)-1])
	}
	if len(reg.Transaction.Inputs) != 1 || len(reg.Transaction.Outputs) != 2 {
		t.Errorf("transaction has %d inputs and %d outputs, want 1 and 2",
			len(reg.Transaction.Inputs), len(reg.Transaction.Outputs))
	}

	// node -> B: Boolean(true); B -> A: TxRegistered.
	walletB.HandleNodeMessage(Boolean{Value: true})
	registered, ok := lastTxMsg(t, netB).msg.(TxRegistered)
	if !ok || !registered.Value {
		t.Fatalf("B sent %v, want TxRegistered{true}", lastTxMsg(t, netB).msg)
	}

	walletA.HandleTxMessage(peerB, registered)

	// Final state of A: input spent, change 69 unconfirmed.
	if c := coinByID(t, kcA, coinID); c.Status != keychain.Spent {
		t.Errorf("input coin is %v, want spent", c.Status)
	}
	coinsA := allCoins(t, kcA)
	if len(coinsA) != 2 {
		t.Fatalf("A has %d coins, want 2", len(coinsA))
	}
	change := coinsA[1]
	if change.Amount != 69 || change.Status != keychain.Unconfirmed {
		t.Errorf("change coin = %d %v, want 69 unconfirmed", change.Amount, change.Status)
	}
	if change.CreateTxID == nil || *change.CreateTxID != txID {
		t.Error("change coin should reference the transfer")
	}

	// Final state of B: one 29 coin unconfirmed.
	coinsB := allCoins(t, kcB)
	if len(coinsB) != 1 {
		t.Fatalf("B has %d coins, want 1", len(coinsB))
	}
	if coinsB[0].Amount != 29 || coinsB[0].Status != keychain.Unconfirmed {
		t.Errorf("B's coin = %d %v, want 29 unconfirmed", coinsB[0].Amount, coinsB[0].Status)
	}

	// Both FSMs are reaped.
	if len(walletA.senders) != 0 || len(walletB.receivers) != 0 {
		t.Error("completed FSMs should be removed")
	}
}

// TestInsufficientFunds: no FSM, no traffic, synchronous error.
func TestInsufficientFunds(t *testing.T) {
	w, kc, m := testWallet(t, "poor")
	seedCoin(t, kc, 50, keychain.Unspent, 5)
	syncEmpty(t, w, 5)

	_, err := w.TransferMoney("B", 100)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("TransferMoney() = %v, want ErrInsufficientFunds", err)
	}
	if len(w.senders) != 0 {
		t.Error("no sender should be created")
	}
	if len(m.txOut) != 0 {
		t.Error("no peer traffic should be sent")
	}
}

// TestAmountPlusFee: 50 available cannot send 50, but can send 49.
func TestAmountPlusFee(t *testing.T) {
	w, kc, _ := testWallet(t, "edge")
	seedCoin(t, kc, 50, keychain.Unspent, 5)
	syncEmpty(t, w, 5)

	if _, err := w.TransferMoney("B", 50); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("TransferMoney(50) with 50 available = %v, want ErrInsufficientFunds", err)
	}
	if _, err := w.TransferMoney("B", 49); err != nil {
		t.Errorf("TransferMoney(49) error: %v", err)
	}
}

// TestPendingTransfer: a transfer on an unsynchronized wallet emits
// nothing until sync completes.
func TestPendingTransfer(t *testing.T) {
	w, kc, m := testWallet(t, "pending")
	seedCoin(t, kc, 100, keychain.Unspent, 10)

	if _, err := w.TransferMoney("B", 30); err != nil {
		t.Fatalf("TransferMoney() error: %v", err)
	}
	for _, sent := range m.txOut {
		if _, ok := sent.msg.(InviteReceiver); ok {
			t.Fatal("no invitation should be sent before sync")
		}
	}

	syncEmpty(t, w, 10)

	if _, ok := lastTxMsg(t, m).msg.(InviteReceiver); !ok {
		t.Error("invitation should be sent once sync completes")
	}
}

// TestNoDoubleSpend: a coin locked by one sender is not available to a
// second transfer.
func TestNoDoubleSpend(t *testing.T) {
	w, kc, _ := testWallet(t, "double")
	seedCoin(t, kc, 100, keychain.Unspent, 10)
	syncEmpty(t, w, 10)

	if _, err := w.TransferMoney("B", 30); err != nil {
		t.Fatalf("first TransferMoney() error: %v", err)
	}
	if _, err := w.TransferMoney("C", 30); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("second TransferMoney() = %v, want ErrInsufficientFunds (input locked)", err)
	}
}

// TestEmptyProofOnLockedCoin: an empty proof means the coin left the
// UTXO set; a Locked coin becomes Spent.
func TestEmptyProofOnLockedCoin(t *testing.T) {
	w, kc, m := testWallet(t, "locked")
	id := seedCoin(t, kc, 40, keychain.Locked, 8)

	stateID := types.SystemStateID{Height: 9, Hash: crypto.Hash([]byte("tip9"))}
	w.HandleNodeMessage(NewTip{ID: stateID})
	w.HandleNodeMessage(Hdr{ID: stateID, Definition: crypto.Hash([]byte("def"))})

	// The locked coin triggered one proof request.
	var proofReqs int
	for _, req := range m.nodeOut {
		if _, ok := req.(GetProofUtxo); ok {
			proofReqs++
		}
	}
	if proofReqs != 1 {
		t.Fatalf("%d proof requests, want 1", proofReqs)
	}

	w.HandleNodeMessage(Mined{})
	w.HandleNodeMessage(ProofUtxo{})

	if c := coinByID(t, kc, id); c.Status != keychain.Spent {
		t.Errorf("locked coin with empty proof is %v, want spent", c.Status)
	}
	if !w.Synchronized() {
		t.Error("sync should complete after the last proof")
	}
}

// TestPeerDisconnectMidProtocol: the sender fails and its locked input
// returns to Unspent.
func TestPeerDisconnectMidProtocol(t *testing.T) {
	w, kc, _ := testWallet(t, "disconnect")
	id := seedCoin(t, kc, 100, keychain.Unspent, 10)
	syncEmpty(t, w, 10)

	txID, err := w.TransferMoney("B", 30)
	if err != nil {
		t.Fatalf("TransferMoney() error: %v", err)
	}
	if w.senders[txID].State() != SenderInvitationSent {
		t.Fatalf("sender in %v, want invitation_sent", w.senders[txID].State())
	}

	w.HandleConnectionError("B")

	if c := coinByID(t, kc, id); c.Status != keychain.Unspent {
		t.Errorf("input coin is %v after disconnect, want unspent", c.Status)
	}
	if len(w.senders) != 0 {
		t.Error("failed sender should be removed")
	}
	// The change coin is discarded.
	if coins := allCoins(t, kc); len(coins) != 1 {
		t.Errorf("%d coins after failure, want 1", len(coins))
	}
}

// TestRegistrationFailure: Boolean(false) fails the receiver, discards
// the pending output and notifies the sender.
func TestRegistrationFailure(t *testing.T) {
	walletA, kcA, netA := testWallet(t, "alice2")
	walletB, kcB, netB := testWallet(t, "bob2")
	inputID := seedCoin(t, kcA, 100, keychain.Unspent, 10)
	syncEmpty(t, walletA, 10)
	syncEmpty(t, walletB, 10)

	if _, err := walletA.TransferMoney("B", 30); err != nil {
		t.Fatalf("TransferMoney() error: %v", err)
	}
	invite := lastTxMsg(t, netA).msg.(InviteReceiver)
	walletB.HandleTxMessage("A", invite)
	confirmInv := lastTxMsg(t, netB).msg.(ConfirmInvitation)
	walletA.HandleTxMessage("B", confirmInv)
	confirmTx := lastTxMsg(t, netA).msg.(ConfirmTransaction)
	walletB.HandleTxMessage("A", confirmTx)

	// Node rejects the transaction.
	walletB.HandleNodeMessage(Boolean{Value: false})

	if len(allCoins(t, kcB)) != 0 {
		t.Error("B's pending output should be discarded")
	}
	if len(walletB.receivers) != 0 {
		t.Error("failed receiver should be removed")
	}
	failed, ok := lastTxMsg(t, netB).msg.(TxFailed)
	if !ok {
		t.Fatalf("B sent %T, want TxFailed", lastTxMsg(t, netB).msg)
	}

	// The sender rolls its input back.
	walletA.HandleTxMessage("B", failed)
	if c := coinByID(t, kcA, inputID); c.Status != keychain.Unspent {
		t.Errorf("A's input is %v after failure, want unspent", c.Status)
	}
	if len(walletA.senders) != 0 {
		t.Error("failed sender should be removed")
	}
}

// TestProofFIFOPairing: the kth response pairs with the kth request.
func TestProofFIFOPairing(t *testing.T) {
	w, kc, _ := testWallet(t, "fifo")
	id1 := seedCoin(t, kc, 10, keychain.Unconfirmed, 3)
	id2 := seedCoin(t, kc, 20, keychain.Unconfirmed, 3)

	// Build a two-leaf commitment tree so both proofs share a definition.
	c1 := coinByID(t, kc, id1)
	c2 := coinByID(t, kc, id2)
	k1, _ := kc.CalcKey(c1)
	k2, _ := kc.CalcKey(c2)
	leaf := func(key *crypto.Scalar, amount types.Amount, maturity types.Height) types.Hash {
		var buf [8]byte
		for i := 0; i < 8; i++ {
			buf[i] = byte(maturity >> (8 * i))
		}
		return crypto.HashParts(crypto.Commitment(key, amount).SerializeCompressed(), buf[:])
	}
	const maturity = types.Height(5)
	l1 := leaf(k1, 10, maturity)
	l2 := leaf(k2, 20, maturity)
	definition := crypto.HashConcat(l1, l2)

	stateID := types.SystemStateID{Height: 6, Hash: crypto.Hash([]byte("tip6"))}
	w.HandleNodeMessage(NewTip{ID: stateID})
	w.HandleNodeMessage(Hdr{ID: stateID, Definition: definition})
	w.HandleNodeMessage(Mined{})

	// First response: valid proof for coin 1 (sibling on the right).
	w.HandleNodeMessage(ProofUtxo{Proofs: []UtxoProof{{
		Maturity: maturity,
		Path:     []ProofStep{{Hash: l2, Left: false}},
	}}})
	// Second response: valid proof for coin 2 (sibling on the left).
	w.HandleNodeMessage(ProofUtxo{Proofs: []UtxoProof{{
		Maturity: maturity,
		Path:     []ProofStep{{Hash: l1, Left: true}},
	}}})

	got1 := coinByID(t, kc, id1)
	got2 := coinByID(t, kc, id2)
	if got1.Status != keychain.Unspent || got1.Maturity != maturity {
		t.Errorf("coin1 = %v maturity %d, want unspent %d", got1.Status, got1.Maturity, maturity)
	}
	if got2.Status != keychain.Unspent || got2.Maturity != maturity {
		t.Errorf("coin2 = %v maturity %d, want unspent %d", got2.Status, got2.Maturity, maturity)
	}
	if !w.Synchronized() {
		t.Error("sync should complete")
	}
}

// TestInvalidProofLeavesCoinUnchanged: an invalid proof is logged and the
// coin stays Unconfirmed; sync still completes.
func TestInvalidProofLeavesCoinUnchanged(t *testing.T) {
	w, kc, _ := testWallet(t, "badproof")
	id := seedCoin(t, kc, 10, keychain.Unconfirmed, 3)

	stateID := types.SystemStateID{Height: 4, Hash: crypto.Hash([]byte("tip4"))}
	w.HandleNodeMessage(NewTip{ID: stateID})
	w.HandleNodeMessage(Hdr{ID: stateID, Definition: crypto.Hash([]byte("def"))})
	w.HandleNodeMessage(Mined{})
	w.HandleNodeMessage(ProofUtxo{Proofs: []UtxoProof{{Maturity: 4}}})

	if c := coinByID(t, kc, id); c.Status != keychain.Unconfirmed {
		t.Errorf("coin is %v after invalid proof, want unconfirmed", c.Status)
	}
	if !w.Synchronized() {
		t.Error("sync should complete despite the invalid proof")
	}
}

// TestSyncIdempotence: re-announcing the same tip is a no-op.
func TestSyncIdempotence(t *testing.T) {
	w, _, m := testWallet(t, "idem")
	syncEmpty(t, w, 10)

	requests := len(m.nodeOut)
	id := types.SystemStateID{Height: 10, Hash: crypto.Hash([]byte("tip"))}
	w.HandleNodeMessage(NewTip{ID: id})

	if len(m.nodeOut) != requests {
		t.Error("repeated NewTip should not issue new requests")
	}
	if !w.Synchronized() {
		t.Error("wallet should stay synchronized")
	}
}

// TestMinedCoinsStoredOnProof: mined entries become coinbase and
// commission coins once their proofs validate.
func TestMinedCoinsStoredOnProof(t *testing.T) {
	w, kc, m := testWallet(t, "miner")

	stateID := types.SystemStateID{Height: 12, Hash: crypto.Hash([]byte("tip12"))}
	w.HandleNodeMessage(NewTip{ID: stateID})
	w.HandleNodeMessage(Hdr{ID: stateID, Definition: types.Hash{}}) // placeholder, fixed below

	// Mined announcement: one active block at height 12 with fees.
	w.HandleNodeMessage(Mined{Entries: []MinedEntry{{Height: 12, Active: true, Fees: 7}}})

	// Two proof requests went out: coinbase then commission.
	var reqs []GetProofUtxo
	for _, req := range m.nodeOut {
		if r, ok := req.(GetProofUtxo); ok {
			reqs = append(reqs, r)
		}
	}
	if len(reqs) != 2 {
		t.Fatalf("%d proof requests, want 2", len(reqs))
	}

	// Answer both with single-leaf proofs; the definition check uses the
	// commitment each request carried.
	for _, req := range reqs {
		var buf [8]byte
		maturity := types.Height(12)
		for i := 0; i < 8; i++ {
			buf[i] = byte(maturity >> (8 * i))
		}
		w.definition = crypto.HashParts(req.Commitment, buf[:])
		w.HandleNodeMessage(ProofUtxo{Proofs: []UtxoProof{{Maturity: maturity}}})
	}

	coins := allCoins(t, kc)
	if len(coins) != 2 {
		t.Fatalf("%d coins after mined sync, want 2", len(coins))
	}
	if coins[0].KeyType != keychain.Coinbase || coins[0].Amount != types.CoinbaseEmission {
		t.Errorf("first coin = %v %d, want coinbase emission", coins[0].KeyType, coins[0].Amount)
	}
	if coins[1].KeyType != keychain.Commission || coins[1].Amount != 7 {
		t.Errorf("second coin = %v %d, want commission 7", coins[1].KeyType, coins[1].Amount)
	}
	for _, c := range coins {
		if c.Status != keychain.Unspent || c.Maturity != 12 {
			t.Errorf("reward coin = %v maturity %d, want unspent 12", c.Status, c.Maturity)
		}
	}
}

// TestDuplicateInviteDropped: a second invitation for the same tx id is
// ignored.
func TestDuplicateInviteDropped(t *testing.T) {
	walletA, kcA, netA := testWallet(t, "alice3")
	walletB, kcB, _ := testWallet(t, "bob3")
	seedCoin(t, kcA, 100, keychain.Unspent, 10)
	syncEmpty(t, walletA, 10)
	syncEmpty(t, walletB, 10)

	walletA.TransferMoney("B", 30)
	invite := lastTxMsg(t, netA).msg.(InviteReceiver)

	walletB.HandleTxMessage("A", invite)
	walletB.HandleTxMessage("A", invite)

	if len(allCoins(t, kcB)) != 1 {
		t.Error("duplicate invite should not create a second output coin")
	}
}

// TestUnexpectedConfirmTransactionClosesPeer: per protocol-violation
// policy, an unmatched ConfirmTransaction closes the peer connection.
func TestUnexpectedConfirmTransactionClosesPeer(t *testing.T) {
	w, _, m := testWallet(t, "stray")
	syncEmpty(t, w, 1)

	w.HandleTxMessage("X", ConfirmTransaction{TxID: types.NewTxID()})

	if len(m.closedPeers) != 1 || m.closedPeers[0] != "X" {
		t.Errorf("closed peers = %v, want [X]", m.closedPeers)
	}
}

// TestUnsolicitedNodeResponsesDropped: stray Boolean and ProofUtxo
// responses are ignored without touching state.
func TestUnsolicitedNodeResponsesDropped(t *testing.T) {
	w, kc, _ := testWallet(t, "unsolicited")
	seedCoin(t, kc, 10, keychain.Unspent, 1)
	syncEmpty(t, w, 1)

	w.HandleNodeMessage(Boolean{Value: true})
	w.HandleNodeMessage(ProofUtxo{})

	if c := allCoins(t, kc)[0]; c.Status != keychain.Unspent {
		t.Errorf("coin is %v after stray responses, want unspent", c.Status)
	}
}

// TestNodeConnectionClosedWhenIdle: once sync completes with nothing
// outstanding, the orchestrator closes the node connection.
func TestNodeConnectionClosedWhenIdle(t *testing.T) {
	w, _, m := testWallet(t, "idle")
	syncEmpty(t, w, 3)
	if m.nodeClosed == 0 {
		t.Error("node connection should be closed when idle")
	}
}
