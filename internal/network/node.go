package network

import (
	"fmt"
	"time"

	"github.com/kaplanlior/beam/internal/log"
	"github.com/kaplanlior/beam/internal/rpcclient"
	"github.com/kaplanlior/beam/internal/wallet"
	"github.com/kaplanlior/beam/pkg/types"
)

// RPCNodeTransport talks to a full node over JSON-RPC. Requests are
// worked off by a single goroutine so responses reach the wallet in
// request order, which the wallet's FIFO pairing depends on. Tip
// announcements are polled; the header follows each new tip unsolicited,
// matching the node push protocol.
type RPCNodeTransport struct {
	client  *rpcclient.Client
	sink    *Service
	reqs    chan wallet.NodeRequest
	closing chan struct{}
	done    chan struct{}

	lastTip types.SystemStateID
}

// tipResult is the node's answer to wallet_getTip.
type tipResult struct {
	ID         types.SystemStateID `json:"id"`
	Definition types.Hash          `json:"definition"`
}

// DefaultTipPollInterval is how often the transport polls for a new tip.
const DefaultTipPollInterval = 10 * time.Second

// NewRPCNodeTransport creates a transport over the node's RPC endpoint,
// delivering responses into the service's dispatch loop.
func NewRPCNodeTransport(endpoint string, sink *Service, pollInterval time.Duration) *RPCNodeTransport {
	if pollInterval <= 0 {
		pollInterval = DefaultTipPollInterval
	}
	t := &RPCNodeTransport{
		client:  rpcclient.New("http://" + endpoint),
		sink:    sink,
		reqs:    make(chan wallet.NodeRequest, 64),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go t.run(pollInterval)
	return t
}

// Send queues a request for the worker. Fire-and-forget.
func (t *RPCNodeTransport) Send(req wallet.NodeRequest) error {
	select {
	case t.reqs <- req:
		return nil
	case <-t.closing:
		return fmt.Errorf("node transport closed")
	}
}

// Close releases idle HTTP connections. JSON-RPC is connectionless per
// request, so a logical close keeps the transport serviceable for the
// next sync round.
func (t *RPCNodeTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

// Shutdown stops the worker for good.
func (t *RPCNodeTransport) Shutdown() error {
	select {
	case <-t.closing:
		return nil
	default:
	}
	close(t.closing)
	<-t.done
	return nil
}

// run polls the tip and works the request queue in order.
func (t *RPCNodeTransport) run(pollInterval time.Duration) {
	defer close(t.done)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	t.pollTip()
	for {
		select {
		case <-t.closing:
			return
		case <-ticker.C:
			t.pollTip()
		case req := <-t.reqs:
			t.dispatch(req)
		}
	}
}

// pollTip fetches the current tip; a new one is announced to the wallet
// as NewTip followed by its header.
func (t *RPCNodeTransport) pollTip() {
	var tip tipResult
	if err := t.client.Call("wallet_getTip", nil, &tip); err != nil {
		log.Network.Debug().Err(err).Msg("tip poll failed")
		return
	}
	if !tip.ID.After(t.lastTip) {
		return
	}
	t.lastTip = tip.ID
	t.sink.EnqueueNodeMessage(wallet.NewTip{ID: tip.ID})
	t.sink.EnqueueNodeMessage(wallet.Hdr{ID: tip.ID, Definition: tip.Definition})
}

// dispatch performs one RPC round trip and feeds the answer back.
func (t *RPCNodeTransport) dispatch(req wallet.NodeRequest) {
	switch r := req.(type) {
	case wallet.GetMined:
		var mined wallet.Mined
		if err := t.client.Call("wallet_getMined", r, &mined); err != nil {
			log.Network.Error().Err(err).Msg("get mined failed")
			mined = wallet.Mined{}
		}
		t.sink.EnqueueNodeMessage(mined)

	case wallet.GetProofUtxo:
		var proof wallet.ProofUtxo
		if err := t.client.Call("wallet_getProofUtxo", r, &proof); err != nil {
			log.Network.Error().Err(err).Msg("get proof failed")
			// A failed query must still answer to keep the FIFO pairing
			// intact. An invalid (non-empty) proof leaves the coin's
			// status unchanged, unlike an empty one which means "spent"
			// for locked coins.
			proof = wallet.ProofUtxo{Proofs: []wallet.UtxoProof{{}}}
		}
		t.sink.EnqueueNodeMessage(proof)

	case wallet.NewTransaction:
		var res wallet.Boolean
		if err := t.client.Call("wallet_newTransaction", r, &res); err != nil {
			log.Network.Error().Err(err).Msg("register tx failed")
			res = wallet.Boolean{Value: false}
		}
		t.sink.EnqueueNodeMessage(res)

	default:
		log.Network.Debug().Msg("unknown node request dropped")
	}
}
