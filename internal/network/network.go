// Package network carries the wallet's two message streams: negotiation
// messages exchanged with counterparty wallets over libp2p streams, and
// node messages exchanged with a full node through a pluggable transport.
// All inbound events are serialized through one event loop so the wallet
// core never sees concurrent calls.
package network

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kaplanlior/beam/internal/log"
	"github.com/kaplanlior/beam/internal/wallet"
	"github.com/kaplanlior/beam/pkg/types"
	"github.com/libp2p/go-libp2p"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// Config holds transport configuration.
type Config struct {
	ListenAddr string
	Port       int
	DataDir    string // identity key persistence; empty = ephemeral identity
}

// Handler is the wallet-side sink for inbound events: the orchestrator.
type Handler interface {
	HandleTxMessage(from types.PeerID, msg wallet.TxMessage)
	HandleNodeMessage(msg wallet.NodeMessage) bool
	HandleConnectionError(from types.PeerID)
}

// NodeTransport delivers requests to the full node. The wire protocol to
// the node is owned by the transport; responses come back through
// EnqueueNodeMessage. Close releases the live connection when the wallet
// goes idle; the transport must accept further Sends afterwards. Shutdown
// terminates it for good.
type NodeTransport interface {
	Send(req wallet.NodeRequest) error
	Close() error
	Shutdown() error
}

// event is one unit of work for the dispatch loop.
type event struct {
	from    types.PeerID
	txMsg   wallet.TxMessage
	nodeMsg wallet.NodeMessage
	connErr bool
}

// Service is the libp2p-backed transport. It implements wallet.Network.
type Service struct {
	cfg     Config
	handler Handler

	host   host.Host
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	node NodeTransport

	events chan event
	done   chan struct{}
}

// New creates an unstarted service.
func New(cfg Config, handler Handler) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:     cfg,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
		events:  make(chan event, 64),
		done:    make(chan struct{}),
	}
}

// identity loads or creates the node's identity key.
func (s *Service) identity() (libp2pcrypto.PrivKey, error) {
	if s.cfg.DataDir == "" {
		priv, _, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
		return priv, err
	}
	keyPath := filepath.Join(s.cfg.DataDir, "network.key")
	if data, err := os.ReadFile(keyPath); err == nil {
		return libp2pcrypto.UnmarshalPrivateKey(data)
	}
	priv, _, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	data, err := libp2pcrypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshal identity: %w", err)
	}
	if err := os.WriteFile(keyPath, data, 0600); err != nil {
		return nil, fmt.Errorf("persist identity: %w", err)
	}
	return priv, nil
}

// Start brings up the libp2p host and the dispatch loop.
func (s *Service) Start() error {
	priv, err := s.identity()
	if err != nil {
		return err
	}
	addr := fmt.Sprintf("/ip4/%s/tcp/%d", s.cfg.ListenAddr, s.cfg.Port)
	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(addr),
	)
	if err != nil {
		return fmt.Errorf("create libp2p host: %w", err)
	}
	s.host = h
	h.SetStreamHandler(WalletProtocol, s.handleStream)
	h.Network().Notify(&connNotifier{service: s})

	go s.dispatchLoop()

	log.Network.Info().
		Str("peer_id", h.ID().String()).
		Str("addr", addr).
		Msg("wallet transport listening")
	return nil
}

// dispatchLoop serializes all inbound events into the handler.
func (s *Service) dispatchLoop() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.events:
			switch {
			case ev.txMsg != nil:
				s.handler.HandleTxMessage(ev.from, ev.txMsg)
			case ev.nodeMsg != nil:
				s.handler.HandleNodeMessage(ev.nodeMsg)
			case ev.connErr:
				s.handler.HandleConnectionError(ev.from)
			}
		}
	}
}

// enqueue hands an event to the dispatch loop.
func (s *Service) enqueue(ev event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// EnqueueNodeMessage feeds a node response into the dispatch loop. The
// node transport calls this from its own read loop.
func (s *Service) EnqueueNodeMessage(msg wallet.NodeMessage) {
	s.enqueue(event{nodeMsg: msg})
}

// ID returns this wallet's transport address.
func (s *Service) ID() types.PeerID {
	return types.PeerID(s.host.ID().String())
}

// Connect dials a counterparty by multiaddr and returns its peer id.
func (s *Service) Connect(addr string) (types.PeerID, error) {
	ma, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return "", fmt.Errorf("parse multiaddr: %w", err)
	}
	info, err := peer.AddrInfoFromP2pAddr(ma)
	if err != nil {
		return "", fmt.Errorf("resolve peer: %w", err)
	}
	if err := s.host.Connect(s.ctx, *info); err != nil {
		return "", fmt.Errorf("connect %s: %w", addr, err)
	}
	return types.PeerID(info.ID.String()), nil
}

// SetNodeTransport attaches the full-node transport.
func (s *Service) SetNodeTransport(t NodeTransport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.node = t
}

// SendNodeMessage forwards a request to the node. Sends are
// fire-and-forget; failures are logged and surface as missing responses.
func (s *Service) SendNodeMessage(req wallet.NodeRequest) {
	s.mu.Lock()
	node := s.node
	s.mu.Unlock()
	if node == nil {
		log.Network.Debug().Msg("no node transport attached")
		return
	}
	if err := node.Send(req); err != nil {
		log.Network.Error().Err(err).Msg("node send failed")
	}
}

// CloseNodeConnection releases the live node connection. The wallet calls
// this whenever it goes idle; the transport stays attached and serves the
// next sync round.
func (s *Service) CloseNodeConnection() {
	s.mu.Lock()
	node := s.node
	s.mu.Unlock()
	if node == nil {
		return
	}
	if err := node.Close(); err != nil {
		log.Network.Debug().Err(err).Msg("node close failed")
	}
}

// CloseConnection drops the connection to a peer.
func (s *Service) CloseConnection(p types.PeerID) {
	id, err := peer.Decode(string(p))
	if err != nil {
		log.Network.Debug().Str("peer", string(p)).Msg("bad peer id")
		return
	}
	if err := s.host.Network().ClosePeer(id); err != nil {
		log.Network.Debug().Err(err).Str("peer", string(p)).Msg("close peer failed")
	}
}

// Stop tears the transport down.
func (s *Service) Stop() error {
	s.cancel()
	s.mu.Lock()
	node := s.node
	s.node = nil
	s.mu.Unlock()
	if node != nil {
		if err := node.Shutdown(); err != nil {
			log.Network.Debug().Err(err).Msg("node shutdown failed")
		}
	}
	if s.host != nil {
		if err := s.host.Close(); err != nil {
			return err
		}
	}
	<-s.done
	return nil
}
