package network

import (
	"github.com/kaplanlior/beam/pkg/types"
	libp2pnet "github.com/libp2p/go-libp2p/core/network"
	"github.com/multiformats/go-multiaddr"
)

// connNotifier tracks connection lifecycle events via the network.Notifiee
// interface. A lost peer is reported to the wallet as a connection error
// so every negotiation bound to it can fail.
type connNotifier struct {
	service *Service
}

// Connected is called when a new connection is opened.
func (cn *connNotifier) Connected(_ libp2pnet.Network, conn libp2pnet.Conn) {
	if conn.RemotePeer() == cn.service.host.ID() {
		return // Ignore self-connections.
	}
}

// Disconnected is called when a connection is closed. Only reports the
// peer if there are no remaining connections to it.
func (cn *connNotifier) Disconnected(net libp2pnet.Network, conn libp2pnet.Conn) {
	remotePeer := conn.RemotePeer()
	if len(net.ConnsToPeer(remotePeer)) == 0 {
		cn.service.enqueue(event{
			from:    types.PeerID(remotePeer.String()),
			connErr: true,
		})
	}
}

// Listen is called when the node starts listening on a new address.
func (cn *connNotifier) Listen(libp2pnet.Network, multiaddr.Multiaddr) {}

// ListenClose is called when the node stops listening on an address.
func (cn *connNotifier) ListenClose(libp2pnet.Network, multiaddr.Multiaddr) {}
