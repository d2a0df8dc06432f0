package wallet

import "github.com/kaplanlior/beam/pkg/types"

// Network is the transport collaborator the orchestrator drives. Sends are
// fire-and-forget: the transport may buffer or fail internally, and
// failures surface later through HandleConnectionError.
type Network interface {
	SendTxMessage(to types.PeerID, msg TxMessage)
	SendNodeMessage(req NodeRequest)
	CloseConnection(peer types.PeerID)
	CloseNodeConnection()
}
