package network

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/kaplanlior/beam/internal/log"
	"github.com/kaplanlior/beam/internal/wallet"
	"github.com/kaplanlior/beam/pkg/types"
	libp2pnet "github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
)

// WalletProtocol is the stream protocol carrying negotiation messages.
const WalletProtocol = protocol.ID("/beam/wallet/1.0.0")

const (
	// maxFrameBytes bounds a single negotiation message on the wire.
	maxFrameBytes = 1 << 20

	// sendTimeout is the write deadline for one outbound message.
	sendTimeout = 10 * time.Second
)

// writeFrame writes a length-prefixed message.
func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readFrame reads a length-prefixed message.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n == 0 || n > maxFrameBytes {
		return nil, fmt.Errorf("frame size %d out of range", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// handleStream reads negotiation messages from an inbound stream until it
// closes, feeding each into the dispatch loop.
func (s *Service) handleStream(stream libp2pnet.Stream) {
	remote := types.PeerID(stream.Conn().RemotePeer().String())
	defer stream.Close()
	for {
		payload, err := readFrame(stream)
		if err != nil {
			if err != io.EOF {
				log.Network.Debug().Err(err).Str("peer", string(remote)).Msg("stream read failed")
			}
			return
		}
		msg, err := wallet.DecodeTxMessage(payload)
		if err != nil {
			log.Network.Debug().Err(err).Str("peer", string(remote)).Msg("malformed message dropped")
			continue
		}
		s.enqueue(event{from: remote, txMsg: msg})
	}
}

// SendTxMessage delivers one negotiation message to a peer over a fresh
// stream. Sends are fire-and-forget: a failure is reported back to the
// wallet as a connection error on that peer.
func (s *Service) SendTxMessage(to types.PeerID, msg wallet.TxMessage) {
	id, err := peer.Decode(string(to))
	if err != nil {
		log.Network.Debug().Str("peer", string(to)).Msg("bad peer id")
		return
	}
	payload, err := wallet.EncodeTxMessage(msg)
	if err != nil {
		log.Network.Error().Err(err).Msg("encode message failed")
		return
	}
	go func() {
		stream, err := s.host.NewStream(s.ctx, id, WalletProtocol)
		if err != nil {
			log.Network.Debug().Err(err).Str("peer", string(to)).Msg("open stream failed")
			s.enqueue(event{from: to, connErr: true})
			return
		}
		defer stream.Close()
		_ = stream.SetWriteDeadline(time.Now().Add(sendTimeout))
		if err := writeFrame(stream, payload); err != nil {
			log.Network.Debug().Err(err).Str("peer", string(to)).Msg("stream write failed")
			s.enqueue(event{from: to, connErr: true})
		}
	}()
}
