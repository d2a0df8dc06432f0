package wallet

import (
	"encoding/binary"
	"fmt"

	"github.com/kaplanlior/beam/pkg/crypto"
	"github.com/kaplanlior/beam/pkg/types"
)

// Wire format for peer messages: a one-byte type tag, the 16-byte
// transaction id, then payload fields in order. Points are 33-byte
// compressed, scalars 32 bytes, amounts and heights uint64 little-endian.

// Message type tags.
const (
	tagInviteReceiver uint8 = iota + 1
	tagConfirmInvitation
	tagConfirmTransaction
	tagTxRegistered
	tagTxFailed
)

const maxWireCount = 1 << 16 // sanity bound on wire list lengths

type wireWriter struct {
	buf []byte
}

func (w *wireWriter) u8(v uint8) { w.buf = append(w.buf, v) }

func (w *wireWriter) u64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

func (w *wireWriter) txID(id types.TxID) { w.buf = append(w.buf, id[:]...) }

func (w *wireWriter) point(b []byte) error {
	if len(b) != crypto.PointSize {
		return fmt.Errorf("point must be %d bytes, got %d", crypto.PointSize, len(b))
	}
	w.buf = append(w.buf, b...)
	return nil
}

func (w *wireWriter) scalar(b []byte) error {
	if len(b) != crypto.ScalarSize {
		return fmt.Errorf("scalar must be %d bytes, got %d", crypto.ScalarSize, len(b))
	}
	w.buf = append(w.buf, b...)
	return nil
}

type wireReader struct {
	buf []byte
	off int
}

func (r *wireReader) remaining() int { return len(r.buf) - r.off }

func (r *wireReader) u8() (uint8, error) {
	if r.remaining() < 1 {
		return 0, fmt.Errorf("truncated message")
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *wireReader) u64() (uint64, error) {
	if r.remaining() < 8 {
		return 0, fmt.Errorf("truncated message")
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

func (r *wireReader) txID() (types.TxID, error) {
	var id types.TxID
	if r.remaining() < types.TxIDSize {
		return id, fmt.Errorf("truncated message")
	}
	copy(id[:], r.buf[r.off:])
	r.off += types.TxIDSize
	return id, nil
}

func (r *wireReader) bytes(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, fmt.Errorf("truncated message")
	}
	out := make([]byte, n)
	copy(out, r.buf[r.off:])
	r.off += n
	return out, nil
}

// EncodeTxMessage serializes a peer message to its wire form.
func EncodeTxMessage(msg TxMessage) ([]byte, error) {
	w := &wireWriter{}
	switch m := msg.(type) {
	case InviteReceiver:
		w.u8(tagInviteReceiver)
		w.txID(m.TxID)
		w.u64(m.Amount)
		w.u64(m.Fee)
		w.u64(m.Height)
		w.u64(uint64(len(m.Inputs)))
		for _, in := range m.Inputs {
			if err := w.point(in.Commitment); err != nil {
				return nil, err
			}
		}
		w.u64(uint64(len(m.Outputs)))
		for _, out := range m.Outputs {
			if err := w.point(out.Commitment); err != nil {
				return nil, err
			}
		}
		if err := w.point(m.SenderPublicKey); err != nil {
			return nil, err
		}
		if err := w.point(m.SenderNonceCommitment); err != nil {
			return nil, err
		}
	case ConfirmInvitation:
		w.u8(tagConfirmInvitation)
		w.txID(m.TxID)
		if err := w.point(m.ReceiverPublicKey); err != nil {
			return nil, err
		}
		if err := w.point(m.ReceiverNonceCommitment); err != nil {
			return nil, err
		}
		if err := w.scalar(m.ReceiverSignatureShare); err != nil {
			return nil, err
		}
	case ConfirmTransaction:
		w.u8(tagConfirmTransaction)
		w.txID(m.TxID)
		if err := w.scalar(m.SenderSignatureShare); err != nil {
			return nil, err
		}
	case TxRegistered:
		w.u8(tagTxRegistered)
		w.txID(m.TxID)
		if m.Value {
			w.u8(1)
		} else {
			w.u8(0)
		}
	case TxFailed:
		w.u8(tagTxFailed)
		w.txID(m.TxID)
	default:
		return nil, fmt.Errorf("unknown message type %T", msg)
	}
	return w.buf, nil
}

// DecodeTxMessage parses a wire-form peer message.
func DecodeTxMessage(data []byte) (TxMessage, error) {
	r := &wireReader{buf: data}
	tag, err := r.u8()
	if err != nil {
		return nil, err
	}
	txID, err := r.txID()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagInviteReceiver:
		m := InviteReceiver{TxID: txID}
		if m.Amount, err = r.u64(); err != nil {
			return nil, err
		}
		if m.Fee, err = r.u64(); err != nil {
			return nil, err
		}
		if m.Height, err = r.u64(); err != nil {
			return nil, err
		}
		nIn, err := r.u64()
		if err != nil {
			return nil, err
		}
		if nIn > maxWireCount {
			return nil, fmt.Errorf("input count %d exceeds limit", nIn)
		}
		for i := uint64(0); i < nIn; i++ {
			c, err := r.bytes(crypto.PointSize)
			if err != nil {
				return nil, err
			}
			m.Inputs = append(m.Inputs, Input{Commitment: c})
		}
		nOut, err := r.u64()
		if err != nil {
			return nil, err
		}
		if nOut > maxWireCount {
			return nil, fmt.Errorf("output count %d exceeds limit", nOut)
		}
		for i := uint64(0); i < nOut; i++ {
			c, err := r.bytes(crypto.PointSize)
			if err != nil {
				return nil, err
			}
			m.Outputs = append(m.Outputs, Output{Commitment: c})
		}
		if m.SenderPublicKey, err = r.bytes(crypto.PointSize); err != nil {
			return nil, err
		}
		if m.SenderNonceCommitment, err = r.bytes(crypto.PointSize); err != nil {
			return nil, err
		}
		return m, nil
	case tagConfirmInvitation:
		m := ConfirmInvitation{TxID: txID}
		if m.ReceiverPublicKey, err = r.bytes(crypto.PointSize); err != nil {
			return nil, err
		}
		if m.ReceiverNonceCommitment, err = r.bytes(crypto.PointSize); err != nil {
			return nil, err
		}
		if m.ReceiverSignatureShare, err = r.bytes(crypto.ScalarSize); err != nil {
			return nil, err
		}
		return m, nil
	case tagConfirmTransaction:
		m := ConfirmTransaction{TxID: txID}
		if m.SenderSignatureShare, err = r.bytes(crypto.ScalarSize); err != nil {
			return nil, err
		}
		return m, nil
	case tagTxRegistered:
		v, err := r.u8()
		if err != nil {
			return nil, err
		}
		return TxRegistered{TxID: txID, Value: v != 0}, nil
	case tagTxFailed:
		return TxFailed{TxID: txID}, nil
	default:
		return nil, fmt.Errorf("unknown message tag %d", tag)
	}
}
