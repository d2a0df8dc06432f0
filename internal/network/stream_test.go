package network

import (
	"bytes"
	"testing"

	"github.com/kaplanlior/beam/internal/wallet"
	"github.com/kaplanlior/beam/pkg/types"
)

func TestFrameRoundTrip(t *testing.T) {
	payload, err := wallet.EncodeTxMessage(wallet.TxFailed{TxID: types.NewTxID()})
	if err != nil {
		t.Fatalf("EncodeTxMessage() error: %v", err)
	}

	var buf bytes.Buffer
	if err := writeFrame(&buf, payload); err != nil {
		t.Fatalf("writeFrame() error: %v", err)
	}
	got, err := readFrame(&buf)
	if err != nil {
		t.Fatalf("readFrame() error: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("frame payload should round trip")
	}
}

func TestFrameSequence(t *testing.T) {
	var buf bytes.Buffer
	for _, s := range []string{"one", "two", "three"} {
		if err := writeFrame(&buf, []byte(s)); err != nil {
			t.Fatalf("writeFrame() error: %v", err)
		}
	}
	for _, want := range []string{"one", "two", "three"} {
		got, err := readFrame(&buf)
		if err != nil {
			t.Fatalf("readFrame() error: %v", err)
		}
		if string(got) != want {
			t.Errorf("readFrame() = %q, want %q", got, want)
		}
	}
}

func TestReadFrameRejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff})
	if _, err := readFrame(&buf); err == nil {
		t.Error("oversized frame should be rejected")
	}
}

func TestReadFrameRejectsEmpty(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0})
	if _, err := readFrame(&buf); err == nil {
		t.Error("zero-length frame should be rejected")
	}
}

func TestReadFrameTruncated(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{10, 0, 0, 0, 'x', 'y'})
	if _, err := readFrame(&buf); err == nil {
		t.Error("truncated frame should be rejected")
	}
}
