package server

import (
	"errors"
	"testing"
)

// pumpless transport: exercises Send/Close semantics without a live
// websocket connection behind the channel.
func newPumplessTransport(buf int) *connTransport {
	return &connTransport{send: make(chan []byte, buf)}
}

func TestTransportSendBufferFull(t *testing.T) {
	tr := newPumplessTransport(2)

	if err := tr.Send([]byte("a")); err != nil {
		t.Fatalf("Send 1: %v", err)
	}
	if err := tr.Send([]byte("b")); err != nil {
		t.Fatalf("Send 2: %v", err)
	}
	if err := tr.Send([]byte("c")); !errors.Is(err, errSendBufferFull) {
		t.Errorf("Send 3 = %v, want errSendBufferFull", err)
	}
}

func TestTransportCloseOnce(t *testing.T) {
	tr := newPumplessTransport(1)

	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Second close must not panic on the already-closed channel.
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if err := tr.Send([]byte("x")); !errors.Is(err, errTransportClosed) {
		t.Errorf("Send after close = %v, want errTransportClosed", err)
	}
}
