package server

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

var (
	errSendBufferFull  = errors.New("send buffer full")
	errTransportClosed = errors.New("transport closed")
)

// connTransport adapts a websocket connection to ws.Transport. Writes
// go through a buffered channel drained by a single write pump, so
// Send never blocks on a slow client; a full buffer is reported as a
// delivery failure and the hub destroys the session.
type connTransport struct {
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newConnTransport(conn *websocket.Conn) *connTransport {
	t := &connTransport{
		conn: conn,
		send: make(chan []byte, 64),
	}
	go t.writePump()
	return t
}

func (t *connTransport) writePump() {
	defer t.conn.Close()
	for msg := range t.send {
		if err := t.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (t *connTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errTransportClosed
	}
	select {
	case t.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

// Close releases the transport. Safe to call more than once; only the
// first call closes the send channel, which stops the write pump and
// closes the underlying connection.
func (t *connTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.send)
	return nil
}
