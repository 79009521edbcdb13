package ws

import (
	"io"
	"sync"

	"github.com/gorilla/websocket"
)

// connAdapter satisfies io.ReadWriteCloser over a *websocket.Conn so a
// WebSocket connection can be handed to session.Session unchanged: Write
// sends one text frame per call, matching wire.EncodeWebSocket's
// one-message-per-frame contract. Read is provided for interface
// completeness; the gateway's accept loop reads via conn.ReadMessage
// directly instead, since WebSocket framing already delivers whole
// messages.
type connAdapter struct {
	conn *websocket.Conn
	mu   sync.Mutex
	rest []byte
}

func newConnAdapter(conn *websocket.Conn) *connAdapter {
	return &connAdapter{conn: conn}
}

func (a *connAdapter) Write(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (a *connAdapter) Read(p []byte) (int, error) {
	if len(a.rest) == 0 {
		_, msg, err := a.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		a.rest = msg
	}
	n := copy(p, a.rest)
	a.rest = a.rest[n:]
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (a *connAdapter) Close() error {
	return a.conn.Close()
}
