package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSDialer builds Factory values backed by gorilla/websocket, the
// reference Transport implementation: every MQTT frame travels as one
// binary WebSocket message, matching the `binaryType` arraybuffer
// requirement of the browser transport this contract is modeled on.
type WSDialer struct {
	// HandshakeTimeout bounds the WebSocket upgrade; zero uses the
	// gorilla/websocket default.
	HandshakeTimeout int64 // milliseconds, 0 = library default
}

// Dial satisfies Factory.
func (d WSDialer) Dial(ctx context.Context, url, subprotocol string, callbacks Callbacks) (Transport, error) {
	dialer := websocket.Dialer{
		Subprotocols:     []string{subprotocol},
		HandshakeTimeout: time.Duration(d.HandshakeTimeout) * time.Millisecond,
	}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	t := &wsTransport{conn: conn, callbacks: callbacks}
	go t.readLoop()
	if callbacks.OnOpen != nil {
		callbacks.OnOpen()
	}
	return t, nil
}

// wsTransport adapts a *websocket.Conn to Transport, translating its
// message-oriented read loop into the onmessage/onerror/onclose
// callback triple.
type wsTransport struct {
	conn      *websocket.Conn
	callbacks Callbacks

	closeOnce sync.Once
}

func (t *wsTransport) Send(data []byte) error {
	return t.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.conn.Close()
	})
	return err
}

func (t *wsTransport) readLoop() {
	defer func() {
		if t.callbacks.OnClose != nil {
			t.callbacks.OnClose()
		}
	}()

	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			if t.callbacks.OnError != nil {
				t.callbacks.OnError(err)
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		if t.callbacks.OnMessage != nil {
			t.callbacks.OnMessage(data)
		}
	}
}
