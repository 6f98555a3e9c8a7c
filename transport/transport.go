// Package transport defines the duplex byte transport CORE is built on
// top of and a reference implementation over WebSocket. CORE never reads
// or writes a socket directly; every send/receive crosses this boundary
// so the same connection state machine runs over a browser WebSocket, a
// platform socket, or anything else that satisfies Transport.
package transport

import "context"

// Transport is the externally supplied duplex byte channel the
// connection state machine drives. Implementations deliver inbound
// frames and lifecycle events through the Callbacks passed to Factory;
// Send and Close are the only methods the state machine calls directly.
//
// A Transport is owned exclusively by the state machine for its
// lifetime. Closing it ends the callback stream with a final OnClose
// (see Callbacks); no OnMessage is delivered after that.
type Transport interface {
	// Send writes one frame. Frames are already complete, encoded MQTT
	// packets; Transport must not fragment, buffer, or reorder them.
	Send(data []byte) error
	// Close tears the transport down. It is safe to call more than once.
	Close() error
}

// Callbacks mirror the browser WebSocket event surface this contract is
// modeled on: onopen, onmessage, onerror and onclose. OnOpen fires once
// after a successful Factory call; a failed dial is reported only through
// Factory's error return. OnMessage may fire any number of times after
// OnOpen; OnError reports a failure of an open transport; OnClose fires
// exactly once, whether the close was clean, an error, or
// caller-initiated.
type Callbacks struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnError   func(err error)
	OnClose   func()
}

// Factory opens a Transport to url using subprotocol ("mqttv3.1" for
// MQTT 3.1, "mqtt" for 3.1.1), wiring callbacks for the connection's
// lifetime. Factory must not block past the point where the dial either
// fails (returning a non-nil error, with OnError/OnOpen never invoked)
// or succeeds and schedules the OnOpen callback.
type Factory func(ctx context.Context, url, subprotocol string, callbacks Callbacks) (Transport, error)
