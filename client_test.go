package mqtt

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/golang-io/mqttcore/packet"
	"github.com/golang-io/mqttcore/transport"
)

// fakeTransport records every frame it's handed and never actually opens
// a socket, letting the tests drive Client's state machine directly.
type fakeTransport struct {
	sent   [][]byte
	closed bool
}

func (f *fakeTransport) Send(data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

// fakeDialer captures the callbacks passed to the most recent Factory
// call, letting a test script CONNACK/PUBREC/etc. at will.
type fakeDialer struct {
	dials []*fakeDial
}

type fakeDial struct {
	uri         string
	subprotocol string
	callbacks   transport.Callbacks
	transport   *fakeTransport
}

func (d *fakeDialer) factory(_ context.Context, uri, subprotocol string, cb transport.Callbacks) (transport.Transport, error) {
	tr := &fakeTransport{}
	d.dials = append(d.dials, &fakeDial{uri: uri, subprotocol: subprotocol, callbacks: cb, transport: tr})
	return tr, nil
}

func (d *fakeDialer) last() *fakeDial { return d.dials[len(d.dials)-1] }

func encodePacket(t *testing.T, pkt packet.Packet) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := pkt.Pack(&buf); err != nil {
		t.Fatalf("encode %T: %v", pkt, err)
	}
	return buf.Bytes()
}

func newTestClient(t *testing.T, d *fakeDialer) *Client {
	t.Helper()
	cfg := NewClientConfig("ws://broker.example/mqtt",
		WithClientID("test-client"),
		WithTransportFactory(d.factory),
	)
	c := NewClient(cfg)
	t.Cleanup(func() { _ = c.Disconnect() })
	return c
}

func connectAndAccept(t *testing.T, c *Client, d *fakeDialer, opts ConnectOptions) *fakeDial {
	t.Helper()
	if err := c.Connect(opts); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	dial := d.last()
	dial.callbacks.OnOpen()
	dial.callbacks.OnMessage(encodePacket(t, &packet.Connack{ReturnCode: packet.ConnectAccepted}))
	if !c.IsConnected() {
		t.Fatalf("client not connected after CONNACK")
	}
	return dial
}

func TestConnectSendsConnectAndHandlesConnack(t *testing.T) {
	d := &fakeDialer{}
	c := newTestClient(t, d)

	dial := connectAndAccept(t, c, d, ConnectOptions{CleanSession: true, MQTTVersion: 4})

	if len(dial.transport.sent) != 1 {
		t.Fatalf("expected exactly one CONNECT frame, got %d", len(dial.transport.sent))
	}
	if dial.transport.sent[0][0]>>4 != packet.CONNECT {
		t.Fatalf("first frame is not CONNECT, kind nibble = %x", dial.transport.sent[0][0]>>4)
	}
}

func TestConnackRefusalFiresOnFailure(t *testing.T) {
	d := &fakeDialer{}
	c := newTestClient(t, d)

	var lost *Error
	c.OnConnectionLost = func(err *Error) { lost = err }
	var failed *Error
	opts := ConnectOptions{
		CleanSession:        true,
		MQTTVersion:         4,
		MQTTVersionExplicit: true,
		OnFailure:           func(err *Error) { failed = err },
	}

	if err := c.Connect(opts); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	dial := d.last()
	dial.callbacks.OnOpen()
	dial.callbacks.OnMessage(encodePacket(t, &packet.Connack{ReturnCode: packet.ConnectRefusedNotAuthorized}))

	if c.IsConnected() {
		t.Fatalf("client should not be connected after a refusal")
	}
	// disconnected only fires OnConnectionLost if the client was already
	// Connected; a refused CONNACK during the initial handshake never
	// reached that state, so onFailure (no further hosts/versions to try,
	// version pinned explicit) is the right hook instead.
	if lost != nil {
		t.Fatalf("unexpected OnConnectionLost fire for an initial-handshake refusal: %v", lost)
	}
	if failed == nil || failed.Code != CodeConnackReturnCode {
		t.Fatalf("expected OnFailure with CodeConnackReturnCode, got %v", failed)
	}
}

// TestQoS2ReconnectReplaysPubrelNotPublish reproduces a PUBREC received,
// then the transport dropping before PUBCOMP arrives: after reconnect
// exactly one PUBREL must be re-emitted, never a second PUBLISH.
func TestQoS2ReconnectReplaysPubrelNotPublish(t *testing.T) {
	d := &fakeDialer{}
	c := newTestClient(t, d)

	dial := connectAndAccept(t, c, d, ConnectOptions{CleanSession: false, MQTTVersion: 4, Reconnect: true})

	if err := c.Publish(ApplicationMessage{DestinationName: "a/b", Payload: []byte("hi"), QoS: 2}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	// sent[0] is the CONNECT from connectAndAccept.
	if len(dial.transport.sent) != 2 {
		t.Fatalf("expected CONNECT + one PUBLISH frame, got %d", len(dial.transport.sent))
	}
	if dial.transport.sent[1][0]>>4 != packet.PUBLISH {
		t.Fatalf("expected PUBLISH frame")
	}

	// the broker replies with PUBREC for packet id 1
	dial.callbacks.OnMessage(encodePacket(t, &packet.Pubrec{PacketID: 1}))
	if len(dial.transport.sent) != 3 || dial.transport.sent[2][0]>>4 != packet.PUBREL {
		t.Fatalf("expected a PUBREL frame after PUBREC")
	}

	// transport drops before PUBCOMP arrives
	dial.callbacks.OnClose()
	if c.IsConnected() {
		t.Fatalf("client should no longer be connected after close")
	}

	// fire the scheduled reconnect immediately instead of waiting out
	// the backoff
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.hostIndex = 0
	if err := c.dialCurrentHost(); err != nil {
		t.Fatalf("dialCurrentHost: %v", err)
	}
	dial2 := d.last()
	dial2.callbacks.OnOpen()
	dial2.callbacks.OnMessage(encodePacket(t, &packet.Connack{ReturnCode: packet.ConnectAccepted}))

	if !c.IsConnected() {
		t.Fatalf("expected reconnect to succeed")
	}

	// first frame after reconnect is the new CONNECT, the second must be
	// the replayed PUBREL — never a PUBLISH.
	if len(dial2.transport.sent) != 2 {
		t.Fatalf("expected CONNECT + replayed PUBREL, got %d frames", len(dial2.transport.sent))
	}
	if dial2.transport.sent[1][0]>>4 != packet.PUBREL {
		t.Fatalf("replay re-sent kind %x, want PUBREL", dial2.transport.sent[1][0]>>4)
	}
}

// TestReconnectBackoffDoublesAndCaps reproduces the backoff schedule: 1s
// after a successful CONNACK, then 2s, 4s, ... capped at 128s.
func TestReconnectBackoffDoublesAndCaps(t *testing.T) {
	d := &fakeDialer{}
	c := newTestClient(t, d)

	connectAndAccept(t, c, d, ConnectOptions{CleanSession: true, MQTTVersion: 4, Reconnect: true})
	if c.reconnectInterval != time.Second {
		t.Fatalf("reconnectInterval after connect = %v, want 1s", c.reconnectInterval)
	}

	d.last().callbacks.OnClose()
	if c.reconnectInterval != 2*time.Second {
		t.Fatalf("reconnectInterval after first loss = %v, want 2s", c.reconnectInterval)
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}

	// simulate repeated losses without ever reconnecting successfully,
	// doubling each time until the 128s cap holds.
	want := 4 * time.Second
	for i := 0; i < 10; i++ {
		c.state = stateConnected // simulate a session that was alive again before the next loss
		c.scheduleReconnect()
		if c.reconnectTimer != nil {
			c.reconnectTimer.Stop()
		}
		if want > 128*time.Second {
			want = 128 * time.Second
		}
		if c.reconnectInterval != want {
			t.Fatalf("iteration %d: reconnectInterval = %v, want %v", i, c.reconnectInterval, want)
		}
		want *= 2
	}
}

// TestReconnectDialFailureKeepsBackingOff reproduces a CONNACK refusal
// during an already-scheduled reconnect attempt: the client never gets
// back to Connected this cycle, so it must keep doubling the backoff
// rather than falling through to host/version failover or onFailure.
func TestReconnectDialFailureKeepsBackingOff(t *testing.T) {
	d := &fakeDialer{}
	c := newTestClient(t, d)

	var failed *Error
	opts := ConnectOptions{CleanSession: true, MQTTVersion: 4, Reconnect: true}
	opts.OnFailure = func(err *Error) { failed = err }
	connectAndAccept(t, c, d, opts)

	// first loss: enters Reconnecting, backoff doubles to 2s.
	d.last().callbacks.OnClose()
	if !c.reconnecting {
		t.Fatalf("expected client to be in the Reconnecting side-state")
	}
	if c.reconnectInterval != 2*time.Second {
		t.Fatalf("reconnectInterval after first loss = %v, want 2s", c.reconnectInterval)
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}

	// the scheduled reconnect fires and dials again, but the broker
	// refuses the CONNACK without ever reaching Connected.
	c.hostIndex = 0
	if err := c.dialCurrentHost(); err != nil {
		t.Fatalf("dialCurrentHost: %v", err)
	}
	dial2 := d.last()
	dial2.callbacks.OnOpen()
	dial2.callbacks.OnMessage(encodePacket(t, &packet.Connack{ReturnCode: packet.ConnectRefusedNotAuthorized}))

	if failed != nil {
		t.Fatalf("onFailure must not fire while a reconnect attempt is still retrying: %v", failed)
	}
	if !c.reconnecting {
		t.Fatalf("expected client to remain in the Reconnecting side-state")
	}
	if c.reconnectTimer == nil {
		t.Fatalf("expected a new reconnect attempt to be scheduled")
	}
	if c.reconnectInterval != 4*time.Second {
		t.Fatalf("reconnectInterval after second loss = %v, want 4s", c.reconnectInterval)
	}
	c.reconnectTimer.Stop()
}

func TestSubscribeTimeoutFiresOnFailure(t *testing.T) {
	d := &fakeDialer{}
	c := newTestClient(t, d)
	connectAndAccept(t, c, d, ConnectOptions{CleanSession: true, MQTTVersion: 4})

	done := make(chan *Error, 1)
	err := c.Subscribe(
		[]packet.Subscription{{TopicFilter: "a/b", RequestedQoS: 1}},
		10*time.Millisecond,
		func([]packet.SubscribeReturnCode) { t.Fatalf("unexpected onSuccess") },
		func(e *Error) { done <- e },
	)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case e := <-done:
		if e.Code != CodeSubscribeTimeout {
			t.Fatalf("code = %v, want CodeSubscribeTimeout", e.Code)
		}
	case <-time.After(time.Second):
		t.Fatal("onFailure never fired")
	}
}

// TestSubscribeReservesOutboxSlotUntilSuback guards the packet-identifier
// allocator's uniqueness invariant: an in-flight SUBSCRIBE must occupy its
// id in the same Outbox NextID scans, not just in subscribeRequests, or a
// wrapped-around cursor can hand the id to a concurrent publish.
func TestSubscribeReservesOutboxSlotUntilSuback(t *testing.T) {
	d := &fakeDialer{}
	c := newTestClient(t, d)
	connectAndAccept(t, c, d, ConnectOptions{CleanSession: true, MQTTVersion: 4})

	before := c.tables.OutboxLen()
	err := c.Subscribe(
		[]packet.Subscription{{TopicFilter: "a/b", RequestedQoS: 1}},
		0,
		func([]packet.SubscribeReturnCode) {},
		func(*Error) {},
	)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if c.tables.OutboxLen() != before+1 {
		t.Fatalf("expected SUBSCRIBE to reserve an Outbox slot, len = %d, want %d", c.tables.OutboxLen(), before+1)
	}

	d.last().callbacks.OnMessage(encodePacket(t, &packet.Suback{PacketID: 1, ReturnCodes: []packet.SubscribeReturnCode{1}}))
	if c.tables.OutboxLen() != before {
		t.Fatalf("expected SUBACK to release the reserved Outbox slot, len = %d, want %d", c.tables.OutboxLen(), before)
	}
}

func TestDisconnectSendsDisconnectAndTearsDown(t *testing.T) {
	d := &fakeDialer{}
	c := newTestClient(t, d)
	dial := connectAndAccept(t, c, d, ConnectOptions{CleanSession: true, MQTTVersion: 4})

	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if c.IsConnected() {
		t.Fatalf("expected disconnected state")
	}
	if !dial.transport.closed {
		t.Fatalf("expected transport to be closed")
	}
	last := dial.transport.sent[len(dial.transport.sent)-1]
	if last[0]>>4 != packet.DISCONNECT {
		t.Fatalf("last frame sent was not DISCONNECT")
	}
}
