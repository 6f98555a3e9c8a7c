package mqtt

import (
	"github.com/golang-io/mqttcore/packet"
	"github.com/golang-io/mqttcore/persist"
	"github.com/golang-io/mqttcore/session"
)

// frame is one entry in the outbound queue: an already-encoded packet
// plus the hook spec.md calls onDispatched, fired the moment the frame is
// handed to the transport.
type frame struct {
	data        []byte
	onDispatched func()
}

// frameQueue is the LIFO-push/LIFO-pop deque spec.md §4.7 describes:
// pushFront inserts at the front, popBack removes from the back, and the
// combination produces FIFO emission order without needing a separate
// head/tail index.
type frameQueue struct {
	items []frame
}

func (q *frameQueue) pushFront(f frame) {
	q.items = append([]frame{f}, q.items...)
}

func (q *frameQueue) popBack() (frame, bool) {
	if len(q.items) == 0 {
		return frame{}, false
	}
	last := q.items[len(q.items)-1]
	q.items = q.items[:len(q.items)-1]
	return last, true
}

func (q *frameQueue) len() int { return len(q.items) }

// bufferedMessage is a QoS 0 publish parked in the disconnected-publish
// buffer while Reconnecting, replayed in submission order once CONNACK
// arrives.
type bufferedMessage struct {
	msg      ApplicationMessage
	sequence uint64
}

type messageQueue struct {
	items []bufferedMessage
}

func (q *messageQueue) pushFront(m bufferedMessage) {
	q.items = append([]bufferedMessage{m}, q.items...)
}

func (q *messageQueue) popBack() (bufferedMessage, bool) {
	if len(q.items) == 0 {
		return bufferedMessage{}, false
	}
	last := q.items[len(q.items)-1]
	q.items = q.items[:len(q.items)-1]
	return last, true
}

func (q *messageQueue) len() int { return len(q.items) }

// Dispatcher owns the outbound queue, the disconnected-publish buffer,
// and the QoS 0/1/2 publish/acknowledgement state machines, gluing
// session.Tables and a persist.Adapter to the wire packets that cross
// the transport boundary.
type Dispatcher struct {
	uri      string
	clientID string

	tables      *session.Tables
	persistence persist.Adapter

	outbound frameQueue
	buffer   messageQueue

	connected    bool
	reconnecting bool

	DisconnectedPublishing bool
	DisconnectedBufferSize int

	// send writes one already-encoded frame to the transport; nil when
	// disconnected.
	send func(data []byte) error

	OnMessageDelivered func(*ApplicationMessage)
	OnMessageArrived   func(*ApplicationMessage)

	metrics *Metrics
}

func newDispatcher(uri, clientID string, tables *session.Tables, p persist.Adapter) *Dispatcher {
	return &Dispatcher{uri: uri, clientID: clientID, tables: tables, persistence: p}
}

// schedule is `_schedule_message`: push to the front of the outbound
// queue.
func (d *Dispatcher) schedule(f frame) {
	d.outbound.pushFront(f)
}

// processQueue is `_process_queue`: drain the outbound queue from the
// back while connected, firing onDispatched for each frame sent.
func (d *Dispatcher) processQueue() error {
	if !d.connected {
		return nil
	}
	for {
		f, ok := d.outbound.popBack()
		if !ok {
			return nil
		}
		if err := d.send(f.data); err != nil {
			return err
		}
		if f.onDispatched != nil {
			f.onDispatched()
		}
	}
}

// Publish implements the three publish branches of spec.md §4.7,
// dispatched on QoS.
func (d *Dispatcher) Publish(msg ApplicationMessage) error {
	switch msg.QoS {
	case 0:
		return d.publishQoS0(msg)
	case 1:
		return d.publishQoS1(msg)
	case 2:
		return d.publishQoS2(msg)
	default:
		return NewError(CodeInvalidArgument, "qos %d out of range", msg.QoS)
	}
}

func (d *Dispatcher) publishQoS0(msg ApplicationMessage) error {
	if d.connected {
		pkt := &packet.Publish{Topic: msg.DestinationName, Payload: msg.Payload, QoS: 0, Retain: msg.Retained, Dup: msg.Duplicate}
		data, err := packToBytes(pkt)
		if err != nil {
			return err
		}
		msgCopy := msg
		d.schedule(frame{data: data, onDispatched: func() {
			d.countSent(len(data))
			if d.OnMessageDelivered != nil {
				d.OnMessageDelivered(&msgCopy)
			}
		}})
		return d.processQueue()
	}

	if d.DisconnectedPublishing && d.reconnecting {
		if d.tables.OutboxLen()+d.buffer.len() >= d.DisconnectedBufferSize {
			return NewError(CodeBufferFull, "disconnected-publish buffer full")
		}
		d.buffer.pushFront(bufferedMessage{msg: msg, sequence: d.tables.NextSequence()})
		return nil
	}

	return NewError(CodeInvalidState, "not connected")
}

func (d *Dispatcher) publishQoS1(msg ApplicationMessage) error {
	id, ok := d.tables.NextID()
	if !ok {
		return NewError(CodeInternalError, "no free packet identifier")
	}
	rec := &session.OutboundRecord{PacketID: id, Topic: msg.DestinationName, Payload: msg.Payload, QoS: 1, Retain: msg.Retained, Sequence: d.tables.NextSequence()}
	d.tables.PutOutbound(rec)
	if err := d.persistOutbound(rec); err != nil {
		return err
	}
	return d.sendPublishRecord(rec)
}

func (d *Dispatcher) publishQoS2(msg ApplicationMessage) error {
	id, ok := d.tables.NextID()
	if !ok {
		return NewError(CodeInternalError, "no free packet identifier")
	}
	rec := &session.OutboundRecord{PacketID: id, Topic: msg.DestinationName, Payload: msg.Payload, QoS: 2, Retain: msg.Retained, Sequence: d.tables.NextSequence()}
	d.tables.PutOutbound(rec)
	if err := d.persistOutbound(rec); err != nil {
		return err
	}
	return d.sendPublishRecord(rec)
}

func (d *Dispatcher) sendPublishRecord(rec *session.OutboundRecord) error {
	pkt := &packet.Publish{PacketID: rec.PacketID, Topic: rec.Topic, Payload: rec.Payload, QoS: rec.QoS, Retain: rec.Retain, Dup: rec.Dup}
	data, err := packToBytes(pkt)
	if err != nil {
		return err
	}
	d.schedule(frame{data: data, onDispatched: func() { d.countSent(len(data)) }})
	return d.processQueue()
}

func (d *Dispatcher) persistOutbound(rec *session.OutboundRecord) error {
	key := persist.SentKey(d.uri, d.clientID, rec.PacketID)
	value := persist.Encode(persist.Record{Topic: rec.Topic, Payload: rec.Payload, QoS: rec.QoS, Retain: rec.Retain, PubRecReceived: rec.PubRecReceived, Sequence: rec.Sequence})
	return d.persistence.Set(key, value)
}

// HandlePuback implements the QoS 1 ack completion.
func (d *Dispatcher) HandlePuback(id uint16) {
	rec, ok := d.tables.Outbound(id)
	if !ok {
		return // stray ack, silently ignored
	}
	d.tables.RemoveOutbound(id)
	_ = d.persistence.Remove(persist.SentKey(d.uri, d.clientID, id))
	if d.OnMessageDelivered != nil {
		d.OnMessageDelivered(&ApplicationMessage{DestinationName: rec.Topic, Payload: rec.Payload, QoS: rec.QoS, Retained: rec.Retain})
	}
}

// HandlePubrec marks the Outbox entry pubRecReceived and emits PUBREL.
func (d *Dispatcher) HandlePubrec(id uint16) error {
	rec, ok := d.tables.Outbound(id)
	if !ok {
		return nil // stray ack, silently ignored
	}
	rec.PubRecReceived = true
	if err := d.persistOutbound(rec); err != nil {
		return err
	}
	pkt := &packet.Pubrel{PacketID: id}
	data, err := packToBytes(pkt)
	if err != nil {
		return err
	}
	d.schedule(frame{data: data, onDispatched: func() { d.countSent(len(data)) }})
	return d.processQueue()
}

// HandlePubcomp completes a QoS 2 publish.
func (d *Dispatcher) HandlePubcomp(id uint16) {
	rec, ok := d.tables.Outbound(id)
	if !ok {
		return
	}
	d.tables.RemoveOutbound(id)
	_ = d.persistence.Remove(persist.SentKey(d.uri, d.clientID, id))
	if d.OnMessageDelivered != nil {
		d.OnMessageDelivered(&ApplicationMessage{DestinationName: rec.Topic, Payload: rec.Payload, QoS: rec.QoS, Retained: rec.Retain})
	}
}

// HandleInboundPublish implements the QoS 0/1/2 receive paths.
func (d *Dispatcher) HandleInboundPublish(pkt *packet.Publish) error {
	switch pkt.QoS {
	case 0:
		if d.OnMessageArrived != nil {
			d.OnMessageArrived(&ApplicationMessage{DestinationName: pkt.Topic, Payload: pkt.Payload, QoS: 0, Retained: pkt.Retain, Duplicate: pkt.Dup})
		}
		return nil
	case 1:
		if d.OnMessageArrived != nil {
			d.OnMessageArrived(&ApplicationMessage{DestinationName: pkt.Topic, Payload: pkt.Payload, QoS: 1, Retained: pkt.Retain, Duplicate: pkt.Dup})
		}
		ack := &packet.Puback{PacketID: pkt.PacketID}
		data, err := packToBytes(ack)
		if err != nil {
			return err
		}
		d.schedule(frame{data: data, onDispatched: func() { d.countSent(len(data)) }})
		return d.processQueue()
	case 2:
		d.tables.PutInbound(&session.InboundRecord{PacketID: pkt.PacketID, Sequence: d.tables.NextSequence()})
		key := persist.ReceivedKey(d.uri, d.clientID, pkt.PacketID)
		value := persist.Encode(persist.Record{Topic: pkt.Topic, Payload: pkt.Payload, QoS: 2})
		if err := d.persistence.Set(key, value); err != nil {
			return err
		}
		ack := &packet.Pubrec{PacketID: pkt.PacketID}
		data, err := packToBytes(ack)
		if err != nil {
			return err
		}
		d.schedule(frame{data: data, onDispatched: func() { d.countSent(len(data)) }})
		return d.processQueue()
	default:
		return NewError(CodeInvalidMQTTMessageType, "publish qos %d out of range", pkt.QoS)
	}
}

// HandlePubrel releases a QoS 2 inbound delivery: deliver the persisted
// payload, clear the Inbox entry, and unconditionally answer PUBCOMP
// (even if the entry is missing, e.g. after a restart) to unblock the
// peer.
func (d *Dispatcher) HandlePubrel(id uint16) error {
	if d.tables.HasInbound(id) {
		key := persist.ReceivedKey(d.uri, d.clientID, id)
		if value, ok, err := d.persistence.Get(key); err == nil && ok {
			if rec, err := persist.Decode(value); err == nil && d.OnMessageArrived != nil {
				d.OnMessageArrived(&ApplicationMessage{DestinationName: rec.Topic, Payload: rec.Payload, QoS: 2})
			}
		}
		d.tables.RemoveInbound(id)
		_ = d.persistence.Remove(key)
	}
	ack := &packet.Pubcomp{PacketID: id}
	data, err := packToBytes(ack)
	if err != nil {
		return err
	}
	d.schedule(frame{data: data, onDispatched: func() { d.countSent(len(data)) }})
	return d.processQueue()
}

// SetTransport wires (or clears, passing nil) the function Dispatcher
// uses to write frames, and updates the connected gate processQueue
// checks.
func (d *Dispatcher) SetTransport(send func(data []byte) error) {
	d.send = send
	d.connected = send != nil
}

// SetReconnecting toggles the Reconnecting side-state the QoS 0
// disconnected-publish path checks.
func (d *Dispatcher) SetReconnecting(v bool) { d.reconnecting = v }

// SetMetrics wires the Metrics counters frame sends update.
func (d *Dispatcher) SetMetrics(m *Metrics) { d.metrics = m }

// WipeSession clears the Outbox, the Inbox, and every `Sent:`/`Received:`
// persistence key for this (uri, clientId), the effect of a clean-session
// CONNACK.
func (d *Dispatcher) WipeSession() {
	for _, rec := range d.tables.PendingOutbound() {
		d.tables.RemoveOutbound(rec.PacketID)
		_ = d.persistence.Remove(persist.SentKey(d.uri, d.clientID, rec.PacketID))
	}
	for id := 1; id <= 65535; id++ {
		d.tables.RemoveInbound(uint16(id))
	}
	sentKeys, _ := d.persistence.Keys(persist.SentPrefix(d.uri, d.clientID))
	for _, k := range sentKeys {
		_ = d.persistence.Remove(k)
	}
	receivedKeys, _ := d.persistence.Keys(persist.ReceivedPrefix(d.uri, d.clientID))
	for _, k := range receivedKeys {
		_ = d.persistence.Remove(k)
	}
}

// ReplayAfterConnect rebuilds the outbound queue from everything that
// survived the previous session: Outbox PUBLISH entries (re-emitting a
// bare PUBREL instead when pubRecReceived is set) plus the buffered QoS 0
// disconnected publishes, strictly ordered by sequence, then drains the
// queue.
func (d *Dispatcher) ReplayAfterConnect() error {
	type replayItem struct {
		sequence uint64
		send     func() error
	}
	var items []replayItem

	for _, rec := range d.tables.PendingOutbound() {
		rec := rec
		if rec.Reserved {
			continue
		}
		if rec.PubRecReceived {
			items = append(items, replayItem{sequence: rec.Sequence, send: func() error {
				pkt := &packet.Pubrel{PacketID: rec.PacketID}
				data, err := packToBytes(pkt)
				if err != nil {
					return err
				}
				d.schedule(frame{data: data, onDispatched: func() { d.countSent(len(data)) }})
				return nil
			}})
		} else {
			items = append(items, replayItem{sequence: rec.Sequence, send: func() error {
				return d.sendPublishRecord(rec)
			}})
		}
	}

	for d.buffer.len() > 0 {
		m, _ := d.buffer.popBack()
		m := m
		items = append(items, replayItem{sequence: m.sequence, send: func() error {
			return d.publishQoS0(m.msg)
		}})
	}

	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j-1].sequence > items[j].sequence; j-- {
			items[j-1], items[j] = items[j], items[j-1]
		}
	}

	for _, it := range items {
		if err := it.send(); err != nil {
			return err
		}
	}
	return d.processQueue()
}

func (d *Dispatcher) countSent(n int) {
	if d.metrics == nil {
		return
	}
	d.metrics.PacketsSent.Inc()
	d.metrics.BytesSent.Add(float64(n))
}

func packToBytes(pkt packet.Packet) ([]byte, error) {
	buf := packet.GetBuffer()
	defer packet.PutBuffer(buf)
	if err := pkt.Pack(buf); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}
