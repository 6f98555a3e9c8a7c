// Package session holds the per-connection bookkeeping a running MQTT
// session needs between its transport-level send/receive calls: which
// QoS 1/2 publishes are still awaiting acknowledgement, which QoS 2
// deliveries have been received but not yet completed, and which packet
// identifiers are currently in use.
//
// A Tables value is owned by exactly one connection's logic loop; like the
// rest of this module it assumes single-threaded cooperative use and takes
// no locks.
package session

// OutboundRecord tracks a QoS 1 or QoS 2 PUBLISH this client has sent but
// not yet seen fully acknowledged.
type OutboundRecord struct {
	PacketID       uint16
	Topic          string
	Payload        []byte
	QoS            byte
	Retain         bool
	Dup            bool
	PubRecReceived bool // QoS 2 only: PUBREC has arrived, awaiting PUBCOMP
	Sequence       uint64
	// Reserved marks an Outbox slot claimed by something other than a
	// publish awaiting acknowledgement — an in-flight SUBSCRIBE or
	// UNSUBSCRIBE — so NextID's occupancy scan can't hand the identifier
	// to a concurrent publish. Reserved entries carry no topic/payload and
	// are skipped by replay.
	Reserved bool
}

// InboundRecord tracks a QoS 2 PUBLISH this client has received and
// acknowledged with PUBREC, but for which PUBREL has not yet arrived.
// The message is handed to the application when PUBREL arrives, and only
// while this record is present, so a repeated PUBREL for the same
// identifier does not deliver it a second time.
type InboundRecord struct {
	PacketID uint16
	Sequence uint64
}

// Tables is the Outbox/Inbox pair plus the identifier allocator and the
// monotonically increasing sequence counter used to replay outstanding
// sends in original order after a reconnect.
type Tables struct {
	outbox map[uint16]*OutboundRecord
	inbox  map[uint16]*InboundRecord
	cursor int // next identifier to try; rolls across [1, 65535]
	seq    uint64
}

// New returns an empty set of tables with the allocator cursor at 1.
func New() *Tables {
	return &Tables{
		outbox: make(map[uint16]*OutboundRecord),
		inbox:  make(map[uint16]*InboundRecord),
		cursor: 1,
	}
}

// NextID allocates the next unused packet identifier, scanning forward
// from the rolling cursor and skipping identifiers already occupied in the
// Outbox. It wraps from 65535 back to 1 and never decrements on release,
// so identifier reuse always cycles through the full range rather than
// clustering near zero. Returns ok=false only when all 65535 identifiers
// are currently in the Outbox.
func (t *Tables) NextID() (id uint16, ok bool) {
	start := t.cursor
	for {
		candidate := t.cursor
		t.cursor++
		if t.cursor > 65535 {
			t.cursor = 1
		}
		if _, occupied := t.outbox[uint16(candidate)]; !occupied {
			return uint16(candidate), true
		}
		if t.cursor == start {
			return 0, false
		}
	}
}

// NextSequence returns a strictly increasing counter used to order Outbox
// entries for replay after reconnect, independent of packet identifier
// reuse.
func (t *Tables) NextSequence() uint64 {
	t.seq++
	return t.seq
}

// PutOutbound records a sent QoS 1/2 publish awaiting acknowledgement.
func (t *Tables) PutOutbound(rec *OutboundRecord) {
	t.outbox[rec.PacketID] = rec
}

// Outbound looks up a pending publish by packet identifier without
// removing it (acks for PUBREC need the record to still be present for
// the following PUBREL).
func (t *Tables) Outbound(id uint16) (*OutboundRecord, bool) {
	rec, ok := t.outbox[id]
	return rec, ok
}

// RemoveOutbound clears a completed publish: PUBACK for QoS 1, or PUBCOMP
// for QoS 2.
func (t *Tables) RemoveOutbound(id uint16) {
	delete(t.outbox, id)
}

// PendingOutbound returns every unacknowledged send, ordered by Sequence,
// for replay over a freshly (re)established connection.
func (t *Tables) PendingOutbound() []*OutboundRecord {
	out := make([]*OutboundRecord, 0, len(t.outbox))
	for _, rec := range t.outbox {
		out = append(out, rec)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Sequence > out[j].Sequence; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// PutInbound records a QoS 2 delivery that has been PUBREC'd but not yet
// released.
func (t *Tables) PutInbound(rec *InboundRecord) {
	t.inbox[rec.PacketID] = rec
}

// HasInbound reports whether a QoS 2 packet identifier is still pending
// PUBREL, the condition under which a PUBREL delivers the message.
func (t *Tables) HasInbound(id uint16) bool {
	_, ok := t.inbox[id]
	return ok
}

// RemoveInbound clears a QoS 2 delivery once PUBCOMP has been sent for it.
func (t *Tables) RemoveInbound(id uint16) {
	delete(t.inbox, id)
}

// OutboxLen and InboxLen expose table sizes for metrics and tests.
func (t *Tables) OutboxLen() int { return len(t.outbox) }
func (t *Tables) InboxLen() int  { return len(t.inbox) }
