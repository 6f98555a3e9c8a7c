package packet

import "io"

// Unsubscribe requests removal of one or more topic subscriptions. Its
// flags are fixed at DUP=0, QoS=1, RETAIN=0 [MQTT-3.10.1-1].
type Unsubscribe struct {
	PacketID     uint16
	TopicFilters []string
}

func (pkt *Unsubscribe) Kind() byte { return UNSUBSCRIBE }

func (pkt *Unsubscribe) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)

	buf.Write([]byte{byte(pkt.PacketID >> 8), byte(pkt.PacketID)})
	for _, f := range pkt.TopicFilters {
		buf.Write(encodeUTF8String(f))
	}

	if err := packFixedHeader(w, UNSUBSCRIBE, 0x02, buf.Len()); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func decodeUnsubscribe(body []byte) (*Unsubscribe, error) {
	if len(body) < 2 {
		return nil, ErrTruncatedBody
	}
	pkt := &Unsubscribe{PacketID: getUint16(body)}
	off := 2
	for off < len(body) {
		filter, next, err := decodeUTF8String(body, off)
		if err != nil {
			return nil, err
		}
		pkt.TopicFilters = append(pkt.TopicFilters, filter)
		off = next
	}
	if len(pkt.TopicFilters) == 0 {
		return nil, ErrTruncatedBody
	}
	return pkt, nil
}
