package packet

import "io"

// Subscription is one topic filter/requested-QoS pair inside a Subscribe.
type Subscription struct {
	TopicFilter  string
	RequestedQoS byte
}

// Subscribe requests one or more topic subscriptions. Its flags are fixed
// at DUP=0, QoS=1, RETAIN=0 [MQTT-3.8.1-1].
type Subscribe struct {
	PacketID      uint16
	Subscriptions []Subscription
}

func (pkt *Subscribe) Kind() byte { return SUBSCRIBE }

func (pkt *Subscribe) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)

	buf.Write([]byte{byte(pkt.PacketID >> 8), byte(pkt.PacketID)})
	for _, s := range pkt.Subscriptions {
		buf.Write(encodeUTF8String(s.TopicFilter))
		buf.WriteByte(s.RequestedQoS)
	}

	if err := packFixedHeader(w, SUBSCRIBE, 0x02, buf.Len()); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func decodeSubscribe(body []byte) (*Subscribe, error) {
	if len(body) < 2 {
		return nil, ErrTruncatedBody
	}
	pkt := &Subscribe{PacketID: getUint16(body)}
	off := 2
	for off < len(body) {
		filter, next, err := decodeUTF8String(body, off)
		if err != nil {
			return nil, err
		}
		if next+1 > len(body) {
			return nil, ErrTruncatedBody
		}
		qos := body[next]
		if qos > 2 {
			return nil, ErrProtocolViolationQoSRange
		}
		pkt.Subscriptions = append(pkt.Subscriptions, Subscription{TopicFilter: filter, RequestedQoS: qos})
		off = next + 1
	}
	if len(pkt.Subscriptions) == 0 {
		return nil, ErrTruncatedBody // SUBSCRIBE must contain at least one filter
	}
	return pkt, nil
}
