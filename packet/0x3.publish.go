package packet

import "io"

// Publish carries application data from sender to receiver. PacketID is
// only meaningful (and only present on the wire) when QoS > 0.
type Publish struct {
	Dup      bool
	QoS      byte
	Retain   bool
	Topic    string
	PacketID uint16
	Payload  []byte
}

func (pkt *Publish) Kind() byte { return PUBLISH }

func (pkt *Publish) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)

	buf.Write(encodeUTF8String(pkt.Topic))
	if pkt.QoS > 0 {
		buf.Write([]byte{byte(pkt.PacketID >> 8), byte(pkt.PacketID)})
	}
	buf.Write(pkt.Payload)

	flags := publishFlags(pkt.Dup, pkt.QoS, pkt.Retain)
	if err := packFixedHeader(w, PUBLISH, flags, buf.Len()); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func decodePublish(flags byte, body []byte) (*Publish, error) {
	qos := (flags >> 1) & 0x03
	pkt := &Publish{
		Dup:    flags&0x08 != 0,
		QoS:    qos,
		Retain: flags&0x01 != 0,
	}
	if pkt.Dup && pkt.QoS == 0 {
		return nil, ErrMalformedFlags // DUP only makes sense on a QoS>0 redelivery
	}

	topic, off, err := decodeUTF8String(body, 0)
	if err != nil {
		return nil, err
	}
	pkt.Topic = topic

	if qos > 0 {
		if off+2 > len(body) {
			return nil, ErrTruncatedBody
		}
		pkt.PacketID = getUint16(body[off:])
		off += 2
	}
	pkt.Payload = append([]byte(nil), body[off:]...)
	return pkt, nil
}
