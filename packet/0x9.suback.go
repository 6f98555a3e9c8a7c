package packet

import "io"

// Suback carries one SubscribeReturnCode per filter in the Subscribe it
// acknowledges, in the same order.
type Suback struct {
	PacketID    uint16
	ReturnCodes []SubscribeReturnCode
}

func (pkt *Suback) Kind() byte { return SUBACK }

func (pkt *Suback) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)

	buf.Write([]byte{byte(pkt.PacketID >> 8), byte(pkt.PacketID)})
	for _, rc := range pkt.ReturnCodes {
		buf.WriteByte(byte(rc))
	}

	if err := packFixedHeader(w, SUBACK, 0x00, buf.Len()); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func decodeSuback(body []byte) (*Suback, error) {
	if len(body) < 2 {
		return nil, ErrTruncatedBody
	}
	pkt := &Suback{PacketID: getUint16(body)}
	for _, b := range body[2:] {
		if b != 0x80 && b > 0x02 {
			return nil, ErrProtocolViolationQoSRange
		}
		pkt.ReturnCodes = append(pkt.ReturnCodes, SubscribeReturnCode(b))
	}
	if len(pkt.ReturnCodes) == 0 {
		return nil, ErrTruncatedBody
	}
	return pkt, nil
}
