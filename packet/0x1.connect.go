package packet

import "io"

// Connect is the CONNECT packet: the first packet any client sends, and
// the only one permitted to open a connection [MQTT-3.1.0-1].
type Connect struct {
	ProtocolVersion byte // Version31 or Version311
	CleanSession    bool
	KeepAlive       uint16
	ClientID        string

	WillFlag    bool
	WillTopic   string
	WillPayload []byte
	WillQoS     byte
	WillRetain  bool

	HasUserName bool
	UserName    string
	HasPassword bool
	Password    string
}

func (pkt *Connect) Kind() byte { return CONNECT }

func (pkt *Connect) protocolName() string {
	if pkt.ProtocolVersion == Version31 {
		return "MQIsdp"
	}
	return "MQTT"
}

func (pkt *Connect) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)

	buf.Write(encodeUTF8String(pkt.protocolName()))
	buf.WriteByte(pkt.ProtocolVersion)

	var flags byte
	if pkt.HasUserName {
		flags |= 0x80
	}
	if pkt.HasPassword {
		flags |= 0x40
	}
	if pkt.WillFlag {
		flags |= 0x04
		if pkt.WillRetain {
			flags |= 0x20
		}
		flags |= pkt.WillQoS << 3
	}
	if pkt.CleanSession {
		flags |= 0x02
	}
	buf.WriteByte(flags)

	buf.Write([]byte{byte(pkt.KeepAlive >> 8), byte(pkt.KeepAlive)})
	buf.Write(encodeUTF8String(pkt.ClientID))

	if pkt.WillFlag {
		buf.Write(encodeUTF8String(pkt.WillTopic))
		buf.Write(encodeUTF8String(string(pkt.WillPayload)))
	}
	if pkt.HasUserName {
		buf.Write(encodeUTF8String(pkt.UserName))
	}
	if pkt.HasPassword {
		buf.Write(encodeUTF8String(pkt.Password))
	}

	if err := packFixedHeader(w, CONNECT, 0x00, buf.Len()); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func decodeConnect(body []byte) (*Connect, error) {
	name, off, err := decodeUTF8String(body, 0)
	if err != nil {
		return nil, err
	}
	if name != "MQTT" && name != "MQIsdp" {
		return nil, ErrMalformedProtocolName
	}
	if off+1 > len(body) {
		return nil, ErrTruncatedBody
	}
	version := body[off]
	off++
	if version != Version31 && version != Version311 {
		return nil, ErrUnsupportedProtocolVersion
	}

	if off+1 > len(body) {
		return nil, ErrTruncatedBody
	}
	flags := body[off]
	off++
	if flags&0x01 != 0 {
		return nil, ErrMalformedFlags // reserved bit must be 0
	}

	if off+2 > len(body) {
		return nil, ErrTruncatedBody
	}
	keepAlive := getUint16(body[off:])
	off += 2

	clientID, off, err := decodeUTF8String(body, off)
	if err != nil {
		return nil, err
	}

	pkt := &Connect{
		ProtocolVersion: version,
		CleanSession:    flags&0x02 != 0,
		KeepAlive:       keepAlive,
		ClientID:        clientID,
		WillFlag:        flags&0x04 != 0,
		WillRetain:      flags&0x20 != 0,
		WillQoS:         (flags >> 3) & 0x03,
		HasUserName:     flags&0x80 != 0,
		HasPassword:     flags&0x40 != 0,
	}
	if pkt.WillQoS == 0x03 {
		return nil, ErrProtocolViolationQoSRange
	}

	if pkt.WillFlag {
		pkt.WillTopic, off, err = decodeUTF8String(body, off)
		if err != nil {
			return nil, err
		}
		var payload string
		payload, off, err = decodeUTF8String(body, off)
		if err != nil {
			return nil, err
		}
		pkt.WillPayload = []byte(payload)
	}
	if pkt.HasUserName {
		pkt.UserName, off, err = decodeUTF8String(body, off)
		if err != nil {
			return nil, err
		}
	}
	if pkt.HasPassword {
		pkt.Password, off, err = decodeUTF8String(body, off)
		if err != nil {
			return nil, err
		}
	}
	return pkt, nil
}
