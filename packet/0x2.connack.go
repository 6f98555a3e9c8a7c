package packet

import "io"

// Connack is the server's acknowledgement of a CONNECT.
type Connack struct {
	SessionPresent bool
	ReturnCode     ConnectReturnCode
}

func (pkt *Connack) Kind() byte { return CONNACK }

func (pkt *Connack) Pack(w io.Writer) error {
	var ackFlags byte
	if pkt.SessionPresent {
		ackFlags = 0x01
	}
	if err := packFixedHeader(w, CONNACK, 0x00, 2); err != nil {
		return err
	}
	_, err := w.Write([]byte{ackFlags, byte(pkt.ReturnCode)})
	return err
}

func decodeConnack(body []byte) (*Connack, error) {
	if len(body) != 2 {
		return nil, ErrTruncatedBody
	}
	if body[0]&0xFE != 0 {
		return nil, ErrMalformedFlags // only bit 0 (session present) is defined
	}
	return &Connack{
		SessionPresent: body[0]&0x01 != 0,
		ReturnCode:     ConnectReturnCode(body[1]),
	}, nil
}
