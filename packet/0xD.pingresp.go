package packet

import "io"

// Pingresp is the server's reply to a Pingreq.
type Pingresp struct{}

func (pkt *Pingresp) Kind() byte { return PINGRESP }

func (pkt *Pingresp) Pack(w io.Writer) error {
	return packFixedHeader(w, PINGRESP, 0x00, 0)
}

func decodePingresp(body []byte) (*Pingresp, error) {
	if len(body) != 0 {
		return nil, ErrTruncatedBody
	}
	return &Pingresp{}, nil
}
