package packet

import "io"

// Disconnect is the client's graceful notification that it is closing the
// connection. A will message, if any, is not sent when the connection
// closes this way.
type Disconnect struct{}

func (pkt *Disconnect) Kind() byte { return DISCONNECT }

func (pkt *Disconnect) Pack(w io.Writer) error {
	return packFixedHeader(w, DISCONNECT, 0x00, 0)
}

func decodeDisconnect(body []byte) (*Disconnect, error) {
	if len(body) != 0 {
		return nil, ErrTruncatedBody
	}
	return &Disconnect{}, nil
}
