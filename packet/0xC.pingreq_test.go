package packet

import (
	"bytes"
	"testing"
)

func TestPingreqPingrespWireBytes(t *testing.T) {
	var req, resp bytes.Buffer
	(&Pingreq{}).Pack(&req)
	(&Pingresp{}).Pack(&resp)
	if !bytes.Equal(req.Bytes(), []byte{0xC0, 0x00}) {
		t.Fatalf("PINGREQ: got %x, want C0 00", req.Bytes())
	}
	if !bytes.Equal(resp.Bytes(), []byte{0xD0, 0x00}) {
		t.Fatalf("PINGRESP: got %x, want D0 00", resp.Bytes())
	}
}
