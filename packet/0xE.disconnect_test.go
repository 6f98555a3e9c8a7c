package packet

import (
	"bytes"
	"testing"
)

func TestDisconnectWireBytes(t *testing.T) {
	var buf bytes.Buffer
	(&Disconnect{}).Pack(&buf)
	if !bytes.Equal(buf.Bytes(), []byte{0xE0, 0x00}) {
		t.Fatalf("got %x, want E0 00", buf.Bytes())
	}
}
