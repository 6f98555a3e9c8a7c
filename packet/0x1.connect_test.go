package packet

import (
	"bytes"
	"testing"
)

func TestConnectRoundTrip(t *testing.T) {
	pkt := &Connect{
		ProtocolVersion: Version311,
		CleanSession:    true,
		KeepAlive:       60,
		ClientID:        "client-1",
		WillFlag:        true,
		WillTopic:       "last/will",
		WillPayload:     []byte("bye"),
		WillQoS:         1,
		HasUserName:     true,
		UserName:        "alice",
		HasPassword:     true,
		Password:        "secret",
	}
	var buf bytes.Buffer
	if err := pkt.Pack(&buf); err != nil {
		t.Fatalf("Pack: %v", err)
	}

	got, next, err := Decode(buf.Bytes(), 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if next != buf.Len() {
		t.Fatalf("consumed %d bytes, want %d", next, buf.Len())
	}
	c := got.(*Connect)
	if c.ClientID != pkt.ClientID || c.KeepAlive != pkt.KeepAlive || !c.CleanSession {
		t.Fatalf("got %+v, want matching fields from %+v", c, pkt)
	}
	if c.WillTopic != pkt.WillTopic || !bytes.Equal(c.WillPayload, pkt.WillPayload) || c.WillQoS != pkt.WillQoS {
		t.Fatalf("will fields did not round trip: got %+v", c)
	}
	if c.UserName != pkt.UserName || c.Password != pkt.Password {
		t.Fatalf("credentials did not round trip: got %+v", c)
	}
}

func TestConnectRejectsBadProtocolName(t *testing.T) {
	body := append(encodeUTF8String("BOGUS"), Version311, 0x02, 0x00, 0x3C, 0x00, 0x00)
	if _, err := decodeConnect(body); err != ErrMalformedProtocolName {
		t.Fatalf("got %v, want ErrMalformedProtocolName", err)
	}
}

func TestConnectRejectsReservedBit(t *testing.T) {
	body := append(encodeUTF8String("MQTT"), Version311, 0x01, 0x00, 0x3C)
	body = append(body, encodeUTF8String("c")...)
	if _, err := decodeConnect(body); err != ErrMalformedFlags {
		t.Fatalf("got %v, want ErrMalformedFlags", err)
	}
}
