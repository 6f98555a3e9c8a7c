package packet

import (
	"bytes"
	"testing"
)

func TestUnsubscribeAndUnsubackRoundTrip(t *testing.T) {
	pkt := &Unsubscribe{PacketID: 3, TopicFilters: []string{"a/b", "c/d"}}
	var buf bytes.Buffer
	pkt.Pack(&buf)
	got, next, err := Decode(buf.Bytes(), 0)
	if err != nil || next != buf.Len() {
		t.Fatalf("Decode Unsubscribe: %v", err)
	}
	if len(got.(*Unsubscribe).TopicFilters) != 2 {
		t.Fatalf("got %+v, want 2 filters", got)
	}

	var ackBuf bytes.Buffer
	(&Unsuback{PacketID: 3}).Pack(&ackBuf)
	ack, _, err := Decode(ackBuf.Bytes(), 0)
	if err != nil || ack.(*Unsuback).PacketID != 3 {
		t.Fatalf("Decode Unsuback: got %v, err %v", ack, err)
	}
}
