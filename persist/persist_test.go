package persist

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRecordRoundTrip(t *testing.T) {
	r := Record{
		Topic:          "a/b",
		Payload:        []byte("hi"),
		QoS:            1,
		Retain:         false,
		PubRecReceived: false,
		Sequence:       42,
	}
	got, err := Decode(Encode(r))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Topic != r.Topic || !bytes.Equal(got.Payload, r.Payload) || got.QoS != r.QoS ||
		got.Retain != r.Retain || got.PubRecReceived != r.PubRecReceived || got.Sequence != r.Sequence {
		t.Fatalf("got %+v, want %+v", got, r)
	}
}

func TestEncodeDecodeRecordRoundTripTopicWithDelimiters(t *testing.T) {
	r := Record{
		Topic:    "a/b=c;d",
		Payload:  []byte("hi"),
		QoS:      2,
		Sequence: 7,
	}
	got, err := Decode(Encode(r))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Topic != r.Topic {
		t.Fatalf("topic got %q, want %q", got.Topic, r.Topic)
	}
}

func TestDecodeRejectsUnsupportedVersion(t *testing.T) {
	if _, err := Decode("version=99;qos=1;retain=false;pubrec=false;seq=1;topic=a;payload="); err == nil {
		t.Fatal("expected error for unsupported schema version")
	}
}

func TestSentReceivedKeyFormat(t *testing.T) {
	if got, want := SentKey("tcp://host:1883", "client-1", 7), "Sent:tcp://host:1883:client-1:7"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if got, want := ReceivedKey("tcp://host:1883", "client-1", 7), "Received:tcp://host:1883:client-1:7"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func testAdapter(t *testing.T, a Adapter) {
	t.Helper()

	if _, ok, err := a.Get("missing"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	key := SentKey("tcp://host:1883", "client-1", 1)
	value := Encode(Record{Topic: "a/b", Payload: []byte("hi"), QoS: 1, Sequence: 1})
	if err := a.Set(key, value); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok, err := a.Get(key)
	if err != nil || !ok || got != value {
		t.Fatalf("Get got=%q ok=%v err=%v, want %q/true", got, ok, err, value)
	}

	otherKey := ReceivedKey("tcp://host:1883", "client-1", 2)
	if err := a.Set(otherKey, "x"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	sentKeys, err := a.Keys("Sent:")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(sentKeys) != 1 || sentKeys[0] != key {
		t.Fatalf("Keys(Sent:) = %v, want [%s]", sentKeys, key)
	}

	if err := a.Remove(key); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, _ := a.Get(key); ok {
		t.Fatal("expected key to be gone after Remove")
	}
}

func TestMemoryAdapter(t *testing.T) {
	testAdapter(t, NewMemoryAdapter())
}

func TestFileAdapter(t *testing.T) {
	a, err := NewFileAdapter(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileAdapter: %v", err)
	}
	testAdapter(t, a)
}

func TestFileAdapterPersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	a1, err := NewFileAdapter(dir)
	if err != nil {
		t.Fatalf("NewFileAdapter: %v", err)
	}
	key := SentKey("tcp://host:1883", "client-1", 9)
	value := Encode(Record{Topic: "a/b", Payload: []byte("hi"), QoS: 2, Sequence: 1})
	if err := a1.Set(key, value); err != nil {
		t.Fatalf("Set: %v", err)
	}

	a2, err := NewFileAdapter(dir)
	if err != nil {
		t.Fatalf("NewFileAdapter: %v", err)
	}
	got, ok, err := a2.Get(key)
	if err != nil || !ok || got != value {
		t.Fatalf("Get got=%q ok=%v err=%v after reopening store, want %q/true", got, ok, err, value)
	}
}
