// Package persist implements the PersistenceAdapter contract CORE writes
// its in-flight state to: a flat string-keyed key/value store, plus the
// record schema CORE uses to serialize Outbox and Inbox entries into it.
// The client writes and removes these records as publishes progress and
// reads a Received: record back when PUBREL arrives; it does not load
// stored records into a new Client's Outbox/Inbox.
package persist

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Adapter is the storage contract CORE depends on. Implementations need
// not be safe for concurrent use; like the rest of this module, a single
// adapter instance is owned by one connection's logic loop.
type Adapter interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Remove(key string) error
	// Keys lists every stored key with the given prefix, used to find
	// every Sent:/Received: record of a session when a clean-session
	// CONNACK wipes it, without the caller needing to know every packet
	// identifier in advance.
	Keys(prefix string) ([]string, error)
}

// SentKey and ReceivedKey are the persistence keys for an Outbox entry
// (a publish sent and awaiting ack) and an Inbox entry (a QoS 2 publish
// received and PUBREC'd, awaiting PUBREL), scoped by transport URI and
// client identifier so one store can back multiple sessions.
func SentKey(uri, clientID string, packetID uint16) string {
	return fmt.Sprintf("Sent:%s:%s:%d", uri, clientID, packetID)
}

func ReceivedKey(uri, clientID string, packetID uint16) string {
	return fmt.Sprintf("Received:%s:%s:%d", uri, clientID, packetID)
}

// SentPrefix and ReceivedPrefix match every Sent:/Received: key for one
// (uri, clientID) pair, for use with Adapter.Keys when wiping a session.
func SentPrefix(uri, clientID string) string {
	return fmt.Sprintf("Sent:%s:%s:", uri, clientID)
}

func ReceivedPrefix(uri, clientID string) string {
	return fmt.Sprintf("Received:%s:%s:", uri, clientID)
}

const schemaVersion = 1

// Record is the persisted representation of an Outbox entry: the minimum
// needed to either resend a PUBLISH (QoS 1, or QoS 2 before PUBREC) or
// re-emit a bare PUBREL (QoS 2 after PUBREC) when a session resumes.
type Record struct {
	Topic          string
	Payload        []byte
	QoS            byte
	Retain         bool
	PubRecReceived bool
	Sequence       uint64
}

// Encode serializes a Record as a semicolon-separated field list with the
// topic and payload both hex-encoded, tagged with the schema version so a
// future format change can be detected on read. The topic is encoded the
// same way the payload is rather than spliced in raw, since a legal MQTT
// topic may itself contain ';' or '=' and would otherwise break the field
// split on decode.
func Encode(r Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "version=%d;qos=%d;retain=%t;pubrec=%t;seq=%d;topic=%s;payload=%s",
		schemaVersion, r.QoS, r.Retain, r.PubRecReceived, r.Sequence, hex.EncodeToString([]byte(r.Topic)), hex.EncodeToString(r.Payload))
	return b.String()
}

// Decode parses a value produced by Encode. An unrecognized schema
// version is a hard error: CORE never guesses at a format it doesn't
// recognize.
func Decode(value string) (Record, error) {
	fields := make(map[string]string)
	for _, part := range strings.Split(value, ";") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return Record{}, fmt.Errorf("persist: malformed record field %q", part)
		}
		fields[kv[0]] = kv[1]
	}

	if fields["version"] != strconv.Itoa(schemaVersion) {
		return Record{}, fmt.Errorf("persist: unsupported record schema version %q", fields["version"])
	}

	qos, err := strconv.ParseUint(fields["qos"], 10, 8)
	if err != nil {
		return Record{}, fmt.Errorf("persist: malformed qos field: %w", err)
	}
	seq, err := strconv.ParseUint(fields["seq"], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("persist: malformed seq field: %w", err)
	}
	payload, err := hex.DecodeString(fields["payload"])
	if err != nil {
		return Record{}, fmt.Errorf("persist: malformed payload field: %w", err)
	}
	topic, err := hex.DecodeString(fields["topic"])
	if err != nil {
		return Record{}, fmt.Errorf("persist: malformed topic field: %w", err)
	}

	return Record{
		Topic:          string(topic),
		Payload:        payload,
		QoS:            byte(qos),
		Retain:         fields["retain"] == "true",
		PubRecReceived: fields["pubrec"] == "true",
		Sequence:       seq,
	}, nil
}
