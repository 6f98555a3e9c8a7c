package mqtt

import (
	"github.com/golang-io/mqttcore/persist"
	"github.com/golang-io/requests"
)

// ClientConfig is immutable after construction: the identity and storage
// a Client is built with, shared across every connect/reconnect attempt
// it makes.
type ClientConfig struct {
	// URI is the base transport URI (e.g. "ws://host:1883/mqtt"). Either
	// URI or a ConnectOptions host/port list supplies the address; a
	// ClientConfig only needs one when the caller never overrides it per
	// connect.
	URI string
	// ClientID must be 1..65535 characters, counting a UTF-16 surrogate
	// pair as one character.
	ClientID string
	// TransportFactory dials the environment's transport (WebSocket by
	// default; see transport.WSDialer).
	TransportFactory TransportFactory
	// Persistence receives a record of every in-flight QoS 1/2 publish and
	// every QoS 2 delivery awaiting PUBREL. Replay after a reconnect uses
	// the in-memory Outbox; NewClient does not read stored records back, so
	// a new Client does not resume a previous process's in-flight
	// publishes. NewClientConfig replaces a nil value with an in-memory
	// store.
	Persistence persist.Adapter
}

// ClientOption configures a ClientConfig at construction time, the same
// functional-options shape the teacher's options.go used.
type ClientOption func(*ClientConfig)

// NewClientConfig builds a ClientConfig, defaulting ClientID to a
// generated identifier the same way the teacher's newOptions did with
// requests.GenId().
func NewClientConfig(uri string, opts ...ClientOption) ClientConfig {
	cfg := ClientConfig{
		URI:      uri,
		ClientID: "mqtt-" + requests.GenId(),
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.Persistence == nil {
		cfg.Persistence = persist.NewMemoryAdapter()
	}
	return cfg
}

func WithClientID(id string) ClientOption {
	return func(c *ClientConfig) { c.ClientID = id }
}

func WithTransportFactory(f TransportFactory) ClientOption {
	return func(c *ClientConfig) { c.TransportFactory = f }
}

func WithPersistence(p persist.Adapter) ClientOption {
	return func(c *ClientConfig) { c.Persistence = p }
}

// ConnectOptions configures a single connect attempt.
type ConnectOptions struct {
	TimeoutMS         int
	UserName          string
	Password          string // requires UserName
	WillMessage       *ApplicationMessage
	KeepAliveInterval int // seconds; DefaultConnectOptions sets 60, 0 disables keep-alive
	CleanSession      bool
	UseSSL            bool
	MQTTVersion       byte // 3 or 4, default 4

	// URIs, if set, takes priority over Hosts/Ports/Path.
	URIs  []string
	Hosts []string
	Ports []int
	Path  string

	Reconnect bool

	DisconnectedPublishing  bool
	DisconnectedBufferSize  int

	OnSuccess func()
	OnFailure func(err *Error)

	// MQTTVersionExplicit marks that the caller deliberately chose
	// MQTTVersion rather than accepting the default, suppressing the
	// automatic 3.1.1→3.1 fallback on connect failure.
	MQTTVersionExplicit bool
}

// DefaultConnectOptions returns the spec's documented defaults: 60s
// keep-alive, clean session, MQTT 3.1.1.
func DefaultConnectOptions() ConnectOptions {
	return ConnectOptions{
		KeepAliveInterval: 60,
		CleanSession:      true,
		MQTTVersion:       4,
	}
}

// ApplicationMessage is a publish/delivery, in either direction.
type ApplicationMessage struct {
	DestinationName string
	Payload         []byte
	QoS             byte
	Retained        bool
	Duplicate       bool
}
