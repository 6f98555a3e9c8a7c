package mqtt

import (
	"context"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/golang-io/mqttcore/keepalive"
	"github.com/golang-io/mqttcore/packet"
	"github.com/golang-io/mqttcore/session"
	"github.com/golang-io/mqttcore/transport"
)

// TransportFactory opens the duplex byte channel a Client drives; see
// transport.Factory. transport.WSDialer{}.Dial is the reference
// implementation.
type TransportFactory = transport.Factory

type connState int

const (
	stateIdle connState = iota
	stateConnecting
	stateConnected
	stateDisconnecting
)

const defaultConnectTimeout = 30 * time.Second

// Client is the single-threaded-cooperative MQTT 3.1/3.1.1 connection:
// one instance owns exactly one transport, one session, and the
// dispatcher/pinger pair driving it. Every exported method is expected to
// be called from the same goroutine; nothing here takes a lock.
type Client struct {
	cfg ClientConfig

	tables      *session.Tables
	dispatcher  *Dispatcher
	pinger      *keepalive.Pinger
	reassembly  *packet.ReassemblyBuffer
	logger      *zap.Logger
	metrics     *Metrics
	trace       *traceBuffer

	state        connState
	reconnecting bool
	tr           transport.Transport
	currentURI   string
	pumpDone     chan struct{}

	opts                 ConnectOptions
	uris                 []string
	hostIndex            int
	version              byte
	versionFallbackTried bool

	connectTimer      *time.Timer
	reconnectTimer    *time.Timer
	reconnectInterval time.Duration

	subscribeRequests   map[uint16]*subscribeRequest
	unsubscribeRequests map[uint16]*unsubscribeRequest

	OnConnectionLost func(err *Error)
	OnMessageDelivered func(*ApplicationMessage)
	OnMessageArrived   func(*ApplicationMessage)
	OnConnected        func(reconnect bool, uri string)
}

type subscribeRequest struct {
	onSuccess func([]packet.SubscribeReturnCode)
	onFailure func(err *Error)
	timer     *time.Timer
}

type unsubscribeRequest struct {
	onSuccess func()
	onFailure func(err *Error)
	timer     *time.Timer
}

// NewClient builds a Client that has not yet connected.
func NewClient(cfg ClientConfig, opts ...func(*Client)) *Client {
	if err := validateClientID(cfg.ClientID); err != nil {
		panic(err)
	}
	tables := session.New()
	c := &Client{
		cfg:                 cfg,
		tables:              tables,
		dispatcher:          newDispatcher(cfg.URI, cfg.ClientID, tables, cfg.Persistence),
		reassembly:          packet.NewReassemblyBuffer(),
		trace:               newTraceBuffer(),
		subscribeRequests:   make(map[uint16]*subscribeRequest),
		unsubscribeRequests: make(map[uint16]*unsubscribeRequest),
	}
	c.dispatcher.OnMessageDelivered = func(m *ApplicationMessage) {
		if c.OnMessageDelivered != nil {
			c.OnMessageDelivered(m)
		}
	}
	c.dispatcher.OnMessageArrived = func(m *ApplicationMessage) {
		if c.OnMessageArrived != nil {
			c.OnMessageArrived(m)
		}
	}
	logger, _ := NewLogger(LogConfig{})
	c.logger = logger
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With(zap.String("client_id", cfg.ClientID))
	return c
}

// WithMetrics attaches Prometheus metrics to a Client under construction.
func WithMetrics(m *Metrics) func(*Client) {
	return func(c *Client) {
		c.metrics = m
		c.dispatcher.SetMetrics(m)
	}
}

// WithLogger overrides the default development logger.
func WithLogger(l *zap.Logger) func(*Client) {
	return func(c *Client) { c.logger = l }
}

// WithLogConfig builds a logger from cfg and attaches it, falling back to
// the development logger already set on NewClient if cfg fails to build.
func WithLogConfig(cfg LogConfig) func(*Client) {
	return func(c *Client) {
		if l, err := NewLogger(cfg); err == nil {
			c.logger = l
		}
	}
}

// IsConnected reports whether the client currently believes it holds a
// live session.
func (c *Client) IsConnected() bool { return c.state == stateConnected }

// StartTrace/StopTrace/GetTraceLog implement the trace surface spec.md
// §6 names.
func (c *Client) StartTrace()            { c.trace.start() }
func (c *Client) StopTrace()             { c.trace.stop() }
func (c *Client) GetTraceLog() []TraceEntry { return c.trace.log() }

// Connect validates opts, builds the candidate URI list, and begins
// dialing the first host.
func (c *Client) Connect(opts ConnectOptions) error {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if len(opts.URIs) == 0 && len(opts.Hosts) == 0 && c.cfg.URI != "" {
		opts.URIs = []string{c.cfg.URI}
	}
	if err := validateConnectOptions(&opts); err != nil {
		return err
	}

	uris, err := buildURIList(&opts, c.cfg.URI)
	if err != nil {
		return err
	}

	c.opts = opts
	c.uris = uris
	c.hostIndex = 0
	c.versionFallbackTried = false
	c.reconnecting = false
	c.dispatcher.SetReconnecting(false)
	c.version = opts.MQTTVersion
	if c.version == 0 {
		c.version = 4
	}
	c.reconnectInterval = time.Second
	c.dispatcher.DisconnectedPublishing = opts.DisconnectedPublishing
	c.dispatcher.DisconnectedBufferSize = opts.DisconnectedBufferSize

	return c.dialCurrentHost()
}

func (c *Client) dialCurrentHost() error {
	c.state = stateConnecting
	uri := c.uris[c.hostIndex]
	c.currentURI = uri
	c.logger.Info("dialing", zap.String("uri", uri), zap.Uint8("mqttVersion", c.version))

	subprotocol := "mqtt"
	if c.version == 3 {
		subprotocol = "mqttv3.1"
	}

	factory := c.cfg.TransportFactory
	if factory == nil {
		factory = transport.WSDialer{}.Dial
	}

	timeout := time.Duration(c.opts.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	c.connectTimer = time.AfterFunc(timeout, c.handleConnectTimeout)

	ctx := context.Background()
	tr, err := factory(ctx, uri, subprotocol, transport.Callbacks{
		OnOpen:    c.handleOpen,
		OnMessage: c.handleMessage,
		OnError:   c.handleError,
		OnClose:   c.handleClose,
	})
	if err != nil {
		c.handleError(err)
		return nil
	}
	c.tr = tr
	return nil
}

func (c *Client) handleOpen() {
	c.trace.record("debug", "transport open uri="+c.currentURI)

	connect := &packet.Connect{
		ProtocolVersion: c.version,
		CleanSession:    c.opts.CleanSession,
		KeepAlive:       uint16(c.opts.KeepAliveInterval),
		ClientID:        c.cfg.ClientID,
	}
	if c.opts.WillMessage != nil {
		connect.WillFlag = true
		connect.WillTopic = c.opts.WillMessage.DestinationName
		connect.WillPayload = c.opts.WillMessage.Payload
		connect.WillQoS = c.opts.WillMessage.QoS
		connect.WillRetain = c.opts.WillMessage.Retained
	}
	if c.opts.UserName != "" {
		connect.HasUserName = true
		connect.UserName = c.opts.UserName
		if c.opts.Password != "" {
			connect.HasPassword = true
			connect.Password = c.opts.Password
		}
	}

	data, err := packToBytes(connect)
	if err != nil {
		c.fail(NewError(CodeInternalError, "encode CONNECT: %v", err))
		return
	}
	if err := c.tr.Send(data); err != nil {
		c.handleError(err)
		return
	}

	if c.pinger != nil {
		c.pinger.Stop()
	}
	c.pinger = keepalive.New(time.Duration(c.opts.KeepAliveInterval) * time.Second)
	c.pinger.OnPing = c.sendPing
	c.pinger.OnTimeout = func() { c.disconnected(CodePingTimeout, "ping timeout") }
	c.pumpDone = make(chan struct{})
	go c.pumpPinger(c.pinger, c.pumpDone)
	c.pinger.Reset()
}

// pumpPinger funnels the Pinger's timer-goroutine signal back onto
// whatever goroutine is driving this Client; callers embedding Client in
// their own single-threaded executor should instead select on
// c.pinger.C() themselves and call c.pinger.Fire(). It exits once done is
// closed by teardownTransport, so a reconnect never accumulates pumps.
func (c *Client) pumpPinger(p *keepalive.Pinger, done chan struct{}) {
	for {
		select {
		case <-p.C():
			p.Fire()
		case <-done:
			return
		}
	}
}

func (c *Client) sendPing() {
	data, err := packToBytes(&packet.Pingreq{})
	if err != nil {
		return
	}
	if c.tr != nil {
		_ = c.tr.Send(data)
	}
}

func (c *Client) handleMessage(data []byte) {
	if c.metrics != nil {
		c.metrics.BytesReceived.Add(float64(len(data)))
	}
	pkts, err := c.reassembly.Feed(data)
	if c.metrics != nil {
		c.metrics.PacketsReceived.Add(float64(len(pkts)))
	}
	if err != nil {
		c.disconnected(CodeInternalError, "malformed frame: "+err.Error())
		return
	}
	for _, pkt := range pkts {
		c.routePacket(pkt)
	}
}

func (c *Client) routePacket(pkt packet.Packet) {
	switch p := pkt.(type) {
	case *packet.Connack:
		c.handleConnack(p)
	case *packet.Publish:
		_ = c.dispatcher.HandleInboundPublish(p)
	case *packet.Puback:
		c.dispatcher.HandlePuback(p.PacketID)
	case *packet.Pubrec:
		_ = c.dispatcher.HandlePubrec(p.PacketID)
	case *packet.Pubrel:
		_ = c.dispatcher.HandlePubrel(p.PacketID)
	case *packet.Pubcomp:
		c.dispatcher.HandlePubcomp(p.PacketID)
	case *packet.Suback:
		c.handleSuback(p)
	case *packet.Unsuback:
		c.handleUnsuback(p)
	case *packet.Pingresp:
		if c.pinger != nil {
			c.pinger.Reset()
		}
	case *packet.Disconnect:
		c.disconnected(CodeInvalidMQTTMessageType, "unexpected DISCONNECT from peer")
	}
}

func (c *Client) handleConnack(p *packet.Connack) {
	if c.connectTimer != nil {
		c.connectTimer.Stop()
		c.connectTimer = nil
	}

	if c.opts.CleanSession {
		c.dispatcher.WipeSession()
	}

	if p.ReturnCode != packet.ConnectAccepted {
		c.logger.Warn("connack refused", zap.String("returnCode", p.ReturnCode.String()))
		c.disconnected(CodeConnackReturnCode, p.ReturnCode.String())
		return
	}

	c.logger.Info("connected", zap.String("uri", c.currentURI), zap.Bool("sessionPresent", p.SessionPresent))
	wasReconnect := c.reconnecting
	c.state = stateConnected
	c.reconnecting = false
	c.hostIndex = len(c.uris) // pin: stop further failover
	c.reconnectInterval = time.Second

	tr := c.tr
	c.dispatcher.SetTransport(func(data []byte) error {
		err := tr.Send(data)
		if err == nil && c.pinger != nil {
			c.pinger.Reset()
		}
		return err
	})
	c.dispatcher.SetReconnecting(false)

	if c.metrics != nil {
		c.metrics.Connected.Set(1)
	}

	if c.opts.OnSuccess != nil {
		c.opts.OnSuccess()
	}
	if c.OnConnected != nil {
		c.OnConnected(wasReconnect, c.currentURI)
	}

	_ = c.dispatcher.ReplayAfterConnect()
}

// disconnected is `_disconnected`: the single funnel every protocol and
// transport failure passes through, whether it happens before the first
// CONNACK (a refused CONNACK, a dial error, a connect timeout) or after
// a session was already established. It tears the current transport
// down and then picks exactly one of: try the next URI/version, enter
// the reconnect backoff loop, or surface onFailure to the original
// connect caller.
func (c *Client) disconnected(code Code, text string) {
	c.teardownTransport()

	wasConnected := c.state == stateConnected
	wasReconnecting := c.reconnecting
	c.state = stateIdle
	if c.metrics != nil {
		c.metrics.Connected.Set(0)
	}

	if wasConnected {
		if c.OnConnectionLost != nil {
			c.OnConnectionLost(NewError(code, "%s", text))
		}
		if c.opts.Reconnect {
			c.scheduleReconnect()
		}
		return
	}

	if wasReconnecting {
		// A dial or CONNACK failure during an automatic reconnect attempt
		// never got back to Connected this cycle. Stay in the backoff
		// loop and keep doubling instead of falling through to host/version
		// failover or onFailure, or the loop would die on the first flaky
		// retry rather than the configured Reconnect policy deciding when
		// to give up.
		c.scheduleReconnect()
		return
	}

	if c.hostIndex+1 < len(c.uris) {
		c.hostIndex++
		_ = c.dialCurrentHost()
		return
	}

	if c.version == 4 && !c.opts.MQTTVersionExplicit && !c.versionFallbackTried {
		c.versionFallbackTried = true
		c.version = 3
		c.hostIndex = 0
		_ = c.dialCurrentHost()
		return
	}

	c.fail(NewError(code, "%s", text))
}

func (c *Client) handleError(err error) {
	if e, ok := err.(*Error); ok {
		c.disconnected(e.Code, e.Text)
		return
	}
	c.disconnected(CodeSocketError, err.Error())
}

func (c *Client) handleClose() {
	c.disconnected(CodeSocketClose, "transport closed")
}

func (c *Client) handleConnectTimeout() {
	c.disconnected(CodeConnectTimeout, "no CONNACK within timeout")
}

// scheduleReconnect enters Reconnecting and arms the backoff timer;
// callers must already have confirmed reconnect=true and a prior
// Connected session.
func (c *Client) scheduleReconnect() {
	c.reconnecting = true
	c.dispatcher.SetReconnecting(true)
	if c.metrics != nil {
		c.metrics.Reconnects.Inc()
	}
	c.logger.Warn("connection lost, scheduling reconnect", zap.Duration("in", c.reconnectInterval))
	c.reconnectTimer = time.AfterFunc(c.reconnectInterval, func() {
		c.hostIndex = 0
		_ = c.dialCurrentHost()
	})
	c.reconnectInterval *= 2
	if c.reconnectInterval > 128*time.Second {
		c.reconnectInterval = 128 * time.Second
	}
}

func (c *Client) fail(err *Error) {
	c.state = stateIdle
	if c.opts.OnFailure != nil {
		c.opts.OnFailure(err)
	}
}

func (c *Client) teardownTransport() {
	if c.pumpDone != nil {
		close(c.pumpDone)
		c.pumpDone = nil
	}
	if c.pinger != nil {
		c.pinger.Stop()
		c.pinger = nil
	}
	if c.connectTimer != nil {
		c.connectTimer.Stop()
		c.connectTimer = nil
	}
	c.dispatcher.SetTransport(nil)
	c.reassembly.Reset()
	if c.tr != nil {
		_ = c.tr.Close()
		c.tr = nil
	}
}

// Disconnect sends DISCONNECT and tears the session down immediately,
// per spec.md's onDispatched-transitions-first rule: the state flips to
// idle even if the subsequent close fails.
func (c *Client) Disconnect() error {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.state = stateDisconnecting
	if c.tr != nil {
		data, err := packToBytes(&packet.Disconnect{})
		if err == nil {
			_ = c.tr.Send(data)
		}
	}
	c.state = stateIdle
	c.reconnecting = false
	c.dispatcher.SetReconnecting(false)
	c.teardownTransport()
	if c.metrics != nil {
		c.metrics.Connected.Set(0)
	}
	return nil
}

// Publish sends an application message; see Dispatcher.Publish for the
// per-QoS semantics.
func (c *Client) Publish(msg ApplicationMessage) error {
	if err := validatePublishTopic(msg.DestinationName); err != nil {
		return err
	}
	if msg.QoS > 2 {
		return NewError(CodeInvalidArgument, "qos %d out of range", msg.QoS)
	}
	return c.dispatcher.Publish(msg)
}

// Subscribe requests one or more topic filters.
func (c *Client) Subscribe(subs []packet.Subscription, timeout time.Duration, onSuccess func([]packet.SubscribeReturnCode), onFailure func(*Error)) error {
	if !c.IsConnected() {
		return NewError(CodeInvalidState, "not connected")
	}
	for _, s := range subs {
		if err := validateTopicFilter(s.TopicFilter); err != nil {
			return err
		}
	}
	id, ok := c.tables.NextID()
	if !ok {
		return NewError(CodeInternalError, "no free packet identifier")
	}
	c.tables.PutOutbound(&session.OutboundRecord{PacketID: id, Reserved: true})
	pkt := &packet.Subscribe{PacketID: id, Subscriptions: subs}
	data, err := packToBytes(pkt)
	if err != nil {
		c.tables.RemoveOutbound(id)
		return err
	}

	req := &subscribeRequest{onSuccess: onSuccess, onFailure: onFailure}
	if timeout > 0 {
		req.timer = time.AfterFunc(timeout, func() {
			delete(c.subscribeRequests, id)
			c.tables.RemoveOutbound(id)
			if onFailure != nil {
				onFailure(NewError(CodeSubscribeTimeout, "SUBSCRIBE %d timed out", id))
			}
		})
	}
	c.subscribeRequests[id] = req

	c.dispatcher.schedule(frame{data: data, onDispatched: func() { c.dispatcher.countSent(len(data)) }})
	return c.dispatcher.processQueue()
}

func (c *Client) handleSuback(p *packet.Suback) {
	req, ok := c.subscribeRequests[p.PacketID]
	if !ok {
		return
	}
	delete(c.subscribeRequests, p.PacketID)
	c.tables.RemoveOutbound(p.PacketID)
	if req.timer != nil {
		req.timer.Stop()
	}

	for _, rc := range p.ReturnCodes {
		if rc == packet.SubscribeFailure {
			if req.onFailure != nil {
				req.onFailure(NewError(CodeConnackReturnCode, "subscribe rejected"))
			}
			return
		}
	}
	if req.onSuccess != nil {
		req.onSuccess(p.ReturnCodes)
	}
}

// Unsubscribe requests removal of one or more topic filters.
func (c *Client) Unsubscribe(filters []string, timeout time.Duration, onSuccess func(), onFailure func(*Error)) error {
	if !c.IsConnected() {
		return NewError(CodeInvalidState, "not connected")
	}
	id, ok := c.tables.NextID()
	if !ok {
		return NewError(CodeInternalError, "no free packet identifier")
	}
	c.tables.PutOutbound(&session.OutboundRecord{PacketID: id, Reserved: true})
	pkt := &packet.Unsubscribe{PacketID: id, TopicFilters: filters}
	data, err := packToBytes(pkt)
	if err != nil {
		c.tables.RemoveOutbound(id)
		return err
	}

	req := &unsubscribeRequest{onSuccess: onSuccess, onFailure: onFailure}
	if timeout > 0 {
		req.timer = time.AfterFunc(timeout, func() {
			delete(c.unsubscribeRequests, id)
			c.tables.RemoveOutbound(id)
			if onFailure != nil {
				onFailure(NewError(CodeUnsubscribeTimeout, "UNSUBSCRIBE %d timed out", id))
			}
		})
	}
	c.unsubscribeRequests[id] = req

	c.dispatcher.schedule(frame{data: data, onDispatched: func() { c.dispatcher.countSent(len(data)) }})
	return c.dispatcher.processQueue()
}

func (c *Client) handleUnsuback(p *packet.Unsuback) {
	req, ok := c.unsubscribeRequests[p.PacketID]
	if !ok {
		return
	}
	delete(c.unsubscribeRequests, p.PacketID)
	c.tables.RemoveOutbound(p.PacketID)
	if req.timer != nil {
		req.timer.Stop()
	}
	if req.onSuccess != nil {
		req.onSuccess()
	}
}

// buildURIList implements the spec's either-uris-or-hosts×ports×path
// construction, wrapping IPv6 hosts in brackets and choosing ws:// vs
// wss:// from UseSSL.
func buildURIList(opts *ConnectOptions, fallback string) ([]string, error) {
	if len(opts.URIs) > 0 {
		return opts.URIs, nil
	}
	if len(opts.Hosts) == 0 {
		if fallback == "" {
			return nil, NewError(CodeInvalidArgument, "no uris, hosts, or default uri available")
		}
		return []string{fallback}, nil
	}

	scheme := "ws"
	if opts.UseSSL {
		scheme = "wss"
	}
	path := opts.Path
	if path == "" {
		path = "/mqtt"
	}

	uris := make([]string, 0, len(opts.Hosts))
	for i, host := range opts.Hosts {
		if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
			host = "[" + host + "]"
		}
		u := url.URL{Scheme: scheme, Host: net.JoinHostPort(host, strconv.Itoa(opts.Ports[i])), Path: path}
		uris = append(uris, u.String())
	}
	return uris, nil
}
