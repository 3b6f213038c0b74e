package protomq

import (
	"errors"
	"sync"
	"time"
)

// Authenticator drives one side of an MQTT 5.0 enhanced
// authentication exchange. On a client-role session Respond is
// called with nil to produce the initial authentication data for
// CONNECT, then once per AUTH challenge from the server. On a
// server-role session Respond consumes the client's data and
// produces each challenge, with Done reporting when the exchange has
// concluded and the CONNACK may carry the final data.
type Authenticator interface {
	// Method returns the authentication method name announced in
	// CONNECT.
	Method() string

	// Respond consumes the peer's challenge data and returns the
	// next authentication data to send.
	Respond(challenge []byte) ([]byte, error)

	// Done reports whether the exchange has concluded.
	Done() bool
}

// Session is the protocol engine for one MQTT connection. It owns no
// socket and starts no goroutines: the caller feeds it raw inbound
// bytes, drains the encoded frames it queues, and drives its timers
// with Tick. The same engine serves both roles; WithRole selects which
// side of the handshake it plays.
//
// All methods are safe for concurrent use. Handlers run synchronously
// on the calling goroutine with the session lock released.
type Session struct {
	mu   sync.Mutex
	opts *sessionOptions
	log  Logger

	state   SessionState
	version ProtocolVersion

	decoder *Decoder
	ids     *PacketIDManager
	flow    *FlowController
	tracker *DeliveryTracker
	keep    *KeepAliveMonitor
	aliases *TopicAliasManager

	clientID      string
	subscriptions map[string]Subscription
	// CONNECT held open while a server-role auth exchange runs.
	pendingConnect *ConnectPacket
	pendingSubs   map[uint16][]Subscription
	pendingUnsubs map[uint16][]string

	// Publishes holding a packet identifier but waiting for send quota.
	quotaQueue []*queuedPublish

	outbox [][]byte
	ready  chan struct{}
	fatal  error

	clock func() time.Time
}

type queuedPublish struct {
	packetID uint16
	qos      byte
	frame    []byte
	msg      *Message
	// restored carries the prior in-flight state when the publish came
	// out of a session snapshot rather than a fresh Publish call.
	restored *OutboundFlow
}

// NewSession creates a session with the given options. The session
// starts in StateUnconnected; a client role calls Connect, a server
// role waits for the peer's CONNECT to arrive via Feed.
func NewSession(opts ...SessionOption) *Session {
	o := defaultSessionOptions()
	for _, opt := range opts {
		opt(o)
	}

	s := &Session{
		opts:          o,
		log:           o.logger,
		state:         StateUnconnected,
		version:       o.version,
		decoder:       NewDecoder(o.version, o.maxPacketSize),
		ids:           NewPacketIDManager(),
		flow:          NewFlowController(o.receiveMaximum),
		tracker:       NewDeliveryTracker(o.retryInterval, o.backoff, o.maxRetries),
		aliases:       NewTopicAliasManager(o.topicAliasMax, 0),
		clientID:      o.clientID,
		subscriptions: make(map[string]Subscription),
		pendingSubs:   make(map[uint16][]Subscription),
		pendingUnsubs: make(map[uint16][]string),
		ready:         make(chan struct{}, 1),
		clock:         time.Now,
	}
	s.keep = NewKeepAliveMonitor(o.keepAlive, o.role, s.clock())
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Version returns the protocol version in effect. For a server-role
// session this is settled by the peer's CONNECT.
func (s *Session) Version() ProtocolVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Role returns the session role.
func (s *Session) Role() Role { return s.opts.role }

// ClientID returns the client identifier, including one assigned by the
// server during the handshake.
func (s *Session) ClientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID
}

// Err returns the error that closed the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

// Subscriptions returns the active subscriptions, in no particular
// order.
func (s *Session) Subscriptions() []Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := make([]Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		subs = append(subs, sub)
	}
	return subs
}

// InFlight returns the number of outbound QoS > 0 deliveries awaiting
// acknowledgment.
func (s *Session) InFlight() int {
	return s.tracker.OutboundCount()
}

// OutboundReady returns a channel that receives a signal whenever new
// frames are queued for the transport.
func (s *Session) OutboundReady() <-chan struct{} { return s.ready }

// PollOutbound drains and returns the frames queued for the transport,
// oldest first. It returns nil when nothing is pending.
func (s *Session) PollOutbound() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	frames := s.outbox
	s.outbox = nil
	return frames
}

// Connect starts the handshake for a client-role session: it queues the
// CONNECT frame and moves to StateConnecting. The handshake completes
// when the peer's CONNACK arrives via Feed.
func (s *Session) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.role != RoleClient {
		return violationf("server-role session cannot originate CONNECT")
	}
	if s.state == StateConnected || s.state == StateConnecting {
		return ErrAlreadyConnected
	}
	if !canTransition(s.state, StateConnecting) {
		return ErrSessionClosed
	}

	connect := &ConnectPacket{
		ClientID:   s.opts.clientID,
		CleanStart: s.opts.cleanStart,
		KeepAlive:  s.opts.keepAlive,
		Username:   s.opts.username,
		Password:   s.opts.password,
	}
	if s.opts.will != nil {
		if err := s.opts.will.Validate(); err != nil {
			return err
		}
		s.opts.will.ApplyToConnect(connect, s.version)
	}
	if s.version == Version5 {
		if s.opts.receiveMaximum != 65535 {
			connect.Props.Set(PropReceiveMaximum, s.opts.receiveMaximum)
		}
		if s.opts.sessionExpiry != 0 {
			connect.Props.Set(PropSessionExpiryInterval, s.opts.sessionExpiry)
		}
		if s.opts.topicAliasMax > 0 {
			connect.Props.Set(PropTopicAliasMaximum, s.opts.topicAliasMax)
		}
		if s.opts.auth != nil {
			initial, err := s.opts.auth.Respond(nil)
			if err != nil {
				return err
			}
			connect.Props.Set(PropAuthenticationMethod, s.opts.auth.Method())
			if len(initial) > 0 {
				connect.Props.Set(PropAuthenticationData, initial)
			}
		}
	}

	frame, err := EncodePacket(connect, s.version)
	if err != nil {
		return err
	}

	s.state = StateConnecting
	s.fatal = nil
	s.enqueue(frame, s.clock())
	s.log.Debug("connect queued", LogFields{
		LogFieldClientID: s.clientID,
		LogFieldVersion:  s.version.String(),
	})
	return nil
}

// Feed consumes raw bytes from the transport, decoding and dispatching
// every complete packet they finish. A partial packet is held until
// later Feed calls complete it. The returned error, when non-nil, is
// fatal: the session is closed and the transport should be torn down.
func (s *Session) Feed(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		if s.fatal != nil {
			return s.fatal
		}
		return ErrSessionClosed
	}

	now := s.clock()
	s.decoder.Feed(data)

	for {
		packet, _, err := s.decoder.Next()
		if err != nil {
			return s.failConnection(err, ReasonMalformedPacket, now)
		}
		if packet == nil {
			return nil
		}

		s.keep.TouchInbound(now)
		if err := s.handlePacket(packet, now); err != nil {
			return err
		}
		if s.state == StateClosed {
			return s.fatal
		}
	}
}

// Tick drives the session's timers from the supplied clock reading:
// keep-alive pings and expiry, retransmission of unacknowledged
// deliveries, and pruning of the completed-identifier cache. Callers
// run it on whatever cadence suits their event loop.
func (s *Session) Tick(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return s.fatal
	}
	if s.state != StateConnected {
		return nil
	}

	if s.keep.Expired(now) {
		s.log.Warn("keep-alive expired", LogFields{
			LogFieldClientID: s.clientID,
		})
		s.closeLocked(ErrKeepAliveTimeout)
		return ErrKeepAliveTimeout
	}

	if s.keep.PingDue(now) {
		if frame, err := EncodePacket(&PingreqPacket{}, s.version); err == nil {
			s.outbox = append(s.outbox, frame)
			s.signal()
			s.keep.MarkPingSent(now)
		}
	}

	for _, frame := range s.tracker.Retries(now) {
		s.outbox = append(s.outbox, frame)
		s.signal()
		s.keep.TouchOutbound(now)
	}

	for _, flow := range s.tracker.Abandoned(now) {
		s.log.Warn("delivery abandoned after max retries", LogFields{
			LogFieldPacketID: flow.PacketID,
			LogFieldQoS:      flow.QoS,
		})
		_ = s.ids.Release(flow.PacketID)
		s.flow.Release()
	}
	s.flushQuotaQueue(now)

	s.tracker.PruneCompleted(now)
	return nil
}

// Publish queues an application message for delivery. QoS 0 frames go
// straight to the outbox. QoS 1 and 2 messages claim a packet
// identifier and enter the acknowledgment machinery; when the peer's
// receive maximum is saturated the frame waits in an internal queue
// until quota frees. The returned identifier is 0 for QoS 0.
//
// Exhaustion of the identifier space is reported as
// ErrPacketIDExhausted; the session stays healthy and the caller may
// retry after a delivery completes.
func (s *Session) Publish(msg *Message) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnected {
		if s.state == StateClosed {
			return 0, ErrSessionClosed
		}
		return 0, ErrNotConnected
	}
	if err := ValidateTopicName(msg.Topic); err != nil {
		return 0, err
	}
	if msg.QoS > 2 {
		return 0, ErrInvalidQoS
	}

	now := s.clock()
	pub := &PublishPacket{}
	pub.FromMessage(msg)

	if msg.QoS == 0 {
		// Outbound topic aliasing is confined to QoS 0: retransmitted
		// and resumed QoS 1/2 frames must carry the full topic because
		// aliases do not survive the connection.
		if s.version == Version5 {
			if alias, established := s.aliases.Outbound(msg.Topic); alias > 0 {
				pub.Props.Set(PropTopicAlias, alias)
				if established {
					pub.Topic = ""
				}
			}
		}
		frame, err := EncodePacket(pub, s.version)
		if err != nil {
			return 0, err
		}
		s.enqueue(frame, now)
		return 0, nil
	}

	id, err := s.ids.Allocate()
	if err != nil {
		return 0, err
	}
	pub.PacketID = id

	frame, err := EncodePacket(pub, s.version)
	if err != nil {
		_ = s.ids.Release(id)
		return 0, err
	}

	if !s.flow.TryAcquire() {
		// Peer's receive maximum is saturated. Hold the frame; the
		// next completed delivery releases quota and flushes it.
		s.quotaQueue = append(s.quotaQueue, &queuedPublish{
			packetID: id,
			qos:      msg.QoS,
			frame:    frame,
			msg:      msg,
		})
		s.log.Debug("publish queued on receive maximum", LogFields{
			LogFieldPacketID: id,
			LogFieldTopic:    msg.Topic,
		})
		return id, nil
	}

	s.tracker.TrackPublish(id, msg.QoS, frame, msg, now)
	s.enqueue(frame, now)
	return id, nil
}

// Subscribe queues a SUBSCRIBE for the given subscriptions and returns
// its packet identifier. The subscriptions become active when the
// peer's SUBACK grants them.
func (s *Session) Subscribe(subs ...Subscription) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnected {
		if s.state == StateClosed {
			return 0, ErrSessionClosed
		}
		return 0, ErrNotConnected
	}
	if len(subs) == 0 {
		return 0, ErrNoTopicFilters
	}
	for _, sub := range subs {
		if err := ValidateTopicFilter(sub.TopicFilter); err != nil {
			return 0, err
		}
	}

	id, err := s.ids.Allocate()
	if err != nil {
		return 0, err
	}

	packet := &SubscribePacket{PacketID: id, Subscriptions: subs}
	frame, err := EncodePacket(packet, s.version)
	if err != nil {
		_ = s.ids.Release(id)
		return 0, err
	}

	s.pendingSubs[id] = subs
	s.enqueue(frame, s.clock())
	return id, nil
}

// Unsubscribe queues an UNSUBSCRIBE for the given filters and returns
// its packet identifier. The filters are dropped when the peer's
// UNSUBACK arrives.
func (s *Session) Unsubscribe(filters ...string) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnected {
		if s.state == StateClosed {
			return 0, ErrSessionClosed
		}
		return 0, ErrNotConnected
	}
	if len(filters) == 0 {
		return 0, ErrNoTopicFilters
	}

	id, err := s.ids.Allocate()
	if err != nil {
		return 0, err
	}

	packet := &UnsubscribePacket{PacketID: id, TopicFilters: filters}
	frame, err := EncodePacket(packet, s.version)
	if err != nil {
		_ = s.ids.Release(id)
		return 0, err
	}

	s.pendingUnsubs[id] = filters
	s.enqueue(frame, s.clock())
	return id, nil
}

// Disconnect queues an orderly DISCONNECT and closes the session. The
// caller should flush the outbox before tearing down the transport so
// the frame reaches the peer.
func (s *Session) Disconnect(reason ReasonCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnected {
		if s.state == StateClosed {
			return ErrSessionClosed
		}
		return ErrNotConnected
	}

	disconnect := &DisconnectPacket{}
	if s.version == Version5 {
		disconnect.ReasonCode = reason
	}
	if frame, err := EncodePacket(disconnect, s.version); err == nil {
		s.outbox = append(s.outbox, frame)
		s.signal()
	}

	s.state = StateDisconnecting
	s.closeLocked(nil)
	return nil
}

// Close tears the session down without a DISCONNECT exchange, as after
// a transport failure. Persistent sessions snapshot their in-flight
// state to the configured store first.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return ErrSessionClosed
	}
	s.closeLocked(nil)
	return nil
}

// handlePacket dispatches one decoded packet according to session state
// and role. Returned errors are fatal and the session is already closed
// when they surface.
func (s *Session) handlePacket(packet Packet, now time.Time) error {
	switch s.state {
	case StateConnecting:
		switch p := packet.(type) {
		case *ConnackPacket:
			if s.opts.role != RoleClient {
				return s.violation("CONNACK received by server-role session", now)
			}
			return s.handleConnack(p, now)
		case *ConnectPacket:
			return s.violation("CONNECT repeated during handshake", now)
		case *AuthPacket:
			return s.handleAuth(p, now)
		default:
			return s.violation("packet before handshake completion", now)
		}

	case StateUnconnected:
		if connect, ok := packet.(*ConnectPacket); ok && s.opts.role == RoleServer {
			return s.handleConnect(connect, now)
		}
		return s.violation("packet before CONNECT", now)

	case StateConnected, StateDisconnecting:
		switch p := packet.(type) {
		case *ConnectPacket:
			return s.violation("second CONNECT on live connection", now)
		case *ConnackPacket:
			return s.violation("unexpected CONNACK", now)
		case *PublishPacket:
			return s.handlePublish(p, now)
		case *PubackPacket:
			return s.handlePuback(p, now)
		case *PubrecPacket:
			return s.handlePubrec(p, now)
		case *PubrelPacket:
			return s.handlePubrel(p, now)
		case *PubcompPacket:
			return s.handlePubcomp(p, now)
		case *SubscribePacket:
			return s.handleSubscribe(p, now)
		case *SubackPacket:
			return s.handleSuback(p)
		case *UnsubscribePacket:
			return s.handleUnsubscribe(p, now)
		case *UnsubackPacket:
			return s.handleUnsuback(p)
		case *PingreqPacket:
			return s.handlePingreq(now)
		case *PingrespPacket:
			s.keep.MarkPingAcked(now)
			return nil
		case *DisconnectPacket:
			return s.handleDisconnect(p)
		case *AuthPacket:
			return s.handleAuth(p, now)
		default:
			return s.violation("unhandled packet type", now)
		}

	default:
		return s.violation("packet on closed session", now)
	}
}

func (s *Session) handleConnect(connect *ConnectPacket, now time.Time) error {
	s.state = StateConnecting
	s.version = connect.Version
	s.decoder.version = connect.Version
	s.clientID = connect.ClientID
	s.keep = NewKeepAliveMonitor(connect.KeepAlive, RoleServer, now)

	if s.version == Version5 {
		if rm := connect.Props.GetUint16(PropReceiveMaximum); rm > 0 {
			s.flow.SetPeerMaximum(rm)
		}
		s.aliases.Reset()
		s.aliases.SetOutboundMax(connect.Props.GetUint16(PropTopicAliasMaximum))
	}

	if s.version == Version5 && s.opts.auth != nil && connect.Props.Has(PropAuthenticationMethod) {
		if connect.Props.GetString(PropAuthenticationMethod) != s.opts.auth.Method() {
			return s.refuseConnect(ReasonBadAuthMethod, now)
		}
		data, err := s.opts.auth.Respond(connect.Props.GetBinary(PropAuthenticationData))
		if err != nil {
			return s.refuseConnect(ReasonNotAuthorized, now)
		}
		if !s.opts.auth.Done() {
			reply := &AuthPacket{ReasonCode: ReasonContinueAuth}
			reply.Props.Set(PropAuthenticationMethod, s.opts.auth.Method())
			if len(data) > 0 {
				reply.Props.Set(PropAuthenticationData, data)
			}
			frame, err := EncodePacket(reply, s.version)
			if err != nil {
				s.closeLocked(err)
				return err
			}
			s.pendingConnect = connect
			s.enqueue(frame, now)
			return nil
		}
		return s.finishConnect(connect, data, now)
	}

	return s.finishConnect(connect, nil, now)
}

// refuseConnect answers CONNECT with a refusal and closes the session.
func (s *Session) refuseConnect(reason ReasonCode, now time.Time) error {
	connack := &ConnackPacket{
		ReasonCode: reason,
		ReturnCode: reason.ReturnCode(),
	}
	if frame, err := EncodePacket(connack, s.version); err == nil {
		s.enqueue(frame, now)
	}
	err := &ConnectError{ReasonCode: reason, ReturnCode: connack.ReturnCode}
	s.closeLocked(err)
	return err
}

// finishConnect settles the server side of the handshake once any auth
// exchange has concluded: the accept decision, session resumption, and
// the CONNACK.
func (s *Session) finishConnect(connect *ConnectPacket, authData []byte, now time.Time) error {
	reason := ReasonSuccess
	if s.opts.onConnect != nil {
		reason = s.callConnectHandler(connect)
	}

	connack := &ConnackPacket{
		ReasonCode: reason,
		ReturnCode: reason.ReturnCode(),
	}

	var snapshot *SessionSnapshot
	if reason == ReasonSuccess && !connect.CleanStart && s.opts.store != nil {
		if snap, err := s.opts.store.Load(connect.ClientID); err == nil && snap.Version == s.version {
			snapshot = snap
			connack.SessionPresent = true
		}
	}
	if connect.CleanStart && s.opts.store != nil {
		_ = s.opts.store.Delete(connect.ClientID)
	}

	if s.version == Version5 && s.opts.receiveMaximum != 65535 {
		connack.Props.Set(PropReceiveMaximum, s.opts.receiveMaximum)
	}
	if s.version == Version5 && s.opts.topicAliasMax > 0 {
		connack.Props.Set(PropTopicAliasMaximum, s.opts.topicAliasMax)
	}
	if s.version == Version5 && authData != nil {
		connack.Props.Set(PropAuthenticationMethod, s.opts.auth.Method())
		connack.Props.Set(PropAuthenticationData, authData)
	}

	frame, err := EncodePacket(connack, s.version)
	if err != nil {
		s.closeLocked(err)
		return err
	}
	s.outbox = append(s.outbox, frame)
	s.signal()
	s.keep.TouchOutbound(now)

	if reason != ReasonSuccess {
		err := &ConnectError{ReasonCode: reason, ReturnCode: connack.ReturnCode}
		s.closeLocked(err)
		return err
	}

	s.state = StateConnected
	if snapshot != nil {
		s.restoreSnapshot(snapshot, now)
	}
	s.log.Info("connection accepted", LogFields{
		LogFieldClientID: s.clientID,
		LogFieldVersion:  s.version.String(),
	})
	return nil
}

func (s *Session) handleConnack(connack *ConnackPacket, now time.Time) error {
	if !connack.Accepted(s.version) {
		err := &ConnectError{
			ReasonCode: connack.ReasonCode,
			ReturnCode: connack.ReturnCode,
		}
		if s.version == Version5 && connack.Props.Len() > 0 {
			err.Props = &connack.Props
		}
		s.closeLocked(err)
		return err
	}

	if s.version == Version5 {
		if rm := connack.Props.GetUint16(PropReceiveMaximum); rm > 0 {
			s.flow.SetPeerMaximum(rm)
		}
		s.aliases.Reset()
		s.aliases.SetOutboundMax(connack.Props.GetUint16(PropTopicAliasMaximum))
		if connack.Props.Has(PropServerKeepAlive) {
			// Server keep-alive overrides the requested interval.
			s.keep = NewKeepAliveMonitor(connack.Props.GetUint16(PropServerKeepAlive), RoleClient, now)
		}
		if assigned := connack.Props.GetString(PropAssignedClientIdentifier); assigned != "" && s.clientID == "" {
			s.clientID = assigned
		}
		if s.opts.auth != nil && connack.Props.Has(PropAuthenticationData) {
			// Server-final data rides in the CONNACK; verify it.
			if _, err := s.opts.auth.Respond(connack.Props.GetBinary(PropAuthenticationData)); err != nil {
				return s.failConnection(err, ReasonNotAuthorized, now)
			}
		}
	}

	s.state = StateConnected

	if connack.SessionPresent && !s.opts.cleanStart && s.opts.store != nil {
		if snap, err := s.opts.store.Load(s.clientID); err == nil && snap.Version == s.version {
			s.restoreSnapshot(snap, now)
		}
	}
	if !connack.SessionPresent && s.opts.store != nil {
		// The server discarded our state; drop ours to match.
		_ = s.opts.store.Delete(s.clientID)
	}

	s.log.Info("connected", LogFields{
		LogFieldClientID: s.clientID,
		LogFieldVersion:  s.version.String(),
	})
	return nil
}

func (s *Session) handlePublish(pub *PublishPacket, now time.Time) error {
	if err := pub.Validate(s.version); err != nil {
		return s.failConnection(err, ReasonMalformedPacket, now)
	}

	if s.version == Version5 && pub.Props.Has(PropTopicAlias) {
		alias := pub.Props.GetUint16(PropTopicAlias)
		if pub.Topic == "" {
			topic, err := s.aliases.ResolveInbound(alias)
			if err != nil {
				return s.failConnection(err, ReasonTopicAliasInvalid, now)
			}
			pub.Topic = topic
		} else if err := s.aliases.RegisterInbound(alias, pub.Topic); err != nil {
			return s.failConnection(err, ReasonTopicAliasInvalid, now)
		}
	}

	msg := pub.ToMessage()

	switch pub.QoS {
	case 0:
		s.deliver(msg)
		return nil

	case 1:
		puback := &PubackPacket{PacketID: pub.PacketID, ReasonCode: ReasonSuccess}
		frame, err := EncodePacket(puback, s.version)
		if err != nil {
			return err
		}
		s.deliver(msg)
		s.enqueue(frame, now)
		return nil

	default: // QoS 2
		if s.tracker.InboundCount() >= int(s.flow.LocalMaximum()) && !s.tracker.InboundActive(pub.PacketID) {
			return s.failConnection(violationf("inbound receive maximum exceeded"), ReasonReceiveMaxExceeded, now)
		}
		fresh := s.tracker.TrackReceive(pub.PacketID, msg, now)
		pubrec := &PubrecPacket{PacketID: pub.PacketID, ReasonCode: ReasonSuccess}
		frame, err := EncodePacket(pubrec, s.version)
		if err != nil {
			return err
		}
		if fresh {
			s.deliver(msg)
		}
		s.enqueue(frame, now)
		s.tracker.MarkPubrecSent(pub.PacketID)
		return nil
	}
}

func (s *Session) handlePuback(ack *PubackPacket, now time.Time) error {
	flow, err := s.tracker.HandlePuback(ack.PacketID)
	if err != nil {
		return s.violation("PUBACK for unknown delivery", now)
	}
	s.completeDelivery(flow, now)
	return nil
}

func (s *Session) handlePubrec(ack *PubrecPacket, now time.Time) error {
	if s.version == Version5 && ack.ReasonCode.IsError() {
		// The receiver refused the message; the flow ends here with no
		// PUBREL leg. Tolerate a refusal for an identifier we no
		// longer track.
		if s.tracker.dropOutbound(ack.PacketID) {
			s.releaseOutbound(ack.PacketID, now)
		}
		return nil
	}

	pubrel := &PubrelPacket{PacketID: ack.PacketID, ReasonCode: ReasonSuccess}
	frame, err := EncodePacket(pubrel, s.version)
	if err != nil {
		return err
	}

	if _, err := s.tracker.HandlePubrec(ack.PacketID, frame, now); err != nil {
		return s.violation("PUBREC for unknown delivery", now)
	}
	s.enqueue(frame, now)
	return nil
}

func (s *Session) handlePubrel(rel *PubrelPacket, now time.Time) error {
	sendComp := s.tracker.HandlePubrel(rel.PacketID, now)

	pubcomp := &PubcompPacket{PacketID: rel.PacketID, ReasonCode: ReasonSuccess}
	if !sendComp {
		if s.version == Version311 {
			// 3.1.1 has no way to signal the mismatch; answer anyway so
			// the peer's flow terminates.
			sendComp = true
		} else {
			pubcomp.ReasonCode = ReasonPacketIDNotFound
			sendComp = true
		}
	}

	frame, err := EncodePacket(pubcomp, s.version)
	if err != nil {
		return err
	}
	s.enqueue(frame, now)
	return nil
}

func (s *Session) handlePubcomp(ack *PubcompPacket, now time.Time) error {
	flow, err := s.tracker.HandlePubcomp(ack.PacketID)
	if err != nil {
		return s.violation("PUBCOMP for unknown delivery", now)
	}
	s.completeDelivery(flow, now)
	return nil
}

func (s *Session) handleSubscribe(sub *SubscribePacket, now time.Time) error {
	if s.opts.role != RoleServer {
		return s.violation("SUBSCRIBE received by client-role session", now)
	}

	suback := &SubackPacket{PacketID: sub.PacketID}
	for _, req := range sub.Subscriptions {
		granted := ReasonCode(req.QoS)
		if s.opts.onSubscribe != nil {
			granted = s.callSubscribeHandler(req)
		}
		suback.ReasonCodes = append(suback.ReasonCodes, granted)
		if !granted.IsError() {
			accepted := req
			accepted.QoS = byte(granted)
			s.subscriptions[req.TopicFilter] = accepted
		}
	}

	frame, err := EncodePacket(suback, s.version)
	if err != nil {
		return err
	}
	s.enqueue(frame, now)
	return nil
}

func (s *Session) handleSuback(ack *SubackPacket) error {
	subs, ok := s.pendingSubs[ack.PacketID]
	if !ok {
		return s.violation("SUBACK for unknown request", s.clock())
	}
	delete(s.pendingSubs, ack.PacketID)
	_ = s.ids.Release(ack.PacketID)

	for i, code := range ack.ReasonCodes {
		if i >= len(subs) || code.IsError() {
			continue
		}
		granted := subs[i]
		granted.QoS = byte(code)
		s.subscriptions[granted.TopicFilter] = granted
	}
	return nil
}

func (s *Session) handleUnsubscribe(unsub *UnsubscribePacket, now time.Time) error {
	if s.opts.role != RoleServer {
		return s.violation("UNSUBSCRIBE received by client-role session", now)
	}

	unsuback := &UnsubackPacket{PacketID: unsub.PacketID}
	for _, filter := range unsub.TopicFilters {
		_, existed := s.subscriptions[filter]
		delete(s.subscriptions, filter)

		// MQTT 3.1.1 UNSUBACK has no payload; only 5.0 reports a
		// per-filter reason code.
		if s.version != Version5 {
			continue
		}
		if existed {
			unsuback.ReasonCodes = append(unsuback.ReasonCodes, ReasonSuccess)
		} else {
			unsuback.ReasonCodes = append(unsuback.ReasonCodes, ReasonNoSubscriptionExisted)
		}
	}

	frame, err := EncodePacket(unsuback, s.version)
	if err != nil {
		return s.failConnection(err, ReasonImplSpecificError, now)
	}
	s.enqueue(frame, now)
	return nil
}

func (s *Session) handleUnsuback(ack *UnsubackPacket) error {
	filters, ok := s.pendingUnsubs[ack.PacketID]
	if !ok {
		return s.violation("UNSUBACK for unknown request", s.clock())
	}
	delete(s.pendingUnsubs, ack.PacketID)
	_ = s.ids.Release(ack.PacketID)

	for _, filter := range filters {
		delete(s.subscriptions, filter)
	}
	return nil
}

func (s *Session) handlePingreq(now time.Time) error {
	if s.opts.role != RoleServer {
		return s.violation("PINGREQ received by client-role session", now)
	}
	frame, err := EncodePacket(&PingrespPacket{}, s.version)
	if err != nil {
		return err
	}
	s.enqueue(frame, now)
	return nil
}

func (s *Session) handleDisconnect(disconnect *DisconnectPacket) error {
	err := &DisconnectError{ReasonCode: disconnect.ReasonCode}
	if s.version == Version5 && disconnect.Props.Len() > 0 {
		err.Props = &disconnect.Props
	}

	s.log.Info("remote disconnect", LogFields{
		LogFieldClientID:   s.clientID,
		LogFieldReasonCode: disconnect.ReasonCode.String(),
	})

	if disconnect.ReasonCode.IsError() {
		s.closeLocked(err)
		return err
	}
	s.closeLocked(nil)
	return nil
}

func (s *Session) handleAuth(auth *AuthPacket, now time.Time) error {
	if s.opts.auth == nil {
		return s.violation("AUTH exchange without authenticator", now)
	}

	if s.opts.role == RoleServer {
		if auth.ReasonCode != ReasonContinueAuth && auth.ReasonCode != ReasonReAuth {
			return s.violation("unexpected AUTH reason from client", now)
		}
		data, err := s.opts.auth.Respond(auth.AuthData())
		if err != nil {
			if s.pendingConnect != nil {
				s.pendingConnect = nil
				return s.refuseConnect(ReasonNotAuthorized, now)
			}
			return s.failConnection(err, ReasonNotAuthorized, now)
		}
		if s.opts.auth.Done() && s.pendingConnect != nil {
			connect := s.pendingConnect
			s.pendingConnect = nil
			return s.finishConnect(connect, data, now)
		}
		return s.sendAuth(ReasonContinueAuth, data, now)
	}

	if auth.ReasonCode == ReasonSuccess {
		// Final server data; verify it to complete mutual auth.
		if _, err := s.opts.auth.Respond(auth.AuthData()); err != nil {
			return s.failConnection(err, ReasonNotAuthorized, now)
		}
		return nil
	}

	response, err := s.opts.auth.Respond(auth.AuthData())
	if err != nil {
		return s.failConnection(err, ReasonNotAuthorized, now)
	}
	return s.sendAuth(ReasonContinueAuth, response, now)
}

// sendAuth queues an AUTH packet carrying the next exchange data.
func (s *Session) sendAuth(reason ReasonCode, data []byte, now time.Time) error {
	reply := &AuthPacket{ReasonCode: reason}
	reply.Props.Set(PropAuthenticationMethod, s.opts.auth.Method())
	if len(data) > 0 {
		reply.Props.Set(PropAuthenticationData, data)
	}

	frame, err := EncodePacket(reply, s.version)
	if err != nil {
		return err
	}
	s.enqueue(frame, now)
	return nil
}

// completeDelivery finishes an acknowledged outbound flow: identifier
// and quota return to their pools, the delivery handler fires, and any
// quota-queued publish takes the freed slot.
func (s *Session) completeDelivery(flow *OutboundFlow, now time.Time) {
	s.releaseOutbound(flow.PacketID, now)

	if s.opts.onDelivered != nil {
		handler := s.opts.onDelivered
		s.mu.Unlock()
		handler(flow.PacketID, flow.Message)
		s.mu.Lock()
	}
}

func (s *Session) releaseOutbound(packetID uint16, now time.Time) {
	_ = s.ids.Release(packetID)
	s.flow.Release()
	s.flushQuotaQueue(now)
}

// flushQuotaQueue moves waiting publishes into flight while quota
// lasts.
func (s *Session) flushQuotaQueue(now time.Time) {
	for len(s.quotaQueue) > 0 && s.flow.TryAcquire() {
		next := s.quotaQueue[0]
		s.quotaQueue = s.quotaQueue[1:]
		if next.restored != nil {
			// A snapshot record resumes its old delivery leg; tracking
			// it as a fresh publish would restart the QoS 2 handshake.
			next.restored.Deadline = now
			if s.opts.retryInterval > 0 {
				next.restored.Deadline = now.Add(s.opts.backoff(next.restored.Attempts+1, s.opts.retryInterval))
			}
			s.tracker.restoreFlow(next.restored)
		} else {
			s.tracker.TrackPublish(next.packetID, next.qos, next.frame, next.msg, now)
		}
		s.enqueue(next.frame, now)
	}
}

// deliver hands a message to the application with the session lock
// released.
func (s *Session) deliver(msg *Message) {
	if s.opts.onMessage == nil {
		return
	}
	handler := s.opts.onMessage
	s.mu.Unlock()
	handler(msg)
	s.mu.Lock()
}

func (s *Session) callConnectHandler(connect *ConnectPacket) ReasonCode {
	handler := s.opts.onConnect
	s.mu.Unlock()
	defer s.mu.Lock()
	return handler(connect)
}

func (s *Session) callSubscribeHandler(sub Subscription) ReasonCode {
	handler := s.opts.onSubscribe
	s.mu.Unlock()
	defer s.mu.Lock()
	return handler(sub)
}

// violation closes the session over a protocol violation, telling the
// peer why when the version allows it.
func (s *Session) violation(detail string, now time.Time) error {
	return s.failConnection(violationf("%s", detail), ReasonProtocolError, now)
}

// failConnection closes the session over a fatal receive-path error.
// MQTT 5.0 peers get a DISCONNECT naming the reason; 3.1.1 has no such
// packet from either role mid-connection, so the close is silent.
func (s *Session) failConnection(cause error, reason ReasonCode, now time.Time) error {
	if s.state == StateClosed {
		return s.fatal
	}

	if errors.Is(cause, ErrMalformedPacket) {
		reason = ReasonMalformedPacket
	}

	if s.version == Version5 && (s.state == StateConnected || s.state == StateConnecting || s.state == StateDisconnecting) {
		disconnect := &DisconnectPacket{ReasonCode: reason}
		if frame, err := EncodePacket(disconnect, s.version); err == nil {
			s.outbox = append(s.outbox, frame)
			s.signal()
		}
	}

	s.log.Error("connection failed", LogFields{
		LogFieldClientID:   s.clientID,
		LogFieldError:      cause.Error(),
		LogFieldReasonCode: reason.String(),
	})
	s.closeLocked(cause)
	return cause
}

// closeLocked finalizes the session. Persistent sessions snapshot their
// unfinished QoS state first so a later connection can resume it.
func (s *Session) closeLocked(cause error) {
	if s.state == StateClosed {
		return
	}

	if !s.opts.cleanStart && s.opts.store != nil && s.clientID != "" && s.state != StateUnconnected {
		if err := s.opts.store.Save(s.snapshot()); err != nil {
			s.log.Error("session snapshot failed", LogFields{
				LogFieldClientID: s.clientID,
				LogFieldError:    err.Error(),
			})
		}
	}

	// Quota-queued publishes never reached the wire; their identifiers
	// go back to the pool.
	for _, queued := range s.quotaQueue {
		_ = s.ids.Release(queued.packetID)
	}
	s.quotaQueue = nil

	s.state = StateClosed
	if cause != nil && s.fatal == nil {
		s.fatal = cause
	}
	s.signal()
}

// snapshot captures the durable session state under the lock.
func (s *Session) snapshot() *SessionSnapshot {
	snap := &SessionSnapshot{
		ClientID: s.clientID,
		Version:  s.version,
		TakenAt:  s.clock(),
	}
	for _, sub := range s.subscriptions {
		snap.Subscriptions = append(snap.Subscriptions, sub)
	}
	for _, flow := range s.tracker.Outbound() {
		snap.Outbound = append(snap.Outbound, InflightRecord{
			PacketID: flow.PacketID,
			QoS:      flow.QoS,
			State:    flow.State,
			Frame:    append([]byte(nil), flow.Frame...),
			Attempts: flow.Attempts,
			Message:  flow.Message.Clone(),
		})
	}
	// Restored records still waiting on send quota stay durable.
	for _, queued := range s.quotaQueue {
		if queued.restored == nil {
			continue
		}
		snap.Outbound = append(snap.Outbound, InflightRecord{
			PacketID: queued.restored.PacketID,
			QoS:      queued.restored.QoS,
			State:    queued.restored.State,
			Frame:    append([]byte(nil), queued.restored.Frame...),
			Attempts: queued.restored.Attempts,
			Message:  queued.restored.Message.Clone(),
		})
	}
	snap.Inbound = s.tracker.snapshotInbound()
	return snap
}

// restoreSnapshot reinstates persisted state on a resumed connection
// and queues retransmissions of the unfinished deliveries, DUP set on
// the PUBLISH legs.
func (s *Session) restoreSnapshot(snap *SessionSnapshot, now time.Time) {
	for _, sub := range snap.Subscriptions {
		s.subscriptions[sub.TopicFilter] = sub
	}

	for _, rec := range snap.Outbound {
		_ = s.ids.MarkUsed(rec.PacketID)

		frame := append([]byte(nil), rec.Frame...)
		if rec.State != FlowAwaitPubcomp {
			frame[0] |= 0x08
		}
		flow := &OutboundFlow{
			PacketID: rec.PacketID,
			QoS:      rec.QoS,
			State:    rec.State,
			Frame:    frame,
			Message:  rec.Message,
			Attempts: rec.Attempts,
		}

		// No quota left: the record keeps its identifier and waits in
		// the queue until an acknowledgment frees a slot.
		if !s.flow.TryAcquire() {
			s.quotaQueue = append(s.quotaQueue, &queuedPublish{
				packetID: rec.PacketID,
				qos:      rec.QoS,
				frame:    frame,
				msg:      rec.Message,
				restored: flow,
			})
			continue
		}

		flow.Deadline = now
		if s.opts.retryInterval > 0 {
			flow.Deadline = now.Add(s.opts.backoff(rec.Attempts+1, s.opts.retryInterval))
		}
		s.tracker.restoreFlow(flow)
		s.enqueue(frame, now)
	}

	s.tracker.restoreInbound(snap.Inbound)

	s.log.Info("session resumed", LogFields{
		LogFieldClientID: s.clientID,
		"inflight":       len(snap.Outbound),
	})
}

func (s *Session) enqueue(frame []byte, now time.Time) {
	s.outbox = append(s.outbox, frame)
	s.keep.TouchOutbound(now)
	s.signal()
}

func (s *Session) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}
