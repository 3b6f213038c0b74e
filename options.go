package protomq

import (
	"time"
)

// MaxPacketSizeDefault is the default maximum accepted packet size.
const MaxPacketSizeDefault uint32 = 1024 * 1024

// MessageHandler receives application messages released by the QoS
// machinery: QoS 0 on arrival, QoS 1 after the PUBACK is queued, QoS 2
// exactly once per packet identifier.
type MessageHandler func(msg *Message)

// DeliveryHandler is notified when an outbound QoS 1 or 2 delivery
// completes its acknowledgment exchange.
type DeliveryHandler func(packetID uint16, msg *Message)

// SubscribeRequestHandler lets a server-role session decide the fate of
// each requested subscription. Return the granted QoS, or a failure
// reason code.
type SubscribeRequestHandler func(sub Subscription) ReasonCode

// ConnectRequestHandler lets a server-role session accept or refuse a
// CONNECT. Return ReasonSuccess to accept; any error reason refuses and
// closes.
type ConnectRequestHandler func(connect *ConnectPacket) ReasonCode

// sessionOptions holds configuration for a Session.
type sessionOptions struct {
	role    Role
	version ProtocolVersion

	clientID   string
	username   string
	password   []byte
	keepAlive  uint16
	cleanStart bool

	will *WillMessage

	// Limits
	maxPacketSize  uint32
	receiveMaximum uint16
	topicAliasMax  uint16

	// Retry policy for unacknowledged QoS 1/2 deliveries
	retryInterval time.Duration
	backoff       BackoffStrategy
	maxRetries    int

	// QoS 2 completed-identifier cache horizon
	sessionExpiry uint32

	store  SessionStore
	logger Logger
	auth   Authenticator

	onMessage   MessageHandler
	onDelivered DeliveryHandler
	onSubscribe SubscribeRequestHandler
	onConnect   ConnectRequestHandler
}

// defaultSessionOptions returns options with sensible defaults.
func defaultSessionOptions() *sessionOptions {
	return &sessionOptions{
		role:           RoleClient,
		version:        Version5,
		keepAlive:      60,
		cleanStart:     true,
		maxPacketSize:  MaxPacketSizeDefault,
		receiveMaximum: 65535,
		retryInterval:  20 * time.Second,
		backoff:        ConstantBackoff,
		maxRetries:     0,
		logger:         NewNoOpLogger(),
	}
}

// SessionOption configures a Session.
type SessionOption func(*sessionOptions)

// WithRole sets the session role. Client-role sessions originate the
// CONNECT and the keep-alive pings; server-role sessions answer them.
func WithRole(role Role) SessionOption {
	return func(o *sessionOptions) {
		o.role = role
	}
}

// WithVersion sets the MQTT protocol version the session speaks.
func WithVersion(version ProtocolVersion) SessionOption {
	return func(o *sessionOptions) {
		o.version = version
	}
}

// WithClientID sets the client identifier.
func WithClientID(id string) SessionOption {
	return func(o *sessionOptions) {
		o.clientID = id
	}
}

// WithCredentials sets the username and password for authentication.
func WithCredentials(username, password string) SessionOption {
	return func(o *sessionOptions) {
		o.username = username
		o.password = []byte(password)
	}
}

// WithKeepAlive sets the keep-alive interval in seconds. Zero disables
// keep-alive.
func WithKeepAlive(seconds uint16) SessionOption {
	return func(o *sessionOptions) {
		o.keepAlive = seconds
	}
}

// WithCleanStart sets whether to discard any persisted session state on
// connect.
func WithCleanStart(clean bool) SessionOption {
	return func(o *sessionOptions) {
		o.cleanStart = clean
	}
}

// WithWill sets a basic will message announced in CONNECT.
func WithWill(topic string, payload []byte, qos byte, retain bool) SessionOption {
	return WithWillMessage(&WillMessage{
		Topic:   topic,
		Payload: payload,
		QoS:     qos,
		Retain:  retain,
	})
}

// WithWillMessage sets the full will message, including the v5 will
// properties.
func WithWillMessage(will *WillMessage) SessionOption {
	return func(o *sessionOptions) {
		o.will = will
	}
}

// WithMaxPacketSize sets the maximum accepted packet size in bytes.
// Zero removes the limit.
func WithMaxPacketSize(size uint32) SessionOption {
	return func(o *sessionOptions) {
		o.maxPacketSize = size
	}
}

// WithReceiveMaximum sets the local limit on concurrent inbound QoS > 0
// deliveries, announced to the peer during the handshake.
func WithReceiveMaximum(maximum uint16) SessionOption {
	return func(o *sessionOptions) {
		o.receiveMaximum = maximum
	}
}

// WithTopicAliasMaximum sets the number of inbound topic aliases
// accepted from the peer, announced during the v5 handshake. Zero
// disables inbound aliasing.
func WithTopicAliasMaximum(maximum uint16) SessionOption {
	return func(o *sessionOptions) {
		o.topicAliasMax = maximum
	}
}

// WithRetryInterval sets the base interval before an unacknowledged
// QoS 1/2 packet is retransmitted. Zero disables retransmission.
func WithRetryInterval(d time.Duration) SessionOption {
	return func(o *sessionOptions) {
		o.retryInterval = d
	}
}

// WithBackoffStrategy sets how the retry interval grows across
// attempts.
func WithBackoffStrategy(strategy BackoffStrategy) SessionOption {
	return func(o *sessionOptions) {
		o.backoff = strategy
	}
}

// WithMaxRetries caps retransmission attempts per delivery. Zero
// retries forever.
func WithMaxRetries(n int) SessionOption {
	return func(o *sessionOptions) {
		o.maxRetries = n
	}
}

// WithSessionExpiry sets the session expiry interval in seconds
// announced in CONNECT (MQTT 5.0 only).
func WithSessionExpiry(seconds uint32) SessionOption {
	return func(o *sessionOptions) {
		o.sessionExpiry = seconds
	}
}

// WithSessionStore sets the store that persists session state across
// connections when clean start is off.
func WithSessionStore(store SessionStore) SessionOption {
	return func(o *sessionOptions) {
		o.store = store
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) SessionOption {
	return func(o *sessionOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithAuthenticator enables MQTT 5.0 enhanced authentication using the
// given exchange driver.
func WithAuthenticator(auth Authenticator) SessionOption {
	return func(o *sessionOptions) {
		o.auth = auth
	}
}

// WithMessageHandler sets the handler for received application
// messages.
func WithMessageHandler(h MessageHandler) SessionOption {
	return func(o *sessionOptions) {
		o.onMessage = h
	}
}

// WithDeliveryHandler sets the handler called when an outbound QoS 1/2
// delivery completes.
func WithDeliveryHandler(h DeliveryHandler) SessionOption {
	return func(o *sessionOptions) {
		o.onDelivered = h
	}
}

// WithSubscribeHandler sets the server-role handler that grants or
// refuses subscription requests.
func WithSubscribeHandler(h SubscribeRequestHandler) SessionOption {
	return func(o *sessionOptions) {
		o.onSubscribe = h
	}
}

// WithConnectHandler sets the server-role handler that accepts or
// refuses CONNECTs.
func WithConnectHandler(h ConnectRequestHandler) SessionOption {
	return func(o *sessionOptions) {
		o.onConnect = h
	}
}
