package protomq

// Topic alias errors. An alias outside the announced maximum, or an
// alias of zero, is a protocol error answered with reason 0x94.
var (
	ErrTopicAliasInvalid  = violationf("topic alias invalid")
	ErrTopicAliasExceeded = violationf("topic alias maximum exceeded")
	ErrTopicAliasNotFound = violationf("topic alias not registered")
)

// TopicAliasManager holds the bidirectional topic alias mappings for
// one connection. Inbound aliases are registered by the peer through
// PUBLISH packets; outbound aliases are assigned locally within the
// maximum the peer announced. Aliases do not survive the connection:
// Reset on every new network connection.
//
// Callers serialize access; the Session drives this under its own
// lock.
type TopicAliasManager struct {
	inbound      map[uint16]string
	outbound     map[string]uint16
	outboundNext uint16
	inboundMax   uint16
	outboundMax  uint16
}

// NewTopicAliasManager creates an alias table. inboundMax is the
// maximum this side accepts (announced in its CONNECT or CONNACK);
// outboundMax is the maximum the peer accepts.
func NewTopicAliasManager(inboundMax, outboundMax uint16) *TopicAliasManager {
	return &TopicAliasManager{
		inbound:      make(map[uint16]string),
		outbound:     make(map[string]uint16),
		outboundNext: 1,
		inboundMax:   inboundMax,
		outboundMax:  outboundMax,
	}
}

// RegisterInbound records an alias-to-topic mapping set by the peer.
func (m *TopicAliasManager) RegisterInbound(alias uint16, topic string) error {
	if alias == 0 {
		return ErrTopicAliasInvalid
	}
	if alias > m.inboundMax {
		return ErrTopicAliasExceeded
	}
	m.inbound[alias] = topic
	return nil
}

// ResolveInbound maps a peer-set alias back to its topic name, for
// PUBLISH packets that carry the alias with an empty topic.
func (m *TopicAliasManager) ResolveInbound(alias uint16) (string, error) {
	if alias == 0 {
		return "", ErrTopicAliasInvalid
	}
	topic, ok := m.inbound[alias]
	if !ok {
		return "", ErrTopicAliasNotFound
	}
	return topic, nil
}

// Outbound returns the alias assigned to topic and whether the
// mapping is already established on the wire. A first call assigns a
// fresh alias (established=false: the caller must still send the full
// topic to establish it); later calls return established=true. alias
// 0 means aliasing is off or the table is full.
func (m *TopicAliasManager) Outbound(topic string) (alias uint16, established bool) {
	if m.outboundMax == 0 {
		return 0, false
	}
	if alias, ok := m.outbound[topic]; ok {
		return alias, true
	}
	if m.outboundNext > m.outboundMax {
		return 0, false
	}
	alias = m.outboundNext
	m.outbound[topic] = alias
	m.outboundNext++
	return alias, false
}

// SetOutboundMax applies the maximum the peer announced in its
// CONNECT or CONNACK.
func (m *TopicAliasManager) SetOutboundMax(maxAliases uint16) {
	m.outboundMax = maxAliases
}

// InboundMax returns the locally announced alias maximum.
func (m *TopicAliasManager) InboundMax() uint16 { return m.inboundMax }

// OutboundMax returns the peer's announced alias maximum.
func (m *TopicAliasManager) OutboundMax() uint16 { return m.outboundMax }

// InboundCount returns the number of registered inbound aliases.
func (m *TopicAliasManager) InboundCount() int { return len(m.inbound) }

// OutboundCount returns the number of assigned outbound aliases.
func (m *TopicAliasManager) OutboundCount() int { return len(m.outbound) }

// Reset drops all mappings for a new network connection.
func (m *TopicAliasManager) Reset() {
	m.inbound = make(map[uint16]string)
	m.outbound = make(map[string]uint16)
	m.outboundNext = 1
}
