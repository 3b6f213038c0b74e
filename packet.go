package protomq

import "io"

// Packet is the interface every MQTT control packet implements. The
// protocol version selects the wire form: MQTT 5.0 emits properties and
// reason codes, MQTT 3.1.1 emits fixed return codes and no properties.
type Packet interface {
	// Type returns the packet type.
	Type() PacketType

	// Encode writes the full packet, fixed header included, to w.
	// Returns the number of bytes written.
	Encode(w io.Writer, version ProtocolVersion) (int, error)

	// Decode reads the packet body from r. The fixed header has
	// already been decoded. Returns the number of bytes read, which
	// the codec checks against the declared remaining length.
	Decode(r io.Reader, header FixedHeader, version ProtocolVersion) (int, error)

	// Validate checks the packet contents against the version's rules.
	Validate(version ProtocolVersion) error
}

// PacketWithID is implemented by packets that carry a packet identifier
// (PUBLISH at QoS > 0, the PUB* acks, SUBSCRIBE/UNSUBSCRIBE and their
// acks).
type PacketWithID interface {
	Packet

	// ID returns the packet identifier.
	ID() uint16

	// SetID sets the packet identifier.
	SetID(id uint16)
}

// newPacket returns an empty packet struct for the given type.
func newPacket(t PacketType) (Packet, error) {
	switch t {
	case PacketCONNECT:
		return &ConnectPacket{}, nil
	case PacketCONNACK:
		return &ConnackPacket{}, nil
	case PacketPUBLISH:
		return &PublishPacket{}, nil
	case PacketPUBACK:
		return &PubackPacket{}, nil
	case PacketPUBREC:
		return &PubrecPacket{}, nil
	case PacketPUBREL:
		return &PubrelPacket{}, nil
	case PacketPUBCOMP:
		return &PubcompPacket{}, nil
	case PacketSUBSCRIBE:
		return &SubscribePacket{}, nil
	case PacketSUBACK:
		return &SubackPacket{}, nil
	case PacketUNSUBSCRIBE:
		return &UnsubscribePacket{}, nil
	case PacketUNSUBACK:
		return &UnsubackPacket{}, nil
	case PacketPINGREQ:
		return &PingreqPacket{}, nil
	case PacketPINGRESP:
		return &PingrespPacket{}, nil
	case PacketDISCONNECT:
		return &DisconnectPacket{}, nil
	case PacketAUTH:
		return &AuthPacket{}, nil
	default:
		return nil, ErrInvalidPacketType
	}
}

// Message is an application message, the user-facing form of a PUBLISH.
// The v5-only metadata fields are zero for MQTT 3.1.1 sessions.
type Message struct {
	// Topic is the topic name published to or received from.
	Topic string

	// Payload is the application message payload.
	Payload []byte

	// QoS is the Quality of Service level (0, 1, or 2).
	QoS byte

	// Retain indicates a retained message.
	Retain bool

	// Duplicate is set on messages delivered from a retransmitted
	// PUBLISH.
	Duplicate bool

	// PayloadFormat indicates UTF-8 text (1) or unspecified bytes (0).
	PayloadFormat byte

	// MessageExpiry is the message lifetime in seconds; zero means no
	// expiry.
	MessageExpiry uint32

	// ContentType is the MIME type of the payload.
	ContentType string

	// ResponseTopic is the topic for response messages.
	ResponseTopic string

	// CorrelationData correlates request/response messages.
	CorrelationData []byte

	// UserProperties are user-defined name-value pairs.
	UserProperties []StringPair

	// SubscriptionIdentifiers are set on received messages only.
	SubscriptionIdentifiers []uint32
}

// Clone creates a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}

	clone := *m
	if m.Payload != nil {
		clone.Payload = append([]byte(nil), m.Payload...)
	}
	if m.CorrelationData != nil {
		clone.CorrelationData = append([]byte(nil), m.CorrelationData...)
	}
	if m.UserProperties != nil {
		clone.UserProperties = append([]StringPair(nil), m.UserProperties...)
	}
	if m.SubscriptionIdentifiers != nil {
		clone.SubscriptionIdentifiers = append([]uint32(nil), m.SubscriptionIdentifiers...)
	}
	return &clone
}

// ToProperties converts the message metadata to PUBLISH properties.
func (m *Message) ToProperties() Properties {
	var p Properties

	if m.PayloadFormat != 0 {
		p.Set(PropPayloadFormatIndicator, m.PayloadFormat)
	}
	if m.MessageExpiry != 0 {
		p.Set(PropMessageExpiryInterval, m.MessageExpiry)
	}
	if m.ContentType != "" {
		p.Set(PropContentType, m.ContentType)
	}
	if m.ResponseTopic != "" {
		p.Set(PropResponseTopic, m.ResponseTopic)
	}
	if len(m.CorrelationData) > 0 {
		p.Set(PropCorrelationData, m.CorrelationData)
	}
	for _, up := range m.UserProperties {
		p.Add(PropUserProperty, up)
	}
	return p
}

// FromProperties populates the message metadata from PUBLISH properties.
func (m *Message) FromProperties(p *Properties) {
	if p == nil {
		return
	}
	m.PayloadFormat = p.GetByte(PropPayloadFormatIndicator)
	m.MessageExpiry = p.GetUint32(PropMessageExpiryInterval)
	m.ContentType = p.GetString(PropContentType)
	m.ResponseTopic = p.GetString(PropResponseTopic)
	m.CorrelationData = p.GetBinary(PropCorrelationData)
	m.UserProperties = p.GetAllStringPairs(PropUserProperty)
	m.SubscriptionIdentifiers = p.GetAllVarInts(PropSubscriptionIdentifier)
}
