package protomq

import (
	"bytes"
	"io"
)

// PUBLISH packet errors.
var (
	ErrInvalidQoS       = malformedf("invalid QoS level")
	ErrPacketIDRequired = malformedf("packet identifier required for QoS > 0")
	ErrPacketIDZero     = malformedf("packet identifier must be non-zero")
)

// PublishPacket represents an MQTT PUBLISH packet.
type PublishPacket struct {
	// Topic is the topic name.
	Topic string

	// Payload is the application message.
	Payload []byte

	// QoS is the Quality of Service level (0, 1, or 2).
	QoS byte

	// Retain indicates the message should be retained.
	Retain bool

	// DUP indicates a retransmission.
	DUP bool

	// PacketID is the packet identifier (QoS > 0 only).
	PacketID uint16

	// Props contains the PUBLISH properties (v5 only).
	Props Properties
}

// Type returns the packet type.
func (p *PublishPacket) Type() PacketType { return PacketPUBLISH }

// Properties returns a pointer to the packet's properties.
func (p *PublishPacket) Properties() *Properties { return &p.Props }

// ID returns the packet identifier.
func (p *PublishPacket) ID() uint16 { return p.PacketID }

// SetID sets the packet identifier.
func (p *PublishPacket) SetID(id uint16) { p.PacketID = id }

// flags builds the fixed header flags nibble.
func (p *PublishPacket) flags() byte {
	var flags byte
	if p.DUP {
		flags |= 0x08
	}
	flags |= (p.QoS & 0x03) << 1
	if p.Retain {
		flags |= 0x01
	}
	return flags
}

// setFlags parses the fixed header flags nibble.
func (p *PublishPacket) setFlags(flags byte) {
	p.DUP = flags&0x08 != 0
	p.QoS = (flags >> 1) & 0x03
	p.Retain = flags&0x01 != 0
}

// Encode writes the packet to w.
func (p *PublishPacket) Encode(w io.Writer, version ProtocolVersion) (int, error) {
	if err := p.Validate(version); err != nil {
		return 0, err
	}

	var buf bytes.Buffer

	if _, err := encodeString(&buf, p.Topic); err != nil {
		return 0, err
	}
	if p.QoS > 0 {
		if _, err := encodeUint16(&buf, p.PacketID); err != nil {
			return 0, err
		}
	}
	if version == Version5 {
		if _, err := p.Props.Encode(&buf); err != nil {
			return 0, err
		}
	}
	buf.Write(p.Payload)

	header := FixedHeader{
		PacketType:      PacketPUBLISH,
		Flags:           p.flags(),
		RemainingLength: uint32(buf.Len()),
	}
	total, err := header.Encode(w)
	if err != nil {
		return total, err
	}
	n, err := w.Write(buf.Bytes())
	return total + n, err
}

// Decode reads the packet body from r.
func (p *PublishPacket) Decode(r io.Reader, header FixedHeader, version ProtocolVersion) (int, error) {
	if header.PacketType != PacketPUBLISH {
		return 0, ErrInvalidPacketType
	}

	p.setFlags(header.Flags)
	if p.QoS > 2 {
		return 0, ErrInvalidQoS
	}

	var totalRead int
	var n int
	var err error

	p.Topic, n, err = decodeString(r)
	totalRead += n
	if err != nil {
		return totalRead, err
	}
	// An empty topic is only legal in v5 when a topic alias property
	// follows; checked after the properties are decoded.
	if p.Topic != "" {
		if err := ValidateTopicName(p.Topic); err != nil {
			return totalRead, err
		}
	}

	if p.QoS > 0 {
		p.PacketID, n, err = decodeUint16(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}
		if p.PacketID == 0 {
			return totalRead, ErrPacketIDZero
		}
	}

	if version == Version5 {
		n, err = p.Props.Decode(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}
		if err := p.Props.ValidateFor(PropCtxPUBLISH); err != nil {
			return totalRead, err
		}
	}

	if p.Topic == "" && !(version == Version5 && p.Props.Has(PropTopicAlias)) {
		return totalRead, ErrEmptyTopic
	}

	payloadLen := int(header.RemainingLength) - totalRead
	if payloadLen < 0 {
		return totalRead, ErrLengthMismatch
	}
	if payloadLen > 0 {
		p.Payload = make([]byte, payloadLen)
		n, err = io.ReadFull(r, p.Payload)
		totalRead += n
		if err != nil {
			return totalRead, err
		}
	}

	return totalRead, nil
}

// Validate validates the packet contents.
func (p *PublishPacket) Validate(version ProtocolVersion) error {
	if p.QoS > 2 {
		return ErrInvalidQoS
	}
	if p.QoS == 0 && p.DUP {
		return ErrInvalidPacketFlags
	}
	if p.QoS > 0 && p.PacketID == 0 {
		return ErrPacketIDRequired
	}
	if p.Topic == "" {
		if !(version == Version5 && p.Props.Has(PropTopicAlias)) {
			return ErrEmptyTopic
		}
	} else if err := ValidateTopicName(p.Topic); err != nil {
		return err
	}
	if version == Version311 && p.Props.Len() > 0 {
		return ErrInvalidProtocolVersion
	}
	return nil
}

// ToMessage converts the PUBLISH packet to a Message.
func (p *PublishPacket) ToMessage() *Message {
	m := &Message{
		Topic:     p.Topic,
		Payload:   p.Payload,
		QoS:       p.QoS,
		Retain:    p.Retain,
		Duplicate: p.DUP,
	}
	m.FromProperties(&p.Props)
	return m
}

// FromMessage populates the PUBLISH packet from a Message.
func (p *PublishPacket) FromMessage(m *Message) {
	p.Topic = m.Topic
	p.Payload = m.Payload
	p.QoS = m.QoS
	p.Retain = m.Retain
	p.Props = m.ToProperties()
}
