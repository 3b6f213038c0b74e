package protomq

import (
	"bytes"
	"io"
)

// SUBSCRIBE packet errors.
var (
	ErrNoTopicFilters             = malformedf("at least one topic filter required")
	ErrInvalidSubscriptionOptions = malformedf("invalid subscription options")
)

// Subscription is a topic filter with its subscription options. The
// NoLocal, RetainAsPublished and RetainHandling options exist only in
// MQTT 5.0; 3.1.1 carries just the QoS.
type Subscription struct {
	TopicFilter     string
	QoS             byte
	NoLocal         bool
	RetainAsPublish bool
	RetainHandling  byte
}

// SubscribePacket represents an MQTT SUBSCRIBE packet. Its fixed header
// flags are 0x02.
type SubscribePacket struct {
	PacketID      uint16
	Props         Properties
	Subscriptions []Subscription
}

// Type returns the packet type.
func (p *SubscribePacket) Type() PacketType { return PacketSUBSCRIBE }

// Properties returns a pointer to the packet's properties.
func (p *SubscribePacket) Properties() *Properties { return &p.Props }

// ID returns the packet identifier.
func (p *SubscribePacket) ID() uint16 { return p.PacketID }

// SetID sets the packet identifier.
func (p *SubscribePacket) SetID(id uint16) { p.PacketID = id }

// Encode writes the packet to w.
func (p *SubscribePacket) Encode(w io.Writer, version ProtocolVersion) (int, error) {
	if err := p.Validate(version); err != nil {
		return 0, err
	}

	var buf bytes.Buffer

	if _, err := encodeUint16(&buf, p.PacketID); err != nil {
		return 0, err
	}
	if version == Version5 {
		if _, err := p.Props.Encode(&buf); err != nil {
			return 0, err
		}
	}

	for _, sub := range p.Subscriptions {
		if _, err := encodeString(&buf, sub.TopicFilter); err != nil {
			return 0, err
		}

		options := sub.QoS & 0x03
		if version == Version5 {
			if sub.NoLocal {
				options |= 0x04
			}
			if sub.RetainAsPublish {
				options |= 0x08
			}
			options |= (sub.RetainHandling & 0x03) << 4
		}
		buf.WriteByte(options)
	}

	header := FixedHeader{
		PacketType:      PacketSUBSCRIBE,
		Flags:           0x02,
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
func (p *SubscribePacket) Decode(r io.Reader, header FixedHeader, version ProtocolVersion) (int, error) {
	if header.PacketType != PacketSUBSCRIBE {
		return 0, ErrInvalidPacketType
	}
	if header.Flags != 0x02 {
		return 0, ErrInvalidPacketFlags
	}

	var totalRead int
	var n int
	var err error

	p.PacketID, n, err = decodeUint16(r)
	totalRead += n
	if err != nil {
		return totalRead, err
	}
	if p.PacketID == 0 {
		return totalRead, ErrPacketIDZero
	}

	if version == Version5 {
		n, err = p.Props.Decode(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}
		if err := p.Props.ValidateFor(PropCtxSUBSCRIBE); err != nil {
			return totalRead, err
		}
	}

	for totalRead < int(header.RemainingLength) {
		var sub Subscription
		sub.TopicFilter, n, err = decodeString(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}
		if err := ValidateTopicFilter(sub.TopicFilter); err != nil {
			return totalRead, err
		}

		options, n, err := decodeByte(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}

		sub.QoS = options & 0x03
		if sub.QoS > 2 {
			return totalRead, ErrInvalidSubscriptionOptions
		}
		if version == Version311 {
			// Bits 2-7 are reserved in 3.1.1.
			if options&0xFC != 0 {
				return totalRead, ErrInvalidSubscriptionOptions
			}
		} else {
			sub.NoLocal = options&0x04 != 0
			sub.RetainAsPublish = options&0x08 != 0
			sub.RetainHandling = (options >> 4) & 0x03
			if sub.RetainHandling > 2 || options&0xC0 != 0 {
				return totalRead, ErrInvalidSubscriptionOptions
			}
		}

		p.Subscriptions = append(p.Subscriptions, sub)
	}

	if len(p.Subscriptions) == 0 {
		return totalRead, ErrNoTopicFilters
	}

	return totalRead, nil
}

// Validate validates the packet contents.
func (p *SubscribePacket) Validate(version ProtocolVersion) error {
	if p.PacketID == 0 {
		return ErrPacketIDZero
	}
	if len(p.Subscriptions) == 0 {
		return ErrNoTopicFilters
	}
	for _, sub := range p.Subscriptions {
		if err := ValidateTopicFilter(sub.TopicFilter); err != nil {
			return err
		}
		if sub.QoS > 2 {
			return ErrInvalidSubscriptionOptions
		}
	}
	if version == Version311 && p.Props.Len() > 0 {
		return ErrInvalidProtocolVersion
	}
	return nil
}
