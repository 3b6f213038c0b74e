package protomq

import (
	"bytes"
	"io"
)

// UnsubscribePacket represents an MQTT UNSUBSCRIBE packet. Its fixed
// header flags are 0x02.
type UnsubscribePacket struct {
	PacketID     uint16
	Props        Properties
	TopicFilters []string
}

// Type returns the packet type.
func (p *UnsubscribePacket) Type() PacketType { return PacketUNSUBSCRIBE }

// Properties returns a pointer to the packet's properties.
func (p *UnsubscribePacket) Properties() *Properties { return &p.Props }

// ID returns the packet identifier.
func (p *UnsubscribePacket) ID() uint16 { return p.PacketID }

// SetID sets the packet identifier.
func (p *UnsubscribePacket) SetID(id uint16) { p.PacketID = id }

// Encode writes the packet to w.
func (p *UnsubscribePacket) Encode(w io.Writer, version ProtocolVersion) (int, error) {
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
	for _, filter := range p.TopicFilters {
		if _, err := encodeString(&buf, filter); err != nil {
			return 0, err
		}
	}

	header := FixedHeader{
		PacketType:      PacketUNSUBSCRIBE,
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
func (p *UnsubscribePacket) Decode(r io.Reader, header FixedHeader, version ProtocolVersion) (int, error) {
	if header.PacketType != PacketUNSUBSCRIBE {
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
		if err := p.Props.ValidateFor(PropCtxUNSUBSCRIBE); err != nil {
			return totalRead, err
		}
	}

	for totalRead < int(header.RemainingLength) {
		filter, n, err := decodeString(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}
		if err := ValidateTopicFilter(filter); err != nil {
			return totalRead, err
		}
		p.TopicFilters = append(p.TopicFilters, filter)
	}

	if len(p.TopicFilters) == 0 {
		return totalRead, ErrNoTopicFilters
	}

	return totalRead, nil
}

// Validate validates the packet contents.
func (p *UnsubscribePacket) Validate(version ProtocolVersion) error {
	if p.PacketID == 0 {
		return ErrPacketIDZero
	}
	if len(p.TopicFilters) == 0 {
		return ErrNoTopicFilters
	}
	for _, filter := range p.TopicFilters {
		if err := ValidateTopicFilter(filter); err != nil {
			return err
		}
	}
	if version == Version311 && p.Props.Len() > 0 {
		return ErrInvalidProtocolVersion
	}
	return nil
}

// UnsubackPacket represents an MQTT UNSUBACK packet. MQTT 3.1.1 has no
// payload; MQTT 5.0 carries one reason code per filter.
type UnsubackPacket struct {
	PacketID    uint16
	Props       Properties
	ReasonCodes []ReasonCode
}

// Type returns the packet type.
func (p *UnsubackPacket) Type() PacketType { return PacketUNSUBACK }

// Properties returns a pointer to the packet's properties.
func (p *UnsubackPacket) Properties() *Properties { return &p.Props }

// ID returns the packet identifier.
func (p *UnsubackPacket) ID() uint16 { return p.PacketID }

// SetID sets the packet identifier.
func (p *UnsubackPacket) SetID(id uint16) { p.PacketID = id }

// Encode writes the packet to w.
func (p *UnsubackPacket) Encode(w io.Writer, version ProtocolVersion) (int, error) {
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
		for _, code := range p.ReasonCodes {
			buf.WriteByte(byte(code))
		}
	}

	header := FixedHeader{
		PacketType:      PacketUNSUBACK,
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
func (p *UnsubackPacket) Decode(r io.Reader, header FixedHeader, version ProtocolVersion) (int, error) {
	if header.PacketType != PacketUNSUBACK {
		return 0, ErrInvalidPacketType
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

	if version == Version311 {
		if header.RemainingLength != 2 {
			return totalRead, ErrLengthMismatch
		}
		return totalRead, nil
	}

	n, err = p.Props.Decode(r)
	totalRead += n
	if err != nil {
		return totalRead, err
	}
	if err := p.Props.ValidateFor(PropCtxUNSUBACK); err != nil {
		return totalRead, err
	}

	for totalRead < int(header.RemainingLength) {
		code, n, err := decodeByte(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}
		p.ReasonCodes = append(p.ReasonCodes, ReasonCode(code))
	}

	if len(p.ReasonCodes) == 0 {
		return totalRead, ErrNoReasonCodes
	}

	return totalRead, nil
}

// Validate validates the packet contents.
func (p *UnsubackPacket) Validate(version ProtocolVersion) error {
	if p.PacketID == 0 {
		return ErrPacketIDZero
	}
	if version == Version311 && (len(p.ReasonCodes) > 0 || p.Props.Len() > 0) {
		return ErrInvalidProtocolVersion
	}
	return nil
}
