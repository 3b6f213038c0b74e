package protomq

import "io"

// PubrelPacket represents an MQTT PUBREL packet, the release step of a
// QoS 2 delivery. Its fixed header flags are 0x02.
type PubrelPacket struct {
	PacketID   uint16
	ReasonCode ReasonCode
	Props      Properties
}

// Type returns the packet type.
func (p *PubrelPacket) Type() PacketType { return PacketPUBREL }

// Properties returns a pointer to the packet's properties.
func (p *PubrelPacket) Properties() *Properties { return &p.Props }

// ID returns the packet identifier.
func (p *PubrelPacket) ID() uint16 { return p.PacketID }

// SetID sets the packet identifier.
func (p *PubrelPacket) SetID(id uint16) { p.PacketID = id }

// Encode writes the packet to w.
func (p *PubrelPacket) Encode(w io.Writer, version ProtocolVersion) (int, error) {
	if err := p.Validate(version); err != nil {
		return 0, err
	}
	return encodeAck(w, PacketPUBREL, 0x02, &ackPacket{
		PacketID:   p.PacketID,
		ReasonCode: p.ReasonCode,
		Props:      p.Props,
	}, version)
}

// Decode reads the packet body from r.
func (p *PubrelPacket) Decode(r io.Reader, header FixedHeader, version ProtocolVersion) (int, error) {
	if header.PacketType != PacketPUBREL {
		return 0, ErrInvalidPacketType
	}
	if header.Flags != 0x02 {
		return 0, ErrInvalidPacketFlags
	}
	var ack ackPacket
	n, err := decodeAck(r, header, &ack, PropCtxPUBREL, version)
	p.PacketID = ack.PacketID
	p.ReasonCode = ack.ReasonCode
	p.Props = ack.Props
	return n, err
}

// Validate validates the packet contents.
func (p *PubrelPacket) Validate(version ProtocolVersion) error {
	if p.PacketID == 0 {
		return ErrPacketIDZero
	}
	if version == Version5 && !validRelReason(p.ReasonCode) {
		return ErrInvalidReasonCode
	}
	return nil
}
