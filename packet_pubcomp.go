package protomq

import "io"

// PubcompPacket represents an MQTT PUBCOMP packet, the terminal ack of
// a QoS 2 delivery.
type PubcompPacket struct {
	PacketID   uint16
	ReasonCode ReasonCode
	Props      Properties
}

// Type returns the packet type.
func (p *PubcompPacket) Type() PacketType { return PacketPUBCOMP }

// Properties returns a pointer to the packet's properties.
func (p *PubcompPacket) Properties() *Properties { return &p.Props }

// ID returns the packet identifier.
func (p *PubcompPacket) ID() uint16 { return p.PacketID }

// SetID sets the packet identifier.
func (p *PubcompPacket) SetID(id uint16) { p.PacketID = id }

// Encode writes the packet to w.
func (p *PubcompPacket) Encode(w io.Writer, version ProtocolVersion) (int, error) {
	if err := p.Validate(version); err != nil {
		return 0, err
	}
	return encodeAck(w, PacketPUBCOMP, 0x00, &ackPacket{
		PacketID:   p.PacketID,
		ReasonCode: p.ReasonCode,
		Props:      p.Props,
	}, version)
}

// Decode reads the packet body from r.
func (p *PubcompPacket) Decode(r io.Reader, header FixedHeader, version ProtocolVersion) (int, error) {
	if header.PacketType != PacketPUBCOMP {
		return 0, ErrInvalidPacketType
	}
	var ack ackPacket
	n, err := decodeAck(r, header, &ack, PropCtxPUBCOMP, version)
	p.PacketID = ack.PacketID
	p.ReasonCode = ack.ReasonCode
	p.Props = ack.Props
	return n, err
}

// Validate validates the packet contents.
func (p *PubcompPacket) Validate(version ProtocolVersion) error {
	if p.PacketID == 0 {
		return ErrPacketIDZero
	}
	if version == Version5 && !validRelReason(p.ReasonCode) {
		return ErrInvalidReasonCode
	}
	return nil
}
