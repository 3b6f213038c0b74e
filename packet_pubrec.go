//nolint:dupl // the protocol requires separate packet types with the same structure
package protomq

import "io"

// PubrecPacket represents an MQTT PUBREC packet, the first ack of a
// QoS 2 delivery.
type PubrecPacket struct {
	PacketID   uint16
	ReasonCode ReasonCode
	Props      Properties
}

// Type returns the packet type.
func (p *PubrecPacket) Type() PacketType { return PacketPUBREC }

// Properties returns a pointer to the packet's properties.
func (p *PubrecPacket) Properties() *Properties { return &p.Props }

// ID returns the packet identifier.
func (p *PubrecPacket) ID() uint16 { return p.PacketID }

// SetID sets the packet identifier.
func (p *PubrecPacket) SetID(id uint16) { p.PacketID = id }

// Encode writes the packet to w.
func (p *PubrecPacket) Encode(w io.Writer, version ProtocolVersion) (int, error) {
	if err := p.Validate(version); err != nil {
		return 0, err
	}
	return encodeAck(w, PacketPUBREC, 0x00, &ackPacket{
		PacketID:   p.PacketID,
		ReasonCode: p.ReasonCode,
		Props:      p.Props,
	}, version)
}

// Decode reads the packet body from r.
func (p *PubrecPacket) Decode(r io.Reader, header FixedHeader, version ProtocolVersion) (int, error) {
	if header.PacketType != PacketPUBREC {
		return 0, ErrInvalidPacketType
	}
	var ack ackPacket
	n, err := decodeAck(r, header, &ack, PropCtxPUBREC, version)
	p.PacketID = ack.PacketID
	p.ReasonCode = ack.ReasonCode
	p.Props = ack.Props
	return n, err
}

// Validate validates the packet contents.
func (p *PubrecPacket) Validate(version ProtocolVersion) error {
	if p.PacketID == 0 {
		return ErrPacketIDZero
	}
	if version == Version5 && !validAckReason(p.ReasonCode) {
		return ErrInvalidReasonCode
	}
	return nil
}
