package protomq

import "io"

// PingreqPacket represents an MQTT PINGREQ packet. It has no variable
// header and no payload.
type PingreqPacket struct{}

// Type returns the packet type.
func (p *PingreqPacket) Type() PacketType { return PacketPINGREQ }

// Encode writes the packet to w.
func (p *PingreqPacket) Encode(w io.Writer, version ProtocolVersion) (int, error) {
	header := FixedHeader{PacketType: PacketPINGREQ}
	return header.Encode(w)
}

// Decode reads the packet body from r.
func (p *PingreqPacket) Decode(r io.Reader, header FixedHeader, version ProtocolVersion) (int, error) {
	if header.PacketType != PacketPINGREQ {
		return 0, ErrInvalidPacketType
	}
	if header.RemainingLength != 0 {
		return 0, ErrLengthMismatch
	}
	return 0, nil
}

// Validate validates the packet contents.
func (p *PingreqPacket) Validate(version ProtocolVersion) error { return nil }

// PingrespPacket represents an MQTT PINGRESP packet. It has no variable
// header and no payload.
type PingrespPacket struct{}

// Type returns the packet type.
func (p *PingrespPacket) Type() PacketType { return PacketPINGRESP }

// Encode writes the packet to w.
func (p *PingrespPacket) Encode(w io.Writer, version ProtocolVersion) (int, error) {
	header := FixedHeader{PacketType: PacketPINGRESP}
	return header.Encode(w)
}

// Decode reads the packet body from r.
func (p *PingrespPacket) Decode(r io.Reader, header FixedHeader, version ProtocolVersion) (int, error) {
	if header.PacketType != PacketPINGRESP {
		return 0, ErrInvalidPacketType
	}
	if header.RemainingLength != 0 {
		return 0, ErrLengthMismatch
	}
	return 0, nil
}

// Validate validates the packet contents.
func (p *PingrespPacket) Validate(version ProtocolVersion) error { return nil }
