package protomq

import (
	"bytes"
	"io"
)

// DisconnectPacket represents an MQTT DISCONNECT packet. MQTT 3.1.1
// carries no body; MQTT 5.0 may carry a reason code and properties.
type DisconnectPacket struct {
	ReasonCode ReasonCode
	Props      Properties
}

// Type returns the packet type.
func (p *DisconnectPacket) Type() PacketType { return PacketDISCONNECT }

// Properties returns a pointer to the packet's properties.
func (p *DisconnectPacket) Properties() *Properties { return &p.Props }

// Encode writes the packet to w.
func (p *DisconnectPacket) Encode(w io.Writer, version ProtocolVersion) (int, error) {
	if err := p.Validate(version); err != nil {
		return 0, err
	}

	var buf bytes.Buffer

	if version == Version5 {
		// A normal disconnect with no properties encodes as a
		// zero-length body.
		if p.ReasonCode != ReasonNormalDisconnect || p.Props.Len() > 0 {
			buf.WriteByte(byte(p.ReasonCode))
			if _, err := p.Props.Encode(&buf); err != nil {
				return 0, err
			}
		}
	}

	header := FixedHeader{
		PacketType:      PacketDISCONNECT,
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
func (p *DisconnectPacket) Decode(r io.Reader, header FixedHeader, version ProtocolVersion) (int, error) {
	if header.PacketType != PacketDISCONNECT {
		return 0, ErrInvalidPacketType
	}

	if version == Version311 {
		if header.RemainingLength != 0 {
			return 0, ErrLengthMismatch
		}
		return 0, nil
	}

	if header.RemainingLength == 0 {
		p.ReasonCode = ReasonNormalDisconnect
		return 0, nil
	}

	var totalRead int
	var n int
	var err error

	code, n, err := decodeByte(r)
	totalRead += n
	if err != nil {
		return totalRead, err
	}
	p.ReasonCode = ReasonCode(code)

	if totalRead < int(header.RemainingLength) {
		n, err = p.Props.Decode(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}
		if err := p.Props.ValidateFor(PropCtxDISCONNECT); err != nil {
			return totalRead, err
		}
	}

	return totalRead, nil
}

// Validate validates the packet contents.
func (p *DisconnectPacket) Validate(version ProtocolVersion) error {
	if version == Version311 {
		if p.ReasonCode != ReasonNormalDisconnect || p.Props.Len() > 0 {
			return ErrInvalidProtocolVersion
		}
	}
	return nil
}
