package protomq

import (
	"bytes"
	"io"
)

// ErrNoReasonCodes is returned for a SUBACK/UNSUBACK without any
// per-filter result.
var ErrNoReasonCodes = malformedf("at least one reason code required")

// SubackPacket represents an MQTT SUBACK packet. ReasonCodes holds one
// entry per requested filter, in request order: the granted QoS
// (0x00-0x02) or a failure code (0x80 in 3.1.1, the full reason code
// vocabulary in 5.0).
type SubackPacket struct {
	PacketID    uint16
	Props       Properties
	ReasonCodes []ReasonCode
}

// Type returns the packet type.
func (p *SubackPacket) Type() PacketType { return PacketSUBACK }

// Properties returns a pointer to the packet's properties.
func (p *SubackPacket) Properties() *Properties { return &p.Props }

// ID returns the packet identifier.
func (p *SubackPacket) ID() uint16 { return p.PacketID }

// SetID sets the packet identifier.
func (p *SubackPacket) SetID(id uint16) { p.PacketID = id }

// Encode writes the packet to w.
func (p *SubackPacket) Encode(w io.Writer, version ProtocolVersion) (int, error) {
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
	for _, code := range p.ReasonCodes {
		buf.WriteByte(byte(code))
	}

	header := FixedHeader{
		PacketType:      PacketSUBACK,
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
func (p *SubackPacket) Decode(r io.Reader, header FixedHeader, version ProtocolVersion) (int, error) {
	if header.PacketType != PacketSUBACK {
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

	if version == Version5 {
		n, err = p.Props.Decode(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}
		if err := p.Props.ValidateFor(PropCtxSUBACK); err != nil {
			return totalRead, err
		}
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
func (p *SubackPacket) Validate(version ProtocolVersion) error {
	if p.PacketID == 0 {
		return ErrPacketIDZero
	}
	if len(p.ReasonCodes) == 0 {
		return ErrNoReasonCodes
	}
	if version == Version311 {
		for _, code := range p.ReasonCodes {
			if code > ReasonGrantedQoS2 && code != SubackFailure {
				return ErrInvalidReasonCode
			}
		}
		if p.Props.Len() > 0 {
			return ErrInvalidProtocolVersion
		}
	}
	return nil
}
