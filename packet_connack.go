package protomq

import (
	"bytes"
	"io"
)

// CONNACK packet errors.
var (
	ErrInvalidConnackFlags = malformedf("invalid connect acknowledge flags")
	ErrInvalidReturnCode   = malformedf("invalid connect return code")
)

// ConnackPacket represents an MQTT CONNACK packet. For MQTT 3.1.1 the
// ReturnCode field is on the wire; for MQTT 5.0 the ReasonCode and
// Props are. Sessions populate both so callers can read either.
type ConnackPacket struct {
	// SessionPresent indicates the server resumed a stored session.
	SessionPresent bool

	// ReasonCode is the v5 connect reason code.
	ReasonCode ReasonCode

	// ReturnCode is the v3.1.1 connect return code.
	ReturnCode ConnectReturnCode

	// Props contains the CONNACK properties (v5 only).
	Props Properties
}

// Type returns the packet type.
func (p *ConnackPacket) Type() PacketType { return PacketCONNACK }

// Properties returns a pointer to the packet's properties.
func (p *ConnackPacket) Properties() *Properties { return &p.Props }

// Accepted reports whether the handshake succeeded, in either version's
// vocabulary.
func (p *ConnackPacket) Accepted(version ProtocolVersion) bool {
	if version == Version311 {
		return p.ReturnCode == ReturnAccepted
	}
	return p.ReasonCode == ReasonSuccess
}

// Encode writes the packet to w.
func (p *ConnackPacket) Encode(w io.Writer, version ProtocolVersion) (int, error) {
	if err := p.Validate(version); err != nil {
		return 0, err
	}

	var buf bytes.Buffer

	var ackFlags byte
	if p.SessionPresent {
		ackFlags = 0x01
	}
	buf.WriteByte(ackFlags)

	if version == Version311 {
		buf.WriteByte(byte(p.ReturnCode))
	} else {
		buf.WriteByte(byte(p.ReasonCode))
		if _, err := p.Props.Encode(&buf); err != nil {
			return 0, err
		}
	}

	header := FixedHeader{
		PacketType:      PacketCONNACK,
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
func (p *ConnackPacket) Decode(r io.Reader, header FixedHeader, version ProtocolVersion) (int, error) {
	if header.PacketType != PacketCONNACK {
		return 0, ErrInvalidPacketType
	}

	var totalRead int

	ackFlags, n, err := decodeByte(r)
	totalRead += n
	if err != nil {
		return totalRead, err
	}
	if ackFlags&0xFE != 0 {
		return totalRead, ErrInvalidConnackFlags
	}
	p.SessionPresent = ackFlags&0x01 != 0

	code, n, err := decodeByte(r)
	totalRead += n
	if err != nil {
		return totalRead, err
	}

	if version == Version311 {
		if code > byte(ReturnNotAuthorized) {
			return totalRead, ErrInvalidReturnCode
		}
		p.ReturnCode = ConnectReturnCode(code)
		p.ReasonCode = p.ReturnCode.ReasonCode()
		return totalRead, nil
	}

	p.ReasonCode = ReasonCode(code)
	p.ReturnCode = p.ReasonCode.ReturnCode()

	n, err = p.Props.Decode(r)
	totalRead += n
	if err != nil {
		return totalRead, err
	}
	if err := p.Props.ValidateFor(PropCtxCONNACK); err != nil {
		return totalRead, err
	}

	return totalRead, nil
}

// Validate validates the packet contents.
func (p *ConnackPacket) Validate(version ProtocolVersion) error {
	if version == Version311 {
		if p.ReturnCode > ReturnNotAuthorized {
			return ErrInvalidReturnCode
		}
		if p.SessionPresent && p.ReturnCode != ReturnAccepted {
			// Session Present must be 0 on a refused connection.
			return ErrInvalidConnackFlags
		}
		if p.Props.Len() > 0 {
			return ErrInvalidProtocolVersion
		}
	}
	return nil
}
