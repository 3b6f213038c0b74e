package protomq

import (
	"bytes"
	"io"
)

// ErrAuthReasonCode is returned for an AUTH packet carrying a reason
// code other than success, continue authentication or re-authenticate.
var ErrAuthReasonCode = malformedf("invalid AUTH reason code")

// AuthPacket represents an MQTT 5.0 AUTH packet used for extended
// authentication exchanges. It does not exist in MQTT 3.1.1.
type AuthPacket struct {
	ReasonCode ReasonCode
	Props      Properties
}

// Type returns the packet type.
func (p *AuthPacket) Type() PacketType { return PacketAUTH }

// Properties returns a pointer to the packet's properties.
func (p *AuthPacket) Properties() *Properties { return &p.Props }

// AuthMethod returns the authentication method property, or an empty
// string when absent.
func (p *AuthPacket) AuthMethod() string {
	return p.Props.GetString(PropAuthenticationMethod)
}

// AuthData returns the authentication data property, or nil when absent.
func (p *AuthPacket) AuthData() []byte {
	return p.Props.GetBinary(PropAuthenticationData)
}

// Encode writes the packet to w.
func (p *AuthPacket) Encode(w io.Writer, version ProtocolVersion) (int, error) {
	if err := p.Validate(version); err != nil {
		return 0, err
	}

	var buf bytes.Buffer

	// A success AUTH with no properties encodes as a zero-length body.
	if p.ReasonCode != ReasonSuccess || p.Props.Len() > 0 {
		buf.WriteByte(byte(p.ReasonCode))
		if _, err := p.Props.Encode(&buf); err != nil {
			return 0, err
		}
	}

	header := FixedHeader{
		PacketType:      PacketAUTH,
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
func (p *AuthPacket) Decode(r io.Reader, header FixedHeader, version ProtocolVersion) (int, error) {
	if header.PacketType != PacketAUTH {
		return 0, ErrInvalidPacketType
	}
	if version != Version5 {
		return 0, ErrInvalidProtocolVersion
	}

	if header.RemainingLength == 0 {
		p.ReasonCode = ReasonSuccess
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
		if err := p.Props.ValidateFor(PropCtxAUTH); err != nil {
			return totalRead, err
		}
	}

	return totalRead, p.Validate(version)
}

// Validate validates the packet contents.
func (p *AuthPacket) Validate(version ProtocolVersion) error {
	if version != Version5 {
		return ErrInvalidProtocolVersion
	}
	switch p.ReasonCode {
	case ReasonSuccess, ReasonContinueAuth, ReasonReAuth:
	default:
		return ErrAuthReasonCode
	}
	return nil
}
