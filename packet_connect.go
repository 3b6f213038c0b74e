package protomq

import (
	"bytes"
	"io"
)

// CONNECT constants.
const protocolName = "MQTT"

// Connect flag bit positions.
const (
	connectFlagCleanStart   = 0x02
	connectFlagWillFlag     = 0x04
	connectFlagWillRetain   = 0x20
	connectFlagPasswordFlag = 0x40
	connectFlagUsernameFlag = 0x80
)

// CONNECT packet errors.
var (
	ErrInvalidProtocolName    = malformedf("invalid protocol name")
	ErrInvalidProtocolVersion = malformedf("unsupported protocol version")
	ErrInvalidConnectFlags    = malformedf("invalid connect flags")
	ErrClientIDRequired       = violationf("client ID required with clean start false")
)

// ConnectPacket represents an MQTT CONNECT packet.
type ConnectPacket struct {
	// ClientID is the client identifier.
	ClientID string

	// CleanStart requests a fresh session (Clean Session in 3.1.1
	// terms).
	CleanStart bool

	// KeepAlive is the keep alive interval in seconds.
	KeepAlive uint16

	// Version is filled in on decode with the protocol level the peer
	// announced. Servers adopt it for the rest of the connection.
	Version ProtocolVersion

	// Props contains the CONNECT properties (v5 only).
	Props Properties

	// Username for authentication.
	Username string

	// Password for authentication.
	Password []byte

	// Will message configuration.
	WillFlag    bool
	WillRetain  bool
	WillQoS     byte
	WillTopic   string
	WillPayload []byte
	WillProps   Properties
}

// Type returns the packet type.
func (p *ConnectPacket) Type() PacketType { return PacketCONNECT }

// Properties returns a pointer to the packet's properties.
func (p *ConnectPacket) Properties() *Properties { return &p.Props }

// connectFlags builds the connect flags byte.
func (p *ConnectPacket) connectFlags() byte {
	var flags byte

	if p.CleanStart {
		flags |= connectFlagCleanStart
	}
	if p.WillFlag {
		flags |= connectFlagWillFlag
		flags |= (p.WillQoS & 0x03) << 3
		if p.WillRetain {
			flags |= connectFlagWillRetain
		}
	}
	if len(p.Password) > 0 {
		flags |= connectFlagPasswordFlag
	}
	if p.Username != "" {
		flags |= connectFlagUsernameFlag
	}
	return flags
}

// setConnectFlags parses the connect flags byte.
func (p *ConnectPacket) setConnectFlags(flags byte) error {
	// Reserved bit must be 0.
	if flags&0x01 != 0 {
		return ErrInvalidConnectFlags
	}

	p.CleanStart = flags&connectFlagCleanStart != 0
	p.WillFlag = flags&connectFlagWillFlag != 0
	p.WillQoS = (flags >> 3) & 0x03
	p.WillRetain = flags&connectFlagWillRetain != 0

	if !p.WillFlag && (p.WillQoS != 0 || p.WillRetain) {
		return ErrInvalidConnectFlags
	}
	if p.WillQoS > 2 {
		return ErrInvalidConnectFlags
	}
	return nil
}

// Encode writes the packet to w.
func (p *ConnectPacket) Encode(w io.Writer, version ProtocolVersion) (int, error) {
	if err := p.Validate(version); err != nil {
		return 0, err
	}

	var buf bytes.Buffer

	if _, err := encodeString(&buf, protocolName); err != nil {
		return 0, err
	}
	buf.WriteByte(byte(version))
	buf.WriteByte(p.connectFlags())
	if _, err := encodeUint16(&buf, p.KeepAlive); err != nil {
		return 0, err
	}

	if version == Version5 {
		if _, err := p.Props.Encode(&buf); err != nil {
			return 0, err
		}
	}

	// Payload.
	if _, err := encodeString(&buf, p.ClientID); err != nil {
		return 0, err
	}

	if p.WillFlag {
		if version == Version5 {
			if _, err := p.WillProps.Encode(&buf); err != nil {
				return 0, err
			}
		}
		if _, err := encodeString(&buf, p.WillTopic); err != nil {
			return 0, err
		}
		if _, err := encodeBinary(&buf, p.WillPayload); err != nil {
			return 0, err
		}
	}

	if p.Username != "" {
		if _, err := encodeString(&buf, p.Username); err != nil {
			return 0, err
		}
	}
	if len(p.Password) > 0 {
		if _, err := encodeBinary(&buf, p.Password); err != nil {
			return 0, err
		}
	}

	header := FixedHeader{
		PacketType:      PacketCONNECT,
		RemainingLength: uint32(buf.Len()),
	}
	total, err := header.Encode(w)
	if err != nil {
		return total, err
	}
	n, err := w.Write(buf.Bytes())
	return total + n, err
}

// Decode reads the packet body from r. The protocol level is read from
// the wire; the version argument is only consulted when the level byte
// is unsupported.
func (p *ConnectPacket) Decode(r io.Reader, header FixedHeader, _ ProtocolVersion) (int, error) {
	if header.PacketType != PacketCONNECT {
		return 0, ErrInvalidPacketType
	}

	var totalRead int

	protoName, n, err := decodeString(r)
	totalRead += n
	if err != nil {
		return totalRead, err
	}
	if protoName != protocolName {
		return totalRead, ErrInvalidProtocolName
	}

	level, n, err := decodeByte(r)
	totalRead += n
	if err != nil {
		return totalRead, err
	}
	p.Version = ProtocolVersion(level)
	if !p.Version.Valid() {
		return totalRead, ErrInvalidProtocolVersion
	}

	flags, n, err := decodeByte(r)
	totalRead += n
	if err != nil {
		return totalRead, err
	}
	if err := p.setConnectFlags(flags); err != nil {
		return totalRead, err
	}
	usernameFlag := flags&connectFlagUsernameFlag != 0
	passwordFlag := flags&connectFlagPasswordFlag != 0

	p.KeepAlive, n, err = decodeUint16(r)
	totalRead += n
	if err != nil {
		return totalRead, err
	}

	if p.Version == Version5 {
		n, err = p.Props.Decode(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}
		if err := p.Props.ValidateFor(PropCtxCONNECT); err != nil {
			return totalRead, err
		}
	}

	// Payload.
	p.ClientID, n, err = decodeString(r)
	totalRead += n
	if err != nil {
		return totalRead, err
	}

	if p.WillFlag {
		if p.Version == Version5 {
			n, err = p.WillProps.Decode(r)
			totalRead += n
			if err != nil {
				return totalRead, err
			}
			if err := p.WillProps.ValidateFor(PropCtxWill); err != nil {
				return totalRead, err
			}
		}
		p.WillTopic, n, err = decodeString(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}
		p.WillPayload, n, err = decodeBinary(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}
	}

	if usernameFlag {
		p.Username, n, err = decodeString(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}
	}
	if passwordFlag {
		p.Password, n, err = decodeBinary(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}
	}

	return totalRead, nil
}

// Validate validates the packet contents.
func (p *ConnectPacket) Validate(version ProtocolVersion) error {
	if !version.Valid() {
		return ErrInvalidProtocolVersion
	}
	if p.WillQoS > 2 {
		return ErrInvalidConnectFlags
	}
	if p.WillFlag {
		if err := ValidateTopicName(p.WillTopic); err != nil {
			return err
		}
	}
	if p.ClientID == "" && !p.CleanStart {
		// A zero-length client ID forces the server to assign one,
		// which is incompatible with resuming prior state.
		return ErrClientIDRequired
	}
	if version == Version311 {
		if p.Props.Len() > 0 || p.WillProps.Len() > 0 {
			return ErrInvalidProtocolVersion
		}
	}
	return nil
}
