package protomq

import "io"

// PacketType represents an MQTT control packet type.
type PacketType byte

// MQTT control packet types, common to both protocol versions. AUTH is
// MQTT 5.0 only.
const (
	PacketCONNECT     PacketType = 1
	PacketCONNACK     PacketType = 2
	PacketPUBLISH     PacketType = 3
	PacketPUBACK      PacketType = 4
	PacketPUBREC      PacketType = 5
	PacketPUBREL      PacketType = 6
	PacketPUBCOMP     PacketType = 7
	PacketSUBSCRIBE   PacketType = 8
	PacketSUBACK      PacketType = 9
	PacketUNSUBSCRIBE PacketType = 10
	PacketUNSUBACK    PacketType = 11
	PacketPINGREQ     PacketType = 12
	PacketPINGRESP    PacketType = 13
	PacketDISCONNECT  PacketType = 14
	PacketAUTH        PacketType = 15
)

var packetTypeNames = map[PacketType]string{
	PacketCONNECT:     "CONNECT",
	PacketCONNACK:     "CONNACK",
	PacketPUBLISH:     "PUBLISH",
	PacketPUBACK:      "PUBACK",
	PacketPUBREC:      "PUBREC",
	PacketPUBREL:      "PUBREL",
	PacketPUBCOMP:     "PUBCOMP",
	PacketSUBSCRIBE:   "SUBSCRIBE",
	PacketSUBACK:      "SUBACK",
	PacketUNSUBSCRIBE: "UNSUBSCRIBE",
	PacketUNSUBACK:    "UNSUBACK",
	PacketPINGREQ:     "PINGREQ",
	PacketPINGRESP:    "PINGRESP",
	PacketDISCONNECT:  "DISCONNECT",
	PacketAUTH:        "AUTH",
}

// String returns the string representation of the packet type.
func (p PacketType) String() string {
	if s, ok := packetTypeNames[p]; ok {
		return s
	}
	return "UNKNOWN"
}

// Valid returns true for the defined packet types under the given
// protocol version. AUTH does not exist in MQTT 3.1.1.
func (p PacketType) Valid(version ProtocolVersion) bool {
	if p < PacketCONNECT || p > PacketAUTH {
		return false
	}
	if p == PacketAUTH && version != Version5 {
		return false
	}
	return true
}

// Fixed header errors. All are in the ErrMalformedPacket class.
var (
	ErrInvalidPacketType  = malformedf("invalid packet type")
	ErrInvalidPacketFlags = malformedf("invalid fixed header flags")
	ErrLengthMismatch     = malformedf("remaining length does not match packet content")
)

// FixedHeader is the two-to-five byte envelope of every control packet:
// type nibble, flags nibble, and the remaining length varint.
type FixedHeader struct {
	PacketType      PacketType
	Flags           byte
	RemainingLength uint32
}

// Encode writes the fixed header to w.
func (h *FixedHeader) Encode(w io.Writer) (int, error) {
	if h.PacketType < PacketCONNECT || h.PacketType > PacketAUTH {
		return 0, ErrInvalidPacketType
	}

	n, err := encodeByte(w, byte(h.PacketType)<<4|(h.Flags&0x0F))
	if err != nil {
		return n, err
	}

	n2, err := encodeVarint(w, h.RemainingLength)
	return n + n2, err
}

// Decode reads the fixed header from r.
func (h *FixedHeader) Decode(r io.Reader) (int, error) {
	b, n, err := decodeByte(r)
	if err != nil {
		return n, err
	}

	h.PacketType = PacketType(b >> 4)
	h.Flags = b & 0x0F

	if h.PacketType < PacketCONNECT || h.PacketType > PacketAUTH {
		return n, ErrInvalidPacketType
	}

	length, n2, err := decodeVarint(r)
	n += n2
	if err != nil {
		return n, err
	}

	h.RemainingLength = length
	return n, nil
}

// Size returns the encoded size of the fixed header in bytes.
func (h *FixedHeader) Size() int {
	return 1 + varintSize(h.RemainingLength)
}

// ValidateFlags checks the flags nibble against the packet type. Every
// type except PUBLISH has a fixed flags value; PUBLISH carries DUP, QoS
// and RETAIN with QoS 3 forbidden.
func (h *FixedHeader) ValidateFlags() error {
	switch h.PacketType {
	case PacketPUBLISH:
		if (h.Flags>>1)&0x03 > 2 {
			return ErrInvalidPacketFlags
		}
		return nil

	case PacketPUBREL, PacketSUBSCRIBE, PacketUNSUBSCRIBE:
		// Reserved flags fixed at 0b0010.
		if h.Flags != 0x02 {
			return ErrInvalidPacketFlags
		}
		return nil

	case PacketCONNECT, PacketCONNACK, PacketPUBACK, PacketPUBREC,
		PacketPUBCOMP, PacketSUBACK, PacketUNSUBACK, PacketPINGREQ,
		PacketPINGRESP, PacketDISCONNECT, PacketAUTH:
		if h.Flags != 0x00 {
			return ErrInvalidPacketFlags
		}
		return nil

	default:
		return ErrInvalidPacketType
	}
}

// PUBLISH flag accessors.

// DUP returns the DUP flag from PUBLISH packet flags.
func (h *FixedHeader) DUP() bool {
	return h.Flags&0x08 != 0
}

// SetDUP sets the DUP flag for a PUBLISH packet.
func (h *FixedHeader) SetDUP(dup bool) {
	if dup {
		h.Flags |= 0x08
	} else {
		h.Flags &^= 0x08
	}
}

// QoS returns the QoS level from PUBLISH packet flags.
func (h *FixedHeader) QoS() byte {
	return (h.Flags >> 1) & 0x03
}

// Retain returns the RETAIN flag from PUBLISH packet flags.
func (h *FixedHeader) Retain() bool {
	return h.Flags&0x01 != 0
}
