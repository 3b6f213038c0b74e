package protomq

import (
	"bytes"
	"io"
)

// ErrInvalidReasonCode is returned when an ack carries a reason code
// outside its packet's allowed set.
var ErrInvalidReasonCode = malformedf("invalid reason code for packet type")

// ackPacket is the shared shape of PUBACK, PUBREC, PUBREL and PUBCOMP.
// MQTT 3.1.1 encodes only the identifier; MQTT 5.0 appends an optional
// reason code and properties.
type ackPacket struct {
	PacketID   uint16
	ReasonCode ReasonCode
	Props      Properties
}

// encodeAck encodes an acknowledgment packet.
func encodeAck(w io.Writer, packetType PacketType, flags byte, ack *ackPacket, version ProtocolVersion) (int, error) {
	var buf bytes.Buffer

	if _, err := encodeUint16(&buf, ack.PacketID); err != nil {
		return 0, err
	}

	// v5 reason code and properties are elided for the common
	// success-with-no-properties case.
	if version == Version5 && (ack.ReasonCode != ReasonSuccess || ack.Props.Len() > 0) {
		buf.WriteByte(byte(ack.ReasonCode))
		if ack.Props.Len() > 0 {
			if _, err := ack.Props.Encode(&buf); err != nil {
				return 0, err
			}
		}
	}

	header := FixedHeader{
		PacketType:      packetType,
		Flags:           flags,
		RemainingLength: uint32(buf.Len()),
	}
	total, err := header.Encode(w)
	if err != nil {
		return total, err
	}
	n, err := w.Write(buf.Bytes())
	return total + n, err
}

// decodeAck decodes an acknowledgment packet body.
func decodeAck(r io.Reader, header FixedHeader, ack *ackPacket, propCtx PropertyContext, version ProtocolVersion) (int, error) {
	var totalRead int

	id, n, err := decodeUint16(r)
	totalRead += n
	if err != nil {
		return totalRead, err
	}
	if id == 0 {
		return totalRead, ErrPacketIDZero
	}
	ack.PacketID = id
	ack.ReasonCode = ReasonSuccess

	if version == Version311 {
		if header.RemainingLength != 2 {
			return totalRead, ErrLengthMismatch
		}
		return totalRead, nil
	}

	if header.RemainingLength > 2 {
		code, n, err := decodeByte(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}
		ack.ReasonCode = ReasonCode(code)

		if header.RemainingLength > 3 {
			n, err = ack.Props.Decode(r)
			totalRead += n
			if err != nil {
				return totalRead, err
			}
			if err := ack.Props.ValidateFor(propCtx); err != nil {
				return totalRead, err
			}
		}
	}

	return totalRead, nil
}

// validAckReason reports whether the reason code is legal for the
// PUBACK/PUBREC family.
func validAckReason(code ReasonCode) bool {
	switch code {
	case ReasonSuccess, ReasonNoMatchingSubscribers, ReasonUnspecifiedError,
		ReasonImplSpecificError, ReasonNotAuthorized, ReasonTopicNameInvalid,
		ReasonPacketIDInUse, ReasonQuotaExceeded, ReasonPayloadFormatInvalid:
		return true
	default:
		return false
	}
}

// validRelReason reports whether the reason code is legal for
// PUBREL/PUBCOMP.
func validRelReason(code ReasonCode) bool {
	return code == ReasonSuccess || code == ReasonPacketIDNotFound
}
