package protomq

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAckPacketsRoundtripV311(t *testing.T) {
	packets := []Packet{
		&PubackPacket{PacketID: 1},
		&PubrecPacket{PacketID: 2},
		&PubrelPacket{PacketID: 3},
		&PubcompPacket{PacketID: 4},
	}

	for _, p := range packets {
		t.Run(p.Type().String(), func(t *testing.T) {
			frame, err := EncodePacket(p, Version311)
			require.NoError(t, err)
			// v3.1.1 acks are always a 2-byte body.
			assert.Equal(t, 4, len(frame))

			decoded, _, err := ReadPacket(bytes.NewReader(frame), Version311, 0)
			require.NoError(t, err)
			assert.Equal(t, p.Type(), decoded.Type())
		})
	}
}

func TestAckPacketsV5ElideSuccessBody(t *testing.T) {
	// Success with no properties encodes to the 2-byte short form.
	frame, err := EncodePacket(&PubackPacket{PacketID: 5, ReasonCode: ReasonSuccess}, Version5)
	require.NoError(t, err)
	assert.Equal(t, 4, len(frame))

	decoded, _, err := ReadPacket(bytes.NewReader(frame), Version5, 0)
	require.NoError(t, err)
	got := decoded.(*PubackPacket)
	assert.Equal(t, uint16(5), got.PacketID)
	assert.Equal(t, ReasonSuccess, got.ReasonCode)
}

func TestAckPacketsV5ReasonAndProps(t *testing.T) {
	p := &PubackPacket{PacketID: 5, ReasonCode: ReasonQuotaExceeded}
	p.Props.Set(PropReasonString, "quota")

	frame, err := EncodePacket(p, Version5)
	require.NoError(t, err)

	decoded, _, err := ReadPacket(bytes.NewReader(frame), Version5, 0)
	require.NoError(t, err)
	got := decoded.(*PubackPacket)
	assert.Equal(t, ReasonQuotaExceeded, got.ReasonCode)
	assert.Equal(t, "quota", got.Props.GetString(PropReasonString))
}

func TestAckPacketZeroID(t *testing.T) {
	_, err := EncodePacket(&PubackPacket{PacketID: 0}, Version5)
	assert.ErrorIs(t, err, ErrPacketIDZero)
}

func TestAckPacketV311TrailingBytes(t *testing.T) {
	// A v3.1.1 PUBACK with a 3-byte body is malformed.
	frame := []byte{0x40, 0x03, 0x00, 0x01, 0x00}
	_, _, err := ReadPacket(bytes.NewReader(frame), Version311, 0)
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestPubrelReasonCodeValidation(t *testing.T) {
	_, err := EncodePacket(&PubrelPacket{PacketID: 1, ReasonCode: ReasonQuotaExceeded}, Version5)
	assert.Error(t, err)

	frame, err := EncodePacket(&PubrelPacket{PacketID: 1, ReasonCode: ReasonPacketIDNotFound}, Version5)
	require.NoError(t, err)

	decoded, _, err := ReadPacket(bytes.NewReader(frame), Version5, 0)
	require.NoError(t, err)
	assert.Equal(t, ReasonPacketIDNotFound, decoded.(*PubrelPacket).ReasonCode)
}

func TestPubrelFixedHeaderFlags(t *testing.T) {
	frame, err := EncodePacket(&PubrelPacket{PacketID: 1}, Version5)
	require.NoError(t, err)
	assert.Equal(t, byte(0x62), frame[0])

	// Clearing the reserved flags makes the packet malformed.
	frame[0] = 0x60
	_, _, err = ReadPacket(bytes.NewReader(frame), Version5, 0)
	assert.ErrorIs(t, err, ErrInvalidPacketFlags)
}
