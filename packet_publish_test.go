package protomq

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishPacketRoundtrip(t *testing.T) {
	tests := []struct {
		name   string
		packet PublishPacket
	}{
		{"qos0", PublishPacket{Topic: "t", Payload: []byte("hello")}},
		{"qos0 retain", PublishPacket{Topic: "t", Payload: []byte("hello"), Retain: true}},
		{"qos1", PublishPacket{Topic: "t", Payload: []byte("hello"), QoS: 1, PacketID: 10}},
		{"qos1 dup", PublishPacket{Topic: "t", Payload: []byte("hello"), QoS: 1, DUP: true, PacketID: 10}},
		{"qos2", PublishPacket{Topic: "t/u/v", Payload: []byte("hello"), QoS: 2, PacketID: 65535}},
		{"empty payload", PublishPacket{Topic: "t"}},
	}

	for _, version := range []ProtocolVersion{Version311, Version5} {
		for _, tt := range tests {
			t.Run(version.String()+" "+tt.name, func(t *testing.T) {
				frame, err := EncodePacket(&tt.packet, version)
				require.NoError(t, err)

				decoded, _, err := ReadPacket(bytes.NewReader(frame), version, 0)
				require.NoError(t, err)

				got := decoded.(*PublishPacket)
				assert.Equal(t, tt.packet.Topic, got.Topic)
				assert.Equal(t, tt.packet.Payload, got.Payload)
				assert.Equal(t, tt.packet.QoS, got.QoS)
				assert.Equal(t, tt.packet.DUP, got.DUP)
				assert.Equal(t, tt.packet.Retain, got.Retain)
				assert.Equal(t, tt.packet.PacketID, got.PacketID)
			})
		}
	}
}

func TestPublishPacketV5Properties(t *testing.T) {
	p := &PublishPacket{Topic: "sensors/temp", Payload: []byte("21.5"), QoS: 1, PacketID: 3}
	p.Props.Set(PropContentType, "text/plain")
	p.Props.Set(PropMessageExpiryInterval, uint32(60))
	p.Props.Set(PropResponseTopic, "sensors/temp/reply")

	frame, err := EncodePacket(p, Version5)
	require.NoError(t, err)

	decoded, _, err := ReadPacket(bytes.NewReader(frame), Version5, 0)
	require.NoError(t, err)

	got := decoded.(*PublishPacket)
	assert.Equal(t, "text/plain", got.Props.GetString(PropContentType))
	assert.Equal(t, uint32(60), got.Props.GetUint32(PropMessageExpiryInterval))
	assert.Equal(t, "sensors/temp/reply", got.Props.GetString(PropResponseTopic))
}

func TestPublishPacketValidate(t *testing.T) {
	tests := []struct {
		name    string
		version ProtocolVersion
		packet  PublishPacket
		wantErr error
	}{
		{"qos3", Version5, PublishPacket{Topic: "t", QoS: 3, PacketID: 1}, ErrInvalidQoS},
		{"dup on qos0", Version5, PublishPacket{Topic: "t", DUP: true}, ErrInvalidPacketFlags},
		{"missing packet id", Version5, PublishPacket{Topic: "t", QoS: 1}, ErrPacketIDRequired},
		{"wildcard topic", Version5, PublishPacket{Topic: "a/+/b"}, ErrInvalidTopicName},
		{"hash topic", Version5, PublishPacket{Topic: "a/#"}, ErrInvalidTopicName},
		{"empty topic", Version5, PublishPacket{Topic: ""}, ErrEmptyTopic},
		{"v311 props", Version311, func() PublishPacket {
			p := PublishPacket{Topic: "t"}
			p.Props.Set(PropContentType, "x")
			return p
		}(), ErrInvalidProtocolVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.packet.Validate(tt.version), tt.wantErr)
		})
	}
}

func TestPublishPacketEmptyTopicWithAlias(t *testing.T) {
	p := &PublishPacket{Topic: ""}
	p.Props.Set(PropTopicAlias, uint16(3))
	require.NoError(t, p.Validate(Version5))

	frame, err := EncodePacket(p, Version5)
	require.NoError(t, err)

	decoded, _, err := ReadPacket(bytes.NewReader(frame), Version5, 0)
	require.NoError(t, err)
	got := decoded.(*PublishPacket)
	assert.Empty(t, got.Topic)
	assert.Equal(t, uint16(3), got.Props.GetUint16(PropTopicAlias))
}

func TestPublishMessageConversion(t *testing.T) {
	p := &PublishPacket{Topic: "t", Payload: []byte("x"), QoS: 2, PacketID: 9, Retain: true, DUP: true}
	p.Props.Set(PropContentType, "text/plain")

	msg := p.ToMessage()
	assert.Equal(t, "t", msg.Topic)
	assert.Equal(t, byte(2), msg.QoS)
	assert.True(t, msg.Retain)
	assert.True(t, msg.Duplicate)
	assert.Equal(t, "text/plain", msg.ContentType)

	var back PublishPacket
	back.FromMessage(msg)
	assert.Equal(t, p.Topic, back.Topic)
	assert.Equal(t, p.QoS, back.QoS)
	assert.Equal(t, "text/plain", back.Props.GetString(PropContentType))
}
