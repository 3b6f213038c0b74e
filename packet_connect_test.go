package protomq

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectPacketRoundtrip(t *testing.T) {
	tests := []struct {
		name    string
		version ProtocolVersion
		packet  ConnectPacket
	}{
		{
			name:    "v311 minimal",
			version: Version311,
			packet: ConnectPacket{
				ClientID:   "client1",
				CleanStart: true,
				KeepAlive:  60,
			},
		},
		{
			name:    "v311 credentials",
			version: Version311,
			packet: ConnectPacket{
				ClientID:  "client1",
				KeepAlive: 30,
				Username:  "user",
				Password:  []byte("secret"),
			},
		},
		{
			name:    "v311 will",
			version: Version311,
			packet: ConnectPacket{
				ClientID:    "client1",
				KeepAlive:   60,
				WillFlag:    true,
				WillTopic:   "status/client1",
				WillPayload: []byte("offline"),
				WillQoS:     1,
				WillRetain:  true,
			},
		},
		{
			name:    "v5 minimal",
			version: Version5,
			packet: ConnectPacket{
				ClientID:   "client1",
				CleanStart: true,
				KeepAlive:  60,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := EncodePacket(&tt.packet, tt.version)
			require.NoError(t, err)

			decoded, _, err := ReadPacket(bytes.NewReader(frame), tt.version, 0)
			require.NoError(t, err)

			got, ok := decoded.(*ConnectPacket)
			require.True(t, ok)
			assert.Equal(t, tt.version, got.Version)
			assert.Equal(t, tt.packet.ClientID, got.ClientID)
			assert.Equal(t, tt.packet.CleanStart, got.CleanStart)
			assert.Equal(t, tt.packet.KeepAlive, got.KeepAlive)
			assert.Equal(t, tt.packet.Username, got.Username)
			assert.Equal(t, tt.packet.Password, got.Password)
			assert.Equal(t, tt.packet.WillFlag, got.WillFlag)
			assert.Equal(t, tt.packet.WillTopic, got.WillTopic)
			assert.Equal(t, tt.packet.WillPayload, got.WillPayload)
			assert.Equal(t, tt.packet.WillQoS, got.WillQoS)
			assert.Equal(t, tt.packet.WillRetain, got.WillRetain)
		})
	}
}

func TestConnectPacketV5Properties(t *testing.T) {
	p := &ConnectPacket{ClientID: "c", CleanStart: true, KeepAlive: 10}
	p.Props.Set(PropSessionExpiryInterval, uint32(120))
	p.Props.Set(PropReceiveMaximum, uint16(20))

	frame, err := EncodePacket(p, Version5)
	require.NoError(t, err)

	decoded, _, err := ReadPacket(bytes.NewReader(frame), Version5, 0)
	require.NoError(t, err)

	got := decoded.(*ConnectPacket)
	assert.Equal(t, uint32(120), got.Props.GetUint32(PropSessionExpiryInterval))
	assert.Equal(t, uint16(20), got.Props.GetUint16(PropReceiveMaximum))
}

func TestConnectPacketV5WillProperties(t *testing.T) {
	p := &ConnectPacket{ClientID: "c", CleanStart: true}
	p.WillFlag = true
	p.WillTopic = "status"
	p.WillPayload = []byte("gone")
	p.WillProps.Set(PropWillDelayInterval, uint32(5))

	frame, err := EncodePacket(p, Version5)
	require.NoError(t, err)

	decoded, _, err := ReadPacket(bytes.NewReader(frame), Version5, 0)
	require.NoError(t, err)

	got := decoded.(*ConnectPacket)
	assert.Equal(t, uint32(5), got.WillProps.GetUint32(PropWillDelayInterval))
	assert.Equal(t, "status", got.WillTopic)
}

func TestConnectPacketVersionDetection(t *testing.T) {
	// The CONNECT body announces the level; the decoder's assumed
	// version does not override it.
	p := &ConnectPacket{ClientID: "c", CleanStart: true}
	frame, err := EncodePacket(p, Version311)
	require.NoError(t, err)

	decoded, _, err := ReadPacket(bytes.NewReader(frame), Version5, 0)
	require.NoError(t, err)
	assert.Equal(t, Version311, decoded.(*ConnectPacket).Version)
}

func TestConnectPacketBadProtocolName(t *testing.T) {
	frame, err := EncodePacket(&ConnectPacket{ClientID: "c", CleanStart: true}, Version311)
	require.NoError(t, err)

	// Corrupt the protocol name: the first body byte after the fixed
	// header holds the name length prefix, the name follows.
	frame[4] = 'X'
	_, _, err = ReadPacket(bytes.NewReader(frame), Version311, 0)
	assert.ErrorIs(t, err, ErrMalformedPacket)
}
