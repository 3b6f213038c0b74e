package protomq

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pumpSessions shuttles queued frames between two sessions until both
// outboxes drain, failing on any transport-fatal error.
func pumpSessions(t *testing.T, a, b *Session) {
	t.Helper()
	for {
		aFrames := a.PollOutbound()
		for _, frame := range aFrames {
			require.NoError(t, b.Feed(frame))
		}
		bFrames := b.PollOutbound()
		for _, frame := range bFrames {
			require.NoError(t, a.Feed(frame))
		}
		if len(aFrames) == 0 && len(bFrames) == 0 {
			return
		}
	}
}

// connectedPair runs the full handshake between a fresh client and
// server session.
func connectedPair(t *testing.T, version ProtocolVersion, clientOpts, serverOpts []SessionOption) (*Session, *Session) {
	t.Helper()

	client := NewSession(append([]SessionOption{
		WithVersion(version),
		WithClientID("client-1"),
	}, clientOpts...)...)
	server := NewSession(append([]SessionOption{
		WithRole(RoleServer),
		WithVersion(version),
	}, serverOpts...)...)

	require.NoError(t, client.Connect())
	pumpSessions(t, client, server)

	require.Equal(t, StateConnected, client.State())
	require.Equal(t, StateConnected, server.State())
	return client, server
}

func decodeFrame(t *testing.T, frame []byte, version ProtocolVersion) Packet {
	t.Helper()
	packet, _, err := ReadPacket(bytes.NewReader(frame), version, 0)
	require.NoError(t, err)
	return packet
}

func TestSessionHandshake(t *testing.T) {
	for _, version := range []ProtocolVersion{Version311, Version5} {
		t.Run(version.String(), func(t *testing.T) {
			client, server := connectedPair(t, version, nil, nil)

			assert.Equal(t, RoleClient, client.Role())
			assert.Equal(t, RoleServer, server.Role())
			assert.Equal(t, version, server.Version())
			assert.Equal(t, "client-1", server.ClientID())
		})
	}
}

func TestSessionVersionFromConnect(t *testing.T) {
	// A server session configured for v5 settles on whatever version
	// the CONNECT announces.
	client := NewSession(WithVersion(Version311), WithClientID("legacy"))
	server := NewSession(WithRole(RoleServer), WithVersion(Version5))

	require.NoError(t, client.Connect())
	pumpSessions(t, client, server)

	assert.Equal(t, Version311, server.Version())
	assert.Equal(t, StateConnected, server.State())
}

func TestSessionConnectErrors(t *testing.T) {
	server := NewSession(WithRole(RoleServer))
	assert.ErrorIs(t, server.Connect(), ErrProtocolViolation)

	client, _ := connectedPair(t, Version5, nil, nil)
	assert.ErrorIs(t, client.Connect(), ErrAlreadyConnected)
}

func TestSessionPublishStateGuards(t *testing.T) {
	s := NewSession(WithClientID("c"))

	_, err := s.Publish(&Message{Topic: "a"})
	assert.ErrorIs(t, err, ErrNotConnected)

	client, _ := connectedPair(t, Version5, nil, nil)
	_, err = client.Publish(&Message{Topic: "a/+"})
	assert.ErrorIs(t, err, ErrInvalidTopicName)
	_, err = client.Publish(&Message{Topic: "a", QoS: 3})
	assert.ErrorIs(t, err, ErrInvalidQoS)

	require.NoError(t, client.Close())
	_, err = client.Publish(&Message{Topic: "a"})
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSessionQoS0Delivery(t *testing.T) {
	var received []*Message
	client, server := connectedPair(t, Version5, nil, []SessionOption{
		WithMessageHandler(func(msg *Message) { received = append(received, msg) }),
	})

	id, err := client.Publish(&Message{Topic: "sensors/temp", Payload: []byte("21.5")})
	require.NoError(t, err)
	assert.Equal(t, uint16(0), id)

	pumpSessions(t, client, server)
	require.Len(t, received, 1)
	assert.Equal(t, "sensors/temp", received[0].Topic)
	assert.Equal(t, []byte("21.5"), received[0].Payload)
}

func TestSessionQoS1Delivery(t *testing.T) {
	var received []*Message
	var completed []uint16
	client, server := connectedPair(t, Version5,
		[]SessionOption{
			WithDeliveryHandler(func(id uint16, msg *Message) { completed = append(completed, id) }),
		},
		[]SessionOption{
			WithMessageHandler(func(msg *Message) { received = append(received, msg) }),
		})

	id, err := client.Publish(&Message{Topic: "a/b", Payload: []byte("x"), QoS: 1})
	require.NoError(t, err)
	require.NotZero(t, id)
	assert.Equal(t, 1, client.InFlight())

	pumpSessions(t, client, server)

	require.Len(t, received, 1)
	assert.Equal(t, byte(1), received[0].QoS)
	assert.Equal(t, []uint16{id}, completed)
	assert.Equal(t, 0, client.InFlight())
}

func TestSessionQoS2ExactlyOnce(t *testing.T) {
	var received []*Message
	client, server := connectedPair(t, Version5, nil, []SessionOption{
		WithMessageHandler(func(msg *Message) { received = append(received, msg) }),
	})

	id, err := client.Publish(&Message{Topic: "a/b", Payload: []byte("x"), QoS: 2})
	require.NoError(t, err)

	frames := client.PollOutbound()
	require.Len(t, frames, 1)

	// The same PUBLISH twice, as after a lost PUBREC.
	require.NoError(t, server.Feed(frames[0]))
	require.NoError(t, server.Feed(frames[0]))
	require.Len(t, received, 1)

	pubrecs := server.PollOutbound()
	require.Len(t, pubrecs, 2)

	require.NoError(t, client.Feed(pubrecs[0]))
	pubrels := client.PollOutbound()
	require.Len(t, pubrels, 1)

	require.NoError(t, server.Feed(pubrels[0]))
	pubcomps := server.PollOutbound()
	require.Len(t, pubcomps, 1)

	require.NoError(t, client.Feed(pubcomps[0]))
	require.NotZero(t, id)
	assert.Equal(t, 0, client.InFlight())
	assert.Len(t, received, 1)
	assert.Equal(t, byte(2), received[0].QoS)
}

func TestSessionReceiveMaximumBackpressure(t *testing.T) {
	client, server := connectedPair(t, Version5, nil, []SessionOption{
		WithReceiveMaximum(1),
	})

	id1, err := client.Publish(&Message{Topic: "a", QoS: 1})
	require.NoError(t, err)
	id2, err := client.Publish(&Message{Topic: "b", QoS: 1})
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	// Only the first delivery fits the peer's receive maximum.
	frames := client.PollOutbound()
	require.Len(t, frames, 1)
	pub := decodeFrame(t, frames[0], Version5).(*PublishPacket)
	assert.Equal(t, id1, pub.PacketID)

	// Its PUBACK frees the quota slot and flushes the queued frame.
	require.NoError(t, server.Feed(frames[0]))
	for _, frame := range server.PollOutbound() {
		require.NoError(t, client.Feed(frame))
	}

	frames = client.PollOutbound()
	require.Len(t, frames, 1)
	pub = decodeFrame(t, frames[0], Version5).(*PublishPacket)
	assert.Equal(t, id2, pub.PacketID)
}

func TestSessionMalformedInputV5(t *testing.T) {
	client, server := connectedPair(t, Version5, nil, nil)
	_ = client

	// Packet type 0 is reserved.
	err := server.Feed([]byte{0x00, 0x00})
	require.ErrorIs(t, err, ErrMalformedPacket)
	assert.Equal(t, StateClosed, server.State())

	frames := server.PollOutbound()
	require.Len(t, frames, 1)
	disconnect := decodeFrame(t, frames[0], Version5).(*DisconnectPacket)
	assert.Equal(t, ReasonMalformedPacket, disconnect.ReasonCode)
}

func TestSessionMalformedInputV311(t *testing.T) {
	client, server := connectedPair(t, Version311, nil, nil)
	_ = client

	err := server.Feed([]byte{0x00, 0x00})
	require.ErrorIs(t, err, ErrMalformedPacket)
	assert.Equal(t, StateClosed, server.State())

	// 3.1.1 has no DISCONNECT from the server; the close is silent.
	assert.Empty(t, server.PollOutbound())
}

func TestSessionKeepAlivePing(t *testing.T) {
	base := time.Now()
	client, server := connectedPair(t, Version5,
		[]SessionOption{WithKeepAlive(5)}, nil)

	require.NoError(t, client.Tick(base.Add(6*time.Second)))
	frames := client.PollOutbound()
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{0xC0, 0x00}, frames[0])

	require.NoError(t, server.Feed(frames[0]))
	resp := server.PollOutbound()
	require.Len(t, resp, 1)
	assert.Equal(t, []byte{0xD0, 0x00}, resp[0])
	require.NoError(t, client.Feed(resp[0]))

	// No second ping before another full interval of silence.
	require.NoError(t, client.Tick(base.Add(7*time.Second)))
	assert.Empty(t, client.PollOutbound())
}

func TestSessionKeepAliveExpiry(t *testing.T) {
	base := time.Now()
	client, server := connectedPair(t, Version5,
		[]SessionOption{WithKeepAlive(5)}, nil)
	_ = client

	require.NoError(t, server.Tick(base.Add(7*time.Second)))

	err := server.Tick(base.Add(9 * time.Second))
	assert.ErrorIs(t, err, ErrKeepAliveTimeout)
	assert.Equal(t, StateClosed, server.State())
	assert.ErrorIs(t, server.Err(), ErrKeepAliveTimeout)
}

func TestSessionSubscribeFlow(t *testing.T) {
	client, server := connectedPair(t, Version5, nil, []SessionOption{
		WithSubscribeHandler(func(sub Subscription) ReasonCode {
			if sub.TopicFilter == "forbidden/#" {
				return ReasonNotAuthorized
			}
			// Grant at most QoS 1.
			if sub.QoS > 1 {
				return ReasonCode(1)
			}
			return ReasonCode(sub.QoS)
		}),
	})

	_, err := client.Subscribe()
	assert.ErrorIs(t, err, ErrNoTopicFilters)
	_, err = client.Subscribe(Subscription{TopicFilter: "a/#/b"})
	assert.ErrorIs(t, err, ErrInvalidTopicFilter)

	_, err = client.Subscribe(
		Subscription{TopicFilter: "sensors/+", QoS: 2},
		Subscription{TopicFilter: "forbidden/#", QoS: 0},
	)
	require.NoError(t, err)
	pumpSessions(t, client, server)

	subs := client.Subscriptions()
	require.Len(t, subs, 1)
	assert.Equal(t, "sensors/+", subs[0].TopicFilter)
	assert.Equal(t, byte(1), subs[0].QoS)

	serverSubs := server.Subscriptions()
	require.Len(t, serverSubs, 1)
	assert.Equal(t, "sensors/+", serverSubs[0].TopicFilter)
}

func TestSessionUnsubscribeFlow(t *testing.T) {
	client, server := connectedPair(t, Version5, nil, nil)

	_, err := client.Subscribe(Subscription{TopicFilter: "a/b", QoS: 0})
	require.NoError(t, err)
	pumpSessions(t, client, server)
	require.Len(t, client.Subscriptions(), 1)

	_, err = client.Unsubscribe("a/b")
	require.NoError(t, err)
	pumpSessions(t, client, server)

	assert.Empty(t, client.Subscriptions())
	assert.Empty(t, server.Subscriptions())
}

func TestSessionUnsubscribeV311(t *testing.T) {
	client, server := connectedPair(t, Version311, nil, nil)

	_, err := client.Subscribe(Subscription{TopicFilter: "a/b", QoS: 0})
	require.NoError(t, err)
	pumpSessions(t, client, server)
	require.Len(t, client.Subscriptions(), 1)

	id, err := client.Unsubscribe("a/b")
	require.NoError(t, err)
	frames := client.PollOutbound()
	require.Len(t, frames, 1)
	require.NoError(t, server.Feed(frames[0]))

	// A 3.1.1 UNSUBACK is the bare two-byte identifier, no payload.
	acks := server.PollOutbound()
	require.Len(t, acks, 1)
	assert.Equal(t, []byte{0xB0, 0x02, byte(id >> 8), byte(id)}, acks[0])

	require.NoError(t, client.Feed(acks[0]))
	assert.Empty(t, client.Subscriptions())
	assert.Empty(t, server.Subscriptions())
	assert.Equal(t, StateConnected, server.State())
}

func TestSessionDisconnect(t *testing.T) {
	client, server := connectedPair(t, Version5, nil, nil)

	require.NoError(t, client.Disconnect(ReasonNormalDisconnect))
	assert.Equal(t, StateClosed, client.State())

	frames := client.PollOutbound()
	require.Len(t, frames, 1)
	require.NoError(t, server.Feed(frames[0]))

	assert.Equal(t, StateClosed, server.State())
	assert.NoError(t, server.Err())
}

func TestSessionRemoteDisconnectWithError(t *testing.T) {
	client, server := connectedPair(t, Version5, nil, nil)

	require.NoError(t, client.Disconnect(ReasonAdminAction))
	frames := client.PollOutbound()
	require.Len(t, frames, 1)

	err := server.Feed(frames[0])
	var disconnectErr *DisconnectError
	require.ErrorAs(t, err, &disconnectErr)
	assert.Equal(t, ReasonAdminAction, disconnectErr.ReasonCode)
	assert.Equal(t, StateClosed, server.State())
}

func TestSessionConnectRefused(t *testing.T) {
	client := NewSession(WithVersion(Version5), WithClientID("c"))
	server := NewSession(WithRole(RoleServer), WithVersion(Version5),
		WithConnectHandler(func(connect *ConnectPacket) ReasonCode {
			return ReasonNotAuthorized
		}))

	require.NoError(t, client.Connect())
	connectFrames := client.PollOutbound()
	require.Len(t, connectFrames, 1)

	err := server.Feed(connectFrames[0])
	assert.ErrorIs(t, err, ErrConnectRejected)
	assert.Equal(t, StateClosed, server.State())

	connacks := server.PollOutbound()
	require.Len(t, connacks, 1)
	err = client.Feed(connacks[0])
	var connectErr *ConnectError
	require.ErrorAs(t, err, &connectErr)
	assert.Equal(t, ReasonNotAuthorized, connectErr.ReasonCode)
	assert.Equal(t, StateClosed, client.State())
}

func TestSessionRoleViolation(t *testing.T) {
	client, _ := connectedPair(t, Version5, nil, nil)

	sub := &SubscribePacket{PacketID: 1, Subscriptions: []Subscription{{TopicFilter: "a"}}}
	frame, err := EncodePacket(sub, Version5)
	require.NoError(t, err)

	err = client.Feed(frame)
	assert.ErrorIs(t, err, ErrProtocolViolation)
	assert.Equal(t, StateClosed, client.State())
	assert.ErrorIs(t, client.Err(), ErrProtocolViolation)
}

func TestSessionTopicAlias(t *testing.T) {
	var topics []string
	client, server := connectedPair(t, Version5, nil, []SessionOption{
		WithTopicAliasMaximum(5),
		WithMessageHandler(func(msg *Message) { topics = append(topics, msg.Topic) }),
	})

	for i := 0; i < 3; i++ {
		_, err := client.Publish(&Message{Topic: "metrics/cpu", Payload: []byte{byte(i)}})
		require.NoError(t, err)
	}

	frames := client.PollOutbound()
	require.Len(t, frames, 3)

	// First frame establishes the alias with the full topic; the rest
	// carry the alias alone.
	first := decodeFrame(t, frames[0], Version5).(*PublishPacket)
	assert.Equal(t, "metrics/cpu", first.Topic)
	assert.Equal(t, uint16(1), first.Props.GetUint16(PropTopicAlias))

	for _, frame := range frames[1:] {
		pub := decodeFrame(t, frame, Version5).(*PublishPacket)
		assert.Equal(t, "", pub.Topic)
		assert.Equal(t, uint16(1), pub.Props.GetUint16(PropTopicAlias))
	}

	for _, frame := range frames {
		require.NoError(t, server.Feed(frame))
	}
	assert.Equal(t, []string{"metrics/cpu", "metrics/cpu", "metrics/cpu"}, topics)
}

func TestSessionTopicAliasUnknown(t *testing.T) {
	_, server := connectedPair(t, Version5, nil, []SessionOption{
		WithTopicAliasMaximum(5),
	})

	pub := &PublishPacket{Topic: ""}
	pub.Props.Set(PropTopicAlias, uint16(3))
	frame, err := EncodePacket(pub, Version5)
	require.NoError(t, err)

	err = server.Feed(frame)
	assert.ErrorIs(t, err, ErrTopicAliasNotFound)
	assert.Equal(t, StateClosed, server.State())
}

func TestSessionEnhancedAuth(t *testing.T) {
	lookup := scramTestLookup(t, SCRAMHashSHA256, "s3cret")

	client, server := connectedPair(t, Version5,
		[]SessionOption{
			WithAuthenticator(NewSCRAMAuthenticator("alice", "s3cret", SCRAMHashSHA256)),
		},
		[]SessionOption{
			WithAuthenticator(NewSCRAMVerifier(SCRAMHashSHA256, lookup)),
		})

	assert.Equal(t, StateConnected, client.State())
	assert.Equal(t, StateConnected, server.State())
}

func TestSessionEnhancedAuthBadPassword(t *testing.T) {
	lookup := scramTestLookup(t, SCRAMHashSHA256, "s3cret")

	client := NewSession(WithVersion(Version5), WithClientID("c"),
		WithAuthenticator(NewSCRAMAuthenticator("alice", "wrong", SCRAMHashSHA256)))
	server := NewSession(WithRole(RoleServer), WithVersion(Version5),
		WithAuthenticator(NewSCRAMVerifier(SCRAMHashSHA256, lookup)))

	require.NoError(t, client.Connect())

	// CONNECT with client-first data, then the round that fails.
	for _, frame := range client.PollOutbound() {
		require.NoError(t, server.Feed(frame))
	}
	for _, frame := range server.PollOutbound() {
		require.NoError(t, client.Feed(frame))
	}

	var fed error
	for _, frame := range client.PollOutbound() {
		fed = server.Feed(frame)
	}
	assert.ErrorIs(t, fed, ErrConnectRejected)
	assert.Equal(t, StateClosed, server.State())

	connacks := server.PollOutbound()
	require.Len(t, connacks, 1)
	connack := decodeFrame(t, connacks[0], Version5).(*ConnackPacket)
	assert.Equal(t, ReasonNotAuthorized, connack.ReasonCode)
}

func TestSessionRetransmission(t *testing.T) {
	base := time.Now()
	client, server := connectedPair(t, Version5,
		[]SessionOption{WithKeepAlive(0), WithRetryInterval(2 * time.Second)}, nil)
	_ = server

	_, err := client.Publish(&Message{Topic: "a", Payload: []byte("x"), QoS: 1})
	require.NoError(t, err)
	original := client.PollOutbound()
	require.Len(t, original, 1)

	require.NoError(t, client.Tick(base.Add(3*time.Second)))
	retries := client.PollOutbound()
	require.Len(t, retries, 1)
	assert.Equal(t, original[0][0]|0x08, retries[0][0])
	assert.Equal(t, original[0][1:], retries[0][1:])
}
