// Package protomq implements the MQTT 3.1.1 and 5.0 protocol engine:
// a version-aware control packet codec, a per-connection session state
// machine, and the QoS delivery control that sits between them.
//
// The engine is transport-agnostic. It consumes raw bytes and produces
// raw bytes; anything that can carry an ordered byte stream (TCP, TLS,
// QUIC, WebSocket, a unix socket, an in-memory pipe) can host a session.
//
// # Codec
//
// Packet structs cover all 15 control packet types. ReadPacket and
// WritePacket work against an io.Reader/io.Writer; Decoder provides
// incremental decoding for push-style transports:
//
//	dec := protomq.NewDecoder(protomq.Version5, 0)
//	dec.Feed(chunk)
//	for {
//	    pkt, _, err := dec.Next()
//	    if pkt == nil || err != nil {
//	        break // need more bytes, or the stream is poisoned
//	    }
//	    handle(pkt)
//	}
//
// Both protocol versions share the same packet structs. The version is
// passed to Encode/Decode and selects the wire form: MQTT 5.0 emits
// properties and reason codes, MQTT 3.1.1 emits the fixed return codes
// and omits properties entirely.
//
// # Session
//
// Session is the per-connection state machine. All protocol decisions
// happen inside it, serialized on a single mutex:
//
//	sess := protomq.NewSession(
//	    protomq.WithRole(protomq.RoleClient),
//	    protomq.WithVersion(protomq.Version5),
//	    protomq.WithClientID("sensor-1"),
//	    protomq.WithKeepAlive(30),
//	    protomq.WithMessageHandler(func(msg *protomq.Message) { ... }),
//	)
//	sess.Connect()
//
//	// transport pump
//	sess.Feed(inboundBytes)          // push bytes from the wire
//	frames := sess.PollOutbound()    // pull bytes for the wire
//	sess.Tick(time.Now())            // drive keep-alive and retries
//
// Feed decodes packets and dispatches them through the state machine.
// PollOutbound drains protocol-driven output (acks, pings, retries) as
// well as application publishes. Tick is the only clock input: keep-alive
// obligations and retransmission deadlines are computed from the time it
// is given, so tests can drive the engine deterministically.
//
// QoS 1 and 2 delivery guarantees survive reconnects: construct the
// session with a SessionStore and CleanStart false, and unacknowledged
// publishes are retransmitted (with DUP set) after the session resumes.
//
// # Transports
//
// Pump copies bytes between a net.Conn and a Session. TCPDialer,
// TCPListener, WSDialer, QUICDialer and ProxyDialer cover the common
// cases; any net.Conn works.
package protomq
