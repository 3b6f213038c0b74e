package protomq

import (
	"errors"
	"fmt"
)

// Top-level error classes. Every wire- or protocol-level failure the
// engine reports wraps one of these, so callers can classify with
// errors.Is without enumerating individual causes.
var (
	// ErrMalformedPacket is the class of wire-level violations: bad
	// varints, invalid UTF-8, reserved bits set, remaining-length
	// mismatches, illegal property encodings. Always fatal to the
	// connection.
	ErrMalformedPacket = errors.New("protomq: malformed packet")

	// ErrProtocolViolation is the class of structurally valid packets
	// that are illegal in the current session state or break session
	// invariants. Always fatal to the connection.
	ErrProtocolViolation = errors.New("protomq: protocol violation")
)

// Sentinel errors for session lifecycle - check with errors.Is().
var (
	// ErrSessionClosed is returned for operations on a closed session,
	// and is the error pending publishes fail with when the session
	// closes underneath them.
	ErrSessionClosed = errors.New("protomq: session closed")

	// ErrNotConnected is returned when an operation requires the
	// session to be in the connected state.
	ErrNotConnected = errors.New("protomq: not connected")

	// ErrAlreadyConnected is returned for a second connect attempt on
	// a live session.
	ErrAlreadyConnected = errors.New("protomq: already connected")

	// ErrKeepAliveTimeout reports that no inbound traffic arrived
	// within 1.5x the keep-alive interval. Fatal.
	ErrKeepAliveTimeout = errors.New("protomq: keep-alive timeout")

	// ErrConnectRejected is returned when the peer refuses the
	// CONNECT/CONNACK handshake.
	ErrConnectRejected = errors.New("protomq: connection rejected")
)

// Recoverable backpressure errors - check with errors.Is().
var (
	// ErrPacketIDExhausted means all 65535 packet identifiers are in
	// flight. The caller should wait for an acknowledgment to release
	// one; the connection itself is healthy.
	ErrPacketIDExhausted = errors.New("protomq: no available packet identifiers")

	// ErrPacketIDNotFound is returned when releasing an identifier
	// that was never allocated. This is a programmer error.
	ErrPacketIDNotFound = errors.New("protomq: packet identifier not allocated")

	// ErrPacketIDInUse is returned when claiming an identifier that is
	// already allocated, as when a corrupt snapshot carries the same
	// identifier twice.
	ErrPacketIDInUse = errors.New("protomq: packet identifier already in use")
)

// malformedf builds a wire-level error in the ErrMalformedPacket class.
func malformedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedPacket, fmt.Sprintf(format, args...))
}

// violationf builds a state-level error in the ErrProtocolViolation class.
func violationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocolViolation, fmt.Sprintf(format, args...))
}

// ConnectError carries the reason the peer gave for refusing a
// connection. Extract with errors.As().
type ConnectError struct {
	// ReasonCode is the CONNACK reason code (v5) or the mapped v3.1.1
	// return code.
	ReasonCode ReasonCode

	// ReturnCode is the raw v3.1.1 CONNACK return code, when the
	// session speaks MQTT 3.1.1.
	ReturnCode ConnectReturnCode

	// Props are the CONNACK properties, when present (v5 only).
	Props *Properties
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("protomq: connection rejected: %s", e.ReasonCode)
}

func (e *ConnectError) Unwrap() error { return ErrConnectRejected }

// DisconnectError reports a remote DISCONNECT. Extract with errors.As().
type DisconnectError struct {
	// ReasonCode is the DISCONNECT reason code (v5). MQTT 3.1.1 has no
	// reason codes; sessions report ReasonNormalDisconnect.
	ReasonCode ReasonCode

	// Props are the DISCONNECT properties, when present (v5 only).
	Props *Properties
}

func (e *DisconnectError) Error() string {
	return fmt.Sprintf("protomq: remote disconnect: %s", e.ReasonCode)
}
