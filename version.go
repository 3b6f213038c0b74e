package protomq

// ProtocolVersion identifies the MQTT protocol revision in use on a
// connection. The values match the protocol level byte of the CONNECT
// variable header.
type ProtocolVersion byte

const (
	// Version311 is MQTT 3.1.1 (protocol level 4).
	Version311 ProtocolVersion = 4

	// Version5 is MQTT 5.0 (protocol level 5).
	Version5 ProtocolVersion = 5
)

// Valid returns true if the version is one the engine supports.
func (v ProtocolVersion) Valid() bool {
	return v == Version311 || v == Version5
}

// String returns the string representation of the protocol version.
func (v ProtocolVersion) String() string {
	switch v {
	case Version311:
		return "MQTT 3.1.1"
	case Version5:
		return "MQTT 5.0"
	default:
		return "unknown"
	}
}

// Role selects which side of the connection a session drives.
type Role int

const (
	// RoleClient initiates the connection: it sends CONNECT, expects
	// CONNACK, and self-initiates PINGREQ when idle.
	RoleClient Role = iota

	// RoleServer accepts the connection: it expects CONNECT, answers
	// with CONNACK, and relies on the client to ping.
	RoleServer
)

// String returns the string representation of the role.
func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleServer:
		return "server"
	default:
		return "unknown"
	}
}
