package protomq

import (
	"errors"
	"time"
)

var (
	ErrSnapshotNotFound = errors.New("protomq: no session snapshot for client")
)

// InflightRecord is one persisted outbound delivery: enough to resume
// the acknowledgment exchange with byte-identical retransmissions.
type InflightRecord struct {
	PacketID uint16
	QoS      byte
	State    FlowState
	Frame    []byte
	Attempts int
	Message  *Message
}

// InboundRecord is one persisted inbound QoS 2 identifier held for
// deduplication across a reconnect.
type InboundRecord struct {
	PacketID   uint16
	PubrecSent bool
}

// SessionSnapshot is the durable state of a session between
// connections: subscriptions plus both sides of the unfinished QoS
// flows. Clean-start sessions never produce one.
type SessionSnapshot struct {
	ClientID      string
	Version       ProtocolVersion
	Subscriptions []Subscription
	Outbound      []InflightRecord
	Inbound       []InboundRecord
	TakenAt       time.Time
}

// SessionStore persists session snapshots across connections.
type SessionStore interface {
	// Save stores a snapshot, replacing any previous one for the same
	// client.
	Save(snapshot *SessionSnapshot) error

	// Load retrieves the snapshot for a client, or ErrSnapshotNotFound.
	Load(clientID string) (*SessionSnapshot, error)

	// Delete removes the snapshot for a client. Deleting a missing
	// snapshot is not an error.
	Delete(clientID string) error

	// List returns the client IDs with stored snapshots.
	List() []string
}
