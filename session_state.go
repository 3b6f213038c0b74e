package protomq

// SessionState is the lifecycle phase of a session. Transitions run
// strictly forward except for the resume path out of Closed; anything
// else is a protocol violation.
type SessionState int

const (
	// StateUnconnected: created, no handshake started.
	StateUnconnected SessionState = iota

	// StateConnecting: CONNECT sent (client role) or received and
	// pending a CONNACK decision (server role).
	StateConnecting

	// StateConnected: handshake complete, traffic flows.
	StateConnected

	// StateDisconnecting: orderly shutdown announced, draining.
	StateDisconnecting

	// StateClosed: terminal for this connection. Persistent sessions
	// may resume into a new connection from here.
	StateClosed
)

var sessionStateNames = map[SessionState]string{
	StateUnconnected:   "unconnected",
	StateConnecting:    "connecting",
	StateConnected:     "connected",
	StateDisconnecting: "disconnecting",
	StateClosed:        "closed",
}

// String returns the state name.
func (s SessionState) String() string {
	if name, ok := sessionStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// sessionTransitions is the set of legal state transitions. Closing is
// always legal and handled separately.
var sessionTransitions = map[SessionState][]SessionState{
	StateUnconnected:   {StateConnecting},
	StateConnecting:    {StateConnected},
	StateConnected:     {StateDisconnecting},
	StateDisconnecting: {},
	StateClosed:        {StateConnecting}, // resume
}

// canTransition reports whether from -> to is a legal transition. Every
// state may move to StateClosed.
func canTransition(from, to SessionState) bool {
	if to == StateClosed {
		return from != StateClosed
	}
	for _, next := range sessionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
