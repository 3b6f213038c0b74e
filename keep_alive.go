package protomq

import (
	"time"
)

// keepAliveGraceFactor is the multiplier applied to the keep-alive
// interval before inbound silence becomes fatal. MQTT specifies one and
// a half intervals.
const keepAliveGraceFactor = 1.5

// KeepAliveMonitor tracks traffic times for a single session and
// answers two questions against an externally supplied clock: does the
// client owe the peer a PINGREQ, and has the peer gone silent long
// enough to kill the connection. All decisions derive from the now
// passed in, so behavior is deterministic under test.
type KeepAliveMonitor struct {
	interval     time.Duration
	role         Role
	lastInbound  time.Time
	lastOutbound time.Time
	pingPending  bool
}

// NewKeepAliveMonitor creates a monitor for the given keep-alive
// interval in seconds. An interval of 0 disables keep-alive entirely.
func NewKeepAliveMonitor(seconds uint16, role Role, now time.Time) *KeepAliveMonitor {
	return &KeepAliveMonitor{
		interval:     time.Duration(seconds) * time.Second,
		role:         role,
		lastInbound:  now,
		lastOutbound: now,
	}
}

// Interval returns the keep-alive interval.
func (m *KeepAliveMonitor) Interval() time.Duration {
	return m.interval
}

// Enabled reports whether keep-alive is active.
func (m *KeepAliveMonitor) Enabled() bool {
	return m.interval > 0
}

// TouchInbound records that a packet arrived from the peer.
func (m *KeepAliveMonitor) TouchInbound(now time.Time) {
	m.lastInbound = now
}

// TouchOutbound records that a packet was sent to the peer. Any packet
// counts; a PINGREQ is only owed after a full interval of outbound
// silence.
func (m *KeepAliveMonitor) TouchOutbound(now time.Time) {
	m.lastOutbound = now
	m.pingPending = false
}

// PingDue reports whether a client-role session owes the peer a
// PINGREQ: a full interval has elapsed with no outbound traffic and no
// PINGREQ already in flight. Server-role sessions never originate
// pings.
func (m *KeepAliveMonitor) PingDue(now time.Time) bool {
	if m.interval == 0 || m.role != RoleClient || m.pingPending {
		return false
	}
	return now.Sub(m.lastOutbound) >= m.interval
}

// MarkPingSent records that a PINGREQ went out, suppressing further
// pings until a PINGRESP or other inbound traffic arrives.
func (m *KeepAliveMonitor) MarkPingSent(now time.Time) {
	m.lastOutbound = now
	m.pingPending = true
}

// MarkPingAcked clears the in-flight ping after a PINGRESP.
func (m *KeepAliveMonitor) MarkPingAcked(now time.Time) {
	m.lastInbound = now
	m.pingPending = false
}

// Expired reports whether the peer has been silent for more than one
// and a half keep-alive intervals. Expiry is fatal to the connection.
func (m *KeepAliveMonitor) Expired(now time.Time) bool {
	if m.interval == 0 {
		return false
	}
	grace := time.Duration(float64(m.interval) * keepAliveGraceFactor)
	return now.Sub(m.lastInbound) >= grace
}

// Deadline returns the instant at which the connection expires absent
// further inbound traffic, or the zero time when keep-alive is
// disabled.
func (m *KeepAliveMonitor) Deadline() time.Time {
	if m.interval == 0 {
		return time.Time{}
	}
	grace := time.Duration(float64(m.interval) * keepAliveGraceFactor)
	return m.lastInbound.Add(grace)
}

// NextPingAt returns the instant at which a client-role session owes
// the next PINGREQ, or the zero time when pings do not apply.
func (m *KeepAliveMonitor) NextPingAt() time.Time {
	if m.interval == 0 || m.role != RoleClient {
		return time.Time{}
	}
	return m.lastOutbound.Add(m.interval)
}
