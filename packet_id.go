package protomq

import (
	"sync"
)

const maxPacketID = 65535

// PacketIDManager manages allocation and release of packet identifiers
// (1-65535). Allocation always hands out the lowest identifier not
// currently in flight, so the identifier space stays dense and readable
// in traces.
type PacketIDManager struct {
	mu   sync.Mutex
	used map[uint16]struct{}
	// low is the smallest identifier that might be free. Allocation
	// scans upward from here; Release moves it back down.
	low uint16
}

// NewPacketIDManager creates a new packet identifier manager.
func NewPacketIDManager() *PacketIDManager {
	return &PacketIDManager{
		used: make(map[uint16]struct{}),
		low:  1,
	}
}

// Allocate returns the lowest available packet identifier. When all
// 65535 identifiers are in flight it returns ErrPacketIDExhausted;
// the caller should retry after an acknowledgment releases one.
func (m *PacketIDManager) Allocate() (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.used) >= maxPacketID {
		return 0, ErrPacketIDExhausted
	}

	for id := m.low; ; id++ {
		if id == 0 {
			// m.low wraps to 0 after identifier 65535 is handed out;
			// identifier 0 is reserved on the wire.
			id = 1
		}
		if _, ok := m.used[id]; !ok {
			m.used[id] = struct{}{}
			if id == maxPacketID {
				m.low = 1
			} else {
				m.low = id + 1
			}
			return id, nil
		}
		if id == maxPacketID {
			// Unreachable while len(used) < maxPacketID keeps a hole
			// at or above m.low, but guard the wrap anyway.
			return 0, ErrPacketIDExhausted
		}
	}
}

// MarkUsed claims a specific identifier, for restoring in-flight state
// from a session snapshot. Claiming an identifier that is already
// allocated returns ErrPacketIDInUse.
func (m *PacketIDManager) MarkUsed(id uint16) error {
	if id == 0 {
		return ErrPacketIDZero
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.used[id]; ok {
		return ErrPacketIDInUse
	}
	m.used[id] = struct{}{}
	return nil
}

// Release returns a packet identifier for reuse.
func (m *PacketIDManager) Release(id uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.used[id]; !ok {
		return ErrPacketIDNotFound
	}
	delete(m.used, id)
	if id < m.low {
		m.low = id
	}
	return nil
}

// IsUsed returns true if the packet identifier is currently in use.
func (m *PacketIDManager) IsUsed(id uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.used[id]
	return ok
}

// InUse returns the count of packet identifiers currently in use.
func (m *PacketIDManager) InUse() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.used)
}

// Reset releases every identifier.
func (m *PacketIDManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used = make(map[uint16]struct{})
	m.low = 1
}
