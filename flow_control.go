package protomq

import (
	"errors"
	"sync"
)

var (
	ErrQuotaExceeded = errors.New("protomq: receive quota exceeded")
)

// FlowController enforces the send quota for QoS > 0 PUBLISH packets.
// The effective limit is the lower of the locally configured receive
// maximum and the one the peer announces during the handshake; quota is
// consumed when a delivery starts and returned when its final
// acknowledgment arrives. Exceeding the quota is backpressure, not an
// error on the connection.
type FlowController struct {
	mu       sync.Mutex
	local    uint16
	peer     uint16
	inFlight uint16
}

// NewFlowController creates a flow controller with the given local
// receive maximum. Zero means the protocol default of 65535.
func NewFlowController(localMaximum uint16) *FlowController {
	if localMaximum == 0 {
		localMaximum = 65535
	}
	return &FlowController{
		local: localMaximum,
		peer:  65535,
	}
}

// SetPeerMaximum records the receive maximum the peer announced. Zero
// means the peer did not constrain us.
func (f *FlowController) SetPeerMaximum(maximum uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if maximum == 0 {
		maximum = 65535
	}
	f.peer = maximum
}

// LocalMaximum returns the locally configured receive maximum, the
// value to announce in CONNECT/CONNACK.
func (f *FlowController) LocalMaximum() uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.local
}

// EffectiveMaximum returns the negotiated send limit: the lower of the
// local and peer receive maximums.
func (f *FlowController) EffectiveMaximum() uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.effective()
}

func (f *FlowController) effective() uint16 {
	if f.peer < f.local {
		return f.peer
	}
	return f.local
}

// Available returns the number of quota slots currently free.
func (f *FlowController) Available() uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	max := f.effective()
	if f.inFlight >= max {
		return 0
	}
	return max - f.inFlight
}

// InFlight returns the number of deliveries holding quota.
func (f *FlowController) InFlight() uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight
}

// TryAcquire claims a quota slot for a new delivery. It returns false
// when the quota is full; the caller queues the publish until Release.
func (f *FlowController) TryAcquire() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.inFlight >= f.effective() {
		return false
	}
	f.inFlight++
	return true
}

// Acquire claims a quota slot, returning ErrQuotaExceeded when full.
func (f *FlowController) Acquire() error {
	if !f.TryAcquire() {
		return ErrQuotaExceeded
	}
	return nil
}

// Release returns a quota slot after a delivery completes.
func (f *FlowController) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.inFlight > 0 {
		f.inFlight--
	}
}

// Reset clears the in-flight count and forgets the peer's maximum.
func (f *FlowController) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight = 0
	f.peer = 65535
}
