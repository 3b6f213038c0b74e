package protomq

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlowControllerNegotiation(t *testing.T) {
	f := NewFlowController(100)
	assert.Equal(t, uint16(100), f.LocalMaximum())
	assert.Equal(t, uint16(100), f.EffectiveMaximum())

	f.SetPeerMaximum(10)
	assert.Equal(t, uint16(10), f.EffectiveMaximum())

	f.SetPeerMaximum(500)
	assert.Equal(t, uint16(100), f.EffectiveMaximum())

	// Zero means unconstrained, both locally and from the peer.
	f.SetPeerMaximum(0)
	assert.Equal(t, uint16(100), f.EffectiveMaximum())
	assert.Equal(t, uint16(65535), NewFlowController(0).LocalMaximum())
}

func TestFlowControllerQuota(t *testing.T) {
	f := NewFlowController(2)

	assert.Equal(t, uint16(2), f.Available())
	assert.True(t, f.TryAcquire())
	assert.True(t, f.TryAcquire())
	assert.Equal(t, uint16(2), f.InFlight())
	assert.Equal(t, uint16(0), f.Available())

	assert.False(t, f.TryAcquire())
	assert.ErrorIs(t, f.Acquire(), ErrQuotaExceeded)

	f.Release()
	assert.Equal(t, uint16(1), f.Available())
	assert.NoError(t, f.Acquire())
	assert.False(t, f.TryAcquire())
}

func TestFlowControllerPeerShrinksMidFlight(t *testing.T) {
	f := NewFlowController(10)
	for i := 0; i < 5; i++ {
		assert.True(t, f.TryAcquire())
	}

	f.SetPeerMaximum(3)
	assert.Equal(t, uint16(0), f.Available())
	assert.False(t, f.TryAcquire())

	// Releases drain back under the new limit before acquire works.
	f.Release()
	f.Release()
	assert.False(t, f.TryAcquire())
	f.Release()
	assert.True(t, f.TryAcquire())
}

func TestFlowControllerReset(t *testing.T) {
	f := NewFlowController(4)
	f.SetPeerMaximum(2)
	f.TryAcquire()
	f.TryAcquire()

	f.Reset()
	assert.Equal(t, uint16(0), f.InFlight())
	assert.Equal(t, uint16(4), f.EffectiveMaximum())
}

func TestFlowControllerReleaseUnderflow(t *testing.T) {
	f := NewFlowController(1)
	f.Release()
	assert.Equal(t, uint16(0), f.InFlight())
	assert.True(t, f.TryAcquire())
}
