package protomq

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionStateString(t *testing.T) {
	assert.Equal(t, "unconnected", StateUnconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "disconnecting", StateDisconnecting.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", SessionState(99).String())
}

func TestSessionStateTransitions(t *testing.T) {
	tests := []struct {
		from, to SessionState
		ok       bool
	}{
		{StateUnconnected, StateConnecting, true},
		{StateUnconnected, StateConnected, false},
		{StateConnecting, StateConnected, true},
		{StateConnecting, StateDisconnecting, false},
		{StateConnected, StateDisconnecting, true},
		{StateConnected, StateConnecting, false},
		{StateDisconnecting, StateConnected, false},
		{StateClosed, StateConnecting, true}, // resume
		{StateClosed, StateConnected, false},

		// Everything may close, except a session already closed.
		{StateUnconnected, StateClosed, true},
		{StateConnecting, StateClosed, true},
		{StateConnected, StateClosed, true},
		{StateDisconnecting, StateClosed, true},
		{StateClosed, StateClosed, false},
	}
	for _, tc := range tests {
		t.Run(tc.from.String()+" to "+tc.to.String(), func(t *testing.T) {
			assert.Equal(t, tc.ok, canTransition(tc.from, tc.to))
		})
	}
}
