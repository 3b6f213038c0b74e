package protomq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicAliasInbound(t *testing.T) {
	m := NewTopicAliasManager(5, 0)

	require.NoError(t, m.RegisterInbound(1, "sensors/temp"))
	topic, err := m.ResolveInbound(1)
	require.NoError(t, err)
	assert.Equal(t, "sensors/temp", topic)

	// The peer may rebind an alias to a new topic.
	require.NoError(t, m.RegisterInbound(1, "sensors/humidity"))
	topic, err = m.ResolveInbound(1)
	require.NoError(t, err)
	assert.Equal(t, "sensors/humidity", topic)
	assert.Equal(t, 1, m.InboundCount())

	_, err = m.ResolveInbound(2)
	assert.ErrorIs(t, err, ErrTopicAliasNotFound)
}

func TestTopicAliasInboundBounds(t *testing.T) {
	m := NewTopicAliasManager(5, 0)

	assert.ErrorIs(t, m.RegisterInbound(0, "a"), ErrTopicAliasInvalid)
	assert.ErrorIs(t, m.RegisterInbound(6, "a"), ErrTopicAliasExceeded)
	assert.NoError(t, m.RegisterInbound(5, "a"))

	_, err := m.ResolveInbound(0)
	assert.ErrorIs(t, err, ErrTopicAliasInvalid)

	// Alias errors are protocol violations, answered with reason 0x94.
	assert.ErrorIs(t, m.RegisterInbound(6, "a"), ErrProtocolViolation)
}

func TestTopicAliasOutbound(t *testing.T) {
	m := NewTopicAliasManager(0, 2)

	alias, established := m.Outbound("a/b")
	assert.Equal(t, uint16(1), alias)
	assert.False(t, established)

	alias, established = m.Outbound("a/b")
	assert.Equal(t, uint16(1), alias)
	assert.True(t, established)

	alias, established = m.Outbound("c/d")
	assert.Equal(t, uint16(2), alias)
	assert.False(t, established)

	// Table full: further topics go unaliased.
	alias, established = m.Outbound("e/f")
	assert.Equal(t, uint16(0), alias)
	assert.False(t, established)

	// Known topics still resolve when the table is full.
	alias, established = m.Outbound("c/d")
	assert.Equal(t, uint16(2), alias)
	assert.True(t, established)
}

func TestTopicAliasOutboundDisabled(t *testing.T) {
	m := NewTopicAliasManager(0, 0)
	alias, established := m.Outbound("a")
	assert.Equal(t, uint16(0), alias)
	assert.False(t, established)

	m.SetOutboundMax(1)
	alias, _ = m.Outbound("a")
	assert.Equal(t, uint16(1), alias)
}

func TestTopicAliasReset(t *testing.T) {
	m := NewTopicAliasManager(5, 5)
	require.NoError(t, m.RegisterInbound(1, "a"))
	m.Outbound("b")

	m.Reset()
	assert.Equal(t, 0, m.InboundCount())
	assert.Equal(t, 0, m.OutboundCount())
	_, err := m.ResolveInbound(1)
	assert.ErrorIs(t, err, ErrTopicAliasNotFound)

	// Alias numbering restarts after reset.
	alias, _ := m.Outbound("c")
	assert.Equal(t, uint16(1), alias)
}
