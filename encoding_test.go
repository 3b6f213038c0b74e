package protomq

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarintBoundaries(t *testing.T) {
	tests := []struct {
		value uint32
		size  int
	}{
		{0, 1},
		{127, 1},
		{128, 2},
		{16383, 2},
		{16384, 3},
		{2097151, 3},
		{2097152, 4},
		{268435455, 4},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		n, err := encodeVarint(&buf, tt.value)
		require.NoError(t, err)
		assert.Equal(t, tt.size, n, "encoded size of %d", tt.value)
		assert.Equal(t, tt.size, varintSize(tt.value))

		decoded, n, err := decodeVarint(&buf)
		require.NoError(t, err)
		assert.Equal(t, tt.value, decoded)
		assert.Equal(t, tt.size, n)
	}
}

func TestVarintOverflow(t *testing.T) {
	var buf bytes.Buffer
	_, err := encodeVarint(&buf, 268435456)
	assert.Error(t, err)
}

func TestVarintMalformedFifthByte(t *testing.T) {
	r := bytes.NewReader([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x01})
	_, _, err := decodeVarint(r)
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestVarintNonMinimalStillDecodes(t *testing.T) {
	// 0x80 0x00 is a non-minimal zero; four bytes is the hard limit.
	r := bytes.NewReader([]byte{0x80, 0x00})
	v, n, err := decodeVarint(r)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), v)
	assert.Equal(t, 2, n)
}

func TestStringRoundtrip(t *testing.T) {
	tests := []string{"", "a", "test/topic", "ünïcôdé"}

	for _, s := range tests {
		var buf bytes.Buffer
		_, err := encodeString(&buf, s)
		require.NoError(t, err)

		decoded, _, err := decodeString(&buf)
		require.NoError(t, err)
		assert.Equal(t, s, decoded)
	}
}

func TestStringRejectsNUL(t *testing.T) {
	var buf bytes.Buffer
	_, err := encodeString(&buf, "bad\x00string")
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestDecodeStringInvalidUTF8(t *testing.T) {
	r := bytes.NewReader([]byte{0x00, 0x02, 0xC3, 0x28})
	_, _, err := decodeString(r)
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestBinaryRoundtrip(t *testing.T) {
	var buf bytes.Buffer
	data := []byte{0x00, 0x01, 0xFF, 0xFE}
	_, err := encodeBinary(&buf, data)
	require.NoError(t, err)

	decoded, _, err := decodeBinary(&buf)
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
}

func TestStringPairRoundtrip(t *testing.T) {
	var buf bytes.Buffer
	pair := StringPair{Key: "region", Value: "eu-west"}
	_, err := encodeStringPair(&buf, pair)
	require.NoError(t, err)

	decoded, _, err := decodeStringPair(&buf)
	require.NoError(t, err)
	assert.Equal(t, pair, decoded)
}

func TestUint16Uint32Roundtrip(t *testing.T) {
	var buf bytes.Buffer
	_, err := encodeUint16(&buf, 0xBEEF)
	require.NoError(t, err)
	v16, _, err := decodeUint16(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xBEEF), v16)

	buf.Reset()
	_, err = encodeUint32(&buf, 0xDEADBEEF)
	require.NoError(t, err)
	v32, _, err := decodeUint32(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), v32)
}
