package protomq

import (
	"encoding/binary"
	"io"
	"unicode/utf8"
)

// Wire primitive errors. All are in the ErrMalformedPacket class.
var (
	ErrStringTooLong      = malformedf("string exceeds 65535 bytes")
	ErrBinaryTooLong      = malformedf("binary data exceeds 65535 bytes")
	ErrInvalidUTF8        = malformedf("invalid UTF-8 string")
	ErrStringContainsNull = malformedf("string contains null character")
	ErrVarintTooLarge     = malformedf("variable byte integer exceeds maximum value")
	ErrVarintMalformed    = malformedf("malformed variable byte integer")
)

const (
	maxUint16         = 65535
	maxVarint         = 268435455 // 0x0FFFFFFF
	maxVarintBytes    = 4
	varintContinueBit = 0x80
	varintValueMask   = 0x7F
)

// encodeUint16 writes a 2-byte big-endian integer to w.
func encodeUint16(w io.Writer, v uint16) (int, error) {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	return w.Write(buf[:])
}

// decodeUint16 reads a 2-byte big-endian integer from r.
func decodeUint16(r io.Reader) (uint16, int, error) {
	var buf [2]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil {
		return 0, n, err
	}
	return binary.BigEndian.Uint16(buf[:]), n, nil
}

// encodeUint32 writes a 4-byte big-endian integer to w.
func encodeUint32(w io.Writer, v uint32) (int, error) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return w.Write(buf[:])
}

// decodeUint32 reads a 4-byte big-endian integer from r.
func decodeUint32(r io.Reader) (uint32, int, error) {
	var buf [4]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil {
		return 0, n, err
	}
	return binary.BigEndian.Uint32(buf[:]), n, nil
}

// encodeByte writes a single byte to w.
func encodeByte(w io.Writer, b byte) (int, error) {
	var buf [1]byte
	buf[0] = b
	return w.Write(buf[:])
}

// decodeByte reads a single byte from r.
func decodeByte(r io.Reader) (byte, int, error) {
	var buf [1]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil {
		return 0, n, err
	}
	return buf[0], n, nil
}

// validString reports whether s is a legal MQTT UTF-8 string: valid
// UTF-8 with no embedded NUL.
func validString(s string) error {
	if !utf8.ValidString(s) {
		return ErrInvalidUTF8
	}
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return ErrStringContainsNull
		}
	}
	return nil
}

// encodeString writes a UTF-8 string with a 2-byte length prefix to w.
func encodeString(w io.Writer, s string) (int, error) {
	if len(s) > maxUint16 {
		return 0, ErrStringTooLong
	}
	if err := validString(s); err != nil {
		return 0, err
	}

	n, err := encodeUint16(w, uint16(len(s)))
	if err != nil {
		return n, err
	}
	n2, err := io.WriteString(w, s)
	return n + n2, err
}

// decodeString reads a UTF-8 string with a 2-byte length prefix from r.
func decodeString(r io.Reader) (string, int, error) {
	length, n, err := decodeUint16(r)
	if err != nil {
		return "", n, err
	}
	if length == 0 {
		return "", n, nil
	}

	buf := make([]byte, length)
	n2, err := io.ReadFull(r, buf)
	n += n2
	if err != nil {
		return "", n, err
	}

	if !utf8.Valid(buf) {
		return "", n, ErrInvalidUTF8
	}
	for i := 0; i < len(buf); i++ {
		if buf[i] == 0 {
			return "", n, ErrStringContainsNull
		}
	}

	return string(buf), n, nil
}

// encodeBinary writes binary data with a 2-byte length prefix to w.
func encodeBinary(w io.Writer, data []byte) (int, error) {
	if len(data) > maxUint16 {
		return 0, ErrBinaryTooLong
	}

	n, err := encodeUint16(w, uint16(len(data)))
	if err != nil {
		return n, err
	}
	n2, err := w.Write(data)
	return n + n2, err
}

// decodeBinary reads binary data with a 2-byte length prefix from r.
func decodeBinary(r io.Reader) ([]byte, int, error) {
	length, n, err := decodeUint16(r)
	if err != nil {
		return nil, n, err
	}
	if length == 0 {
		return nil, n, nil
	}

	buf := make([]byte, length)
	n2, err := io.ReadFull(r, buf)
	n += n2
	if err != nil {
		return nil, n, err
	}

	return buf, n, nil
}

// StringPair is a key-value pair used in MQTT 5.0 User Properties.
type StringPair struct {
	Key   string
	Value string
}

// encodeStringPair writes a string pair (key, value) to w.
func encodeStringPair(w io.Writer, pair StringPair) (int, error) {
	n, err := encodeString(w, pair.Key)
	if err != nil {
		return n, err
	}
	n2, err := encodeString(w, pair.Value)
	return n + n2, err
}

// decodeStringPair reads a string pair (key, value) from r.
func decodeStringPair(r io.Reader) (StringPair, int, error) {
	key, n, err := decodeString(r)
	if err != nil {
		return StringPair{}, n, err
	}
	value, n2, err := decodeString(r)
	n += n2
	if err != nil {
		return StringPair{}, n, err
	}
	return StringPair{Key: key, Value: value}, n, nil
}

// encodeVarint writes a variable byte integer to w using the minimal
// number of bytes.
func encodeVarint(w io.Writer, value uint32) (int, error) {
	if value > maxVarint {
		return 0, ErrVarintTooLarge
	}

	var buf [maxVarintBytes]byte
	n := 0
	for {
		b := byte(value & varintValueMask)
		value >>= 7
		if value > 0 {
			b |= varintContinueBit
		}
		buf[n] = b
		n++
		if value == 0 {
			break
		}
	}
	return w.Write(buf[:n])
}

// decodeVarint reads a variable byte integer from r. A fifth
// continuation byte is malformed per the protocol.
func decodeVarint(r io.Reader) (uint32, int, error) {
	var value uint32
	var shift uint
	bytesRead := 0

	for {
		b, n, err := decodeByte(r)
		bytesRead += n
		if err != nil {
			return 0, bytesRead, err
		}

		value |= uint32(b&varintValueMask) << shift

		if b&varintContinueBit == 0 {
			return value, bytesRead, nil
		}

		shift += 7
		if bytesRead == maxVarintBytes {
			return 0, bytesRead, ErrVarintMalformed
		}
	}
}

// varintSize returns the encoded size of a variable byte integer.
func varintSize(value uint32) int {
	switch {
	case value < 1<<7:
		return 1
	case value < 1<<14:
		return 2
	case value < 1<<21:
		return 3
	default:
		return 4
	}
}
