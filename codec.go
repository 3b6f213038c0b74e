package protomq

import (
	"io"
)

var (
	ErrPacketTooLarge    = malformedf("packet exceeds maximum size")
	ErrUnknownPacketType = malformedf("unknown packet type")
)

// ReadPacket reads a complete MQTT packet from the reader.
// If maxSize is greater than 0, packets larger than maxSize return
// ErrPacketTooLarge.
func ReadPacket(r io.Reader, version ProtocolVersion, maxSize uint32) (Packet, int, error) {
	var header FixedHeader
	n, err := header.Decode(r)
	if err != nil {
		return nil, n, err
	}

	if maxSize > 0 && header.RemainingLength > maxSize {
		return nil, n, ErrPacketTooLarge
	}
	if !header.PacketType.Valid(version) {
		return nil, n, ErrInvalidPacketType
	}
	if err := header.ValidateFlags(); err != nil {
		return nil, n, err
	}

	remaining := make([]byte, header.RemainingLength)
	if header.RemainingLength > 0 {
		rn, err := io.ReadFull(r, remaining)
		n += rn
		if err != nil {
			return nil, n, err
		}
	}

	packet, err := newPacket(header.PacketType)
	if err != nil {
		return nil, n, ErrUnknownPacketType
	}

	reader := getBytesReader(remaining)
	defer putBytesReader(reader)

	bodyRead, err := packet.Decode(reader, header, version)
	if err != nil {
		return nil, n, err
	}
	// The body must consume exactly the declared remaining length.
	if bodyRead != int(header.RemainingLength) {
		return nil, n, ErrLengthMismatch
	}

	return packet, n, nil
}

// WritePacket writes a complete MQTT packet to the writer.
// If maxSize is greater than 0, packets larger than maxSize return
// ErrPacketTooLarge.
func WritePacket(w io.Writer, packet Packet, version ProtocolVersion, maxSize uint32) (int, error) {
	if err := packet.Validate(version); err != nil {
		return 0, err
	}

	// Size-limited writes encode to a buffer first.
	if maxSize > 0 {
		buf := getBytesBuffer()
		defer putBytesBuffer(buf)

		n, err := packet.Encode(buf, version)
		if err != nil {
			return 0, err
		}
		if uint32(n) > maxSize {
			return 0, ErrPacketTooLarge
		}
		return w.Write(buf.Bytes())
	}

	return packet.Encode(w, version)
}

// EncodePacket encodes a packet into a fresh byte slice.
func EncodePacket(packet Packet, version ProtocolVersion) ([]byte, error) {
	var buf bytesBuffer
	if _, err := packet.Encode(&buf, version); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decoder is an incremental MQTT packet decoder over a byte stream fed
// in arbitrary chunks. Feed appends raw bytes; Next returns the next
// complete packet or (nil, 0, nil) when more bytes are needed. A
// decoding error is terminal: the stream has no recoverable framing
// after a malformed packet.
type Decoder struct {
	version ProtocolVersion
	maxSize uint32

	buf []byte
	err error
}

// NewDecoder creates a Decoder for the given protocol version. A
// maxSize of 0 disables the packet size limit.
func NewDecoder(version ProtocolVersion, maxSize uint32) *Decoder {
	return &Decoder{version: version, maxSize: maxSize}
}

// Feed appends raw stream bytes to the decode buffer.
func (d *Decoder) Feed(data []byte) {
	if d.err != nil {
		return
	}
	d.buf = append(d.buf, data...)
}

// Buffered returns the number of bytes awaiting decode.
func (d *Decoder) Buffered() int { return len(d.buf) }

// Next decodes the next complete packet from the buffered bytes. It
// returns (nil, 0, nil) when the buffer does not yet hold a complete
// packet, and the quantity of consumed bytes otherwise. Once Next
// returns a non-nil error, every later call returns the same error.
func (d *Decoder) Next() (Packet, int, error) {
	if d.err != nil {
		return nil, 0, d.err
	}

	headerLen, remaining, ok, err := d.peekHeader()
	if err != nil {
		return nil, 0, d.fail(err)
	}
	if !ok {
		return nil, 0, nil
	}

	total := headerLen + int(remaining)
	if len(d.buf) < total {
		return nil, 0, nil
	}

	frame := d.buf[:total]
	reader := getBytesReader(frame)
	defer putBytesReader(reader)

	var header FixedHeader
	if _, err := header.Decode(reader); err != nil {
		return nil, 0, d.fail(err)
	}
	if !header.PacketType.Valid(d.version) {
		return nil, 0, d.fail(ErrInvalidPacketType)
	}
	if err := header.ValidateFlags(); err != nil {
		return nil, 0, d.fail(err)
	}

	packet, err := newPacket(header.PacketType)
	if err != nil {
		return nil, 0, d.fail(ErrUnknownPacketType)
	}

	bodyRead, err := packet.Decode(reader, header, d.version)
	if err != nil {
		return nil, 0, d.fail(err)
	}
	if bodyRead != int(header.RemainingLength) {
		return nil, 0, d.fail(ErrLengthMismatch)
	}

	d.buf = d.buf[total:]
	return packet, total, nil
}

// peekHeader decodes the fixed header without consuming buffer bytes.
// ok is false when the buffer does not yet hold a full fixed header.
func (d *Decoder) peekHeader() (headerLen int, remaining uint32, ok bool, err error) {
	if len(d.buf) < 2 {
		return 0, 0, false, nil
	}

	// Variable byte integer: up to 4 length bytes after the type byte.
	var value uint32
	var shift uint
	for i := 1; i < len(d.buf); i++ {
		if i > 4 {
			return 0, 0, false, ErrVarintMalformed
		}
		b := d.buf[i]
		value |= uint32(b&0x7F) << shift
		if b&0x80 == 0 {
			if d.maxSize > 0 && value > d.maxSize {
				return 0, 0, false, ErrPacketTooLarge
			}
			return i + 1, value, true, nil
		}
		shift += 7
	}
	if len(d.buf) >= 5 {
		return 0, 0, false, ErrVarintMalformed
	}
	return 0, 0, false, nil
}

func (d *Decoder) fail(err error) error {
	d.err = err
	d.buf = nil
	return err
}

// bytesReader wraps a byte slice for the io.Reader interface.
type bytesReader struct {
	data []byte
	pos  int
}

func newBytesReader(data []byte) *bytesReader {
	return &bytesReader{data: data}
}

func (r *bytesReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

// bytesBuffer is a simple buffer for encoding.
type bytesBuffer struct {
	data []byte
}

func (b *bytesBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *bytesBuffer) Bytes() []byte {
	return b.data
}
