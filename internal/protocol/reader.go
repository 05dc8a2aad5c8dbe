package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/google/uuid"
)

// Reader decodes little-endian fields from a byte slice. Every accessor
// reports a *ParseError wrapping ErrMalformedPacket when the slice is too
// short, naming the field it was reading.
type Reader struct {
	buf []byte
	off int
}

// NewReader returns a Reader over b. The Reader does not copy b.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int {
	return len(r.buf) - r.off
}

// Rest returns the unread bytes and consumes them.
func (r *Reader) Rest() []byte {
	b := r.buf[r.off:]
	r.off = len(r.buf)
	return b
}

func (r *Reader) next(field string, n int) ([]byte, error) {
	if r.Len() < n {
		return nil, &ParseError{
			Field: field,
			Err:   fmt.Errorf("%w: need %d bytes, have %d: %w", ErrMalformedPacket, n, r.Len(), io.ErrUnexpectedEOF),
		}
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

// Uint8 reads one byte.
func (r *Reader) Uint8(field string) (uint8, error) {
	b, err := r.next(field, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Uint16 reads a little-endian uint16.
func (r *Reader) Uint16(field string) (uint16, error) {
	b, err := r.next(field, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// Uint32 reads a little-endian uint32.
func (r *Reader) Uint32(field string) (uint32, error) {
	b, err := r.next(field, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Uint64 reads a little-endian uint64.
func (r *Reader) Uint64(field string) (uint64, error) {
	b, err := r.next(field, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Float32 reads a little-endian IEEE-754 float32.
func (r *Reader) Float32(field string) (float32, error) {
	v, err := r.Uint32(field)
	return math.Float32frombits(v), err
}

// Float64 reads a little-endian IEEE-754 float64.
func (r *Reader) Float64(field string) (float64, error) {
	v, err := r.Uint64(field)
	return math.Float64frombits(v), err
}

// UUID reads a 16-byte identifier.
func (r *Reader) UUID(field string) (uuid.UUID, error) {
	var id uuid.UUID
	b, err := r.next(field, len(id))
	if err != nil {
		return id, err
	}
	copy(id[:], b)
	return id, nil
}

// PCM consumes the rest of the buffer as interleaved int16 samples. The
// remaining length must be a whole number of frames of the given channel
// count.
func (r *Reader) PCM(field string, channels int) ([]int16, error) {
	frameBytes := 2 * channels
	if r.Len()%frameBytes != 0 {
		return nil, &ParseError{
			Field: field,
			Err:   fmt.Errorf("%w: %d bytes is not a whole number of %d-channel samples", ErrMalformedPacket, r.Len(), channels),
		}
	}
	b := r.Rest()
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return samples, nil
}

func appendFloat32(dst []byte, v float32) []byte {
	return binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
}

func appendFloat64(dst []byte, v float64) []byte {
	return binary.LittleEndian.AppendUint64(dst, math.Float64bits(v))
}

func appendPCM(dst []byte, samples []int16) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s))
	}
	return dst
}
