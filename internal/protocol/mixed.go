package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Mixed is a decoded mixed-audio packet.
type Mixed struct {
	Header   Header
	Sequence uint16
	Samples  []int16 // interleaved stereo
}

// AppendMixedAudio appends a mixed-audio packet carrying one interleaved
// stereo frame.
func AppendMixedAudio(dst []byte, sender uuid.UUID, seq uint16, samples []int16) []byte {
	dst = AppendHeader(dst, MixedAudio, sender)
	dst = binary.LittleEndian.AppendUint16(dst, seq)
	return appendPCM(dst, samples)
}

// ParseMixedAudio decodes a mixed-audio packet.
func ParseMixedAudio(b []byte) (Mixed, error) {
	var m Mixed
	r := NewReader(b)

	var err error
	if m.Header, err = readHeader(r); err != nil {
		return m, err
	}
	if m.Header.Type != MixedAudio {
		return m, &ParseError{Field: "type", Err: fmt.Errorf("%w: got %s, want %s", ErrMalformedPacket, m.Header.Type, MixedAudio)}
	}
	if m.Sequence, err = r.Uint16("sequence"); err != nil {
		return m, err
	}
	m.Samples, err = r.PCM("samples", 2)
	return m, err
}
