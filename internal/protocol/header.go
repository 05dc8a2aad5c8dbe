package protocol

import (
	"fmt"

	"github.com/google/uuid"
)

// PacketType identifies the layout of a packet body.
type PacketType uint8

// Packet types.
const (
	MicrophoneAudioNoEcho   PacketType = 1
	MicrophoneAudioWithEcho PacketType = 2
	SilentAudioFrame        PacketType = 3
	InjectAudio             PacketType = 4
	MixedAudio              PacketType = 5
	AudioStreamStats        PacketType = 6
)

// Version is the only protocol version this server speaks.
const Version uint8 = 1

// HeaderSize is the length of the common packet header.
const HeaderSize = 1 + 1 + 16

// SequenceSize is the length of the sequence number following the header of
// audio-class packets.
const SequenceSize = 2

func (t PacketType) String() string {
	switch t {
	case MicrophoneAudioNoEcho:
		return "microphone-no-echo"
	case MicrophoneAudioWithEcho:
		return "microphone-with-echo"
	case SilentAudioFrame:
		return "silent-frame"
	case InjectAudio:
		return "inject-audio"
	case MixedAudio:
		return "mixed-audio"
	case AudioStreamStats:
		return "audio-stream-stats"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// IsMicrophone reports whether packets of this type feed a client's
// microphone stream.
func (t PacketType) IsMicrophone() bool {
	switch t {
	case MicrophoneAudioNoEcho, MicrophoneAudioWithEcho, SilentAudioFrame:
		return true
	}
	return false
}

// Header is the common prefix of every packet.
type Header struct {
	Type    PacketType
	Version uint8
	Sender  uuid.UUID
}

// ParseHeader decodes the packet header and checks the protocol version.
func ParseHeader(b []byte) (Header, error) {
	r := NewReader(b)
	return readHeader(r)
}

func readHeader(r *Reader) (Header, error) {
	var h Header
	t, err := r.Uint8("type")
	if err != nil {
		return h, err
	}
	h.Type = PacketType(t)
	if h.Version, err = r.Uint8("version"); err != nil {
		return h, err
	}
	if h.Sender, err = r.UUID("sender"); err != nil {
		return h, err
	}
	if h.Version != Version {
		return h, &ParseError{Field: "version", Err: fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, h.Version, Version)}
	}
	return h, nil
}

// AppendHeader appends the encoded header of a packet of type t to dst.
func AppendHeader(dst []byte, t PacketType, sender uuid.UUID) []byte {
	dst = append(dst, byte(t), Version)
	return append(dst, sender[:]...)
}
