package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/zsiec/sonar/internal/spatial"
)

// Channel layout flags carried by microphone-class packets.
const (
	ChannelsMono   uint8 = 0
	ChannelsStereo uint8 = 1
)

// PositionalSize is the encoded length of a Positional.
const PositionalSize = 7 * 4

// AudioPacket is the envelope of an inbound audio packet: everything needed
// to route it to a stream. Body holds the positional data and audio that
// follow and aliases the decoded buffer.
type AudioPacket struct {
	Header   Header
	Sequence uint16

	// Stereo is the channel layout of microphone-class packets.
	Stereo bool
	// StreamID identifies the stream of InjectAudio packets.
	StreamID uuid.UUID

	Body []byte
}

// ParseAudioPacket decodes the header, sequence number and stream
// discriminator of an inbound audio packet. Types other than the
// microphone-class types and InjectAudio yield ErrUnknownStreamType.
func ParseAudioPacket(b []byte) (AudioPacket, error) {
	var p AudioPacket
	r := NewReader(b)

	var err error
	if p.Header, err = readHeader(r); err != nil {
		return p, err
	}
	if p.Sequence, err = r.Uint16("sequence"); err != nil {
		return p, err
	}

	switch {
	case p.Header.Type.IsMicrophone():
		flag, err := r.Uint8("channel flag")
		if err != nil {
			return p, err
		}
		switch flag {
		case ChannelsMono:
		case ChannelsStereo:
			p.Stereo = true
		default:
			return p, &ParseError{Field: "channel flag", Err: fmt.Errorf("%w: invalid value %d", ErrMalformedPacket, flag)}
		}
	case p.Header.Type == InjectAudio:
		if p.StreamID, err = r.UUID("stream id"); err != nil {
			return p, err
		}
	default:
		return p, &ParseError{Field: "type", Err: fmt.Errorf("%w: %s", ErrUnknownStreamType, p.Header.Type)}
	}

	p.Body = r.Rest()
	return p, nil
}

// Positional is the placement of an audio source in the world.
type Positional struct {
	Position    spatial.Vec3
	Orientation spatial.Quat
}

// ReadPositional decodes position then orientation.
func ReadPositional(r *Reader) (Positional, error) {
	var p Positional
	fields := []*float32{
		&p.Position.X, &p.Position.Y, &p.Position.Z,
		&p.Orientation.X, &p.Orientation.Y, &p.Orientation.Z, &p.Orientation.W,
	}
	names := []string{
		"position.x", "position.y", "position.z",
		"orientation.x", "orientation.y", "orientation.z", "orientation.w",
	}
	for i, f := range fields {
		v, err := r.Float32(names[i])
		if err != nil {
			return p, err
		}
		*f = v
	}
	return p, nil
}

// AppendPositional appends position then orientation.
func AppendPositional(dst []byte, p Positional) []byte {
	for _, v := range []float32{
		p.Position.X, p.Position.Y, p.Position.Z,
		p.Orientation.X, p.Orientation.Y, p.Orientation.Z, p.Orientation.W,
	} {
		dst = appendFloat32(dst, v)
	}
	return dst
}

// MicrophoneFrame is one frame of microphone audio as sent by a client.
type MicrophoneFrame struct {
	Sequence uint16
	Echo     bool // ask the server to loop the client's own audio back
	Stereo   bool
	Positional
	Samples []int16
}

// AppendMicrophoneAudio appends an encoded microphone packet to dst.
func AppendMicrophoneAudio(dst []byte, sender uuid.UUID, f MicrophoneFrame) []byte {
	t := MicrophoneAudioNoEcho
	if f.Echo {
		t = MicrophoneAudioWithEcho
	}
	dst = AppendHeader(dst, t, sender)
	dst = binary.LittleEndian.AppendUint16(dst, f.Sequence)
	dst = append(dst, channelFlag(f.Stereo))
	dst = AppendPositional(dst, f.Positional)
	return appendPCM(dst, f.Samples)
}

// AppendSilentFrame appends a silent microphone frame standing in for
// numSilent samples per channel.
func AppendSilentFrame(dst []byte, sender uuid.UUID, seq uint16, stereo bool, pos Positional, numSilent uint16) []byte {
	dst = AppendHeader(dst, SilentAudioFrame, sender)
	dst = binary.LittleEndian.AppendUint16(dst, seq)
	dst = append(dst, channelFlag(stereo))
	dst = AppendPositional(dst, pos)
	return binary.LittleEndian.AppendUint16(dst, numSilent)
}

// InjectedFrame is one frame of mono audio injected into the world by an
// agent or script.
type InjectedFrame struct {
	Sequence uint16
	StreamID uuid.UUID
	Positional
	Radius           float32
	AttenuationRatio float32
	Samples          []int16
}

// AppendInjectedAudio appends an encoded injected-audio packet to dst.
func AppendInjectedAudio(dst []byte, sender uuid.UUID, f InjectedFrame) []byte {
	dst = AppendHeader(dst, InjectAudio, sender)
	dst = binary.LittleEndian.AppendUint16(dst, f.Sequence)
	dst = append(dst, f.StreamID[:]...)
	dst = AppendPositional(dst, f.Positional)
	dst = appendFloat32(dst, f.Radius)
	dst = appendFloat32(dst, f.AttenuationRatio)
	return appendPCM(dst, f.Samples)
}

func channelFlag(stereo bool) uint8 {
	if stereo {
		return ChannelsStereo
	}
	return ChannelsMono
}
