package jitter

import (
	"fmt"

	"github.com/zsiec/sonar/internal/protocol"
)

// Frame is the decoded body of one inbound audio packet.
type Frame struct {
	protocol.Positional

	// Radius and AttenuationRatio are set for injected audio only.
	Radius           float32
	AttenuationRatio float32

	// Loopback asks for the sender's own audio in its mix.
	Loopback bool

	// Samples holds interleaved PCM. Silent frames carry no samples and
	// instead stand in for SilentSamples samples per channel.
	Samples       []int16
	Silent        bool
	SilentSamples int
}

// DecodeFrame decodes the body of p. It has no side effects, so a packet
// can be fully validated before any stream is touched.
func DecodeFrame(p protocol.AudioPacket) (Frame, error) {
	var f Frame
	r := protocol.NewReader(p.Body)

	var err error
	if f.Positional, err = protocol.ReadPositional(r); err != nil {
		return f, err
	}

	switch p.Header.Type {
	case protocol.MicrophoneAudioNoEcho, protocol.MicrophoneAudioWithEcho:
		f.Loopback = p.Header.Type == protocol.MicrophoneAudioWithEcho
		channels := 1
		if p.Stereo {
			channels = 2
		}
		f.Samples, err = r.PCM("samples", channels)
		return f, err
	case protocol.SilentAudioFrame:
		n, err := r.Uint16("silent samples")
		if err != nil {
			return f, err
		}
		f.Silent = true
		f.SilentSamples = int(n)
		return f, nil
	case protocol.InjectAudio:
		if f.Radius, err = r.Float32("radius"); err != nil {
			return f, err
		}
		if f.AttenuationRatio, err = r.Float32("attenuation ratio"); err != nil {
			return f, err
		}
		f.Samples, err = r.PCM("samples", 1)
		return f, err
	default:
		return f, &protocol.ParseError{Field: "type", Err: fmt.Errorf("%w: %s", protocol.ErrUnknownStreamType, p.Header.Type)}
	}
}
