package jitter

import (
	"errors"
	"fmt"
	"time"
)

// Format describes the fixed frame geometry shared by every stream on a
// server.
type Format struct {
	SampleRate        int // samples per second per channel
	SamplesPerChannel int // samples per channel in one network frame
	RingFrames        int // capacity of a stream's sample ring, in frames
}

// DefaultFormat is 24 kHz audio in 256-sample frames with a ten-frame ring.
var DefaultFormat = Format{
	SampleRate:        24000,
	SamplesPerChannel: 256,
	RingFrames:        10,
}

// Validate checks that the format can drive a stream.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", f.SampleRate)
	}
	if f.SamplesPerChannel <= 0 {
		return fmt.Errorf("samples per channel must be positive, got %d", f.SamplesPerChannel)
	}
	if f.RingFrames < 2 {
		return fmt.Errorf("ring frames must be at least 2, got %d", f.RingFrames)
	}
	return nil
}

// FrameDuration is the playback time of one frame.
func (f Format) FrameDuration() time.Duration {
	return time.Duration(f.SamplesPerChannel) * time.Second / time.Duration(f.SampleRate)
}

// USecsPerFrame is FrameDuration in fractional microseconds.
func (f Format) USecsPerFrame() float64 {
	return float64(f.SamplesPerChannel) * 1e6 / float64(f.SampleRate)
}

// FramesPerSecond is the number of frames played each second, rounded up.
func (f Format) FramesPerSecond() int {
	return (f.SampleRate + f.SamplesPerChannel - 1) / f.SamplesPerChannel
}

// Policy controls how a stream sizes its jitter buffer.
type Policy struct {
	// Dynamic derives the desired depth from observed interframe gaps.
	// Otherwise StaticDesiredFrames is used.
	Dynamic             bool
	StaticDesiredFrames int
	// Padding is how far beyond the desired depth a stream may run before
	// silent frames start being dropped.
	Padding int
}

// DefaultPolicy sizes buffers dynamically.
var DefaultPolicy = Policy{
	Dynamic:             true,
	StaticDesiredFrames: 1,
	Padding:             1,
}

// Validate checks the policy against the ring capacity of f.
func (p Policy) Validate(f Format) error {
	if p.StaticDesiredFrames < 1 || p.StaticDesiredFrames > f.RingFrames-1 {
		return fmt.Errorf("static desired frames must be in [1,%d], got %d", f.RingFrames-1, p.StaticDesiredFrames)
	}
	if p.Padding < 0 {
		return errors.New("padding must not be negative")
	}
	return nil
}
