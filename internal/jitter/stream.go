// Package jitter reconstructs a continuous audio stream from jittered
// network frames. A Stream buffers samples in a fixed ring, decides each
// tick whether it holds enough audio to be mixed and sizes its buffer from
// observed interframe timing.
package jitter

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/sonar/internal/spatial"
	"github.com/zsiec/sonar/internal/stats"
)

// Interframe gap windows. The jitter window feeds the desired buffer depth;
// the report window covers roughly thirty seconds of frames.
const (
	jitterGapInterval        = 64
	jitterGapWindowIntervals = 10
	reportGapWindowIntervals = 30
)

// Trailing loudness decays towards quieter frames over about this many frames.
const (
	trailingLoudnessFrames = 100
	loudnessEpsilon        = 1e-6
)

// Config is the fixed configuration of a Stream.
type Config struct {
	Format Format
	Policy Policy
	// Now returns the current time; nil means time.Now.
	Now func() time.Time
}

// Stream is one jitter-buffered audio stream. It is not safe for concurrent
// use; its owner serializes access.
type Stream struct {
	source   Source
	format   Format
	policy   Policy
	now      func() time.Time
	channels int
	spf      int // samples per frame across all channels

	ring *ring

	desiredFrames int
	currentFrames int // -1 while starved
	hasStarted    bool
	isStarved     bool
	willBeMixed   bool

	starveCount         uint32
	overflowCount       uint32
	silentFramesDropped uint32
	consecutiveNotMixed uint32
	framesRead          uint64

	position         spatial.Vec3
	orientation      spatial.Quat
	unattenuatedZone *spatial.Box
	loopback         bool
	trailingLoudness float32

	lastFrameAt    time.Time
	jitterGapStats *stats.MovingMinMaxAvg[uint64]
	reportGapStats *stats.MovingMinMaxAvg[uint64]
}

// New returns an empty, starved stream fed by src.
func New(src Source, cfg Config) *Stream {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	channels := src.Channels()
	spf := cfg.Format.SamplesPerChannel * channels
	s := &Stream{
		source:         src,
		format:         cfg.Format,
		policy:         cfg.Policy,
		now:            now,
		channels:       channels,
		spf:            spf,
		ring:           newRing(spf * cfg.Format.RingFrames),
		currentFrames:  -1,
		isStarved:      true,
		orientation:    spatial.IdentityQuat,
		jitterGapStats: stats.NewMovingMinMaxAvg[uint64](jitterGapInterval, jitterGapWindowIntervals),
		reportGapStats: stats.NewMovingMinMaxAvg[uint64](cfg.Format.FramesPerSecond(), reportGapWindowIntervals),
	}
	s.desiredFrames = s.clampDesired(cfg.Policy.StaticDesiredFrames)
	return s
}

// Write applies one decoded frame: it records arrival timing, updates the
// positional data and appends the audio.
func (s *Stream) Write(f Frame) {
	s.recordArrival()

	s.position = f.Position
	s.orientation = f.Orientation
	switch src := s.source.(type) {
	case Microphone:
		s.loopback = f.Loopback
	case Injected:
		src.Radius = f.Radius
		src.AttenuationRatio = f.AttenuationRatio
		s.source = src
	}

	if f.Silent {
		s.writeSilent(f.SilentSamples * s.channels)
	} else if s.ring.write(f.Samples) {
		s.overflowCount++
	}
	s.refreshDepth()
}

// writeSilent appends n zero samples, first dropping whole silent frames
// while the buffer runs deeper than desired plus padding.
func (s *Stream) writeSilent(n int) {
	if n <= 0 {
		return
	}
	if s.currentFrames > s.desiredFrames+s.policy.Padding {
		drop := min(n/s.spf, s.currentFrames-s.desiredFrames)
		n -= drop * s.spf
		s.silentFramesDropped += uint32(drop)
		s.currentFrames -= drop
	}
	if s.ring.writeSilence(n) {
		s.overflowCount++
	}
}

func (s *Stream) recordArrival() {
	now := s.now()
	if !s.lastFrameAt.IsZero() {
		gap := uint64(max(now.Sub(s.lastFrameAt), 0) / time.Microsecond)
		s.jitterGapStats.Update(gap)
		s.reportGapStats.Update(gap)
	}
	s.lastFrameAt = now

	if s.jitterGapStats.NewStatsAvailable() {
		s.updateDesiredFrames()
		s.jitterGapStats.ClearNewStatsAvailable()
	}
}

func (s *Stream) updateDesiredFrames() {
	if !s.policy.Dynamic {
		s.desiredFrames = s.clampDesired(s.policy.StaticDesiredFrames)
		return
	}
	frames := math.Ceil(float64(s.jitterGapStats.WindowMax()) / s.format.USecsPerFrame())
	s.desiredFrames = s.clampDesired(int(frames))
}

func (s *Stream) clampDesired(frames int) int {
	return max(1, min(frames, s.format.RingFrames-1))
}

// refreshDepth recomputes the current jitter depth while playing.
func (s *Stream) refreshDepth() {
	if s.isStarved {
		return
	}
	s.currentFrames = max(s.FramesAvailable()-1, 0)
}

// ShouldBeAddedToMix reports whether the stream can contribute a frame this
// tick. A starved stream waits until it has refilled one frame plus the
// desired depth; a playing stream starves as soon as it holds less than a
// frame. It never moves the read position.
func (s *Stream) ShouldBeAddedToMix() bool {
	if s.isStarved && s.ring.len() < s.spf+s.desiredFrames*s.spf {
		s.consecutiveNotMixed++
		return false
	}
	if s.ring.len() < s.spf {
		s.isStarved = true
		s.starveCount++
		s.currentFrames = -1
		s.consecutiveNotMixed++
		return false
	}
	if s.isStarved {
		s.isStarved = false
		s.currentFrames = s.FramesAvailable() - 1
	}
	s.hasStarted = true
	s.consecutiveNotMixed = 0
	return true
}

// UpdateNextOutputTrailingLoudness folds the loudness of the next frame into
// the trailing loudness. Louder frames take over immediately; quieter ones
// decay it slowly.
func (s *Stream) UpdateNextOutputTrailingLoudness() {
	frame := s.ring.peek(nil, s.spf)
	var sum float64
	for _, v := range frame {
		sum += math.Abs(float64(v))
	}
	var next float32
	if len(frame) > 0 {
		next = float32(sum / float64(len(frame)) / math.MaxInt16)
	}

	if next >= s.trailingLoudness {
		s.trailingLoudness = next
		return
	}
	const current = 1.0 / trailingLoudnessFrames
	s.trailingLoudness = s.trailingLoudness*(1-current) + current*next
	if s.trailingLoudness < loudnessEpsilon {
		s.trailingLoudness = 0
	}
}

// PeekFrame appends the next frame of interleaved samples to dst without
// consuming it. Fewer than a frame's worth are appended when the stream is
// short.
func (s *Stream) PeekFrame(dst []int16) []int16 {
	return s.ring.peek(dst, s.spf)
}

// AdvanceFrame consumes one frame.
func (s *Stream) AdvanceFrame() {
	s.ring.discard(s.spf)
	s.framesRead++
	s.refreshDepth()
}

// Source returns the stream's source, including the latest injected
// radius and attenuation.
func (s *Stream) Source() Source { return s.source }

// Kind returns the source kind.
func (s *Stream) Kind() Kind { return s.source.Kind() }

// ID returns the injected stream id, or uuid.Nil for a microphone.
func (s *Stream) ID() uuid.UUID {
	if src, ok := s.source.(Injected); ok {
		return src.ID
	}
	return uuid.Nil
}

// IsStereo reports whether frames carry two interleaved channels.
func (s *Stream) IsStereo() bool { return s.channels == 2 }

// Channels returns the number of interleaved channels.
func (s *Stream) Channels() int { return s.channels }

// SamplesPerFrame is the number of samples, across channels, in one frame.
func (s *Stream) SamplesPerFrame() int { return s.spf }

// SamplesAvailable is the number of buffered samples.
func (s *Stream) SamplesAvailable() int { return s.ring.len() }

// FramesAvailable is the number of whole buffered frames.
func (s *Stream) FramesAvailable() int { return s.ring.len() / s.spf }

// CurrentJitterFrames is the live buffer depth in frames beyond the one
// about to play, or -1 while starved.
func (s *Stream) CurrentJitterFrames() int { return s.currentFrames }

// DesiredJitterFrames is the depth the stream must reach to leave starvation.
func (s *Stream) DesiredJitterFrames() int { return s.desiredFrames }

// StarveCount counts transitions into starvation.
func (s *Stream) StarveCount() uint32 { return s.starveCount }

// OverflowCount counts writes that evicted unread audio.
func (s *Stream) OverflowCount() uint32 { return s.overflowCount }

// SilentFramesDropped counts silent frames discarded to shrink the buffer.
func (s *Stream) SilentFramesDropped() uint32 { return s.silentFramesDropped }

// ConsecutiveNotMixed counts ticks in a row the stream was left out of the mix.
func (s *Stream) ConsecutiveNotMixed() uint32 { return s.consecutiveNotMixed }

// HasStarted reports whether the stream has ever been mixed.
func (s *Stream) HasStarted() bool { return s.hasStarted }

// IsStarved reports whether the stream is refilling.
func (s *Stream) IsStarved() bool { return s.isStarved }

// FramesRead counts frames consumed by AdvanceFrame.
func (s *Stream) FramesRead() uint64 { return s.framesRead }

// Position is the last reported source position.
func (s *Stream) Position() spatial.Vec3 { return s.position }

// Orientation is the last reported source orientation.
func (s *Stream) Orientation() spatial.Quat { return s.orientation }

// ShouldLoopback reports whether the client asked to hear its own microphone.
func (s *Stream) ShouldLoopback() bool { return s.loopback }

// WillBeMixed reports whether the stream was selected for the current tick.
func (s *Stream) WillBeMixed() bool { return s.willBeMixed }

// SetWillBeMixed marks or clears selection for the current tick.
func (s *Stream) SetWillBeMixed(v bool) { s.willBeMixed = v }

// NextOutputTrailingLoudness is the decaying loudness of the output, in [0, 1].
func (s *Stream) NextOutputTrailingLoudness() float32 { return s.trailingLoudness }

// UnattenuatedZone is the listener zone in which this stream is heard
// without attenuation this tick, or nil.
func (s *Stream) UnattenuatedZone() *spatial.Box { return s.unattenuatedZone }

// SetUnattenuatedZone sets or clears the unattenuated zone.
func (s *Stream) SetUnattenuatedZone(b *spatial.Box) { s.unattenuatedZone = b }

// GapStats returns the interframe gap statistics used for reporting, in
// microseconds.
func (s *Stream) GapStats() *stats.MovingMinMaxAvg[uint64] { return s.reportGapStats }
