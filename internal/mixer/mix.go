package mixer

import (
	"math"

	"github.com/zsiec/sonar/internal/jitter"
)

// SumMixer sums every audible ready stream into one interleaved stereo
// frame per listener. Mono streams are copied to both channels. It applies
// no spatial attenuation.
type SumMixer struct {
	samplesPerChannel int
	acc               []int32
	scratch           []int16
}

// NewSumMixer returns a mixer producing frames of samplesPerChannel stereo
// samples. A SumMixer reuses its buffers and must not be shared between
// goroutines.
func NewSumMixer(samplesPerChannel int) *SumMixer {
	return &SumMixer{
		samplesPerChannel: samplesPerChannel,
		acc:               make([]int32, 2*samplesPerChannel),
		scratch:           make([]int16, 0, 2*samplesPerChannel),
	}
}

// Mix builds the frame heard by listener from the prepared streams of every
// session, listener included. Every session must be locked and prepared by
// the caller; Mix only reads them. It returns the frame and the number of
// streams that contributed.
func (m *SumMixer) Mix(listener *Session, sessions []*Session) ([]int16, int) {
	clear(m.acc)
	mixed := 0
	for _, src := range sessions {
		src.reg.Each(func(st *jitter.Stream) {
			if audible(listener, src, st) {
				m.add(st)
				mixed++
			}
		})
	}

	out := make([]int16, len(m.acc))
	for i, v := range m.acc {
		out[i] = clampInt16(v)
	}
	return out, mixed
}

func (m *SumMixer) add(st *jitter.Stream) {
	m.scratch = st.PeekFrame(m.scratch[:0])
	if st.IsStereo() {
		for i, v := range m.scratch {
			m.acc[i] += int32(v)
		}
		return
	}
	for i, v := range m.scratch {
		m.acc[2*i] += int32(v)
		m.acc[2*i+1] += int32(v)
	}
}

// audible reports whether st, owned by src, belongs in listener's mix. A
// client hears its own injected streams, and its own microphone only when it
// asked for loopback.
func audible(listener, src *Session, st *jitter.Stream) bool {
	if !st.WillBeMixed() {
		return false
	}
	if src != listener {
		return true
	}
	if st.Kind() == jitter.KindInjected {
		return true
	}
	return st.ShouldLoopback()
}

func clampInt16(v int32) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}
