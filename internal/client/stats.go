package client

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/zsiec/sonar/internal/jitter"
	"github.com/zsiec/sonar/internal/protocol"
	"github.com/zsiec/sonar/internal/sequence"
)

// StreamStats is a point-in-time health snapshot of one stream. Gaps are
// interframe arrival gaps in microseconds; the window covers roughly the
// last thirty seconds.
type StreamStats struct {
	Kind     string    `json:"kind"`
	StreamID uuid.UUID `json:"streamId"`
	Stereo   bool      `json:"stereo"`

	TimeGapMin       uint64  `json:"timeGapMin"`
	TimeGapMax       uint64  `json:"timeGapMax"`
	TimeGapAvg       float64 `json:"timeGapAvg"`
	WindowTimeGapMin uint64  `json:"windowTimeGapMin"`
	WindowTimeGapMax uint64  `json:"windowTimeGapMax"`
	WindowTimeGapAvg float64 `json:"windowTimeGapAvg"`

	FramesAvailable     int    `json:"framesAvailable"`
	CurrentJitterFrames int    `json:"currentJitterFrames"`
	DesiredJitterFrames int    `json:"desiredJitterFrames"`
	Starves             uint32 `json:"starves"`
	ConsecutiveNotMixed uint32 `json:"consecutiveNotMixed"`
	Overflows           uint32 `json:"overflows"`
	SilentFramesDropped uint32 `json:"silentFramesDropped"`

	Sequence sequence.Stats `json:"sequence"`
}

// StreamStats snapshots s, which must belong to r. It has no side effects.
func (r *Registry) StreamStats(s *jitter.Stream) StreamStats {
	gaps := s.GapStats()
	st := StreamStats{
		Kind:                s.Kind().String(),
		StreamID:            s.ID(),
		Stereo:              s.IsStereo(),
		TimeGapMin:          gaps.Min(),
		TimeGapMax:          gaps.Max(),
		TimeGapAvg:          gaps.Average(),
		WindowTimeGapMin:    gaps.WindowMin(),
		WindowTimeGapMax:    gaps.WindowMax(),
		WindowTimeGapAvg:    gaps.WindowAverage(),
		FramesAvailable:     s.FramesAvailable(),
		CurrentJitterFrames: s.CurrentJitterFrames(),
		DesiredJitterFrames: s.DesiredJitterFrames(),
		Starves:             s.StarveCount(),
		ConsecutiveNotMixed: s.ConsecutiveNotMixed(),
		Overflows:           s.OverflowCount(),
		SilentFramesDropped: s.SilentFramesDropped(),
	}

	switch src := s.Source().(type) {
	case jitter.Microphone:
		st.Sequence = r.micSeq.Stats()
	case jitter.Injected:
		if tr, ok := r.injectedSeq[src.ID]; ok {
			st.Sequence = tr.Stats()
		}
	}
	return st
}

// AllStreamStats snapshots every stream in registry order.
func (r *Registry) AllStreamStats() []StreamStats {
	out := make([]StreamStats, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, r.StreamStats(s))
	}
	return out
}

// Record converts the snapshot to its wire form.
func (st StreamStats) Record() protocol.StatsRecord {
	kind := protocol.StreamKindMicrophone
	if st.Kind == jitter.KindInjected.String() {
		kind = protocol.StreamKindInjected
	}
	return protocol.StatsRecord{
		Kind:                kind,
		StreamID:            st.StreamID,
		GapMin:              st.TimeGapMin,
		GapMax:              st.TimeGapMax,
		GapAvg:              st.TimeGapAvg,
		WindowGapMin:        st.WindowTimeGapMin,
		WindowGapMax:        st.WindowTimeGapMax,
		WindowGapAvg:        st.WindowTimeGapAvg,
		FramesAvailable:     uint32(st.FramesAvailable),
		CurrentJitterFrames: int16(st.CurrentJitterFrames),
		DesiredJitterFrames: uint16(st.DesiredJitterFrames),
		Starves:             st.Starves,
		ConsecutiveNotMixed: st.ConsecutiveNotMixed,
		Overflows:           st.Overflows,
		SilentFramesDropped: st.SilentFramesDropped,
		Received:            st.Sequence.Received,
		Unreasonable:        st.Sequence.Unreasonable,
		Early:               st.Sequence.Early,
		Late:                st.Sequence.Late,
		Lost:                st.Sequence.Lost,
		Recovered:           st.Sequence.Recovered,
		Duplicate:           st.Sequence.Duplicate,
	}
}

// StatsString renders a one-line-per-stream text report, microphone first.
func (r *Registry) StatsString() string {
	var b strings.Builder
	if r.mic != nil {
		writeStatsLine(&b, "mic", r.StreamStats(r.mic))
	} else {
		b.WriteString("mic unknown")
	}
	for _, s := range r.streams {
		if s.Kind() != jitter.KindInjected {
			continue
		}
		b.WriteByte('\n')
		writeStatsLine(&b, "injected "+s.ID().String(), r.StreamStats(s))
	}
	return b.String()
}

func writeStatsLine(b *strings.Builder, label string, st StreamStats) {
	fmt.Fprintf(b, "%s desired:%d current:%d available:%d starves:%d not mixed:%d overflows:%d silents dropped:%d",
		label, st.DesiredJitterFrames, st.CurrentJitterFrames, st.FramesAvailable,
		st.Starves, st.ConsecutiveNotMixed, st.Overflows, st.SilentFramesDropped)
	fmt.Fprintf(b, " early:%d late:%d lost:%d", st.Sequence.Early, st.Sequence.Late, st.Sequence.Lost)
	fmt.Fprintf(b, " min gap:%d max gap:%d avg gap:%.2f min 30s gap:%d max 30s gap:%d avg 30s gap:%.2f",
		st.TimeGapMin, st.TimeGapMax, st.TimeGapAvg,
		st.WindowTimeGapMin, st.WindowTimeGapMax, st.WindowTimeGapAvg)
}
