// Package client demultiplexes the audio packets of one connected client into
// jitter-buffered streams and drives them through the two-phase frame cycle
// of the mixer: PrepareFrame decides what mixes this tick and CommitFrame
// advances or retires streams afterwards.
package client

import (
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/sonar/internal/jitter"
	"github.com/zsiec/sonar/internal/protocol"
	"github.com/zsiec/sonar/internal/sequence"
	"github.com/zsiec/sonar/internal/spatial"
)

// InjectorNotMixedThreshold is the number of consecutive unmixed ticks after
// which a started, starved injected stream is considered finished.
const InjectorNotMixedThreshold = 100

// Config is the explicit configuration of a Registry.
type Config struct {
	Format jitter.Format
	Policy jitter.Policy
	// Now is passed to every stream; nil means time.Now.
	Now func() time.Time
	Log *slog.Logger

	// OnStreamAdded and OnStreamRemoved, when set, observe stream lifecycle.
	OnStreamAdded   func(jitter.Kind)
	OnStreamRemoved func(jitter.Kind)
}

// Registry owns the streams of one client. It is not safe for concurrent
// use; the owning session serializes access.
type Registry struct {
	cfg Config
	log *slog.Logger

	streams  []*jitter.Stream // registry order
	mic      *jitter.Stream
	injected map[uuid.UUID]*jitter.Stream

	micSeq      *sequence.Tracker
	injectedSeq map[uuid.UUID]*sequence.Tracker

	malformed uint64
}

// NewRegistry creates an empty registry. A zero Format or Policy is
// replaced by jitter.DefaultFormat or jitter.DefaultPolicy.
func NewRegistry(cfg Config) *Registry {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	if cfg.Format == (jitter.Format{}) {
		cfg.Format = jitter.DefaultFormat
	}
	if cfg.Policy == (jitter.Policy{}) {
		cfg.Policy = jitter.DefaultPolicy
	}
	return &Registry{
		cfg:         cfg,
		log:         log.With("component", "client-registry"),
		injected:    make(map[uuid.UUID]*jitter.Stream),
		micSeq:      sequence.NewTracker(),
		injectedSeq: make(map[uuid.UUID]*sequence.Tracker),
	}
}

// Ingest routes one raw inbound audio packet to its stream, creating the
// stream on first sight. The packet is fully decoded before anything is
// mutated, so a malformed packet leaves the registry unchanged apart from
// the malformed counter. Errors satisfy errors.Is(err,
// protocol.ErrMalformedPacket).
func (r *Registry) Ingest(b []byte) error {
	p, err := protocol.ParseAudioPacket(b)
	if err != nil {
		r.malformed++
		return err
	}
	f, err := jitter.DecodeFrame(p)
	if err != nil {
		r.malformed++
		return err
	}

	if p.Header.Type.IsMicrophone() {
		r.ingestMicrophone(p, f)
	} else {
		r.ingestInjected(p, f)
	}
	return nil
}

func (r *Registry) ingestMicrophone(p protocol.AudioPacket, f jitter.Frame) {
	if r.mic != nil && r.mic.IsStereo() != p.Stereo {
		r.log.Debug("microphone channel layout changed, replacing stream", "stereo", p.Stereo)
		r.removeStream(r.mic)
		r.mic = nil
		r.micSeq.Restart(p.Sequence)
	} else {
		r.micSeq.Received(p.Sequence)
	}
	if r.mic == nil {
		r.mic = r.addStream(jitter.Microphone{Stereo: p.Stereo})
	}
	r.mic.Write(f)
}

func (r *Registry) ingestInjected(p protocol.AudioPacket, f jitter.Frame) {
	id := p.StreamID
	tr, ok := r.injectedSeq[id]
	if !ok {
		tr = sequence.NewTracker()
		r.injectedSeq[id] = tr
	}
	tr.Received(p.Sequence)

	s, ok := r.injected[id]
	if !ok {
		s = r.addStream(jitter.Injected{ID: id})
		r.injected[id] = s
		r.log.Debug("injected stream created", "stream", id)
	}
	s.Write(f)
}

func (r *Registry) addStream(src jitter.Source) *jitter.Stream {
	s := jitter.New(src, jitter.Config{Format: r.cfg.Format, Policy: r.cfg.Policy, Now: r.cfg.Now})
	r.streams = append(r.streams, s)
	if r.cfg.OnStreamAdded != nil {
		r.cfg.OnStreamAdded(src.Kind())
	}
	return s
}

// removeStream deletes s from the ordered slice, preserving order.
func (r *Registry) removeStream(s *jitter.Stream) {
	for i, cur := range r.streams {
		if cur == s {
			r.streams = slices.Delete(r.streams, i, i+1)
			break
		}
	}
	if r.cfg.OnStreamRemoved != nil {
		r.cfg.OnStreamRemoved(s.Kind())
	}
}

// PrepareFrame marks every stream that can contribute a frame this tick and
// updates its trailing loudness. A marked stream whose position lies inside
// sourceZone gets listenerZone as its unattenuated zone; any other marked
// stream has it cleared. Read positions never move.
func (r *Registry) PrepareFrame(sourceZone, listenerZone *spatial.Box) {
	for _, s := range r.streams {
		if !s.ShouldBeAddedToMix() {
			continue
		}
		s.SetWillBeMixed(true)
		s.UpdateNextOutputTrailingLoudness()
		if sourceZone.Contains(s.Position()) {
			s.SetUnattenuatedZone(listenerZone)
		} else {
			s.SetUnattenuatedZone(nil)
		}
	}
}

// CommitFrame advances every stream that was mixed this tick by exactly one
// frame and removes injected streams that have run dry, together with their
// sequence trackers.
func (r *Registry) CommitFrame() {
	kept := r.streams[:0]
	for _, s := range r.streams {
		if s.WillBeMixed() {
			s.AdvanceFrame()
			s.SetWillBeMixed(false)
		} else if finished(s) {
			id := s.ID()
			delete(r.injected, id)
			delete(r.injectedSeq, id)
			r.log.Debug("injected stream finished", "stream", id, "starves", s.StarveCount())
			if r.cfg.OnStreamRemoved != nil {
				r.cfg.OnStreamRemoved(jitter.KindInjected)
			}
			continue
		}
		kept = append(kept, s)
	}
	clear(r.streams[len(kept):])
	r.streams = kept
}

func finished(s *jitter.Stream) bool {
	return s.Kind() == jitter.KindInjected &&
		s.HasStarted() &&
		s.IsStarved() &&
		s.ConsecutiveNotMixed() > InjectorNotMixedThreshold
}

// Streams returns the streams in registry order. The slice is a copy; the
// streams are not.
func (r *Registry) Streams() []*jitter.Stream {
	out := make([]*jitter.Stream, len(r.streams))
	copy(out, r.streams)
	return out
}

// Each calls fn for every stream in registry order without copying. fn
// must not add or remove streams.
func (r *Registry) Each(fn func(*jitter.Stream)) {
	for _, s := range r.streams {
		fn(s)
	}
}

// Len returns the number of streams.
func (r *Registry) Len() int { return len(r.streams) }

// MicrophoneStream returns the microphone stream, or nil.
func (r *Registry) MicrophoneStream() *jitter.Stream { return r.mic }

// InjectedStream returns the injected stream with the given id, or nil.
func (r *Registry) InjectedStream(id uuid.UUID) *jitter.Stream { return r.injected[id] }

// MicrophoneSequenceStats returns the microphone tracker counters.
func (r *Registry) MicrophoneSequenceStats() sequence.Stats { return r.micSeq.Stats() }

// InjectedSequenceStats returns the tracker counters of an injected stream.
func (r *Registry) InjectedSequenceStats(id uuid.UUID) (sequence.Stats, bool) {
	tr, ok := r.injectedSeq[id]
	if !ok {
		return sequence.Stats{}, false
	}
	return tr.Stats(), true
}

// Malformed returns the number of packets rejected by Ingest.
func (r *Registry) Malformed() uint64 { return r.malformed }
