package mixer

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zsiec/sonar/internal/client"
	"github.com/zsiec/sonar/internal/jitter"
	"github.com/zsiec/sonar/internal/metrics"
	"github.com/zsiec/sonar/internal/protocol"
)

// Four samples per channel per frame, five frames of ring.
var testFormat = jitter.Format{SampleRate: 1000, SamplesPerChannel: 4, RingFrames: 5}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(m *metrics.Metrics) *SessionManager {
	return NewSessionManager(client.Config{
		Format: testFormat,
		Policy: jitter.Policy{StaticDesiredFrames: 1, Padding: 1},
	}, m, discardLogger())
}

func TestSessionManagerCreateAndGet(t *testing.T) {
	t.Parallel()
	m := newTestManager(nil)

	s, ok := m.Create("alice", "quic")
	if !ok {
		t.Fatal("expected Create to return true")
	}
	if s.Name != "alice" || s.Transport != "quic" {
		t.Errorf("got name=%q transport=%q, want alice/quic", s.Name, s.Transport)
	}

	got, ok := m.Get(s.ID)
	if !ok || got != s {
		t.Error("expected Get to return the created session")
	}
}

func TestSessionManagerDuplicate(t *testing.T) {
	t.Parallel()
	m := newTestManager(nil)

	m.Create("alice", "srt")
	if s, ok := m.Create("alice", "srt"); ok || s != nil {
		t.Error("expected duplicate Create to return nil, false")
	}
}

func TestSessionManagerRemove(t *testing.T) {
	t.Parallel()
	m := newTestManager(nil)

	s, _ := m.Create("alice", "quic")
	m.Remove(s.ID)

	if _, ok := m.Get(s.ID); ok {
		t.Error("expected session to be gone after Remove")
	}
	select {
	case <-s.Done():
	default:
		t.Error("expected Done to be closed after Remove")
	}
	if _, ok := m.Create("alice", "quic"); !ok {
		t.Error("expected name to be reusable after Remove")
	}
}

func TestSessionManagerRemoveNonexistent(t *testing.T) {
	t.Parallel()
	m := newTestManager(nil)
	m.Remove(uuid.New())
}

func TestSessionManagerListOrdered(t *testing.T) {
	t.Parallel()
	m := newTestManager(nil)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		m.Create(name, "quic")
	}

	list := m.List()
	if len(list) != 5 {
		t.Fatalf("got %d sessions, want 5", len(list))
	}
	for i := 1; i < len(list); i++ {
		if bytes.Compare(list[i-1].ID[:], list[i].ID[:]) >= 0 {
			t.Errorf("sessions %d and %d out of id order", i-1, i)
		}
	}
}

func TestSessionManagerMetrics(t *testing.T) {
	t.Parallel()
	met := metrics.New(prometheus.NewRegistry())
	m := newTestManager(met)

	a, _ := m.Create("a", "quic")
	m.Create("b", "srt")
	if got := testutil.ToFloat64(met.ActiveSessions); got != 2 {
		t.Errorf("active sessions: got %v, want 2", got)
	}

	if err := a.Ingest(micPacket(0, false, false, 1)); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if got := testutil.ToFloat64(met.StreamsCreated.WithLabelValues("microphone")); got != 1 {
		t.Errorf("streams created: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(met.PacketsReceived.WithLabelValues("quic")); got != 1 {
		t.Errorf("packets received: got %v, want 1", got)
	}

	m.Remove(a.ID)
	if got := testutil.ToFloat64(met.ActiveSessions); got != 1 {
		t.Errorf("active sessions after remove: got %v, want 1", got)
	}
}

func TestSessionIngestMalformed(t *testing.T) {
	t.Parallel()
	met := metrics.New(prometheus.NewRegistry())
	m := newTestManager(met)
	s, _ := m.Create("a", "srt")

	err := s.Ingest([]byte{byte(protocol.MicrophoneAudioNoEcho), protocol.Version})
	if !errors.Is(err, protocol.ErrMalformedPacket) {
		t.Fatalf("got %v, want ErrMalformedPacket", err)
	}
	if got := testutil.ToFloat64(met.MalformedPackets.WithLabelValues("truncated")); got != 1 {
		t.Errorf("malformed counter: got %v, want 1", got)
	}

	st := s.Stats()
	if st.PacketsReceived != 1 || st.BytesReceived != 2 {
		t.Errorf("packets/bytes: got %d/%d, want 1/2", st.PacketsReceived, st.BytesReceived)
	}
	if st.Malformed != 1 || st.Streams != 0 {
		t.Errorf("malformed/streams: got %d/%d, want 1/0", st.Malformed, st.Streams)
	}
}

func TestSessionEnqueueDropsWhenFull(t *testing.T) {
	t.Parallel()
	met := metrics.New(prometheus.NewRegistry())
	m := newTestManager(met)
	s, _ := m.Create("a", "quic")

	for range outboxSize {
		if !s.enqueue([]byte{1}) {
			t.Fatal("enqueue failed before the outbox was full")
		}
	}
	if s.enqueue([]byte{1}) {
		t.Error("expected enqueue to fail on a full outbox")
	}
	if got := testutil.ToFloat64(met.OutboundDropped); got != 1 {
		t.Errorf("dropped: got %v, want 1", got)
	}
	if st := s.Stats(); st.PacketsSent != outboxSize || st.PacketsDropped != 1 {
		t.Errorf("sent/dropped: got %d/%d, want %d/1", st.PacketsSent, st.PacketsDropped, outboxSize)
	}
}

func TestSessionOutgoingSequenceWraps(t *testing.T) {
	t.Parallel()
	s := newSession(uuid.New(), "a", "quic", nil, nil)
	s.nextSeq = 65535
	if got := s.nextOutgoingSequence(); got != 65535 {
		t.Errorf("got %d, want 65535", got)
	}
	if got := s.nextOutgoingSequence(); got != 0 {
		t.Errorf("after wrap: got %d, want 0", got)
	}
}
