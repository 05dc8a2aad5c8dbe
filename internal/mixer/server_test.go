package mixer

import (
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zsiec/sonar/internal/metrics"
	"github.com/zsiec/sonar/internal/protocol"
	"github.com/zsiec/sonar/internal/spatial"
)

var serverID = uuid.MustParse("6a1f4a8e-3b5c-4d2e-8f10-2c3b4a5d6e7f")

var testPositional = protocol.Positional{Orientation: spatial.IdentityQuat}

func micPacket(seq uint16, echo, stereo bool, v int16) []byte {
	n := testFormat.SamplesPerChannel
	if stereo {
		n *= 2
	}
	return protocol.AppendMicrophoneAudio(nil, uuid.Nil, protocol.MicrophoneFrame{
		Sequence:   seq,
		Echo:       echo,
		Stereo:     stereo,
		Positional: testPositional,
		Samples:    filled(n, v),
	})
}

func injectedPacket(id uuid.UUID, seq uint16, v int16) []byte {
	return protocol.AppendInjectedAudio(nil, uuid.Nil, protocol.InjectedFrame{
		Sequence:   seq,
		StreamID:   id,
		Positional: testPositional,
		Radius:     1,
		Samples:    filled(testFormat.SamplesPerChannel, v),
	})
}

func filled(n int, v int16) []int16 {
	s := make([]int16, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func newTestServer(t *testing.T, m *SessionManager, met *metrics.Metrics, statsInterval time.Duration) *Server {
	t.Helper()
	srv, err := NewServer(ServerConfig{
		ID:            serverID,
		Format:        testFormat,
		Workers:       2,
		StatsInterval: statsInterval,
		MaxPacketSize: 1200,
	}, m, met, discardLogger())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}

// ingestAll feeds packets to s, failing the test on error.
func ingestAll(t *testing.T, s *Session, pkts ...[]byte) {
	t.Helper()
	for _, p := range pkts {
		if err := s.Ingest(p); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}
}

func receiveMixed(t *testing.T, s *Session) protocol.Mixed {
	t.Helper()
	select {
	case pkt := <-s.Outbound():
		mixed, err := protocol.ParseMixedAudio(pkt)
		if err != nil {
			t.Fatalf("parse mixed: %v", err)
		}
		return mixed
	default:
		t.Fatalf("session %s: no packet queued", s.Name)
		return protocol.Mixed{}
	}
}

func TestServerTickMixesOtherClients(t *testing.T) {
	t.Parallel()
	met := metrics.New(prometheus.NewRegistry())
	m := newTestManager(met)
	a, _ := m.Create("a", "quic")
	b, _ := m.Create("b", "quic")

	// Two frames each: one to play, one of jitter headroom.
	ingestAll(t, a, micPacket(0, false, false, 100), micPacket(1, false, false, 100))
	ingestAll(t, b, micPacket(0, false, true, 1000), micPacket(1, false, true, 1000))

	srv := newTestServer(t, m, met, 0)
	srv.Tick(time.Now())

	gotA := receiveMixed(t, a)
	if want := filled(8, 1000); !slices.Equal(gotA.Samples, want) {
		t.Errorf("a hears: got %v, want %v", gotA.Samples, want)
	}
	if gotA.Header.Sender != serverID || gotA.Sequence != 0 {
		t.Errorf("a header: got sender=%s seq=%d", gotA.Header.Sender, gotA.Sequence)
	}
	gotB := receiveMixed(t, b)
	if want := filled(8, 100); !slices.Equal(gotB.Samples, want) {
		t.Errorf("b hears mono a on both channels: got %v, want %v", gotB.Samples, want)
	}

	a.mu.Lock()
	avail := a.reg.MicrophoneStream().FramesAvailable()
	a.mu.Unlock()
	if avail != 1 {
		t.Errorf("frames available after commit: got %d, want 1", avail)
	}
	if got := testutil.ToFloat64(met.MixedPacketsSent); got != 2 {
		t.Errorf("mixed packets sent: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(met.Ticks); got != 1 {
		t.Errorf("ticks: got %v, want 1", got)
	}
}

func TestServerTickLoopback(t *testing.T) {
	t.Parallel()
	m := newTestManager(nil)
	a, _ := m.Create("a", "quic")
	b, _ := m.Create("b", "quic")

	ingestAll(t, a, micPacket(0, true, false, 100), micPacket(1, true, false, 100))
	ingestAll(t, b, micPacket(0, false, false, 1000), micPacket(1, false, false, 1000))

	srv := newTestServer(t, m, nil, 0)
	srv.Tick(time.Now())

	if got := receiveMixed(t, a); got.Samples[0] != 1100 {
		t.Errorf("a with echo: got %d, want 1100", got.Samples[0])
	}
	if got := receiveMixed(t, b); got.Samples[0] != 100 {
		t.Errorf("b without echo: got %d, want 100", got.Samples[0])
	}
}

func TestServerTickInjectorOnlyClientGetsNoMix(t *testing.T) {
	t.Parallel()
	m := newTestManager(nil)
	listener, _ := m.Create("listener", "quic")
	agent, _ := m.Create("agent", "srt")

	id := uuid.New()
	ingestAll(t, listener, micPacket(0, false, false, 0), micPacket(1, false, false, 0))
	ingestAll(t, agent, injectedPacket(id, 0, 300), injectedPacket(id, 1, 300))

	srv := newTestServer(t, m, nil, 0)
	srv.Tick(time.Now())

	if got := receiveMixed(t, listener); got.Samples[1] != 300 {
		t.Errorf("listener hears injected: got %d, want 300", got.Samples[1])
	}
	select {
	case <-agent.Outbound():
		t.Error("client without a microphone should not receive mixed audio")
	default:
	}
}

func TestServerTickStarvedStreamNotMixed(t *testing.T) {
	t.Parallel()
	m := newTestManager(nil)
	a, _ := m.Create("a", "quic")
	b, _ := m.Create("b", "quic")

	// One frame is below the desired jitter depth.
	ingestAll(t, a, micPacket(0, false, false, 100))
	ingestAll(t, b, micPacket(0, false, false, 1000))

	srv := newTestServer(t, m, nil, 0)
	srv.Tick(time.Now())

	if got := receiveMixed(t, b); !slices.Equal(got.Samples, filled(8, 0)) {
		t.Errorf("starved source: got %v, want silence", got.Samples)
	}
	a.mu.Lock()
	notMixed := a.reg.MicrophoneStream().ConsecutiveNotMixed()
	a.mu.Unlock()
	if notMixed != 1 {
		t.Errorf("consecutive not mixed: got %d, want 1", notMixed)
	}
}

func TestServerTickEmitsStats(t *testing.T) {
	t.Parallel()
	met := metrics.New(prometheus.NewRegistry())
	m := newTestManager(met)
	agent, _ := m.Create("agent", "srt")
	ingestAll(t, agent, injectedPacket(uuid.New(), 0, 1))

	srv := newTestServer(t, m, met, time.Second)
	now := time.Now()
	srv.Tick(now)

	select {
	case pkt := <-agent.Outbound():
		p, err := protocol.ParseStatsPacket(pkt)
		if err != nil {
			t.Fatalf("parse stats: %v", err)
		}
		if p.Append || len(p.Records) != 1 {
			t.Errorf("got append=%v records=%d, want first packet with 1 record", p.Append, len(p.Records))
		}
		if p.Records[0].Kind != protocol.StreamKindInjected {
			t.Errorf("record kind: got %d, want injected", p.Records[0].Kind)
		}
	default:
		t.Fatal("expected a stats packet")
	}

	// Not due again until the interval has passed.
	srv.Tick(now.Add(500 * time.Millisecond))
	select {
	case <-agent.Outbound():
		t.Error("stats sent before the interval elapsed")
	default:
	}
	srv.Tick(now.Add(time.Second))
	if len(agent.Outbound()) != 1 {
		t.Errorf("expected one stats packet after the interval, got %d", len(agent.Outbound()))
	}
	if got := testutil.ToFloat64(met.StatsPacketsSent); got != 2 {
		t.Errorf("stats packets sent: got %v, want 2", got)
	}
}

func TestNewServerRejectsTinyPackets(t *testing.T) {
	t.Parallel()
	_, err := NewServer(ServerConfig{Format: testFormat, MaxPacketSize: 64}, newTestManager(nil), nil, discardLogger())
	if err == nil {
		t.Error("expected error for a packet size that cannot hold a stats record")
	}
}

func TestClampInt16(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   int32
		want int16
	}{
		{0, 0},
		{-5, -5},
		{40000, 32767},
		{-40000, -32768},
	}
	for _, tc := range tests {
		if got := clampInt16(tc.in); got != tc.want {
			t.Errorf("clampInt16(%d): got %d, want %d", tc.in, got, tc.want)
		}
	}
}
