package metrics

import (
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zsiec/sonar/internal/jitter"
	"github.com/zsiec/sonar/internal/protocol"
)

func TestMalformedReason(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want string
	}{
		{&protocol.ParseError{Field: "type", Err: protocol.ErrUnknownStreamType}, "unknown_stream_type"},
		{&protocol.ParseError{Field: "version", Err: fmt.Errorf("%w: got 2", protocol.ErrVersionMismatch)}, "version_mismatch"},
		{&protocol.ParseError{Field: "sequence", Err: protocol.ErrMalformedPacket}, "truncated"},
		{errors.New("boom"), "other"},
	}
	for _, tc := range tests {
		if got := MalformedReason(tc.err); got != tc.want {
			t.Errorf("MalformedReason(%v): got %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestStreamLifecycleCounters(t *testing.T) {
	t.Parallel()
	m := New(prometheus.NewRegistry())

	m.StreamAdded(jitter.KindMicrophone)
	m.StreamAdded(jitter.KindInjected)
	m.StreamAdded(jitter.KindInjected)
	m.StreamRemoved(jitter.KindInjected)
	m.Malformed(protocol.ErrUnknownStreamType)

	if got := testutil.ToFloat64(m.StreamsCreated.WithLabelValues("injected")); got != 2 {
		t.Errorf("injected created: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.StreamsRemoved.WithLabelValues("injected")); got != 1 {
		t.Errorf("injected removed: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.MalformedPackets.WithLabelValues("unknown_stream_type")); got != 1 {
		t.Errorf("malformed: got %v, want 1", got)
	}
}

func TestNewRegistersOnGivenRegistry(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Ticks.Inc()
	m.ActiveSessions.Set(3)

	n, err := testutil.GatherAndCount(reg, "sonar_mixer_ticks_total", "sonar_active_sessions")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("gathered %d series, want 2", n)
	}
}
