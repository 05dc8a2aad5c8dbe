package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zsiec/sonar/internal/certs"
	"github.com/zsiec/sonar/internal/client"
	"github.com/zsiec/sonar/internal/jitter"
	"github.com/zsiec/sonar/internal/metrics"
	"github.com/zsiec/sonar/internal/mixer"
	"github.com/zsiec/sonar/internal/protocol"
	"github.com/zsiec/sonar/internal/spatial"
)

var testFormat = jitter.Format{SampleRate: 1000, SamplesPerChannel: 4, RingFrames: 5}

type fixture struct {
	handler  http.Handler
	sessions *mixer.SessionManager
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	met := metrics.New(reg)
	mgr := mixer.NewSessionManager(client.Config{
		Format: testFormat,
		Policy: jitter.Policy{StaticDesiredFrames: 1, Padding: 1},
	}, met, log)

	cert, err := certs.Generate(time.Hour)
	if err != nil {
		t.Fatalf("certs.Generate: %v", err)
	}
	srv := NewServer(Config{
		Sessions: mgr,
		Gatherer: reg,
		Cert:     cert,
		QUICAddr: ":4443",
	}, log)
	return fixture{handler: srv.Handler(), sessions: mgr}
}

func (f fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func micPacket(seq uint16) []byte {
	return protocol.AppendMicrophoneAudio(nil, uuid.New(), protocol.MicrophoneFrame{
		Sequence:   seq,
		Stereo:     true,
		Positional: protocol.Positional{Orientation: spatial.IdentityQuat},
		Samples:    make([]int16, 2*testFormat.SamplesPerChannel),
	})
}

func TestHandleListClientsEmpty(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.get(t, "/api/clients")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Fatalf("body = %q, want %q", body, "[]")
	}
}

func TestHandleListClients(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sess, _ := f.sessions.Create("alice", "srt")
	sess.SetRemoteAddr("10.0.0.7:5000")
	if err := sess.Ingest(micPacket(0)); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	f.sessions.Create("bob", "quic")

	rec := f.get(t, "/api/clients")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var clients []mixer.SessionStats
	if err := json.NewDecoder(rec.Body).Decode(&clients); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(clients) != 2 {
		t.Fatalf("got %d clients, want 2", len(clients))
	}
	for _, c := range clients {
		if c.Name != "alice" {
			continue
		}
		if c.Streams != 1 || c.PacketsReceived != 1 || c.RemoteAddr != "10.0.0.7:5000" {
			t.Errorf("alice: got %+v", c)
		}
	}
}

func TestHandleClientStreams(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sess, _ := f.sessions.Create("alice", "srt")
	for seq := range uint16(3) {
		if err := sess.Ingest(micPacket(seq)); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}

	rec := f.get(t, "/api/clients/"+sess.ID.String()+"/streams")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	var streams []client.StreamStats
	if err := json.NewDecoder(rec.Body).Decode(&streams); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(streams) != 1 {
		t.Fatalf("got %d streams, want 1", len(streams))
	}
	st := streams[0]
	if st.Kind != "microphone" || !st.Stereo {
		t.Errorf("got kind=%q stereo=%v, want stereo microphone", st.Kind, st.Stereo)
	}
	if st.FramesAvailable != 3 || st.Sequence.Received != 3 {
		t.Errorf("got frames=%d received=%d, want 3/3", st.FramesAvailable, st.Sequence.Received)
	}
}

func TestHandleClientStreamsEmpty(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sess, _ := f.sessions.Create("alice", "quic")

	rec := f.get(t, "/api/clients/"+sess.ID.String()+"/streams")
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Fatalf("body = %q, want %q", body, "[]")
	}
}

func TestHandleClientDebug(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sess, _ := f.sessions.Create("alice", "quic")

	rec := f.get(t, "/api/clients/"+sess.ID.String()+"/debug")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.HasPrefix(rec.Body.String(), "mic unknown") {
		t.Errorf("body = %q, want mic unknown", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
}

func TestHandleClientErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"invalid id", "/api/clients/nope/streams", http.StatusBadRequest},
		{"unknown id", "/api/clients/" + uuid.NewString() + "/streams", http.StatusNotFound},
		{"unknown id debug", "/api/clients/" + uuid.NewString() + "/debug", http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := f.get(t, tc.path)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
			var body map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["error"] == "" {
				t.Error("expected error message")
			}
		})
	}
}

func TestHandleCertHash(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.get(t, "/api/cert-hash")
	var resp certHashResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Hash == "" || resp.Addr != ":4443" {
		t.Errorf("got %+v", resp)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.sessions.Create("alice", "quic")

	rec := f.get(t, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "sonar_active_sessions 1") {
		t.Errorf("metrics output missing active sessions gauge")
	}
}
