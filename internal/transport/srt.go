package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/sonar/internal/mixer"
)

// srtReadBufferSize holds the largest live-mode SRT payload.
const srtReadBufferSize = 1500

// srtLatencyNs is the SRT receiver latency in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

// SRTServer accepts SRT connections in live mode and binds each to a
// session named after the connection's stream id.
type SRTServer struct {
	log      *slog.Logger
	addr     string
	sessions *mixer.SessionManager
}

// NewSRTServer creates an SRT server that listens on addr. If log is nil,
// slog.Default() is used.
func NewSRTServer(addr string, sessions *mixer.SessionManager, log *slog.Logger) *SRTServer {
	if log == nil {
		log = slog.Default()
	}
	return &SRTServer{
		log:      log.With("component", "srt-server"),
		addr:     addr,
		sessions: sessions,
	}
}

// Start accepts connections until ctx is cancelled.
func (s *SRTServer) Start(ctx context.Context) error {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs

	l, err := srtgo.Listen(s.addr, cfg)
	if err != nil {
		return fmt.Errorf("SRT listen on %s: %w", s.addr, err)
	}
	s.log.Info("listening", "addr", s.addr)

	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if req.StreamID == "" {
			return srtgo.RejPeer
		}
		return 0
	})

	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}
		go s.handleConnection(ctx, conn, sessionName(conn.StreamID()))
	}
}

func (s *SRTServer) handleConnection(ctx context.Context, conn *srtgo.Conn, name string) {
	defer conn.Close()

	sess, ok := s.sessions.Create(name, "srt")
	if !ok {
		return
	}
	defer s.sessions.Remove(sess.ID)
	sess.SetRemoteAddr(conn.RemoteAddr().String())
	s.log.Info("client connected", "session", sess.ID, "name", name, "remote", conn.RemoteAddr())

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(connCtx, func() { conn.Close() })
	defer stop()

	go pump(connCtx, sess, func(b []byte) error {
		_, err := conn.Write(b)
		return err
	}, s.log)

	buf := make([]byte, srtReadBufferSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) && connCtx.Err() == nil {
				s.log.Debug("read error", "session", sess.ID, "error", err)
			}
			break
		}
		ingest(sess, buf[:n], s.log)
	}

	st := sess.Stats()
	s.log.Info("client disconnected", "session", sess.ID, "name", name,
		"bytes", st.BytesReceived, "packets", st.PacketsReceived,
		"uptime_ms", st.UptimeMs)
}

// sessionName derives a session name from an SRT stream id, stripping a
// leading slash and the conventional "live/" prefix.
func sessionName(streamID string) string {
	streamID = strings.TrimPrefix(streamID, "/")
	streamID = strings.TrimPrefix(streamID, "live/")
	if streamID == "" {
		return "default"
	}
	return streamID
}
