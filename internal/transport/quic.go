package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/zsiec/sonar/internal/mixer"
)

// ALPN is the application protocol negotiated by audio clients.
const ALPN = "sonar-audio"

// Application error codes sent when closing a connection.
const (
	codeNormal    quic.ApplicationErrorCode = 0
	codeDuplicate quic.ApplicationErrorCode = 1
)

// QUICServer accepts QUIC connections with datagrams enabled and binds each
// to a session named after the peer address.
type QUICServer struct {
	log      *slog.Logger
	addr     string
	tls      *tls.Config
	sessions *mixer.SessionManager

	ln *quic.Listener
}

// NewQUICServer creates a QUIC server on addr. ALPN is added to the TLS
// configuration when it names no protocol. If log is nil, slog.Default() is
// used.
func NewQUICServer(addr string, tlsConf *tls.Config, sessions *mixer.SessionManager, log *slog.Logger) *QUICServer {
	if log == nil {
		log = slog.Default()
	}
	tlsConf = tlsConf.Clone()
	if !slices.Contains(tlsConf.NextProtos, ALPN) {
		tlsConf.NextProtos = append(tlsConf.NextProtos, ALPN)
	}
	return &QUICServer{
		log:      log.With("component", "quic-server"),
		addr:     addr,
		tls:      tlsConf,
		sessions: sessions,
	}
}

// Listen binds the UDP socket and returns its address.
func (s *QUICServer) Listen() (net.Addr, error) {
	ln, err := quic.ListenAddr(s.addr, s.tls, &quic.Config{
		EnableDatagrams: true,
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("QUIC listen on %s: %w", s.addr, err)
	}
	s.ln = ln
	s.log.Info("listening", "addr", ln.Addr())
	return ln.Addr(), nil
}

// Serve accepts connections until ctx is cancelled. Listen must have
// succeeded first.
func (s *QUICServer) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.ln.Close() })
	defer stop()

	for {
		conn, err := s.ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, quic.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("QUIC accept: %w", err)
		}
		go s.handleConnection(ctx, conn)
	}
}

// Start listens and serves until ctx is cancelled.
func (s *QUICServer) Start(ctx context.Context) error {
	if _, err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

func (s *QUICServer) handleConnection(ctx context.Context, conn quic.Connection) {
	remote := conn.RemoteAddr().String()
	if !conn.ConnectionState().SupportsDatagrams {
		s.log.Warn("peer does not support datagrams", "remote", remote)
		conn.CloseWithError(codeNormal, "datagrams required")
		return
	}

	sess, ok := s.sessions.Create(remote, "quic")
	if !ok {
		conn.CloseWithError(codeDuplicate, "duplicate session")
		return
	}
	defer s.sessions.Remove(sess.ID)
	sess.SetRemoteAddr(remote)
	s.log.Info("client connected", "session", sess.ID, "remote", remote)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go pump(connCtx, sess, conn.SendDatagram, s.log)

	for {
		b, err := conn.ReceiveDatagram(connCtx)
		if err != nil {
			if connCtx.Err() == nil {
				s.log.Debug("receive error", "session", sess.ID, "error", err)
			}
			break
		}
		ingest(sess, b, s.log)
	}
	conn.CloseWithError(codeNormal, "")

	st := sess.Stats()
	s.log.Info("client disconnected", "session", sess.ID, "remote", remote,
		"bytes", st.BytesReceived, "packets", st.PacketsReceived,
		"uptime_ms", st.UptimeMs)
}
