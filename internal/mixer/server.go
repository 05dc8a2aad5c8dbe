package mixer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/sonar/internal/client"
	"github.com/zsiec/sonar/internal/jitter"
	"github.com/zsiec/sonar/internal/metrics"
	"github.com/zsiec/sonar/internal/protocol"
	"github.com/zsiec/sonar/internal/spatial"
)

// ServerConfig configures the frame clock.
type ServerConfig struct {
	// ID is the sender id stamped on every outbound packet.
	ID            uuid.UUID
	Format        jitter.Format
	Workers       int
	StatsInterval time.Duration
	MaxPacketSize int
	SourceZone    *spatial.Box
	ListenerZone  *spatial.Box
}

// Server runs one tick per audio frame over every connected session.
type Server struct {
	cfg      ServerConfig
	sessions *SessionManager
	reporter *client.StatsReporter
	metrics  *metrics.Metrics
	log      *slog.Logger

	mixers    []*SumMixer
	lastStats time.Time
}

// NewServer creates a frame clock over the sessions of mgr. m may be nil.
func NewServer(cfg ServerConfig, mgr *SessionManager, m *metrics.Metrics, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := cfg.Format.Validate(); err != nil {
		return nil, fmt.Errorf("mixer: %w", err)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	reporter, err := client.NewStatsReporter(cfg.ID, cfg.MaxPacketSize)
	if err != nil {
		return nil, fmt.Errorf("mixer: %w", err)
	}

	mixers := make([]*SumMixer, cfg.Workers)
	for i := range mixers {
		mixers[i] = NewSumMixer(cfg.Format.SamplesPerChannel)
	}
	return &Server{
		cfg:      cfg,
		sessions: mgr,
		reporter: reporter,
		metrics:  m,
		log:      log.With("component", "mixer"),
		mixers:   mixers,
	}, nil
}

// Run ticks once per frame duration until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	frame := s.cfg.Format.FrameDuration()
	s.log.Info("mixer started", "frame", frame, "workers", s.cfg.Workers)

	ticker := time.NewTicker(frame)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("mixer stopped")
			return nil
		case now := <-ticker.C:
			s.Tick(now)
		}
	}
}

// Tick runs one frame: every session is prepared, every listener receives
// its mix and every session is committed. Stats packets go out when the
// stats interval has elapsed. Sessions stay locked for the whole tick, in
// ascending id order.
func (s *Server) Tick(now time.Time) {
	start := time.Now()
	sessions := s.sessions.List()
	for _, sess := range sessions {
		sess.mu.Lock()
	}
	defer func() {
		for _, sess := range sessions {
			sess.mu.Unlock()
		}
	}()

	s.forEach(sessions, func(sess *Session) {
		sess.reg.PrepareFrame(s.cfg.SourceZone, s.cfg.ListenerZone)
	})

	// Mixers are handed out per worker slot so none is shared.
	slots := make(chan *SumMixer, len(s.mixers))
	for _, mx := range s.mixers {
		slots <- mx
	}
	s.forEach(sessions, func(listener *Session) {
		if listener.reg.MicrophoneStream() == nil {
			return
		}
		mx := <-slots
		defer func() { slots <- mx }()

		frame, _ := mx.Mix(listener, sessions)
		pkt := protocol.AppendMixedAudio(nil, s.cfg.ID, listener.nextOutgoingSequence(), frame)
		if listener.enqueue(pkt) && s.metrics != nil {
			s.metrics.MixedPacketsSent.Inc()
		}
	})

	s.forEach(sessions, func(sess *Session) {
		sess.reg.CommitFrame()
	})

	if s.cfg.StatsInterval > 0 && now.Sub(s.lastStats) >= s.cfg.StatsInterval {
		s.lastStats = now
		s.forEach(sessions, func(sess *Session) {
			for _, pkt := range s.reporter.Emit(sess.reg) {
				if sess.enqueue(pkt) && s.metrics != nil {
					s.metrics.StatsPacketsSent.Inc()
				}
			}
		})
	}

	if s.metrics != nil {
		s.metrics.Ticks.Inc()
		s.metrics.TickDuration.Observe(time.Since(start).Seconds())
	}
}

// forEach runs fn for every session on at most Workers goroutines and waits.
// Each call touches only its own session's registry for writing.
func (s *Server) forEach(sessions []*Session, fn func(*Session)) {
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for _, sess := range sessions {
		g.Go(func() error {
			fn(sess)
			return nil
		})
	}
	_ = g.Wait()
}
