package mixer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/sonar/internal/client"
	"github.com/zsiec/sonar/internal/metrics"
)

// outboxSize bounds the packets queued for a client before new ones are
// dropped.
const outboxSize = 64

// SessionStats captures connection-level counters for one client session,
// exposed via the API.
type SessionStats struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Transport       string `json:"transport"`
	RemoteAddr      string `json:"remoteAddr"`
	ConnectedAt     int64  `json:"connectedAt"`
	UptimeMs        int64  `json:"uptimeMs"`
	BytesReceived   int64  `json:"bytesReceived"`
	PacketsReceived int64  `json:"packetsReceived"`
	PacketsSent     int64  `json:"packetsSent"`
	PacketsDropped  int64  `json:"packetsDropped"`
	Malformed       uint64 `json:"malformed"`
	Streams         int    `json:"streams"`
}

// Session is one connected client. It owns the client's stream registry and
// serializes every access to it: transport goroutines call Ingest, the
// mixer locks the session for the duration of a tick.
type Session struct {
	ID        uuid.UUID
	Name      string
	Transport string
	StartedAt time.Time

	mu      sync.Mutex
	reg     *client.Registry
	nextSeq uint16 // outgoing mixed audio sequence number

	outbox  chan []byte
	done    chan struct{}
	metrics *metrics.Metrics

	bytesReceived   atomic.Int64
	packetsReceived atomic.Int64
	packetsSent     atomic.Int64
	packetsDropped  atomic.Int64
	remoteAddr      atomic.Value
}

func newSession(id uuid.UUID, name, transport string, reg *client.Registry, m *metrics.Metrics) *Session {
	return &Session{
		ID:        id,
		Name:      name,
		Transport: transport,
		StartedAt: time.Now(),
		reg:       reg,
		outbox:    make(chan []byte, outboxSize),
		done:      make(chan struct{}),
		metrics:   m,
	}
}

// Ingest hands one inbound packet to the client's registry. Malformed
// packets are counted and returned; they never end the session.
func (s *Session) Ingest(b []byte) error {
	s.bytesReceived.Add(int64(len(b)))
	s.packetsReceived.Add(1)
	if s.metrics != nil {
		s.metrics.PacketsReceived.WithLabelValues(s.Transport).Inc()
	}

	s.mu.Lock()
	err := s.reg.Ingest(b)
	s.mu.Unlock()

	if err != nil && s.metrics != nil {
		s.metrics.Malformed(err)
	}
	return err
}

// Outbound returns the queue of packets to be written to the client. The
// transport drains it until Done is closed.
func (s *Session) Outbound() <-chan []byte { return s.outbox }

// Done is closed when the session is removed from its manager.
func (s *Session) Done() <-chan struct{} { return s.done }

// enqueue queues b for the client without blocking and reports whether it
// was accepted.
func (s *Session) enqueue(b []byte) bool {
	select {
	case s.outbox <- b:
		s.packetsSent.Add(1)
		return true
	default:
		s.packetsDropped.Add(1)
		if s.metrics != nil {
			s.metrics.OutboundDropped.Inc()
		}
		return false
	}
}

// nextOutgoingSequence returns the sequence number for the next mixed
// packet. The caller holds mu.
func (s *Session) nextOutgoingSequence() uint16 {
	seq := s.nextSeq
	s.nextSeq++
	return seq
}

// SetRemoteAddr stores the remote address for diagnostics.
func (s *Session) SetRemoteAddr(addr string) {
	s.remoteAddr.Store(addr)
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() SessionStats {
	addr, _ := s.remoteAddr.Load().(string)
	s.mu.Lock()
	streams, malformed := s.reg.Len(), s.reg.Malformed()
	s.mu.Unlock()
	return SessionStats{
		ID:              s.ID.String(),
		Name:            s.Name,
		Transport:       s.Transport,
		RemoteAddr:      addr,
		ConnectedAt:     s.StartedAt.UnixMilli(),
		UptimeMs:        time.Since(s.StartedAt).Milliseconds(),
		BytesReceived:   s.bytesReceived.Load(),
		PacketsReceived: s.packetsReceived.Load(),
		PacketsSent:     s.packetsSent.Load(),
		PacketsDropped:  s.packetsDropped.Load(),
		Malformed:       malformed,
		Streams:         streams,
	}
}

// StreamStats snapshots every stream of the client in registry order.
func (s *Session) StreamStats() []client.StreamStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg.AllStreamStats()
}

// DebugString returns the client's text stats report.
func (s *Session) DebugString() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg.StatsString()
}
