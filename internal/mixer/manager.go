// Package mixer runs the frame clock of the server: it tracks connected
// client sessions and, once per frame, prepares every client's streams,
// mixes a frame for each listener and commits the tick.
package mixer

import (
	"bytes"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/zsiec/sonar/internal/client"
	"github.com/zsiec/sonar/internal/jitter"
	"github.com/zsiec/sonar/internal/metrics"
)

// SessionManager tracks connected client sessions.
type SessionManager struct {
	log     *slog.Logger
	cfg     client.Config
	metrics *metrics.Metrics

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	names    map[string]uuid.UUID
}

// NewSessionManager creates a manager whose sessions build registries from
// cfg. m may be nil. If log is nil, slog.Default() is used.
func NewSessionManager(cfg client.Config, m *metrics.Metrics, log *slog.Logger) *SessionManager {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Log == nil {
		cfg.Log = log
	}
	if m != nil {
		cfg.OnStreamAdded = chain(cfg.OnStreamAdded, m.StreamAdded)
		cfg.OnStreamRemoved = chain(cfg.OnStreamRemoved, m.StreamRemoved)
	}
	return &SessionManager{
		log:      log.With("component", "session-manager"),
		cfg:      cfg,
		metrics:  m,
		sessions: make(map[uuid.UUID]*Session),
		names:    make(map[string]uuid.UUID),
	}
}

func chain(a, b func(jitter.Kind)) func(jitter.Kind) {
	if a == nil {
		return b
	}
	return func(k jitter.Kind) {
		a(k)
		b(k)
	}
}

// Create registers a new session. Returns the session and true if created,
// or nil and false if a session with this name already exists.
func (m *SessionManager) Create(name, transport string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.names[name]; ok {
		m.log.Warn("session already exists, rejecting duplicate", "name", name)
		return nil, false
	}

	id := uuid.New()
	cfg := m.cfg
	cfg.Log = cfg.Log.With("session", id)
	s := newSession(id, name, transport, client.NewRegistry(cfg), m.metrics)

	m.sessions[id] = s
	m.names[name] = id
	if m.metrics != nil {
		m.metrics.ActiveSessions.Inc()
	}
	m.log.Info("session created", "id", id, "name", name, "transport", transport)
	return s, true
}

// Remove removes a session and closes its Done channel.
func (m *SessionManager) Remove(id uuid.UUID) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		delete(m.names, s.Name)
	}
	m.mu.Unlock()

	if ok {
		close(s.done)
		if m.metrics != nil {
			m.metrics.ActiveSessions.Dec()
		}
		m.log.Info("session removed", "id", id, "name", s.Name)
	}
}

// Get returns the session with the given id.
func (m *SessionManager) Get(id uuid.UUID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// List returns all sessions ordered by id. Locking sessions in this order
// avoids lock-order inversions between concurrent ticks.
func (m *SessionManager) List() []*Session {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	slices.SortFunc(sessions, func(a, b *Session) int {
		return bytes.Compare(a.ID[:], b.ID[:])
	})
	return sessions
}
