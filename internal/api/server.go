// Package api serves the HTTP introspection endpoints: connected clients,
// per-stream jitter statistics and Prometheus metrics.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zsiec/sonar/internal/certs"
	"github.com/zsiec/sonar/internal/client"
	"github.com/zsiec/sonar/internal/mixer"
)

// Config wires the API to the rest of the server.
type Config struct {
	Sessions *mixer.SessionManager
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// Cert and QUICAddr back /api/cert-hash; a nil Cert disables it.
	Cert     *certs.CertInfo
	QUICAddr string
}

// Server handles the HTTP API.
type Server struct {
	cfg Config
	log *slog.Logger
}

// NewServer creates an API server. If log is nil, slog.Default() is used.
func NewServer(cfg Config, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{cfg: cfg, log: log.With("component", "api")}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/clients", s.handleListClients)
	mux.HandleFunc("GET /api/clients/{id}/streams", s.handleClientStreams)
	mux.HandleFunc("GET /api/clients/{id}/debug", s.handleClientDebug)
	if s.cfg.Cert != nil {
		mux.HandleFunc("GET /api/cert-hash", s.handleCertHash)
	}
	if s.cfg.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleListClients(w http.ResponseWriter, _ *http.Request) {
	sessions := s.cfg.Sessions.List()
	resp := make([]mixer.SessionStats, len(sessions))
	for i, sess := range sessions {
		resp[i] = sess.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClientStreams(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	streams := sess.StreamStats()
	if streams == nil {
		streams = make([]client.StreamStats, 0)
	}
	writeJSON(w, http.StatusOK, streams)
}

func (s *Server) handleClientDebug(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(sess.DebugString() + "\n")); err != nil {
		s.log.Debug("writing debug response", "error", err)
	}
}

type certHashResponse struct {
	Hash string `json:"hash"`
	Addr string `json:"addr"`
}

func (s *Server) handleCertHash(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, certHashResponse{
		Hash: s.cfg.Cert.FingerprintBase64(),
		Addr: s.cfg.QUICAddr,
	})
}

// lookup resolves the {id} path value, writing an error response when it
// names no connected client.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*mixer.Session, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid client id")
		return nil, false
	}
	sess, ok := s.cfg.Sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "client not found")
		return nil, false
	}
	return sess, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
