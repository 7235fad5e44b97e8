// Package session exposes session recordings over HTTP: opening a
// recording by path, polling its ingest status, driving playback
// (play/pause/seek), and streaming the replayed Guacamole instruction
// stream to a browser-hosted display client over a WebSocket tunnel. Its
// shape — a ServerConfig, a NewServer constructor, and Start/Stop methods
// wrapping an *http.Server — follows the gateway's inferred signaling
// server contract (cmd/webrtc-gateway/main.go calls exactly this shape on
// an internal/signaling.Server whose source wasn't retrieved into this
// pack; internal/session.Server plays the same role here).
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/glyptodon/glyptodon-enterprise-player/internal/indexcache"
	"github.com/glyptodon/glyptodon-enterprise-player/internal/metrics"
	"github.com/glyptodon/glyptodon-enterprise-player/internal/recording"
)

// ServerConfig configures the session HTTP server.
type ServerConfig struct {
	ListenAddr     string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	RecordingsDir string
	IndexConfig   recording.Config
}

// Server serves the recording lifecycle HTTP API and WebSocket tunnels.
type Server struct {
	cfg     ServerConfig
	cache   *indexcache.Store
	metrics *metrics.Registry
	logger  zerolog.Logger

	registry *registry
	upgrader websocket.Upgrader

	httpServer *http.Server
}

// NewServer constructs a Server. cache and m may be nil to disable the
// index cache and metrics counters respectively.
func NewServer(cfg ServerConfig, cache *indexcache.Store, m *metrics.Registry, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "session_server").Logger()

	s := &Server{
		cfg:      cfg,
		cache:    cache,
		metrics:  m,
		logger:   logger,
		registry: newRegistry(),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" {
			return true
		}
		if strings.EqualFold(allowed, r.Header.Get("Origin")) {
			return true
		}
	}
	return false
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/recordings", s.handleOpen).Methods(http.MethodPost)
	r.HandleFunc("/recordings/{id}/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/recordings/{id}/play", s.handlePlay).Methods(http.MethodPost)
	r.HandleFunc("/recordings/{id}/pause", s.handlePause).Methods(http.MethodPost)
	r.HandleFunc("/recordings/{id}/seek", s.handleSeek).Methods(http.MethodPost)
	r.HandleFunc("/recordings/{id}/cancel", s.handleCancel).Methods(http.MethodPost)
	r.HandleFunc("/recordings/{id}/tunnel", s.handleTunnel).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	return r
}

// Start begins serving on cfg.ListenAddr. It returns once the listener
// fails to start; call it from its own goroutine in production.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.routes(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("session server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the HTTP listener and closes every open
// recording session.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.registry.closeAll()
	return err
}

type openRequest struct {
	Path string `json:"path"`
}

type openResponse struct {
	ID string `json:"id"`
}

// handleOpen opens a recording file under RecordingsDir and returns a
// session ID for subsequent calls. The requested path is resolved relative
// to RecordingsDir and rejected if it escapes it, since it comes directly
// from an HTTP client.
func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resolved, err := resolveRecordingPath(s.cfg.RecordingsDir, req.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := openRecordingSession(resolved, s.cfg.IndexConfig, s.cache, s.metrics, s.logger)
	if err != nil {
		s.logger.Error().Err(err).Str("path", resolved).Msg("failed to open recording")
		writeError(w, http.StatusInternalServerError, "failed to open recording")
		return
	}
	s.registry.put(sess)

	writeJSON(w, http.StatusCreated, openResponse{ID: sess.id})
}

// resolveRecordingPath joins dir and requested, then rejects the result if
// it isn't contained in dir — a client-supplied path must not be able to
// walk outside the configured recordings directory.
func resolveRecordingPath(dir, requested string) (string, error) {
	if requested == "" {
		return "", errors.New("path must not be empty")
	}
	joined := filepath.Join(dir, requested)
	cleanDir := filepath.Clean(dir)
	if joined != cleanDir && !strings.HasPrefix(joined, cleanDir+string(filepath.Separator)) {
		return "", errors.New("path escapes recordings directory")
	}
	return joined, nil
}

type statusResponse struct {
	Loaded      bool   `json:"loaded"`
	Error       string `json:"error,omitempty"`
	DurationMs  int64  `json:"duration_ms"`
	PositionMs  int64  `json:"position_ms"`
	Playing     bool   `json:"playing"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		DurationMs: sess.engine.GetDuration(),
		PositionMs: sess.engine.GetPosition(),
		Playing:    sess.engine.IsPlaying(),
		Loaded:     true,
	})
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	sess.engine.Play()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	sess.engine.Pause()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	sess.engine.Cancel()
	w.WriteHeader(http.StatusNoContent)
}

type seekRequest struct {
	PositionMs int64 `json:"position_ms"`
}

// handleSeek blocks the HTTP request until the seek completes, since the
// engine's Seek callback is the only signal that the target frame has been
// reached.
func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	var req seekRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	done := make(chan struct{})
	sess.engine.Seek(req.PositionMs, func() { close(done) })

	select {
	case <-done:
	case <-r.Context().Done():
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTunnel(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	if err := sess.attachTunnel(conn); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sess.id).Msg("tunnel attach rejected")
		conn.Close()
		return
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (*recordingSession, bool) {
	id := mux.Vars(r)["id"]
	sess, ok := s.registry.get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no recording session %q", id))
		return nil, false
	}
	return sess, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
