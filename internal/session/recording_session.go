package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/glyptodon/glyptodon-enterprise-player/internal/bytesource"
	"github.com/glyptodon/glyptodon-enterprise-player/internal/indexcache"
	"github.com/glyptodon/glyptodon-enterprise-player/internal/metrics"
	"github.com/glyptodon/glyptodon-enterprise-player/internal/playback"
	"github.com/glyptodon/glyptodon-enterprise-player/internal/recording"
)

// recordingSession is one opened recording: its byte source, tunnel, and
// the playback engine driving it. A session is created once, by
// POST /recordings, and torn down when the server shuts down.
type recordingSession struct {
	id     string
	path   string
	source *bytesource.FileSource
	tunnel *wsTunnel
	engine *playback.Engine
	logger zerolog.Logger

	mu       sync.Mutex
	attached bool // true once a browser has attached over the tunnel endpoint
}

// statusListener adapts playback.Listener events into metrics updates and a
// small amount of state useful for status polling.
type statusListener struct {
	playback.NopListener

	metrics *metrics.Registry
	logger  zerolog.Logger

	mu        sync.Mutex
	loaded    bool
	errMsg    string
	prevBytes int64
}

func (l *statusListener) OnLoad() {
	l.mu.Lock()
	l.loaded = true
	l.mu.Unlock()
}

func (l *statusListener) OnError(message string) {
	l.mu.Lock()
	l.errMsg = message
	l.mu.Unlock()
	l.logger.Error().Str("error", message).Msg("recording ingest failed")
}

// OnProgress fires once per indexed frame with a cumulative bytesParsed
// count; the metric it feeds is a counter, so only the delta since the
// last call is added.
func (l *statusListener) OnProgress(durationMs, bytesParsed int64) {
	if l.metrics == nil {
		return
	}
	l.mu.Lock()
	delta := bytesParsed - l.prevBytes
	l.prevBytes = bytesParsed
	l.mu.Unlock()

	if delta > 0 {
		l.metrics.BytesParsedTotal.Add(float64(delta))
	}
	l.metrics.FramesIndexedTotal.Inc()
}

func (l *statusListener) snapshot() (loaded bool, errMsg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded, l.errMsg
}

// registry tracks open recording sessions by ID.
type registry struct {
	mu       sync.Mutex
	sessions map[string]*recordingSession
}

func newRegistry() *registry {
	return &registry{sessions: make(map[string]*recordingSession)}
}

func (r *registry) put(s *recordingSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.id] = s
}

func (r *registry) get(id string) (*recordingSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *registry) closeAll() {
	r.mu.Lock()
	sessions := make([]*recordingSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*recordingSession)
	r.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

func (s *recordingSession) close() {
	s.engine.Close()
	if err := s.source.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("error closing recording byte source")
	}
}

// openRecordingSession opens path as a (possibly still-growing) FileSource,
// wraps it in a frame indexer (optionally backed by an index cache) and a
// playback engine, and registers the result under a freshly minted ID. The
// engine's tunnel has no WebSocket connection yet; attachTunnel binds one
// once a browser opens the recording's tunnel endpoint.
func openRecordingSession(path string, cfg recording.Config, cache *indexcache.Store, m *metrics.Registry, logger zerolog.Logger) (*recordingSession, error) {
	source, err := bytesource.OpenFileSource(path, logger)
	if err != nil {
		return nil, fmt.Errorf("session: open recording %s: %w", path, err)
	}

	id := uuid.NewString()
	sessLogger := logger.With().Str("session_id", id).Str("path", path).Logger()

	if cache != nil {
		if key, err := sampleCacheKey(source); err != nil {
			sessLogger.Warn().Err(err).Msg("failed to sample recording for cache key, skipping cache lookup")
		} else {
			cfg.Cache = cache
			cfg.CacheKey = key
		}
	}

	listener := &statusListener{metrics: m, logger: sessLogger}
	display := newWSDisplayClient()
	tunnel := newWSTunnel(sessLogger)

	engine := playback.NewEngine(source, display, tunnel, cfg, listener, sessLogger)

	if m != nil {
		m.ActiveRecordings.Inc()
	}

	return &recordingSession{
		id:     id,
		path:   path,
		source: source,
		tunnel: tunnel,
		engine: engine,
		logger: sessLogger,
	}, nil
}

// sampleCacheKey reads up to indexcache.SampleSize leading bytes of source
// and combines them with its current size into a cache digest.
func sampleCacheKey(source *bytesource.FileSource) (string, error) {
	end := source.Size()
	if end > indexcache.SampleSize() {
		end = indexcache.SampleSize()
	}
	sample, err := source.Slice(context.Background(), 0, end)
	if err != nil {
		return "", err
	}
	return indexcache.Digest(source.Size(), []byte(sample)), nil
}

// attachTunnel binds an already-upgraded WebSocket connection as this
// session's live tunnel. Only the first caller succeeds; a recording
// replays to exactly one browser at a time, mirroring a single guacd
// connection's tunnel.
func (s *recordingSession) attachTunnel(conn *websocket.Conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attached {
		return fmt.Errorf("session: recording %s already has an attached tunnel", s.id)
	}
	s.attached = true
	s.tunnel.attach(conn)
	go s.tunnel.readLoop()
	return nil
}
