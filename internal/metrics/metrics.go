// Package metrics registers the Prometheus collectors the playback server
// exposes and serves them on their own listener, independent of the
// session server's HTTP surface — matching the teacher's pattern of
// standing up separate listeners for signaling versus health/metrics
// endpoints.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry holds every metric the playback server emits and the HTTP
// server exposing them.
type Registry struct {
	registry *prometheus.Registry
	server   *http.Server
	logger   zerolog.Logger

	BytesParsedTotal    prometheus.Counter
	FramesIndexedTotal  prometheus.Counter
	SeekDurationSeconds prometheus.Histogram
	ActiveRecordings    prometheus.Gauge
	IndexCacheHitsTotal prometheus.Counter
}

// New constructs a Registry with all collectors registered.
func New(logger zerolog.Logger) *Registry {
	reg := prometheus.NewRegistry()

	m := &Registry{
		registry: reg,
		logger:   logger.With().Str("component", "metrics").Logger(),

		BytesParsedTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "playback_bytes_parsed_total",
			Help: "Total bytes consumed from recording byte sources by frame indexers.",
		}),
		FramesIndexedTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "playback_frames_indexed_total",
			Help: "Total frames appended to frame indexes across all recordings.",
		}),
		SeekDurationSeconds: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "playback_seek_duration_seconds",
			Help:    "Wall-clock duration of completed seek operations.",
			Buckets: prometheus.DefBuckets,
		}),
		ActiveRecordings: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "playback_active_recordings",
			Help: "Number of recordings currently open on the session server.",
		}),
		IndexCacheHitsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "playback_index_cache_hits_total",
			Help: "Total frame-index cache hits avoiding a full re-parse.",
		}),
	}

	return m
}

// Serve starts the metrics HTTP listener on addr. It blocks until the
// server stops or ctx is cancelled.
func (m *Registry) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	m.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		m.logger.Info().Str("addr", addr).Msg("metrics listener starting")
		errCh <- m.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return m.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
