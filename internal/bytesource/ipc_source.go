package bytesource

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// IPCSourceConfig configures an IPCSource.
type IPCSourceConfig struct {
	SocketPath    string
	StatsInterval time.Duration // zero or negative selects the 5s default
}

// maxChunkLen bounds the length prefix of one pushed chunk. On the wire a
// chunk is a 4-byte big-endian length prefix followed by that many bytes of
// raw recording content. A zero-length chunk is the producer's signal that
// the recording has ended (Seal).
const maxChunkLen = 64 * 1024 * 1024

// IPCSource is a Source fed incrementally over a Unix domain socket rather
// than read from a file already on disk: a guacd instance (or a tee
// process sitting in front of one) streams a live session's raw protocol
// bytes to this player in the same place it would otherwise be writing
// them to a recording file, letting playback begin before the session
// itself has ended.
//
// The accept/reconnect loop, one-client-at-a-time handling, and periodic
// throughput logging follow the capture pipeline's IPC consumer; the wire
// framing is simplified from its [type][length][JSON][payload] messages
// down to a single [length]-prefixed byte chunk, since there's only one
// kind of payload here (recording bytes) and no structured per-chunk
// metadata to carry.
type IPCSource struct {
	socketPath    string
	statsInterval time.Duration
	logger        zerolog.Logger

	listener net.Listener
	conn     net.Conn

	mu        sync.RWMutex
	buf       []byte
	connected bool
	listening bool

	growth *growthSignal

	ctx    context.Context
	cancel context.CancelFunc

	chunkCount    atomic.Uint64
	bytesReceived atomic.Uint64
	lastStatsTime time.Time

	lastChunkCount    uint64
	lastBytesReceived uint64
}

// NewIPCSource constructs an unstarted IPCSource.
func NewIPCSource(cfg IPCSourceConfig, logger zerolog.Logger) *IPCSource {
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = 5 * time.Second
	}
	return &IPCSource{
		socketPath:    cfg.SocketPath,
		statsInterval: cfg.StatsInterval,
		logger:        logger.With().Str("component", "ipc_source").Logger(),
		growth:        newGrowthSignal(),
	}
}

// Start begins listening on the configured Unix socket. Returns
// immediately; bytes accumulate in the background as chunks arrive.
func (s *IPCSource) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.listening {
		s.mu.Unlock()
		return errors.New("bytesource: IPCSource already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("bytesource: remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("bytesource: listen on %s: %w", s.socketPath, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.listening = true
	s.mu.Unlock()

	s.lastStatsTime = time.Now()
	go s.acceptLoop()

	s.logger.Info().Str("socket_path", s.socketPath).Msg("IPC recording source listening")
	return nil
}

// Stop stops listening, disconnects any active producer, and removes the
// socket file.
func (s *IPCSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	var errs []error
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			errs = append(errs, err)
		}
		s.conn = nil
	}
	s.connected = false

	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			errs = append(errs, err)
		}
		s.listener = nil
	}
	s.listening = false

	os.Remove(s.socketPath)

	s.logger.Info().Msg("IPC recording source stopped")
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Size returns the number of bytes accumulated so far.
func (s *IPCSource) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.buf))
}

// Slice returns bytes [start, end) decoded as UTF-8 text.
func (s *IPCSource) Slice(ctx context.Context, start, end int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if start < 0 || end < start || end > int64(len(s.buf)) {
		return "", fmt.Errorf("bytesource: invalid range [%d, %d) over %d buffered bytes", start, end, len(s.buf))
	}
	return string(s.buf[start:end]), nil
}

// AwaitGrowth implements GrowthAwaiter.
func (s *IPCSource) AwaitGrowth(ctx context.Context) (bool, error) {
	return s.growth.await(ctx)
}

// IsConnected reports whether a producer is currently attached.
func (s *IPCSource) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *IPCSource) acceptLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		s.mu.RLock()
		listener := s.listener
		s.mu.RUnlock()
		if listener == nil {
			return
		}

		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				s.logger.Warn().Err(err).Msg("accept error")
				continue
			}
		}

		s.logger.Info().Msg("recording producer connected")

		s.mu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.conn = conn
		s.connected = true
		s.mu.Unlock()

		sealed, err := s.readLoop(conn)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn().Err(err).Msg("read loop error")
		}

		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.connected = false
		s.mu.Unlock()

		if sealed {
			s.growth.seal()
			s.logger.Info().Msg("recording producer signalled end of stream")
			return
		}
		s.logger.Info().Msg("recording producer disconnected, waiting for reconnection")
	}
}

// readLoop reads length-prefixed chunks from conn until it errors, the
// context is cancelled, or a zero-length chunk seals the source.
func (s *IPCSource) readLoop(conn net.Conn) (sealed bool, err error) {
	lenBuf := make([]byte, 4)
	for {
		select {
		case <-s.ctx.Done():
			return false, s.ctx.Err()
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
			return false, err
		}

		if _, err := io.ReadFull(conn, lenBuf); err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				s.logStats()
				continue
			}
			return false, err
		}

		chunkLen := binary.BigEndian.Uint32(lenBuf)
		if chunkLen > maxChunkLen {
			return false, fmt.Errorf("bytesource: chunk too large: %d bytes", chunkLen)
		}
		if chunkLen == 0 {
			return true, nil
		}

		chunk := make([]byte, chunkLen)
		if _, err := io.ReadFull(conn, chunk); err != nil {
			return false, err
		}

		s.append(chunk)
		s.chunkCount.Add(1)
		s.bytesReceived.Add(uint64(len(chunk)))
		s.logStats()
	}
}

func (s *IPCSource) append(chunk []byte) {
	s.mu.Lock()
	s.buf = append(s.buf, chunk...)
	s.mu.Unlock()
	s.growth.notify()
}

func (s *IPCSource) logStats() {
	if s.statsInterval <= 0 {
		return
	}
	now := time.Now()
	if now.Sub(s.lastStatsTime) < s.statsInterval {
		return
	}

	elapsed := now.Sub(s.lastStatsTime).Seconds()
	chunks := s.chunkCount.Load()
	bytes := s.bytesReceived.Load()

	chunksDelta := chunks - s.lastChunkCount
	bytesDelta := bytes - s.lastBytesReceived

	s.logger.Info().
		Float64("chunks_per_sec", float64(chunksDelta)/elapsed).
		Float64("bytes_per_sec", float64(bytesDelta)/elapsed).
		Uint64("total_chunks", chunks).
		Uint64("total_bytes", bytes).
		Msg("IPC recording source statistics")

	s.lastChunkCount = chunks
	s.lastBytesReceived = bytes
	s.lastStatsTime = now
}
