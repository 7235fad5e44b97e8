package recording

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/glyptodon/glyptodon-enterprise-player/internal/bytesource"
	"github.com/glyptodon/glyptodon-enterprise-player/internal/protocol"
)

// CacheStore is an optional persistent frame-table cache an Indexer
// consults before ingesting a source from scratch (SPEC_FULL.md §6.3).
// internal/indexcache.Store implements this; it is expressed as an
// interface here, rather than imported directly, so that package recording
// itself stays free of the cache's storage and hashing dependencies — the
// caller constructing an Indexer is the one that knows how to compute
// CacheKey and owns the Store's lifecycle.
type CacheStore interface {
	Get(ctx context.Context, digest string, currentSize int64) ([]Frame, bool, error)
	Put(ctx context.Context, digest string, blobSize int64, frames []Frame) error
}

// Config tunes an Indexer's block size and keyframe thresholds. A zero
// value Config is replaced field-by-field with the package defaults.
type Config struct {
	BlockSize            int
	KeyframeCharInterval int64
	KeyframeTimeInterval int64

	// Cache and CacheKey, if both set, let the Indexer skip a full re-parse
	// of a previously-seen blob. CacheKey is typically a content digest
	// computed by the caller (e.g. indexcache.Digest).
	Cache    CacheStore
	CacheKey string
}

func (c Config) withDefaults() Config {
	if c.BlockSize <= 0 {
		c.BlockSize = DefaultBlockSize
	}
	if c.KeyframeCharInterval <= 0 {
		c.KeyframeCharInterval = DefaultKeyframeCharInterval
	}
	if c.KeyframeTimeInterval <= 0 {
		c.KeyframeTimeInterval = DefaultKeyframeTimeInterval
	}
	return c
}

// Index holds the frame table built by an Indexer. It is safe for
// concurrent reads from replay while ingest appends to it; ingest only ever
// appends, never mutates or removes existing frames (except to attach a
// ClientState snapshot to one already present, which playback does itself).
type Index struct {
	mu     sync.RWMutex
	frames []Frame
}

// Len returns the number of frames currently indexed.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.frames)
}

// At returns a copy of the frame at i.
func (ix *Index) At(i int) Frame {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.frames[i]
}

// Snapshot returns a copy of the full frame slice as currently indexed.
func (ix *Index) Snapshot() []Frame {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]Frame, len(ix.frames))
	copy(out, ix.frames)
	return out
}

// SetClientState attaches a snapshot to frame i. Safe for concurrent use.
func (ix *Index) SetClientState(i int, state any) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.frames[i].ClientState = state
}

func (ix *Index) append(f Frame) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.frames = append(ix.frames, f)
}

func (ix *Index) seed(frames []Frame) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.frames = frames
}

// Indexer walks a byte source in fixed-size blocks, feeding them through the
// instruction parser, splitting the stream into Frames on "sync"
// instructions, and flagging opportunistic keyframe candidates. It runs
// once, in the background, starting at construction (spec.md §4.3).
type Indexer struct {
	source   bytesource.Source
	listener Listener
	cfg      Config
	logger   zerolog.Logger

	index *Index

	aborted  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once

	framesIndexed atomic.Int64
	bytesParsed   atomic.Int64
}

// NewIndexer constructs an Indexer over source and starts ingest in a new
// goroutine. listener receives lifecycle notifications; a nil listener is
// replaced with NopListener.
func NewIndexer(source bytesource.Source, listener Listener, cfg Config, logger zerolog.Logger) *Indexer {
	if listener == nil {
		listener = NopListener{}
	}
	ix := &Indexer{
		source:   source,
		listener: listener,
		cfg:      cfg.withDefaults(),
		logger:   logger.With().Str("component", "indexer").Logger(),
		index:    &Index{},
		stop:     make(chan struct{}),
	}

	if ix.seedFromCache(context.Background()) {
		ix.listener.OnLoad()
		return ix
	}

	go ix.run(context.Background())
	return ix
}

// seedFromCache asks cfg.Cache for a previously-computed frame table and,
// if present and still valid against the source's current size, seeds the
// index from it so ingest can be skipped entirely. Returns true on a valid
// hit.
func (ix *Indexer) seedFromCache(ctx context.Context) bool {
	if ix.cfg.Cache == nil || ix.cfg.CacheKey == "" {
		return false
	}

	size := ix.source.Size()
	frames, ok, err := ix.cfg.Cache.Get(ctx, ix.cfg.CacheKey, size)
	if err != nil {
		ix.logger.Warn().Err(err).Msg("index cache lookup failed, falling back to full ingest")
		return false
	}
	if !ok {
		return false
	}

	ix.index.seed(frames)
	ix.framesIndexed.Store(int64(len(frames)))
	ix.bytesParsed.Store(size)
	ix.logger.Debug().Str("cache_key", ix.cfg.CacheKey).Int("frames", len(frames)).Msg("seeded frame index from cache")
	return true
}

// Index returns the frame table being built. It may be read concurrently
// with ongoing ingest.
func (ix *Indexer) Index() *Index {
	return ix.index
}

// Abort latches a stop request. Any chunk handler in flight observes it at
// its next suspension point and returns without further reads. Already
// indexed frames remain usable. Abort does not affect replay.
func (ix *Indexer) Abort() {
	ix.aborted.Store(true)
	ix.stopOnce.Do(func() { close(ix.stop) })
}

// populateCache stores the just-completed frame table so a future Indexer
// over the same content can call seedFromCache instead of re-parsing.
func (ix *Indexer) populateCache(ctx context.Context, size int64) {
	if ix.cfg.Cache == nil || ix.cfg.CacheKey == "" {
		return
	}
	if err := ix.cfg.Cache.Put(ctx, ix.cfg.CacheKey, size, ix.index.Snapshot()); err != nil {
		ix.logger.Warn().Err(err).Msg("failed to persist frame index to cache")
	}
}

func (ix *Indexer) run(ctx context.Context) {
	parser := protocol.NewParser()

	var frameStart int64
	var frameEnd int64
	var lastKeyframeIdx = -1

	blockSize := int64(ix.cfg.BlockSize)

	for {
		if ix.aborted.Load() {
			ix.listener.OnAbort()
			return
		}

		size := ix.source.Size()
		if frameEnd >= size {
			final, err := ix.awaitMore(ctx, size)
			if err != nil {
				if ix.aborted.Load() {
					ix.listener.OnAbort()
				} else {
					ix.listener.OnError(err.Error())
				}
				return
			}
			if final {
				ix.populateCache(ctx, size)
				ix.listener.OnLoad()
				return
			}
			// More bytes landed; loop back around to re-observe Size().
			continue
		}

		end := frameEnd + blockSize
		if end > size {
			end = size
		}

		chunk, err := ix.source.Slice(ctx, frameEnd, end)
		if err != nil {
			ix.listener.OnError(err.Error())
			return
		}

		if ix.aborted.Load() {
			ix.listener.OnAbort()
			return
		}

		// Feed returns the instructions decoded before a grammar error, so
		// those are indexed before the error is reported.
		instructions, feedErr := parser.Feed(chunk)

		for _, instr := range instructions {
			size := protocol.ElementSize(instr.Opcode)
			for _, arg := range instr.Args {
				size += protocol.ElementSize(arg)
			}
			frameEnd += int64(size)

			if instr.Opcode != "sync" {
				continue
			}

			ts, tsErr := parseTimestamp(instr.Args)
			if tsErr != nil {
				ix.listener.OnError(tsErr.Error())
				return
			}

			frame := Frame{
				Timestamp: ts,
				Start:     frameStart,
				End:       frameEnd,
			}

			idx := ix.framesIndexed.Load()
			if idx == 0 {
				frame.Keyframe = true
			} else {
				last := ix.index.At(lastKeyframeIdx)
				if frame.End-last.Start >= ix.cfg.KeyframeCharInterval &&
					frame.Timestamp-last.Timestamp >= ix.cfg.KeyframeTimeInterval {
					frame.Keyframe = true
				}
			}

			ix.index.append(frame)
			if frame.Keyframe {
				lastKeyframeIdx = int(idx)
			}
			ix.framesIndexed.Add(1)
			ix.bytesParsed.Store(frameEnd)

			frameStart = frameEnd

			ix.listener.OnProgress(relativeTimestamp(ix.index, int(idx)), frameEnd)
		}

		if feedErr != nil {
			ix.listener.OnError(feedErr.Error())
			return
		}
	}
}

// awaitMore blocks until the source has grown past observedSize, is sealed
// with no further growth coming (final=true), or the indexer is aborted. A
// source that doesn't implement bytesource.GrowthAwaiter is treated as
// already holding its final content: catching up to it means ingest is
// done.
func (ix *Indexer) awaitMore(ctx context.Context, observedSize int64) (final bool, err error) {
	awaiter, ok := ix.source.(bytesource.GrowthAwaiter)
	if !ok {
		return true, nil
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-ix.stop:
			cancel()
		case <-waitCtx.Done():
		}
	}()

	sealed, err := awaiter.AwaitGrowth(waitCtx)
	if err != nil {
		if ix.aborted.Load() {
			return false, nil
		}
		return false, err
	}
	if sealed && ix.source.Size() == observedSize {
		return true, nil
	}
	return false, nil
}

func relativeTimestamp(index *Index, i int) int64 {
	if index.Len() == 0 {
		return 0
	}
	return index.At(i).Timestamp - index.At(0).Timestamp
}

func parseTimestamp(args []string) (int64, error) {
	if len(args) != 1 {
		return 0, newIndexError("sync instruction must have exactly one argument, got %d", len(args))
	}
	return parseInt64(args[0])
}
