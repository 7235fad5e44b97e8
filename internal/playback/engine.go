// Package playback implements the session-recording playback engine: given
// a byte source and a frame index built by internal/recording, it maintains
// current-frame state, dispatches instructions to a display client through
// a tunnel, and schedules real-time frame advance during playback (spec.md
// §4.4).
//
// Concurrency model: a single actor goroutine owns all engine state
// (currentFrame, play clocks, the active seek token). Every public method
// sends a closure over an unbuffered channel and blocks for its reply, so
// "single-threaded cooperative" (spec.md §5) is enforced by construction.
// Listener callbacks run on a second, dedicated goroutine reading off an
// unbounded queue (queue.go) so that a callback re-entering the engine (an
// onseek handler calling Seek, say) can never deadlock against the actor
// it was dispatched from.
package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/glyptodon/glyptodon-enterprise-player/internal/bytesource"
	"github.com/glyptodon/glyptodon-enterprise-player/internal/protocol"
	"github.com/glyptodon/glyptodon-enterprise-player/internal/recording"
)

// engineState is owned exclusively by the actor goroutine; every field here
// is touched only from within a closure submitted through Engine.do.
type engineState struct {
	currentFrame int64 // -1 means nothing has been rendered yet.

	playing             bool
	startVideoTimestamp int64
	startRealTimestamp  time.Time

	// epoch increments on every play start/stop. A scheduled continuation
	// captures the epoch at schedule time and discards itself if the epoch
	// has moved on by the time it runs, so a stale timer from a playback
	// run that was since paused can't resurrect it.
	epoch int64

	activeSeek   *seekToken
	seekCallback func()
}

// Engine is the playback engine for a single recording (spec.md §3
// "Recording" folds the byte source, frame table, engine state, and event
// callbacks into one object; here the frame table and ingest lifecycle live
// in the embedded *recording.Indexer).
type Engine struct {
	source  bytesource.Source
	display DisplayClient
	tunnel  Tunnel

	listener Listener
	logger   zerolog.Logger

	indexer *recording.Indexer

	actions chan func()
	events  *eventQueue
	stop    chan struct{}
	stopOnce sync.Once

	st engineState
}

// NewEngine constructs the engine, connects display to tunnel, and starts
// background ingest over source immediately (spec.md §4.3: the indexer
// begins on construction). listener receives lifecycle events; a nil
// listener is replaced with NopListener.
func NewEngine(source bytesource.Source, display DisplayClient, tunnel Tunnel, cfg recording.Config, listener Listener, logger zerolog.Logger) *Engine {
	if listener == nil {
		listener = NopListener{}
	}
	logger = logger.With().Str("component", "playback_engine").Logger()

	e := &Engine{
		source:   source,
		display:  display,
		tunnel:   tunnel,
		listener: listener,
		logger:   logger,
		actions:  make(chan func()),
		events:   newEventQueue(),
		stop:     make(chan struct{}),
	}
	e.st.currentFrame = -1

	display.Connect(tunnel)

	go e.runActor()
	go e.events.run()

	e.indexer = recording.NewIndexer(source, &indexerBridge{e: e}, cfg, logger)
	return e
}

// Close stops the actor and event-dispatch goroutines and aborts ingest if
// still running. The engine must not be used afterward.
func (e *Engine) Close() {
	e.stopOnce.Do(func() {
		e.indexer.Abort()
		close(e.stop)
		e.events.close()
	})
}

func (e *Engine) runActor() {
	for {
		select {
		case fn := <-e.actions:
			fn()
		case <-e.stop:
			return
		}
	}
}

// do submits fn to the actor and blocks until it has run.
func (e *Engine) do(fn func()) {
	done := make(chan struct{})
	select {
	case e.actions <- func() { fn(); close(done) }:
		<-done
	case <-e.stop:
	}
}

func (e *Engine) emit(fn func()) {
	e.events.push(fn)
}

// indexerBridge forwards recording.Listener events to the engine's own
// Listener via the event queue, keeping the ordering guarantee (onprogress
// in increasing bytesParsed order) that comes from single-consumer FIFO
// delivery.
type indexerBridge struct {
	e *Engine
}

func (b *indexerBridge) OnLoad() {
	b.e.emit(func() { b.e.listener.OnLoad() })
}

func (b *indexerBridge) OnError(message string) {
	b.e.emit(func() { b.e.listener.OnError(message) })
}

func (b *indexerBridge) OnAbort() {
	b.e.emit(func() { b.e.listener.OnAbort() })
}

func (b *indexerBridge) OnProgress(durationMs, bytesParsed int64) {
	b.e.emit(func() { b.e.listener.OnProgress(durationMs, bytesParsed) })
}

// Play starts (or resumes) playback from the frame after currentFrame, if
// one exists and playback isn't already running. No-op otherwise (spec.md
// §4.4).
func (e *Engine) Play() {
	e.do(e.play)
}

// Pause stops any active playback run and aborts any in-flight seek.
// Idempotent.
func (e *Engine) Pause() {
	e.do(e.pause)
}

// Cancel terminates an outstanding user-initiated Seek, invoking its
// callback synchronously (spec.md §4.4). No-op if no seek is outstanding.
func (e *Engine) Cancel() {
	e.do(e.cancel)
}

// Abort stops background ingest (spec.md §4.3). It does not affect replay
// or any in-flight seek.
func (e *Engine) Abort() {
	e.indexer.Abort()
}

// Seek moves playback to positionMs, replaying from the nearest available
// keyframe baseline. cb, if non-nil, is invoked once the target frame has
// been reached (or the seek was cancelled out from under it).
func (e *Engine) Seek(positionMs int64, cb func()) {
	e.do(func() { e.seek(positionMs, cb) })
}

// GetPosition returns the current frame's timestamp relative to frame 0, or
// 0 if nothing has been rendered yet.
func (e *Engine) GetPosition() int64 {
	var pos int64
	e.do(func() { pos = e.getPosition() })
	return pos
}

// GetDuration returns the last-indexed frame's timestamp relative to frame
// 0. Grows monotonically as ingest proceeds.
func (e *Engine) GetDuration() int64 {
	var dur int64
	e.do(func() { dur = e.getDuration() })
	return dur
}

// IsPlaying reports whether a playback run is currently active.
func (e *Engine) IsPlaying() bool {
	var playing bool
	e.do(func() { playing = e.st.playing })
	return playing
}

// GetDisplay returns the display client's host-specific display handle.
func (e *Engine) GetDisplay() any {
	return e.display.GetDisplay()
}

// --- actor-only internals below: every function here must run inside a
// closure submitted through e.do, never called directly from a public
// method or another goroutine. ---

func (e *Engine) getPosition() int64 {
	index := e.indexer.Index()
	if e.st.currentFrame < 0 || index.Len() == 0 {
		return 0
	}
	return index.At(int(e.st.currentFrame)).Timestamp - index.At(0).Timestamp
}

func (e *Engine) getDuration() int64 {
	index := e.indexer.Index()
	n := index.Len()
	if n == 0 {
		return 0
	}
	return index.At(n-1).Timestamp - index.At(0).Timestamp
}

func (e *Engine) play() {
	if e.st.playing {
		return
	}
	index := e.indexer.Index()
	if int(e.st.currentFrame)+1 >= index.Len() {
		return
	}

	e.st.epoch++
	e.emit(func() { e.listener.OnPlay() })

	next := index.At(int(e.st.currentFrame) + 1)
	e.st.playing = true
	e.st.startVideoTimestamp = next.Timestamp
	e.st.startRealTimestamp = time.Now()

	e.scheduleContinue(int(e.st.currentFrame)+1, 0)
}

func (e *Engine) pause() {
	if e.st.activeSeek != nil {
		e.st.activeSeek.abort()
		e.st.activeSeek = nil
	}
	if !e.st.playing {
		return
	}
	e.st.playing = false
	e.st.epoch++
	e.emit(func() { e.listener.OnPause() })
}

func (e *Engine) cancel() {
	if e.st.seekCallback == nil {
		return
	}
	if e.st.activeSeek != nil {
		e.st.activeSeek.abort()
		e.st.activeSeek = nil
	}
	cb := e.st.seekCallback
	e.st.seekCallback = nil
	cb()
}

func (e *Engine) seek(positionMs int64, cb func()) {
	index := e.indexer.Index()
	if index.Len() == 0 {
		if cb != nil {
			cb()
		}
		return
	}

	e.cancel()

	wasPlaying := e.st.playing
	e.pause()

	target := e.findFrame(positionMs)

	e.st.seekCallback = func() {
		e.st.seekCallback = nil
		if wasPlaying {
			e.play()
		}
		if cb != nil {
			cb()
		}
	}

	e.seekToFrame(target, e.invokeSeekCallback)
}

func (e *Engine) invokeSeekCallback() {
	if e.st.seekCallback != nil {
		cb := e.st.seekCallback
		cb()
	}
}

func (e *Engine) continuePlayback() {
	index := e.indexer.Index()
	if int(e.st.currentFrame)+1 < index.Len() {
		next := index.At(int(e.st.currentFrame) + 1)
		nextReal := e.st.startRealTimestamp.Add(
			time.Duration(next.Timestamp-e.st.startVideoTimestamp) * time.Millisecond)
		delay := time.Until(nextReal)
		if delay < 0 {
			delay = 0
		}
		e.scheduleContinue(int(e.st.currentFrame)+1, delay)
	} else {
		e.pause()
	}
}

// scheduleContinue arranges for seekToFrame(target, continuePlayback) to
// run after delay, unless the play run that requested it has since ended
// (epoch mismatch). Always dispatches through a fresh goroutine rather than
// calling e.do synchronously here, since the caller is itself running
// inside the actor.
func (e *Engine) scheduleContinue(target int, delay time.Duration) {
	epoch := e.st.epoch
	fire := func() {
		e.do(func() {
			if epoch != e.st.epoch {
				return
			}
			e.seekToFrame(target, e.continuePlayback)
		})
	}
	if delay <= 0 {
		go fire()
		return
	}
	time.AfterFunc(delay, fire)
}

// seekToFrame establishes a baseline for target and kicks off the forward
// replay loop in the background, so that I/O-bound replay steps (byte
// source slices, display exportState) don't hold the actor for their
// duration — other commands (a newer Seek, Pause, Cancel) can still run
// between frames.
func (e *Engine) seekToFrame(target int, callback func()) {
	if e.st.activeSeek != nil {
		e.st.activeSeek.abort()
	}
	token := newSeekToken()
	e.st.activeSeek = token

	startIndex := e.establishBaseline(target)
	go e.continueReplay(token, startIndex, target, callback)
}

// establishBaseline walks backward from target looking for a frame whose
// state is already known, per spec.md §4.4. The documented fix for the
// source's keyframe-jump bug (spec.md §9 Open Questions) sets currentFrame
// to the matched index itself, not target, so the forward loop below
// replays frame by frame from there up to target.
func (e *Engine) establishBaseline(target int) int {
	index := e.indexer.Index()

	for i := target; i >= 0; i-- {
		if i == int(e.st.currentFrame) {
			return i
		}
		f := index.At(i)
		if f.HasClientState() {
			if err := e.display.ImportState(f.ClientState); err != nil {
				e.emit(func() { e.listener.OnError(err.Error()) })
			}
			e.st.currentFrame = int64(i)
			return i
		}
	}

	// No cached state anywhere at or below target: the display has nothing
	// usable to restore from, so treat it as freshly connected and let the
	// forward loop replay from frame 0.
	e.st.currentFrame = -1
	return 0
}

func (e *Engine) continueReplay(token *seekToken, startIndex, target int, callback func()) {
	for {
		var stop, replay bool
		var replayIdx int

		e.do(func() {
			if token.isAborted() {
				stop = true
				return
			}

			cur := int(e.st.currentFrame)
			if cur > startIndex {
				index := e.indexer.Index()
				step, total := cur-startIndex, target-startIndex
				pos := relativeTimestamp(index, cur)
				e.emit(func() { e.listener.OnSeek(pos, step, total) })
			}

			if token.isAborted() {
				stop = true
				return
			}

			if cur < target {
				replay = true
				replayIdx = cur + 1
				return
			}
		})

		if stop {
			return
		}
		if !replay {
			e.do(func() {
				if !token.isAborted() {
					callback()
				}
			})
			return
		}

		if err := e.replayFrame(token, replayIdx); err != nil {
			e.emit(func() { e.listener.OnError(err.Error()) })
			return
		}
	}
}

// replayFrame performs the I/O-bound work of replaying a single frame
// (slice, parse, dispatch, optional state export) without holding the
// actor, then commits the new currentFrame through it.
func (e *Engine) replayFrame(token *seekToken, idx int) error {
	index := e.indexer.Index()
	frame := index.At(idx)

	chunk, err := e.source.Slice(context.Background(), frame.Start, frame.End)
	if err != nil {
		return fmt.Errorf("playback: slice frame %d: %w", idx, err)
	}
	if token.isAborted() {
		return nil
	}

	parser := protocol.NewParser()
	instructions, err := parser.Feed(chunk)
	if err != nil {
		return fmt.Errorf("playback: parse frame %d: %w", idx, err)
	}
	for _, instr := range instructions {
		e.tunnel.ReceiveInstruction(instr.Opcode, instr.Args)
	}

	if frame.Keyframe && !frame.HasClientState() {
		if token.isAborted() {
			return nil
		}
		state, err := e.display.ExportState(context.Background())
		if err != nil {
			return fmt.Errorf("playback: export state at frame %d: %w", idx, err)
		}
		index.SetClientState(idx, state)
	}

	e.do(func() {
		if token.isAborted() {
			return
		}
		e.st.currentFrame = int64(idx)
	})
	return nil
}

// findFrame locates the frame nearest positionMs by binary search over the
// currently indexed frames; when two neighbouring frames are equally near,
// the lower index wins (spec.md §4.4).
func (e *Engine) findFrame(positionMs int64) int {
	index := e.indexer.Index()
	n := index.Len()
	if n == 0 {
		return 0
	}

	target := index.At(0).Timestamp + positionMs

	min, max := 0, n-1
	for min < max {
		mid := (min + max) / 2
		ts := index.At(mid).Timestamp
		switch {
		case ts == target:
			return mid
		case ts < target:
			min = mid + 1
		default:
			max = mid
		}
	}
	// min is now the first frame at or after target (or the last frame); the
	// frame before it may be nearer.
	if min > 0 && target-index.At(min-1).Timestamp <= index.At(min).Timestamp-target {
		return min - 1
	}
	return min
}

func relativeTimestamp(index *recording.Index, i int) int64 {
	if index.Len() == 0 {
		return 0
	}
	return index.At(i).Timestamp - index.At(0).Timestamp
}
