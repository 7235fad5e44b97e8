package playback

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/glyptodon/glyptodon-enterprise-player/internal/bytesource"
	"github.com/glyptodon/glyptodon-enterprise-player/internal/recording"
)

// stallingSource wraps a bytesource.Source and blocks exactly one Slice call
// — the first one made after it is armed — until released, so a test can
// force a replay goroutine to be mid-frame when a superseding seek is
// issued. Only the call that wins the CompareAndSwap stalls; every other
// call, including ones from a later seek's own replay goroutine, passes
// straight through so it isn't serialized behind the stalled one. It is
// inert until armed, so it never stalls the indexer's own ingestion reads.
type stallingSource struct {
	bytesource.Source
	active    atomic.Bool
	triggered atomic.Bool
	started   chan struct{}
	release   chan struct{}
}

func newStallingSource(src bytesource.Source) *stallingSource {
	return &stallingSource{
		Source:  src,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (s *stallingSource) Slice(ctx context.Context, start, end int64) (string, error) {
	if s.active.Load() && s.triggered.CompareAndSwap(false, true) {
		close(s.started)
		<-s.release
	}
	return s.Source.Slice(ctx, start, end)
}

func encodeInstruction(opcode string, args ...string) string {
	elems := append([]string{opcode}, args...)
	var b strings.Builder
	for i, e := range elems {
		fmt.Fprintf(&b, "%d.%s", utf8.RuneCountInString(e), e)
		if i == len(elems)-1 {
			b.WriteString(";")
		} else {
			b.WriteString(",")
		}
	}
	return b.String()
}

func tenFrameBlob() string {
	var b strings.Builder
	for i := 0; i < 10; i++ {
		b.WriteString(encodeInstruction("sync", fmt.Sprintf("%d", i*100)))
	}
	return b.String()
}

type testListener struct {
	mu        sync.Mutex
	loaded    chan struct{}
	loadOnce  sync.Once
	playCount int
	pauseCount int
	seeks     []seekEvent
}

type seekEvent struct {
	positionMs          int64
	currentStep, totalSteps int
}

func newTestListener() *testListener {
	return &testListener{loaded: make(chan struct{})}
}

func (l *testListener) OnLoad() {
	l.loadOnce.Do(func() { close(l.loaded) })
}
func (l *testListener) OnError(string)                {}
func (l *testListener) OnAbort()                       {}
func (l *testListener) OnProgress(int64, int64)        {}

func (l *testListener) OnPlay() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.playCount++
}

func (l *testListener) OnPause() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pauseCount++
}

func (l *testListener) OnSeek(positionMs int64, currentStep, totalSteps int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seeks = append(l.seeks, seekEvent{positionMs, currentStep, totalSteps})
}

func (l *testListener) plays() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.playCount
}

func (l *testListener) pauses() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pauseCount
}

// waitForPlays gives OnPlay deliveries up to a second to reach the listener:
// they run on the engine's event-dispatch goroutine, after the call that
// triggered them has already returned.
func waitForPlays(l *testListener, want int) {
	deadline := time.Now().Add(time.Second)
	for l.plays() < want && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
}

func newTestEngine(t *testing.T, blob string) (*Engine, *testListener) {
	t.Helper()
	src := bytesource.NewMemorySource([]byte(blob))
	listener := newTestListener()
	e := NewEngine(src, NewStubDisplayClient(), NewNullTunnel(), recording.Config{}, listener, zerolog.Nop())
	t.Cleanup(e.Close)

	select {
	case <-listener.loaded:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ingest to finish")
	}
	return e, listener
}

func seekSync(t *testing.T, e *Engine, positionMs int64) {
	t.Helper()
	done := make(chan struct{})
	e.Seek(positionMs, func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for seek to complete")
	}
}

func TestEngineSeekBeforePlay(t *testing.T) {
	e, listener := newTestEngine(t, tenFrameBlob())

	seekSync(t, e, 450)

	pos := e.GetPosition()
	if pos != 400 && pos != 500 {
		t.Fatalf("GetPosition() = %d, want 400 or 500", pos)
	}
	if e.IsPlaying() {
		t.Fatal("IsPlaying() must remain false after a seek issued before any play")
	}

	l := func() []seekEvent {
		listener.mu.Lock()
		defer listener.mu.Unlock()
		return listener.seeks
	}()
	if len(l) == 0 {
		t.Fatal("expected at least one OnSeek event")
	}
	last := l[len(l)-1]
	if last.positionMs != 400 && last.positionMs != 500 {
		t.Fatalf("final OnSeek positionMs = %d, want 400 or 500", last.positionMs)
	}
}

func TestEngineSeekDuringPlayPreservesPlaying(t *testing.T) {
	e, listener := newTestEngine(t, tenFrameBlob())

	e.Play()
	waitForPlays(listener, 1)
	if listener.plays() != 1 {
		t.Fatalf("plays = %d, want 1 after initial Play", listener.plays())
	}

	seekSync(t, e, 500)

	if !e.IsPlaying() {
		t.Fatal("IsPlaying() must be true once the post-seek callback fires")
	}
	waitForPlays(listener, 2)
	if got := listener.plays(); got != 2 {
		t.Fatalf("plays = %d, want 2 (initial + post-seek resume)", got)
	}
}

func TestEnginePlayPauseParity(t *testing.T) {
	e, _ := newTestEngine(t, tenFrameBlob())

	seekSync(t, e, 0)
	posBefore := e.GetPosition()

	e.Play()
	time.Sleep(20 * time.Millisecond)
	e.Pause()

	if e.IsPlaying() {
		t.Fatal("IsPlaying() must be false immediately after Pause")
	}
	if e.GetPosition() < posBefore {
		t.Fatalf("GetPosition() went backward: %d < %d", e.GetPosition(), posBefore)
	}
}

func TestEngineCancelDuringSeekInvokesCallbackOnce(t *testing.T) {
	e, _ := newTestEngine(t, tenFrameBlob())

	var calls int
	var mu sync.Mutex
	done := make(chan struct{}, 1)
	e.Seek(900, func() {
		mu.Lock()
		calls++
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	})

	e.Cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the seek callback")
	}

	// Allow any straggling completion from the original seek goroutine to
	// land before asserting the final count.
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("seek callback invoked %d times, want exactly 1", calls)
	}
	if e.IsPlaying() {
		t.Fatal("IsPlaying() must be false after Cancel")
	}
}

// TestEngineSupersededSeekDropsStaleInstructions guards the suspension-point
// contract in replayFrame: a seek that gets superseded mid-replay must stop
// dispatching instructions as soon as its token is observed aborted, so the
// tunnel/display only ever sees the winning seek's output (spec.md §5).
//
// It first seeks to frame 8 normally, so frame 0 (the blob's only keyframe)
// has a cached ClientState and establishBaseline resolves straight to the
// current frame without replaying anything. It then seeks to frame 9 (one
// step forward, the only frame left to replay) and arms the stall so that
// single Slice call blocks. While it's blocked, a third seek back to frame 8
// supersedes it — and since frame 8 is already current, the winning seek
// replays nothing at all. Releasing the stall afterward must not let the
// superseded seek's frame 9 instruction land; if it does, it can only have
// come from the aborted goroutine ignoring its suspension-point contract.
func TestEngineSupersededSeekDropsStaleInstructions(t *testing.T) {
	stalling := newStallingSource(bytesource.NewMemorySource([]byte(tenFrameBlob())))
	display := NewStubDisplayClient()
	listener := newTestListener()
	e := NewEngine(stalling, display, NewNullTunnel(), recording.Config{}, listener, zerolog.Nop())
	t.Cleanup(e.Close)

	select {
	case <-listener.loaded:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ingest to finish")
	}

	seekSync(t, e, 800)
	if pos := e.GetPosition(); pos != 800 {
		t.Fatalf("GetPosition() = %d after priming seek, want 800", pos)
	}

	stalling.active.Store(true)
	e.Seek(900, func() {})

	select {
	case <-stalling.started:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the superseded seek to reach its stalled slice")
	}

	// The superseded seek is now blocked inside replayFrame's Slice call for
	// frame 9, having dispatched nothing yet. Supersede it with a seek back
	// to the already-current frame 8, which needs no replay at all, before
	// releasing the stall.
	seekSync(t, e, 800)
	close(stalling.release)

	// Give the aborted goroutine a further chance to misbehave before
	// asserting.
	time.Sleep(50 * time.Millisecond)

	for _, instr := range display.Instructions() {
		if instr.Opcode != "sync" {
			continue
		}
		if len(instr.Args) == 1 && instr.Args[0] == "900" {
			t.Fatalf("observed frame 9's instruction %+v from the superseded seek; the winning seek to frame 8 never replays frame 9", instr)
		}
	}
}

func TestEngineEmptyRecordingDegradesGracefully(t *testing.T) {
	e, _ := newTestEngine(t, "")

	if e.GetDuration() != 0 {
		t.Fatalf("GetDuration() = %d, want 0 for an empty recording", e.GetDuration())
	}
	if e.GetPosition() != 0 {
		t.Fatalf("GetPosition() = %d, want 0", e.GetPosition())
	}

	e.Play()
	if e.IsPlaying() {
		t.Fatal("Play() on an empty recording must be a no-op")
	}

	done := make(chan struct{})
	e.Seek(100, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Seek callback must still fire on an empty recording")
	}
}
