package recording

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/glyptodon/glyptodon-enterprise-player/internal/bytesource"
)

type capturingListener struct {
	NopListener
	loaded   chan struct{}
	errored  chan string
	progress []int64
}

func newCapturingListener() *capturingListener {
	return &capturingListener{
		loaded:  make(chan struct{}),
		errored: make(chan string, 1),
	}
}

func (l *capturingListener) OnLoad() { close(l.loaded) }

func (l *capturingListener) OnError(message string) {
	l.errored <- message
}

func (l *capturingListener) OnProgress(durationMs, bytesParsed int64) {
	l.progress = append(l.progress, bytesParsed)
}

func waitLoaded(t *testing.T, l *capturingListener) {
	t.Helper()
	select {
	case <-l.loaded:
	case msg := <-l.errored:
		t.Fatalf("unexpected OnError before OnLoad: %s", msg)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnLoad")
	}
}

func TestIndexerSingleSyncLoad(t *testing.T) {
	src := bytesource.NewMemorySource([]byte("4.sync,4.1000;"))
	listener := newCapturingListener()
	ix := NewIndexer(src, listener, Config{}, zerolog.Nop())

	waitLoaded(t, listener)

	if got := ix.Index().Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
	f := ix.Index().At(0)
	if f.Timestamp != 1000 || f.Start != 0 || f.End != 14 || !f.Keyframe {
		t.Fatalf("frame 0 = %+v, want {1000 0 14 true}", f)
	}
}

func TestIndexerTwoFramesDuration(t *testing.T) {
	blob := "4.sync,1.0;4.sync,4.2500;"
	src := bytesource.NewMemorySource([]byte(blob))
	listener := newCapturingListener()
	ix := NewIndexer(src, listener, Config{}, zerolog.Nop())

	waitLoaded(t, listener)

	if got := ix.Index().Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
	f0, f1 := ix.Index().At(0), ix.Index().At(1)
	if !f0.Keyframe {
		t.Fatal("frame 0 must be keyframe-eligible")
	}
	if f1.Keyframe {
		t.Fatal("frame 1 should not be keyframe-eligible: thresholds not met")
	}
	duration := f1.Timestamp - f0.Timestamp
	if duration != 2500 {
		t.Fatalf("duration = %d, want 2500", duration)
	}
}

func TestIndexerKeyframeSpacing(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 100; i++ {
		ts := i * 100
		writeSync(&b, ts)
	}
	// One more frame at 5100ms, preceded by 16400 bytes of padding so the
	// byte-interval threshold is also satisfied.
	b.WriteString(payloadInstruction(16400))
	writeSync(&b, 5100)

	src := bytesource.NewMemorySource([]byte(b.String()))
	listener := newCapturingListener()
	ix := NewIndexer(src, listener, Config{}, zerolog.Nop())

	waitLoaded(t, listener)

	index := ix.Index()
	keyframes := 0
	for i := 0; i < index.Len(); i++ {
		if index.At(i).Keyframe {
			keyframes++
		}
	}
	if keyframes != 2 {
		t.Fatalf("keyframe count = %d, want 2 (frame 0 and the padded frame)", keyframes)
	}
	last := index.At(index.Len() - 1)
	if !last.Keyframe {
		t.Fatal("the padded 5100ms frame must be flagged keyframe-eligible")
	}
}

func TestIndexerParseFailureMidStream(t *testing.T) {
	src := bytesource.NewMemorySource([]byte("4.sync,1.0;bogus"))
	listener := newCapturingListener()
	ix := NewIndexer(src, listener, Config{}, zerolog.Nop())

	select {
	case msg := <-listener.errored:
		if msg == "" {
			t.Fatal("OnError message must be non-empty")
		}
	case <-listener.loaded:
		t.Fatal("OnLoad must not fire after a parse failure")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnError")
	}

	if got := ix.Index().Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1 (the frame parsed before the failure)", got)
	}
}

func writeSync(b *strings.Builder, ts int) {
	digits := itoa(ts)
	b.WriteString("4.sync,")
	b.WriteString(itoa(len(digits)))
	b.WriteString(".")
	b.WriteString(digits)
	b.WriteString(";")
}

// payloadInstruction returns a single no-op instruction whose encoded size
// is exactly n bytes of padding ahead of the sync that follows it, using an
// opcode of filler characters since the indexer forwards unknown opcodes
// without interpreting them.
func payloadInstruction(n int) string {
	// ElementSize(opcode) with no args = digits(L)+1+L+1. Pick L so total
	// instruction size (opcode element + trailing ';') lands at n.
	// Reserve 1 byte for the instruction-terminating ';' picked up by the
	// element itself (elements already include their own separator), so
	// solve digits(L)+1+L+1 == n.
	l := n - 3
	for len(itoa(l))+1+l+1 != n {
		l--
	}
	return itoa(l) + "." + strings.Repeat("x", l) + ";"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		return "-" + string(digits)
	}
	return string(digits)
}
