// Package recording indexes a Guacamole protocol byte stream into a
// sequence of frames split on "sync" instructions, flagging opportunistic
// keyframe candidates so that seeking need not always replay from the
// start of the recording.
package recording

// Default tuning constants, matched to spec.md §3. A Config (see indexer.go)
// may override these per Indexer.
const (
	// DefaultBlockSize is the number of bytes read from the byte source per
	// ingest step.
	DefaultBlockSize = 262144

	// DefaultKeyframeCharInterval is the minimum number of bytes that must
	// separate two consecutive keyframe-eligible frames.
	DefaultKeyframeCharInterval = 16384

	// DefaultKeyframeTimeInterval is the minimum number of milliseconds that
	// must separate two consecutive keyframe-eligible frames.
	DefaultKeyframeTimeInterval = 5000
)

// Frame is an indexed unit of a recording, in one-to-one correspondence
// with a "sync" instruction in the stream.
type Frame struct {
	// Timestamp is the millisecond value encoded in the frame's terminating
	// sync instruction. Monotonic non-decreasing across the frame sequence.
	Timestamp int64

	// Start and End are half-open byte offsets [Start, End) within the blob
	// delimiting the instructions that produce this frame, including the
	// terminating sync.
	Start int64
	End   int64

	// Keyframe is an advisory flag set at index time when the frame is
	// eligible to carry a client-state snapshot.
	Keyframe bool

	// ClientState is the opaque display-client snapshot captured the first
	// time this frame is replayed as a keyframe baseline, or nil if none has
	// been captured yet.
	ClientState any
}

// HasClientState reports whether a state snapshot has been captured for
// this frame.
func (f *Frame) HasClientState() bool {
	return f.ClientState != nil
}
