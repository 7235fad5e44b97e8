package recording

// Listener receives ingest lifecycle notifications from an Indexer. Per
// spec.md §9's design note, these replace the source's single mutable
// callback fields with an injected observer so that ingest never holds
// ambient, reassignable state.
//
// Methods are invoked from the Indexer's own ingest goroutine (except on an
// index-cache hit, where NewIndexer itself calls OnLoad before returning), in the
// ordering guarantees spec.md §5 requires (onprogress in increasing
// bytesParsed order; at most one of OnLoad/OnError/OnAbort, exactly once).
// Implementations that re-enter the Indexer (none of its methods currently
// support this) must not block.
type Listener interface {
	// OnLoad fires once, after the entire byte source has been consumed
	// without error and without abort.
	OnLoad()

	// OnError fires once, when the parser rejects the stream. No further
	// progress is made after this fires; frames indexed so far remain
	// valid.
	OnError(message string)

	// OnAbort fires once, when Abort was called and the ingest loop
	// observed it. Frames indexed so far remain valid.
	OnAbort()

	// OnProgress fires after each frame is appended to the index.
	// durationMs is the frame's timestamp relative to frame 0;
	// bytesParsed is the number of bytes consumed from the source so far.
	OnProgress(durationMs int64, bytesParsed int64)
}

// NopListener implements Listener with no-op methods, useful as an
// embeddable default or for tests that don't care about ingest events.
type NopListener struct{}

func (NopListener) OnLoad()                               {}
func (NopListener) OnError(message string)                {}
func (NopListener) OnAbort()                               {}
func (NopListener) OnProgress(durationMs, bytesParsed int64) {}
