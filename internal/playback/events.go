package playback

import "github.com/glyptodon/glyptodon-enterprise-player/internal/recording"

// Listener receives every lifecycle event the engine's public surface emits
// (spec.md §6): the ingest events forwarded from the underlying
// recording.Indexer, plus the playback-specific events. Per spec.md §9's
// design note, this replaces the original single-listener mutable callback
// slots (onload, onplay, ...) with an injected observer — no ambient,
// reassignable event fields.
//
// All methods are invoked from the engine's dedicated event-dispatch
// goroutine (see queue.go), never from the actor goroutine that owns engine
// state, so implementations are free to call back into the Engine (Seek,
// Cancel, Pause, ...) without deadlocking.
type Listener interface {
	recording.Listener

	// OnPlay fires each time play() actually starts a playback run.
	OnPlay()

	// OnPause fires each time a playback run stops, whether by explicit
	// Pause, reaching end of stream, or a Seek that must suspend playback.
	OnPause()

	// OnSeek fires for each frame advanced during a seek's forward replay.
	// positionMs is the frame's relative timestamp; currentStep and
	// totalSteps describe progress toward the seek's target frame.
	OnSeek(positionMs int64, currentStep, totalSteps int)
}

// NopListener implements Listener with no-op methods.
type NopListener struct {
	recording.NopListener
}

func (NopListener) OnPlay()  {}
func (NopListener) OnPause() {}
func (NopListener) OnSeek(positionMs int64, currentStep, totalSteps int) {}
