package playback

import "sync/atomic"

// seekToken is a per-seek cancellation sentinel (spec.md §3 "Seek token").
// seekToFrame allocates a new one and aborts whatever token it supersedes;
// the replay loop driven by continueReplay observes its own token at every
// suspension point and stops silently, without invoking its callback, once
// a newer seek, a pause, or an explicit cancel marks it aborted.
type seekToken struct {
	aborted atomic.Bool
}

func newSeekToken() *seekToken {
	return &seekToken{}
}

func (t *seekToken) abort() {
	t.aborted.Store(true)
}

func (t *seekToken) isAborted() bool {
	return t.aborted.Load()
}
