package bytesource

import (
	"context"
	"sync"
)

// GrowthAwaiter is an optional capability a Source may implement to let a
// caller block efficiently until more bytes might be available, rather
// than polling Size(). A Source that does not implement it is assumed to
// already hold its final, complete content.
type GrowthAwaiter interface {
	// AwaitGrowth blocks until Size() may have increased, the source is
	// marked final (sealed, no further growth will ever occur), or ctx is
	// cancelled. final reports whether the source is now sealed.
	AwaitGrowth(ctx context.Context) (final bool, err error)
}

// growthSignal is the shared wait/notify primitive used by MemorySource and
// FileSource to implement GrowthAwaiter: a channel that is closed and
// replaced each time the source grows, plus a sticky "sealed" bit set once
// the source is known to have reached its final size.
type growthSignal struct {
	mu     sync.RWMutex
	ch     chan struct{}
	sealed bool
}

func newGrowthSignal() *growthSignal {
	return &growthSignal{ch: make(chan struct{})}
}

func (g *growthSignal) await(ctx context.Context) (bool, error) {
	g.mu.RLock()
	ch := g.ch
	sealed := g.sealed
	g.mu.RUnlock()
	if sealed {
		return true, nil
	}

	select {
	case <-ch:
		g.mu.RLock()
		sealed := g.sealed
		g.mu.RUnlock()
		return sealed, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (g *growthSignal) notify() {
	g.mu.Lock()
	old := g.ch
	g.ch = make(chan struct{})
	g.mu.Unlock()
	close(old)
}

func (g *growthSignal) seal() {
	g.mu.Lock()
	if g.sealed {
		g.mu.Unlock()
		return
	}
	g.sealed = true
	old := g.ch
	g.ch = make(chan struct{})
	g.mu.Unlock()
	close(old)
}
