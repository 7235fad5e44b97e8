package bytesource

import (
	"context"
	"fmt"
	"sync"
)

// MemorySource is a Source backed by an in-memory buffer. It supports
// Append so an external fetcher (or the session server, receiving a
// recording over HTTP) can hand over bytes incrementally while ingest
// proceeds concurrently. Seal marks the buffer complete; until sealed, the
// source is treated as still-growing (see GrowthAwaiter).
//
// Slice takes a read lock only long enough to copy the requested range out
// of the buffer; it never holds a lock across I/O because there is none —
// the "I/O" here is a memory copy.
type MemorySource struct {
	mu   sync.RWMutex
	data []byte

	growth *growthSignal
}

// NewMemorySource returns a MemorySource seeded with the given bytes and
// already sealed (its full content is immediately available). Use
// NewGrowingMemorySource to build one up incrementally instead.
func NewMemorySource(data []byte) *MemorySource {
	s := &MemorySource{data: data, growth: newGrowthSignal()}
	s.growth.seal()
	return s
}

// NewGrowingMemorySource returns an empty, unsealed MemorySource. Callers
// append to it with Append and mark it complete with Seal.
func NewGrowingMemorySource() *MemorySource {
	return &MemorySource{growth: newGrowthSignal()}
}

// Append adds more bytes to the end of the source, growing its Size and
// waking anything blocked in AwaitGrowth.
func (s *MemorySource) Append(data []byte) {
	if len(data) == 0 {
		return
	}
	s.mu.Lock()
	s.data = append(s.data, data...)
	s.mu.Unlock()
	s.growth.notify()
}

// Seal marks the source as complete: no further Append calls are expected,
// and AwaitGrowth returns immediately with final=true from now on.
func (s *MemorySource) Seal() {
	s.growth.seal()
}

// Size returns the number of bytes currently appended.
func (s *MemorySource) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.data))
}

// Slice returns bytes [start, end) decoded as UTF-8 text.
func (s *MemorySource) Slice(ctx context.Context, start, end int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if start < 0 || end < start {
		return "", fmt.Errorf("bytesource: invalid range [%d, %d)", start, end)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if end > int64(len(s.data)) {
		return "", fmt.Errorf("bytesource: range [%d, %d) exceeds size %d", start, end, len(s.data))
	}
	return string(s.data[start:end]), nil
}

// AwaitGrowth implements GrowthAwaiter.
func (s *MemorySource) AwaitGrowth(ctx context.Context) (bool, error) {
	return s.growth.await(ctx)
}
