package bytesource

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// FileSource is a Source backed by a file on disk that may still be growing
// (e.g. a recording still being written by guacd). It watches the file with
// fsnotify so that a still-running Indexer can resume ingest promptly after
// new bytes land, instead of polling stat() in a loop. Seal marks the file
// complete once the recorder signals the session has ended.
//
// Slice uses ReadAt, which the os package guarantees is safe for concurrent
// use on a single *os.File without additional locking, so no lock is held
// across the read.
type FileSource struct {
	file    *os.File
	watcher *fsnotify.Watcher
	logger  zerolog.Logger

	size   atomic.Int64
	growth *growthSignal

	closed atomic.Bool
	done   chan struct{}
}

// OpenFileSource opens path and begins watching it for appended writes.
func OpenFileSource(path string, logger zerolog.Logger) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bytesource: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("bytesource: stat %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("bytesource: create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		f.Close()
		watcher.Close()
		return nil, fmt.Errorf("bytesource: watch %s: %w", path, err)
	}

	fs := &FileSource{
		file:    f,
		watcher: watcher,
		logger:  logger.With().Str("component", "file_source").Str("path", path).Logger(),
		growth:  newGrowthSignal(),
		done:    make(chan struct{}),
	}
	fs.size.Store(info.Size())

	go fs.watchLoop()

	return fs, nil
}

// Size returns the highest byte offset known to be written.
func (fs *FileSource) Size() int64 {
	return fs.size.Load()
}

// Slice returns bytes [start, end) decoded as UTF-8 text.
func (fs *FileSource) Slice(ctx context.Context, start, end int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if start < 0 || end < start {
		return "", fmt.Errorf("bytesource: invalid range [%d, %d)", start, end)
	}
	if end > fs.Size() {
		return "", fmt.Errorf("bytesource: range [%d, %d) exceeds size %d", start, end, fs.Size())
	}

	buf := make([]byte, end-start)
	if _, err := fs.file.ReadAt(buf, start); err != nil {
		return "", fmt.Errorf("bytesource: read [%d, %d): %w", start, end, err)
	}
	return string(buf), nil
}

// AwaitGrowth implements GrowthAwaiter.
func (fs *FileSource) AwaitGrowth(ctx context.Context) (bool, error) {
	return fs.growth.await(ctx)
}

// Seal marks the file as complete: the recording session has ended and no
// further writes are expected. AwaitGrowth returns immediately from now on.
func (fs *FileSource) Seal() {
	fs.growth.seal()
}

// Close stops the watcher and closes the underlying file.
func (fs *FileSource) Close() error {
	if !fs.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(fs.done)
	fs.watcher.Close()
	return fs.file.Close()
}

func (fs *FileSource) watchLoop() {
	for {
		select {
		case <-fs.done:
			return
		case event, ok := <-fs.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			fs.refreshSize()
		case err, ok := <-fs.watcher.Errors:
			if !ok {
				return
			}
			fs.logger.Warn().Err(err).Msg("fsnotify watch error")
		}
	}
}

func (fs *FileSource) refreshSize() {
	info, err := fs.file.Stat()
	if err != nil {
		fs.logger.Warn().Err(err).Msg("stat failed while refreshing size")
		return
	}
	if info.Size() > fs.size.Load() {
		fs.size.Store(info.Size())
		fs.growth.notify()
	}
}
