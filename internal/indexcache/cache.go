// Package indexcache persists frame tables for previously-ingested
// recordings so that reopening one already seen in a prior process
// lifetime can skip straight to a fully-seekable index instead of
// re-parsing the whole blob. This is new functionality beyond the core
// playback engine's scope (SPEC_FULL.md §4, §6.3): it precomputes the same
// table internal/recording.Indexer would produce, keyed by a BLAKE3 digest
// of the blob's size and leading bytes.
package indexcache

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
	"lukechampine.com/blake3"

	"github.com/glyptodon/glyptodon-enterprise-player/internal/recording"
)

// sampleSize is the number of leading bytes hashed alongside the blob's
// total size to form a cache key. Hashing the whole blob on every open
// would defeat the point of caching; a session recording's header bytes
// plus its length are a strong enough fingerprint for this cache's purpose.
// Get discards an entry whose stored size or final frame end disagrees with
// the live source size; an entry that passes those checks is trusted as is.
const sampleSize = 65536

// Store is a persistent cache of frame tables keyed by content digest.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite-backed Store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("indexcache: open %s: %w", path, err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS frame_tables (
	digest     TEXT PRIMARY KEY,
	blob_size  INTEGER NOT NULL,
	frames     BLOB NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("indexcache: migrate schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Digest computes the cache key for a blob given its total size and
// leading sample bytes (callers should pass up to sampleSize bytes read
// from offset 0).
func Digest(size int64, sample []byte) string {
	h := blake3.New(32, nil)
	fmt.Fprintf(h, "%d:", size)
	h.Write(sample)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// SampleSize returns the number of leading bytes callers should read to
// compute a Digest.
func SampleSize() int64 {
	return sampleSize
}

// Get returns the cached frame table for digest, if present, validated
// against the live blob size currentSize (a cached table whose final frame
// end doesn't match is stale and discarded).
func (s *Store) Get(ctx context.Context, digest string, currentSize int64) ([]recording.Frame, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT blob_size, frames FROM frame_tables WHERE digest = ?`, digest)

	var blobSize int64
	var encoded []byte
	if err := row.Scan(&blobSize, &encoded); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("indexcache: query %s: %w", digest, err)
	}
	if blobSize != currentSize {
		return nil, false, nil
	}

	frames, err := decodeFrames(encoded)
	if err != nil {
		return nil, false, fmt.Errorf("indexcache: decode cached frames: %w", err)
	}
	if len(frames) > 0 && frames[len(frames)-1].End != currentSize {
		return nil, false, nil
	}
	return frames, true, nil
}

// Put stores frames under digest, replacing any prior entry.
func (s *Store) Put(ctx context.Context, digest string, blobSize int64, frames []recording.Frame) error {
	encoded, err := encodeFrames(frames)
	if err != nil {
		return fmt.Errorf("indexcache: encode frames: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO frame_tables (digest, blob_size, frames) VALUES (?, ?, ?)
		 ON CONFLICT(digest) DO UPDATE SET blob_size = excluded.blob_size, frames = excluded.frames`,
		digest, blobSize, encoded)
	if err != nil {
		return fmt.Errorf("indexcache: put %s: %w", digest, err)
	}
	return nil
}
