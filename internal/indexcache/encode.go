package indexcache

import (
	"bytes"
	"encoding/gob"

	"github.com/glyptodon/glyptodon-enterprise-player/internal/recording"
)

// storedFrame is the serializable subset of recording.Frame persisted to
// the cache. ClientState is deliberately omitted: it's an opaque
// display-client snapshot with no defined cross-process serialization, and
// is always cheap to recapture lazily on first replay of a keyframe.
type storedFrame struct {
	Timestamp int64
	Start     int64
	End       int64
	Keyframe  bool
}

func encodeFrames(frames []recording.Frame) ([]byte, error) {
	stored := make([]storedFrame, len(frames))
	for i, f := range frames {
		stored[i] = storedFrame{
			Timestamp: f.Timestamp,
			Start:     f.Start,
			End:       f.End,
			Keyframe:  f.Keyframe,
		}
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(stored); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeFrames(data []byte) ([]recording.Frame, error) {
	var stored []storedFrame
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&stored); err != nil {
		return nil, err
	}

	frames := make([]recording.Frame, len(stored))
	for i, s := range stored {
		frames[i] = recording.Frame{
			Timestamp: s.Timestamp,
			Start:     s.Start,
			End:       s.End,
			Keyframe:  s.Keyframe,
		}
	}
	return frames, nil
}
