package session

import (
	"context"

	"github.com/glyptodon/glyptodon-enterprise-player/internal/playback"
)

// wsDisplayClient is the playback.DisplayClient used for WebSocket-backed
// sessions. The actual display lives in the remote browser's Guacamole
// client; this type's job is only to satisfy the engine's DisplayClient
// contract, not to render anything itself.
//
// ExportState always returns a nil snapshot, so recording.Frame.HasClientState
// is always false and the engine's seek baseline search (engine.go,
// establishBaseline) never finds a cached state to import — a seek to a frame
// at or after the current one replays forward from the current frame, and any
// other seek replays forward from frame 0. This is deliberate: a keyframe "snapshot" in
// this engine is an opaque display-side bitmap/canvas capture, and there is
// no way to ship one into a browser's own Display object without the
// browser itself doing the capture and restore, which this transport does
// not implement. Correctness doesn't depend on it; only seek latency does.
type wsDisplayClient struct{}

func newWSDisplayClient() *wsDisplayClient {
	return &wsDisplayClient{}
}

func (d *wsDisplayClient) Connect(tunnel playback.Tunnel) {}

func (d *wsDisplayClient) GetDisplay() any { return nil }

func (d *wsDisplayClient) ShowCursor(visible bool) {}

func (d *wsDisplayClient) ExportState(ctx context.Context) (any, error) {
	return nil, nil
}

func (d *wsDisplayClient) ImportState(state any) error {
	return nil
}
