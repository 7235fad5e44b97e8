package session

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/glyptodon/glyptodon-enterprise-player/internal/playback"
)

// wsTunnel bridges a playback.Engine's dispatched instructions to a real
// browser-hosted Guacamole display client over a WebSocket connection, the
// way the sortie guacd proxy relays raw protocol bytes to its WebSocket
// client: instructions are buffered and flushed as one WriteMessage call
// per "sync" boundary rather than one write per instruction, so a frame's
// worth of display updates reaches the browser as a single message.
type wsTunnel struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	logger zerolog.Logger
	buf    strings.Builder

	handler playback.InstructionHandler
}

// newWSTunnel returns a tunnel with no attached connection. The engine is
// constructed, and begins background ingest, before a browser has opened
// the WebSocket endpoint for the recording; attach binds the connection
// once the client does.
func newWSTunnel(logger zerolog.Logger) *wsTunnel {
	return &wsTunnel{
		logger: logger.With().Str("component", "ws_tunnel").Logger(),
	}
}

// attach binds the live WebSocket connection to an existing tunnel. Safe to
// call once; a second call replaces the connection, which the session
// server never does in practice since a recording serves one browser at a
// time.
func (t *wsTunnel) attach(conn *websocket.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conn = conn
}

func (t *wsTunnel) Connect()                  {}
func (t *wsTunnel) SendMessage(string)        {}
func (t *wsTunnel) Disconnect()               {}

// OnInstruction satisfies playback.Tunnel. A websocket tunnel never calls the
// registered handler: the display client it's connected to is the remote
// browser, not a Go-side playback.DisplayClient, so there's nothing in this
// process to forward to. ReceiveInstruction below ships bytes straight to
// the socket instead.
func (t *wsTunnel) OnInstruction(h playback.InstructionHandler) {
	t.handler = h
}

// ReceiveInstruction is called by the playback engine for every instruction
// produced during replay. It encodes the instruction back into Guacamole
// wire form, buffers it, and flushes to the WebSocket connection once a
// "sync" instruction closes out a frame. Instructions dispatched before a
// browser has attached (no play/seek should be issued that early, but the
// engine doesn't enforce it) are silently dropped rather than panicking.
func (t *wsTunnel) ReceiveInstruction(opcode string, args []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	elems := append([]string{opcode}, args...)
	for i, e := range elems {
		sep := byte(',')
		if i == len(elems)-1 {
			sep = ';'
		}
		fmt.Fprintf(&t.buf, "%d.%s%c", utf8.RuneCountInString(e), e, sep)
	}

	if opcode != "sync" {
		return
	}

	payload := t.buf.String()
	t.buf.Reset()

	if t.conn == nil {
		return
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.logger.Warn().Err(err).Msg("failed to flush instructions to websocket client")
	}
}

// readLoop discards inbound messages from the display client; the playback
// tunnel is one-directional (the recording drives the display, never the
// reverse), but the connection must still be read to observe its close.
func (t *wsTunnel) readLoop() {
	for {
		if _, _, err := t.conn.ReadMessage(); err != nil {
			return
		}
	}
}
