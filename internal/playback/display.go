package playback

import (
	"context"
	"fmt"
	"sync"
)

// DisplayClient is the host-provided reconstructor of visual state from
// dispatched instructions (spec.md §6). It is an external collaborator: the
// engine never interprets instruction opcodes itself beyond "sync", and
// treats ClientState snapshots as opaque.
type DisplayClient interface {
	// Connect registers the client as the tunnel's instruction sink. Called
	// exactly once, at engine construction.
	Connect(tunnel Tunnel)

	// GetDisplay returns whatever host-specific handle the UI layer needs
	// to actually show pixels (a DOM node, a widget, a framebuffer handle).
	// The engine treats it as opaque.
	GetDisplay() any

	// ShowCursor toggles the software cursor's visibility.
	ShowCursor(visible bool)

	// ExportState produces an opaque snapshot of current display state.
	ExportState(ctx context.Context) (any, error)

	// ImportState restores a previously exported snapshot. Synchronous, per
	// spec.md §6.
	ImportState(state any) error
}

// Instruction is a single dispatched (opcode, args) pair, retained by
// StubDisplayClient for test assertions.
type Instruction struct {
	Opcode string
	Args   []string
}

// stubSnapshot is the opaque ClientState produced by StubDisplayClient.
type stubSnapshot struct {
	seq              int
	instructionCount int
}

// StubDisplayClient is a minimal, in-memory DisplayClient used by tests and
// by any embedder that just wants direct visibility into dispatched
// instructions without a real rendering surface. It is the "reference/test
// double" SPEC_FULL.md §1 calls for in place of a real Guacamole display.
type StubDisplayClient struct {
	mu            sync.Mutex
	tunnel        Tunnel
	cursorVisible bool
	instructions  []Instruction
	stateSeq      int
	importedSeq   int
}

// NewStubDisplayClient returns an unconnected StubDisplayClient.
func NewStubDisplayClient() *StubDisplayClient {
	return &StubDisplayClient{}
}

func (d *StubDisplayClient) Connect(tunnel Tunnel) {
	d.mu.Lock()
	d.tunnel = tunnel
	d.mu.Unlock()
	tunnel.OnInstruction(d.handleInstruction)
}

func (d *StubDisplayClient) handleInstruction(opcode string, args []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.instructions = append(d.instructions, Instruction{
		Opcode: opcode,
		Args:   append([]string(nil), args...),
	})
}

func (d *StubDisplayClient) GetDisplay() any {
	return d
}

func (d *StubDisplayClient) ShowCursor(visible bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cursorVisible = visible
}

func (d *StubDisplayClient) ExportState(ctx context.Context) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stateSeq++
	return stubSnapshot{seq: d.stateSeq, instructionCount: len(d.instructions)}, nil
}

func (d *StubDisplayClient) ImportState(state any) error {
	snap, ok := state.(stubSnapshot)
	if !ok {
		return fmt.Errorf("playback: stub display client cannot import state of type %T", state)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.instructions = d.instructions[:0]
	d.importedSeq = snap.seq
	return nil
}

// Instructions returns a copy of instructions dispatched since construction
// or the last ImportState, for test assertions.
func (d *StubDisplayClient) Instructions() []Instruction {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Instruction, len(d.instructions))
	copy(out, d.instructions)
	return out
}

// CursorVisible reports the last value passed to ShowCursor.
func (d *StubDisplayClient) CursorVisible() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cursorVisible
}
