package playback

// InstructionHandler receives one dispatched Guacamole instruction.
type InstructionHandler func(opcode string, args []string)

// Tunnel is the transport contract a DisplayClient connects to (spec.md
// §4.5, §6). The engine is the tunnel's only writer: it calls
// ReceiveInstruction for every instruction produced during replay, and the
// tunnel forwards it to whatever handler the display client registered via
// OnInstruction. Connect/SendMessage/Disconnect exist so a Tunnel can stand
// in wherever the display client's own tunnel interface is expected; a
// session-recording tunnel never receives a message from the display side.
type Tunnel interface {
	Connect()
	SendMessage(instruction string)
	Disconnect()
	OnInstruction(handler InstructionHandler)
	ReceiveInstruction(opcode string, args []string)
}

// NullTunnel is the inert tunnel spec.md §4.5 describes: Connect,
// SendMessage, and Disconnect are no-ops, and ReceiveInstruction simply
// invokes whatever handler the display client registered. It is connected
// once at engine construction and never disconnected.
type NullTunnel struct {
	handler InstructionHandler
}

// NewNullTunnel returns an unconnected NullTunnel.
func NewNullTunnel() *NullTunnel {
	return &NullTunnel{}
}

func (t *NullTunnel) Connect()                    {}
func (t *NullTunnel) SendMessage(string)           {}
func (t *NullTunnel) Disconnect()                  {}
func (t *NullTunnel) OnInstruction(h InstructionHandler) { t.handler = h }

func (t *NullTunnel) ReceiveInstruction(opcode string, args []string) {
	if t.handler != nil {
		t.handler(opcode, args)
	}
}
