package sp

import (
	"github.com/nanoproto/sp/internal/fsm"
	"github.com/nanoproto/sp/internal/worker"
)

// ContextBinder is implemented by protocols that need to schedule their own
// timers (REQ's resend timer, SURVEYOR's deadline) and must run the timer's
// fire callback serialized with every other access to the protocol's state
// — under the owning Socket's context lock, exactly like Send/Recv/AddPipe
// already are. NewSocket calls BindContext once, right after construction.
type ContextBinder interface {
	BindContext(ctx *fsm.Context, pool *worker.Pool)
}

// ProtocolInfo identifies a protocol implementation's wire number and the
// peer protocol number it expects; the transport handshake rejects a peer
// advertising anything else.
type ProtocolInfo struct {
	Self     uint16
	SelfName string
	Peer     uint16
	PeerName string

	// HeaderLen is the fixed SP header size this protocol's wire convention
	// uses (4 bytes for REQ/REP/SURVEYOR/RESPONDENT's request/reply stamp,
	// 0 for patterns with no header). Stream transports only test it for
	// zero: a headerless protocol's inbound frame is all body, while for the
	// others the header/body split is found on the wire with
	// wire.SplitSPHeader, since a device may have grown the header past it.
	HeaderLen int

	// RecvMaxSize is the owning socket's current RCVMAXSIZE option value
	// (-1 disables the check), copied in fresh by Socket.AddEndpoint for
	// every NewDialer/NewListener call so stream transports can enforce it
	// during framing without a back-reference to the Socket itself.
	RecvMaxSize int64
}

// PipeEvents reports which of IN/OUT a protocol is currently ready for.
type PipeEvents struct {
	In  bool
	Out bool
}

// Protocol is the vtable every conversation pattern (REQ, SURVEYOR, PAIR,
// PUB, SUB, PUSH, PULL, REP, RESPONDENT, BUS) implements. Protocols
// additionally implement PipeNotifier so they can register themselves
// directly as a Pipe's readiness listener.
type Protocol interface {
	PipeNotifier

	// Info returns this protocol's wire identity.
	Info() ProtocolInfo

	// AddPipe admits a newly active pipe into the protocol's bookkeeping.
	// Returns an error (e.g. from PAIR once already paired) to refuse it,
	// in which case the caller closes the pipe.
	AddPipe(p *Pipe) error
	// RemovePipe drops a pipe the socket core has torn down.
	RemovePipe(p *Pipe)

	// Send and Recv implement the protocol's conversation pattern over its
	// current pipe set. Both return a spcode.EAGAIN error when not
	// currently possible (no ready pipe, no buffered reply, ...).
	Send(msg *Message) error
	Recv() (*Message, error)

	// Events reports current overall readiness, independent of any single
	// pipe — e.g. REQ forces OUT unconditionally and IN only once a reply
	// has arrived.
	Events() PipeEvents

	// SetOption and GetOption implement the protocol's own option level
	// (e.g. SUB's subscribe/unsubscribe list), distinct from the socket
	// core's options.go set.
	SetOption(name string, value any) error
	GetOption(name string) (any, error)

	// Stop begins protocol-level shutdown (e.g. cancelling timers); Close
	// releases all resources once every pipe has been removed.
	Stop()
	Close()
}

// RawRecver is implemented by raw base protocol implementations
// (sp/protocol.Raw) so device forwarding can read/write whole messages
// without going through a specific conversation pattern's Send/Recv
// semantics.
type RawRecver interface {
	RawSend(msg *Message) error
	RawRecv() (*Message, error)
}
