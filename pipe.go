package sp

import (
	"sync"
	"sync/atomic"

	"github.com/nanoproto/sp/spcode"
)

// PipeConn is the byte/message transport a Pipe wraps: one already-connected
// endpoint able to hand complete messages in and out. Each transport package
// (inproc, tcp, ipc, ws) returns one: inproc its in-process session, tcp and
// ipc a streamPipeConn over an internal/stream framing session, ws its own
// adapter over a ws.Session; the stream sessions run on a usock.Endpoint. Both
// methods are non-blocking: they either complete immediately or return a
// spcode.EAGAIN-coded error.
type PipeConn interface {
	// TrySend attempts to hand msg to the peer. Returns a spcode EAGAIN error
	// if the connection's outbound side has no room right now.
	TrySend(msg *Message) error
	// TryRecv attempts to retrieve one complete inbound message. Returns a
	// spcode EAGAIN error if none is available right now.
	TryRecv() (*Message, error)
	// Close tears down the underlying connection.
	Close() error
	// LocalAddr and RemoteAddr label the pipe for statistics and logging.
	LocalAddr() string
	RemoteAddr() string
}

// PipeNotifier receives edge-triggered readiness callbacks from a Pipe.
// Protocol implementations register themselves (or an adapter) as a Pipe's
// notifier when they accept it via AddPipe.
type PipeNotifier interface {
	// PipeReadable is called once when a pipe transitions from "no message
	// available" to "message available". The protocol should keep calling
	// Recv until it gets EAGAIN again before expecting another callback.
	PipeReadable(p *Pipe)
	// PipeWritable is the Send-side counterpart of PipeReadable.
	PipeWritable(p *Pipe)
}

var pipeIDCounter atomic.Uint32

// Pipe is one endpoint's live connection to its peer, presented to a
// protocol as a Send/Recv pair plus edge-triggered IN/OUT events, decorated
// with the send/recv priority the owning endpoint template assigned it.
type Pipe struct {
	id   uint32
	conn PipeConn

	sendPrio int
	recvPrio int

	mu       sync.Mutex
	notifier PipeNotifier
	readable bool
	writable bool
	closed   bool
	onClose  func()

	// Peer and local protocol numbers, as recorded by SetProtocolNumbers.
	peerProtocol int
	selfProtocol int
}

// pipeConnReadinessSource is implemented by PipeConns (streamPipeConn,
// inproc's session adapter) that generate their own asynchronous readiness
// callbacks rather than being polled; NewPipe wires them straight to the
// Pipe's edge-triggered Notify methods so every PipeConn implementation
// doesn't need to duplicate that plumbing.
type pipeConnReadinessSource interface {
	bindPipeCallbacks(onReadable, onWritable func(), onError func(error))
}

// NewPipe wraps conn with the given send/recv priority template (1..16,
// clamped) ready to be handed to a protocol's AddPipe.
func NewPipe(conn PipeConn, sendPrio, recvPrio int) *Pipe {
	p := &Pipe{
		id:       pipeIDCounter.Add(1),
		conn:     conn,
		sendPrio: clampPriority(sendPrio),
		recvPrio: clampPriority(recvPrio),
	}
	if src, ok := conn.(pipeConnReadinessSource); ok {
		src.bindPipeCallbacks(p.NotifyReadable, p.NotifyWritable, func(error) { _ = p.Close() })
	}
	return p
}

func clampPriority(p int) int {
	switch {
	case p < 1:
		return 1
	case p > 16:
		return 16
	default:
		return p
	}
}

// ID returns the pipe's process-unique identifier.
func (p *Pipe) ID() uint32 { return p.id }

// SendPriority and RecvPriority return the 1..16 priority template assigned
// at construction.
func (p *Pipe) SendPriority() int { return p.sendPrio }
func (p *Pipe) RecvPriority() int { return p.recvPrio }

// LocalAddr and RemoteAddr delegate to the underlying connection.
func (p *Pipe) LocalAddr() string  { return p.conn.LocalAddr() }
func (p *Pipe) RemoteAddr() string { return p.conn.RemoteAddr() }

// SetProtocolNumbers records the self/peer protocol numbers. Socket's
// adoptPipe records the socket's own number and 0 for the peer; no protocol
// reads them, since an incompatible peer is already refused by the transport
// (the stream handshake, inproc's Accept).
func (p *Pipe) SetProtocolNumbers(self, peer int) {
	p.selfProtocol = self
	p.peerProtocol = peer
}

// PeerProtocol returns the peer's advertised protocol number.
func (p *Pipe) PeerProtocol() int { return p.peerProtocol }

// SetNotifier attaches the protocol-side readiness listener. Called once, by
// whichever protocol accepts the pipe via AddPipe.
func (p *Pipe) SetNotifier(n PipeNotifier) {
	p.mu.Lock()
	p.notifier = n
	p.mu.Unlock()
}

// SetCloseCallback registers fn to run exactly once, the first time Close
// observably tears this pipe down — whether from an application-initiated
// RemoveEndpoint/Socket.Close or from the underlying connection failing
// asynchronously. Socket uses this
// to drop the pipe from the protocol's bookkeeping and, for a connector, wake
// its dial loop to retry.
func (p *Pipe) SetCloseCallback(fn func()) {
	p.mu.Lock()
	p.onClose = fn
	p.mu.Unlock()
}

// Send hands msg to the peer. Returns a spcode.EAGAIN error if the pipe's
// outbound side has no room; once OUT has been emitted the pipe stays
// writable until this returns EAGAIN again.
func (p *Pipe) Send(msg *Message) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return spcode.New(spcode.EBADF)
	}
	p.mu.Unlock()

	err := p.conn.TrySend(msg)
	if spcode.Is(err, spcode.EAGAIN) {
		p.mu.Lock()
		p.writable = false
		p.mu.Unlock()
	}
	return err
}

// Recv retrieves one complete inbound message, or a spcode.EAGAIN error if
// none is ready yet.
func (p *Pipe) Recv() (*Message, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, spcode.New(spcode.EBADF)
	}
	p.mu.Unlock()

	msg, err := p.conn.TryRecv()
	if spcode.Is(err, spcode.EAGAIN) {
		p.mu.Lock()
		p.readable = false
		p.mu.Unlock()
	}
	return msg, err
}

// NotifyReadable is called by the underlying connection (endpoint/stream
// layer) when a new inbound message completes. It is a no-op if the pipe is
// already known to be readable, implementing the "stays readable until
// EAGAIN" edge-triggered contract.
func (p *Pipe) NotifyReadable() {
	p.mu.Lock()
	if p.closed || p.readable {
		p.mu.Unlock()
		return
	}
	p.readable = true
	n := p.notifier
	p.mu.Unlock()
	if n != nil {
		n.PipeReadable(p)
	}
}

// NotifyWritable is the Send-side counterpart of NotifyReadable, called when
// the underlying connection regains outbound capacity.
func (p *Pipe) NotifyWritable() {
	p.mu.Lock()
	if p.closed || p.writable {
		p.mu.Unlock()
		return
	}
	p.writable = true
	n := p.notifier
	p.mu.Unlock()
	if n != nil {
		n.PipeWritable(p)
	}
}

// Close tears down the pipe's underlying connection. Safe to call more than
// once.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	onClose := p.onClose
	p.mu.Unlock()
	err := p.conn.Close()
	if onClose != nil {
		onClose()
	}
	return err
}
