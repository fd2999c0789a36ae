// Package stream implements the stream framing session: it turns a
// connected byte-stream endpoint (internal/usock.Endpoint) into a
// message-oriented pipe, performing the opening SP handshake and the
// length-prefixed message framing above it.
package stream

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/nanoproto/sp/internal/usock"
	"github.com/nanoproto/sp/internal/wire"
	"github.com/nanoproto/sp/spcode"
)

// handshakeLen is the fixed 8-byte opening sequence both peers exchange:
// 0x00 'S' 'P' 0x00 P1 P0 0x00 0x00, P1P0 big-endian protocol id.
const handshakeLen = 8

var handshakePrefix = [4]byte{0x00, 'S', 'P', 0x00}

// DefaultHandshakeTimeout bounds handshake completion.
const DefaultHandshakeTimeout = 1000 * time.Millisecond

// session states.
const (
	stateHandshaking = iota
	stateActive
	stateDone
)

// IsPeerFunc reports whether a peer advertising protocol id peer is
// acceptable to the local protocol (e.g. REQ accepts only REP's id).
type IsPeerFunc func(peer uint16) bool

// Session wraps a usock.Endpoint, moving whole messages as header/body byte
// slices once the handshake completes; sp's streamPipeConn adapts it to
// sp.PipeConn. It satisfies usock.ReadinessSink so the endpoint can drive it
// directly.
type Session struct {
	ep *usock.Endpoint

	selfProto uint16
	isPeer    IsPeerFunc

	rcvMaxSize int64 // -1 disables the check

	state int

	hsOut    [handshakeLen]byte
	hsOutPos int
	hsIn     [handshakeLen]byte
	hsInPos  int
	peerProt uint16

	handshakeDeadline time.Time

	// Inbound framing: reading the 8-byte length, then the body.
	lenBuf    [8]byte
	lenPos    int
	bodyBuf   []byte
	bodyPos   int
	wantLen   int64
	readyMsgs [][]byte

	// Outbound framing: a queue of fully-framed byte slices (length, header
	// and body concatenated into one contiguous write, since Go's
	// net.Conn.Write has no vectored variant worth the complexity at this
	// layer).
	sendQueue  [][]byte
	sendCursor int

	alloc func(int) []byte

	onReadable func()
	onWritable func()
	onError    func(error)
}

// NewSession wraps ep (connected or accepted, not yet Activate-d: it attaches
// itself as ep's sink, which must happen before Activate) with handshake
// parameters. alloc
// allocates each inbound frame's backing buffer; pass nil to fall back to a
// plain make per frame.
func NewSession(ep *usock.Endpoint, selfProto uint16, isPeer IsPeerFunc, rcvMaxSize int64, alloc func(int) []byte) *Session {
	s := &Session{
		ep:         ep,
		selfProto:  selfProto,
		isPeer:     isPeer,
		rcvMaxSize: rcvMaxSize,
		state:      stateHandshaking,
		alloc:      alloc,
	}
	s.hsOut[0], s.hsOut[1], s.hsOut[2], s.hsOut[3] = 0x00, 'S', 'P', 0x00
	wire.PutUint16(s.hsOut[4:6], selfProto)
	s.hsOut[6], s.hsOut[7] = 0, 0
	s.handshakeDeadline = time.Now().Add(DefaultHandshakeTimeout)
	ep.SetSink(s)
	return s
}

// OnReadable/OnWritable/OnError register the pipe-level notification
// callbacks; sp.Pipe supplies these via its NotifyReadable/NotifyWritable/
// a close-the-pipe handler.
func (s *Session) OnReadable(fn func())   { s.onReadable = fn }
func (s *Session) OnWritable(fn func())   { s.onWritable = fn }
func (s *Session) OnError(fn func(error)) { s.onError = fn }

// PeerProtocol returns the protocol id the peer advertised, valid once the
// handshake completes.
func (s *Session) PeerProtocol() uint16 { return s.peerProt }

// LocalAddr and RemoteAddr delegate to the underlying endpoint.
func (s *Session) LocalAddr() string  { return s.ep.LocalAddr() }
func (s *Session) RemoteAddr() string { return s.ep.RemoteAddr() }

// Start kicks off the handshake by writing the local 8-byte sequence and
// arming the handshake deadline on the endpoint's worker; a session still
// handshaking when it fires is torn down with ETIMEDOUT.
func (s *Session) Start() {
	ctx := s.ep.Context()
	ctx.Enter()
	s.pumpWrite()
	ctx.Leave()

	s.ep.Worker().AddTimer(time.Until(s.handshakeDeadline), func() {
		ctx.Enter()
		if s.HandshakeExpired() {
			s.fail(spcode.Wrap("handshake", spcode.ETIMEDOUT, fmt.Errorf("peer sent no handshake within %v", DefaultHandshakeTimeout)))
		}
		ctx.Leave()
	}, nil)
}

// NotifyReadable implements usock.ReadinessSink.
func (s *Session) NotifyReadable() {
	for {
		var buf [2048]byte
		n, err := s.ep.Read(buf[:])
		if err != nil {
			if spcode.Is(err, spcode.EAGAIN) {
				return
			}
			s.fail(err)
			return
		}
		if n == 0 {
			return
		}
		s.consume(buf[:n])
	}
}

func (s *Session) consume(data []byte) {
	for len(data) > 0 {
		switch s.state {
		case stateHandshaking:
			n := copy(s.hsIn[s.hsInPos:], data)
			s.hsInPos += n
			data = data[n:]
			if s.hsInPos == handshakeLen {
				if !s.finishHandshake() {
					return
				}
			}
		case stateActive:
			data = s.consumeFrame(data)
		case stateDone:
			return
		}
	}
	if s.state == stateActive && len(s.readyMsgs) > 0 && s.onReadable != nil {
		s.onReadable()
	}
}

func (s *Session) finishHandshake() bool {
	if s.hsIn[0] != handshakePrefix[0] || s.hsIn[1] != handshakePrefix[1] ||
		s.hsIn[2] != handshakePrefix[2] || s.hsIn[3] != handshakePrefix[3] {
		s.fail(spcode.Wrap("handshake", spcode.EPROTO, fmt.Errorf("bad SP prefix")))
		return false
	}
	peer := wire.Uint16(s.hsIn[4:6])
	if s.isPeer != nil && !s.isPeer(peer) {
		s.fail(spcode.Wrap("handshake", spcode.EPROTO, fmt.Errorf("incompatible peer protocol %d", peer)))
		return false
	}
	s.peerProt = peer
	s.state = stateActive
	return true
}

func (s *Session) consumeFrame(data []byte) []byte {
	if s.wantLen == 0 && s.lenPos < 8 {
		n := copy(s.lenBuf[s.lenPos:], data)
		s.lenPos += n
		data = data[n:]
		if s.lenPos < 8 {
			return data
		}
		length := int64(binary.BigEndian.Uint64(s.lenBuf[:]))
		if s.rcvMaxSize >= 0 && length > s.rcvMaxSize {
			s.fail(spcode.Wrap("frame", spcode.EMSGSIZE, fmt.Errorf("message length %d exceeds RCVMAXSIZE %d", length, s.rcvMaxSize)))
			return nil
		}
		s.wantLen = length
		s.bodyPos = 0
		if length == 0 {
			// Zero-length body needs no second read.
			s.readyMsgs = append(s.readyMsgs, nil)
			s.resetFrame()
			return data
		}
		if s.alloc != nil {
			s.bodyBuf = s.alloc(int(length))
		} else {
			s.bodyBuf = make([]byte, length)
		}
	}
	if s.wantLen > 0 {
		n := copy(s.bodyBuf[s.bodyPos:], data)
		s.bodyPos += n
		data = data[n:]
		if int64(s.bodyPos) == s.wantLen {
			s.readyMsgs = append(s.readyMsgs, s.bodyBuf)
			s.resetFrame()
		}
	}
	return data
}

func (s *Session) resetFrame() {
	s.lenPos = 0
	s.wantLen = 0
	s.bodyBuf = nil
	s.bodyPos = 0
}

// NotifyWritable implements usock.ReadinessSink.
func (s *Session) NotifyWritable() {
	s.pumpWrite()
}

// NotifyError implements usock.ReadinessSink.
func (s *Session) NotifyError(err error) {
	s.fail(err)
}

// fail is always reached with the endpoint's context held (I/O completion
// handlers, the handshake timer, or an externally-bracketed TrySend). The
// error callback closes the owning pipe, which in turn calls Close — which
// re-enters this same context — so it must run deferred on the worker, not
// inline.
func (s *Session) fail(err error) {
	if s.state == stateDone {
		return
	}
	s.state = stateDone
	if s.onError != nil {
		cb := s.onError
		s.ep.Worker().ScheduleTask(func() { cb(err) })
	}
}

func (s *Session) pumpWrite() {
	if s.hsOutPos < handshakeLen {
		err := s.ep.Write(s.hsOut[s.hsOutPos:])
		if err == nil {
			s.hsOutPos = handshakeLen
		} else if !spcode.Is(err, spcode.EAGAIN) {
			s.fail(err)
		}
		return
	}
	if s.sendCursor < len(s.sendQueue) {
		err := s.ep.Write(s.sendQueue[s.sendCursor])
		if err == nil {
			s.sendCursor++
			if s.sendCursor == len(s.sendQueue) {
				s.sendQueue = nil
				s.sendCursor = 0
			}
		} else if !spcode.Is(err, spcode.EAGAIN) {
			s.fail(err)
		}
		return
	}
	if s.onWritable != nil {
		s.onWritable()
	}
}

// TrySend frames header+body and queues it for output. Returns
// spcode.EAGAIN if a previous send is still draining (sp.Pipe's "stays
// writable until EAGAIN" contract maps directly onto this) or while the
// handshake has not yet completed, and spcode.EBADF once the session is
// done. Serialized against the endpoint's I/O completions by entering its
// context.
func (s *Session) TrySend(header, body []byte) error {
	ctx := s.ep.Context()
	ctx.Enter()
	defer ctx.Leave()

	switch s.state {
	case stateHandshaking:
		return spcode.New(spcode.EAGAIN)
	case stateDone:
		return spcode.New(spcode.EBADF)
	}
	if len(s.sendQueue) > 0 {
		return spcode.New(spcode.EAGAIN)
	}
	total := int64(len(header) + len(body))
	frame := make([]byte, 8+len(header)+len(body))
	binary.BigEndian.PutUint64(frame[:8], uint64(total))
	copy(frame[8:], header)
	copy(frame[8+len(header):], body)
	s.sendQueue = [][]byte{frame}
	s.sendCursor = 0
	s.pumpWrite()
	return nil
}

// TryRecv pops one complete inbound frame, or spcode.EAGAIN if none is
// ready.
func (s *Session) TryRecv() ([]byte, error) {
	ctx := s.ep.Context()
	ctx.Enter()
	defer ctx.Leave()

	if len(s.readyMsgs) == 0 {
		if s.state == stateDone {
			return nil, spcode.New(spcode.EBADF)
		}
		return nil, spcode.New(spcode.EAGAIN)
	}
	msg := s.readyMsgs[0]
	s.readyMsgs = s.readyMsgs[1:]
	return msg, nil
}

// HandshakeExpired reports whether the handshake deadline has elapsed while
// still in stateHandshaking; the owning endpoint's worker timer calls this.
func (s *Session) HandshakeExpired() bool {
	return s.state == stateHandshaking && time.Now().After(s.handshakeDeadline)
}

// Close stops the underlying endpoint. The state write happens under the
// endpoint's context; ep.Stop dispatches its own event afterwards, outside
// the bracket, since Dispatch enters the same context itself.
func (s *Session) Close() error {
	ctx := s.ep.Context()
	ctx.Enter()
	s.state = stateDone
	ctx.Leave()
	s.ep.Stop()
	return nil
}
