package ws

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/nanoproto/sp/internal/usock"
	"github.com/nanoproto/sp/internal/wire"
	"github.com/nanoproto/sp/internal/wsframe"
	"github.com/nanoproto/sp/spcode"
)

// handshakeLen/handshakePrefix mirror internal/stream's SP opening
// handshake exactly: the WebSocket binary frame boundary stands in for the
// length prefix as the message boundary, but the SP-layer handshake
// semantics are unchanged — the same 8 bytes are exchanged, just each
// carried as the payload of one binary frame instead of raw stream bytes.
const handshakeLen = 8

var handshakePrefix = [4]byte{0x00, 'S', 'P', 0x00}

const (
	stateHandshaking = iota
	stateActive
	stateDone
)

// IsPeerFunc reports whether a peer advertising protocol id peer is
// acceptable to the local protocol, mirroring internal/stream.IsPeerFunc.
type IsPeerFunc func(peer uint16) bool

// Session wraps an active, already WS-upgraded usock.Endpoint, implementing
// sp.PipeConn (via the adapter in conn.go) once the SP handshake completes.
type Session struct {
	ep         *usock.Endpoint
	clientSide bool

	selfProto uint16
	isPeer    IsPeerFunc

	rcvMaxSize int64

	state int
	dec   *wsframe.Decoder

	peerProt uint16

	handshakeDeadline time.Time

	sendQueue  [][]byte
	sendCursor int

	readyMsgs [][]byte

	onReadable func()
	onWritable func()
	onError    func(error)
}

// NewSession wraps ep (upgraded and connected or accepted, not yet
// Activate-d: it attaches itself as ep's sink, which must happen before
// Activate) with handshake parameters.
// clientSide selects the masking direction RFC 6455 §5.1 requires.
func NewSession(ep *usock.Endpoint, clientSide bool, selfProto uint16, isPeer IsPeerFunc, rcvMaxSize int64) *Session {
	s := &Session{
		ep:                ep,
		clientSide:        clientSide,
		selfProto:         selfProto,
		isPeer:            isPeer,
		rcvMaxSize:        rcvMaxSize,
		state:             stateHandshaking,
		dec:               wsframe.NewDecoder(frameSizeLimit(rcvMaxSize)),
		handshakeDeadline: time.Now().Add(1000 * time.Millisecond),
	}
	ep.SetSink(s)
	return s
}

// frameSizeLimit widens rcvMaxSize slightly isn't needed; WS frames carry
// one whole SP message each so the same RCVMAXSIZE bound applies directly.
func frameSizeLimit(rcvMaxSize int64) int64 { return rcvMaxSize }

func (s *Session) OnReadable(fn func())   { s.onReadable = fn }
func (s *Session) OnWritable(fn func())   { s.onWritable = fn }
func (s *Session) OnError(fn func(error)) { s.onError = fn }

// PeerProtocol returns the protocol id the peer advertised.
func (s *Session) PeerProtocol() uint16 { return s.peerProt }

func (s *Session) LocalAddr() string  { return s.ep.LocalAddr() }
func (s *Session) RemoteAddr() string { return s.ep.RemoteAddr() }

// Start sends the local SP handshake frame and arms the handshake deadline
// on the endpoint's worker, mirroring internal/stream.Session.Start.
func (s *Session) Start() {
	hs := make([]byte, handshakeLen)
	hs[0], hs[1], hs[2], hs[3] = 0x00, 'S', 'P', 0x00
	wire.PutUint16(hs[4:6], s.selfProto)
	hs[6], hs[7] = 0, 0

	ctx := s.ep.Context()
	ctx.Enter()
	s.sendQueue = [][]byte{wsframe.Encode(wsframe.OpBinary, hs, s.clientSide)}
	s.pumpWrite()
	ctx.Leave()

	s.ep.Worker().AddTimer(time.Until(s.handshakeDeadline), func() {
		ctx.Enter()
		if s.HandshakeExpired() {
			s.fail(spcode.Wrap("handshake", spcode.ETIMEDOUT, fmt.Errorf("peer sent no handshake frame in time")))
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
				break
			}
			s.fail(err)
			return
		}
		if n == 0 {
			break
		}
		s.dec.Feed(buf[:n])
	}
	for {
		op, payload, ok, err := s.dec.Next()
		if err != nil {
			s.fail(spcode.Wrap("frame", spcode.EMSGSIZE, err))
			return
		}
		if !ok {
			break
		}
		if !s.handleFrame(op, payload) {
			return
		}
	}
	if len(s.readyMsgs) > 0 && s.onReadable != nil {
		s.onReadable()
	}
}

// handleFrame dispatches one reassembled frame; returns false if the
// session has been torn down as a result (caller must stop looping).
func (s *Session) handleFrame(op byte, payload []byte) bool {
	switch op {
	case wsframe.OpClose:
		s.fail(spcode.Wrap("ws", spcode.ECONNRESET, fmt.Errorf("peer closed")))
		return false
	case wsframe.OpPing:
		s.queueControl(wsframe.OpPong, payload)
		return true
	case wsframe.OpPong:
		return true
	}

	switch s.state {
	case stateHandshaking:
		if len(payload) != handshakeLen {
			s.fail(spcode.Wrap("handshake", spcode.EPROTO, fmt.Errorf("bad handshake frame length %d", len(payload))))
			return false
		}
		if payload[0] != handshakePrefix[0] || payload[1] != handshakePrefix[1] ||
			payload[2] != handshakePrefix[2] || payload[3] != handshakePrefix[3] {
			s.fail(spcode.Wrap("handshake", spcode.EPROTO, fmt.Errorf("bad SP prefix")))
			return false
		}
		peer := wire.Uint16(payload[4:6])
		if s.isPeer != nil && !s.isPeer(peer) {
			s.fail(spcode.Wrap("handshake", spcode.EPROTO, fmt.Errorf("incompatible peer protocol %d", peer)))
			return false
		}
		s.peerProt = peer
		s.state = stateActive
		return true
	case stateActive:
		if op == wsframe.OpText && !utf8.Valid(payload) {
			s.fail(spcode.Wrap("frame", spcode.EPROTO, fmt.Errorf("invalid UTF-8 text frame")))
			return false
		}
		s.readyMsgs = append(s.readyMsgs, payload)
		return true
	default:
		return true
	}
}

func (s *Session) queueControl(op byte, payload []byte) {
	s.sendQueue = append(s.sendQueue, wsframe.Encode(op, payload, s.clientSide))
	s.pumpWrite()
}

// NotifyWritable implements usock.ReadinessSink.
func (s *Session) NotifyWritable() { s.pumpWrite() }

// NotifyError implements usock.ReadinessSink.
func (s *Session) NotifyError(err error) { s.fail(err) }

// fail is always reached with the endpoint's context held; the error
// callback closes the owning pipe, which calls Close and re-enters this
// context, so it runs deferred on the worker (see internal/stream.Session).
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

// TrySend frames header+body as one binary WS frame. Returns spcode.EAGAIN
// if a previous send is still draining or the handshake hasn't completed,
// and spcode.EBADF once the session is done. Serialized against the
// endpoint's I/O completions by entering its context.
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
	payload := make([]byte, len(header)+len(body))
	copy(payload, header)
	copy(payload[len(header):], body)
	s.sendQueue = [][]byte{wsframe.Encode(wsframe.OpBinary, payload, s.clientSide)}
	s.sendCursor = 0
	s.pumpWrite()
	return nil
}

// TryRecv pops one complete inbound message, or spcode.EAGAIN if none is
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

// HandshakeExpired reports whether the SP-level handshake deadline elapsed
// while still waiting for the peer's frame.
func (s *Session) HandshakeExpired() bool {
	return s.state == stateHandshaking && time.Now().After(s.handshakeDeadline)
}

// Close stops the underlying endpoint. The state write happens under the
// endpoint's context; ep.Stop dispatches its own event afterwards, outside
// the bracket.
func (s *Session) Close() error {
	ctx := s.ep.Context()
	ctx.Enter()
	s.state = stateDone
	ctx.Leave()
	s.ep.Stop()
	return nil
}
