package inproc

import (
	"sync"

	sp "github.com/nanoproto/sp"
	"github.com/nanoproto/sp/spcode"
)

// slot is one direction of a sinproc session: a single-message mailbox.
// put reports EAGAIN while the previous message is still unread, exactly
// like a real socket's outbound buffer filling up.
type slot struct {
	mu      sync.Mutex
	msg     *sp.Message
	onFull  func() // slot transitioned empty -> full: reader side becomes readable
	onEmpty func() // slot transitioned full -> empty: writer side becomes writable
}

func (s *slot) put(msg *sp.Message) bool {
	s.mu.Lock()
	if s.msg != nil {
		s.mu.Unlock()
		return false
	}
	s.msg = msg
	cb := s.onFull
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
	return true
}

func (s *slot) take() (*sp.Message, bool) {
	s.mu.Lock()
	if s.msg == nil {
		s.mu.Unlock()
		return nil, false
	}
	msg := s.msg
	s.msg = nil
	cb := s.onEmpty
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
	return msg, true
}

// sinproc is one endpoint's view of an in-process session: its own outbound
// slot (send) and the peer's outbound slot, which is this endpoint's inbound
// one (recv). Closing either end hands the peer a disconnect,
// waking the other endpoint's blocked notifier with EBADF instead of leaving
// it to stall silently.
type sinproc struct {
	addr string
	send *slot
	recv *slot
	peer *sinproc

	mu         sync.Mutex
	closed     bool
	onReadable func()
	onWritable func()
	onErr      func(error)
}

// newSinprocPair builds the two directional slots and the matching pair of
// endpoints, one per side of the session, wiring each slot's full/empty
// transitions to the opposite endpoint's readiness notifications.
func newSinprocPair(label string) (a, b *sinproc) {
	ab := &slot{}
	ba := &slot{}
	addr := "inproc://" + label

	endA := &sinproc{addr: addr, send: ab, recv: ba}
	endB := &sinproc{addr: addr, send: ba, recv: ab}
	endA.peer = endB
	endB.peer = endA

	ab.onFull = endB.notifyReadable
	ab.onEmpty = endA.notifyWritable
	ba.onFull = endA.notifyReadable
	ba.onEmpty = endB.notifyWritable

	return endA, endB
}

func (s *sinproc) notifyReadable() {
	s.mu.Lock()
	cb := s.onReadable
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (s *sinproc) notifyWritable() {
	s.mu.Lock()
	cb := s.onWritable
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// TrySend implements sp.PipeConn.
func (s *sinproc) TrySend(msg *sp.Message) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return spcode.New(spcode.EBADF)
	}
	if !s.send.put(msg) {
		return spcode.New(spcode.EAGAIN)
	}
	return nil
}

// TryRecv implements sp.PipeConn.
func (s *sinproc) TryRecv() (*sp.Message, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, spcode.New(spcode.EBADF)
	}
	msg, ok := s.recv.take()
	if !ok {
		return nil, spcode.New(spcode.EAGAIN)
	}
	return msg, nil
}

// Close implements sp.PipeConn, running the STOPPING_PEER handoff: the peer
// endpoint, if still open, is told its session just ended via its own
// registered error callback so its owning Pipe tears down promptly instead
// of waiting on a slot that will never fill again.
func (s *sinproc) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.peer != nil {
		s.peer.mu.Lock()
		alreadyClosed := s.peer.closed
		cb := s.peer.onErr
		s.peer.mu.Unlock()
		if !alreadyClosed && cb != nil {
			cb(spcode.New(spcode.EBADF))
		}
	}
	return nil
}

// bindPipeCallbacks implements pipeConnReadinessSource.
func (s *sinproc) bindPipeCallbacks(onReadable, onWritable func(), onError func(error)) {
	s.mu.Lock()
	s.onReadable = onReadable
	s.onWritable = onWritable
	s.onErr = onError
	s.mu.Unlock()
}

// LocalAddr and RemoteAddr implement sp.PipeConn: both sides of an inproc
// pair share the same label.
func (s *sinproc) LocalAddr() string  { return s.addr }
func (s *sinproc) RemoteAddr() string { return s.addr }
