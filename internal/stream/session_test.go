package stream_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanoproto/sp/internal/stream"
	"github.com/nanoproto/sp/internal/usock"
	"github.com/nanoproto/sp/internal/worker"
	"github.com/nanoproto/sp/spcode"
)

// sessionEnd bundles one side of a connected session for tests: the
// endpoint, the session, and a channel surfacing its error callback.
type sessionEnd struct {
	ep   *usock.Endpoint
	sess *stream.Session
	errs chan error
}

// newSessionEnd connects a usock.Endpoint over one end of a net.Pipe and
// layers a framing session on it, the same wiring order the tcp/ipc
// transports use (sink before Activate, callbacks before Start).
func newSessionEnd(t *testing.T, pool *worker.Pool, conn net.Conn, proto uint16, acceptPeer uint16, rcvMax int64) *sessionEnd {
	t.Helper()

	ep := usock.New(pool)
	dialed := make(chan error, 1)
	ep.OnConnect(func(err error) { dialed <- err })
	ep.Connect(func() (net.Conn, error) { return conn, nil })
	require.NoError(t, <-dialed)

	sess := stream.NewSession(ep, proto, func(p uint16) bool { return p == acceptPeer }, rcvMax, nil)
	end := &sessionEnd{ep: ep, sess: sess, errs: make(chan error, 4)}
	sess.OnError(func(err error) { end.errs <- err })
	ep.Activate()
	sess.Start()
	return end
}

func recvFrame(t *testing.T, s *stream.Session) []byte {
	t.Helper()
	var frame []byte
	require.Eventually(t, func() bool {
		f, err := s.TryRecv()
		if err != nil {
			return false
		}
		frame = f
		return true
	}, 2*time.Second, 5*time.Millisecond, "no frame arrived")
	return frame
}

// TestSessionHandshakeAndFraming covers the happy path over a real byte
// stream: both peers exchange the 8-byte handshake, then framed messages
// flow in both directions with header+body concatenated.
func TestSessionHandshakeAndFraming(t *testing.T) {
	pool := worker.NewPool(2)
	defer pool.Close()

	ca, cb := net.Pipe()
	a := newSessionEnd(t, pool, ca, 0x30, 0x31, -1)
	b := newSessionEnd(t, pool, cb, 0x31, 0x30, -1)
	defer a.sess.Close()
	defer b.sess.Close()

	require.Eventually(t, func() bool {
		return a.sess.TrySend([]byte{0x80, 0, 0, 1}, []byte("question")) == nil
	}, 2*time.Second, 5*time.Millisecond, "handshake never completed")

	frame := recvFrame(t, b.sess)
	assert.Equal(t, []byte{0x80, 0, 0, 1, 'q', 'u', 'e', 's', 't', 'i', 'o', 'n'}, frame)
	assert.Equal(t, uint16(0x30), b.sess.PeerProtocol())

	require.Eventually(t, func() bool {
		return b.sess.TrySend(nil, []byte("answer")) == nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte("answer"), recvFrame(t, a.sess))
}

// TestSessionZeroLengthBody covers the no-second-read edge case: an empty
// frame still arrives as a (nil) message.
func TestSessionZeroLengthBody(t *testing.T) {
	pool := worker.NewPool(2)
	defer pool.Close()

	ca, cb := net.Pipe()
	a := newSessionEnd(t, pool, ca, 0x10, 0x10, -1)
	b := newSessionEnd(t, pool, cb, 0x10, 0x10, -1)
	defer a.sess.Close()
	defer b.sess.Close()

	require.Eventually(t, func() bool {
		return a.sess.TrySend(nil, nil) == nil
	}, 2*time.Second, 5*time.Millisecond)

	frame := recvFrame(t, b.sess)
	assert.Empty(t, frame)
}

// TestSessionRejectsIncompatiblePeer covers handshake rejection: a peer
// advertising a protocol the local side refuses tears the session down
// with EPROTO.
func TestSessionRejectsIncompatiblePeer(t *testing.T) {
	pool := worker.NewPool(2)
	defer pool.Close()

	ca, cb := net.Pipe()
	a := newSessionEnd(t, pool, ca, 0x50, 0x51, -1) // push, expects pull
	b := newSessionEnd(t, pool, cb, 0x10, 0x10, -1) // pair, expects pair
	defer a.sess.Close()
	defer b.sess.Close()

	for _, end := range []*sessionEnd{a, b} {
		select {
		case err := <-end.errs:
			assert.True(t, spcode.Is(err, spcode.EPROTO))
		case <-time.After(2 * time.Second):
			t.Fatal("mismatched peers never rejected each other")
		}
	}
}

// TestSessionEnforcesRecvMaxSize covers the RCVMAXSIZE boundary: a frame at
// the limit is delivered, one byte over closes the connection with
// EMSGSIZE before any body allocation.
func TestSessionEnforcesRecvMaxSize(t *testing.T) {
	pool := worker.NewPool(2)
	defer pool.Close()

	const limit = 32

	ca, cb := net.Pipe()
	a := newSessionEnd(t, pool, ca, 0x10, 0x10, -1)
	b := newSessionEnd(t, pool, cb, 0x10, 0x10, limit)
	defer a.sess.Close()
	defer b.sess.Close()

	atLimit := make([]byte, limit)
	require.Eventually(t, func() bool {
		return a.sess.TrySend(nil, atLimit) == nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, recvFrame(t, b.sess), limit)

	overLimit := make([]byte, limit+1)
	require.Eventually(t, func() bool {
		return a.sess.TrySend(nil, overLimit) == nil
	}, 2*time.Second, 5*time.Millisecond)

	select {
	case err := <-b.errs:
		assert.True(t, spcode.Is(err, spcode.EMSGSIZE))
	case <-time.After(2 * time.Second):
		t.Fatal("oversize frame never rejected")
	}
}

// TestSessionSendBeforeHandshakeReportsEAGAIN pins the flow-control
// contract the socket core depends on: a send attempted while the
// handshake is still in flight is EAGAIN (retry on OUT), not a hard error.
func TestSessionSendBeforeHandshakeReportsEAGAIN(t *testing.T) {
	pool := worker.NewPool(1)
	defer pool.Close()

	// The peer end never responds, so the handshake cannot complete.
	ca, _ := net.Pipe()
	a := newSessionEnd(t, pool, ca, 0x10, 0x10, -1)
	defer a.sess.Close()

	err := a.sess.TrySend(nil, []byte("early"))
	require.Error(t, err)
	assert.True(t, spcode.Is(err, spcode.EAGAIN))
}

// TestSessionHandshakeTimeout covers the 1000ms handshake bound: a silent
// peer trips the deadline and the session fails with ETIMEDOUT.
func TestSessionHandshakeTimeout(t *testing.T) {
	pool := worker.NewPool(1)
	defer pool.Close()

	ca, _ := net.Pipe()
	a := newSessionEnd(t, pool, ca, 0x10, 0x10, -1)
	defer a.sess.Close()

	select {
	case err := <-a.errs:
		assert.True(t, spcode.Is(err, spcode.ETIMEDOUT))
	case <-time.After(3 * time.Second):
		t.Fatal("handshake deadline never fired")
	}
}
